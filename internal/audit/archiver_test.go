package audit

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestArchiver(t *testing.T) *DBArchiver {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存库失败: %v", err)
	}

	a := NewDBArchiver(db)
	if err := a.AutoMigrate(); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return a
}

func archivedFixture(id string, at time.Time, category string, sev Severity) SecurityEvent {
	return SecurityEvent{
		ID:        id,
		Timestamp: at,
		Type:      EventAuthorization,
		Severity:  sev,
		Title:     "escalation attempt",
		Context: EventContext{
			UserID:   "u-1",
			ClientIP: "10.0.0.9",
			Details:  map[string]any{"resource": "users"},
		},
		RiskScore: 80,
		Category:  category,
		Status:    StatusNew,
	}
}

func TestArchiverPersistAndQuery(t *testing.T) {
	a := newTestArchiver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, ev := range []SecurityEvent{
		archivedFixture("ev-1", base, "broken_access_control", SeverityHigh),
		archivedFixture("ev-2", base.Add(time.Minute), "injection", SeverityMedium),
		archivedFixture("ev-3", base.Add(2*time.Minute), "broken_access_control", SeverityHigh),
	} {
		if err := a.Persist(ctx, ev); err != nil {
			t.Fatalf("第 %d 条归档失败: %v", i+1, err)
		}
	}

	got, err := a.QueryRange(ctx, base.Add(-time.Hour), base.Add(time.Hour), "", 0)
	if err != nil {
		t.Fatalf("范围查询失败: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("期望 3 条, 得到 %d", len(got))
	}
	// 按时间倒序
	if got[0].ID != "ev-3" || got[2].ID != "ev-1" {
		t.Errorf("排序不符合时间倒序: %s .. %s", got[0].ID, got[2].ID)
	}

	// 分类过滤
	filtered, err := a.QueryRange(ctx, base.Add(-time.Hour), base.Add(time.Hour), "injection", 0)
	if err != nil {
		t.Fatalf("分类查询失败: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "ev-2" {
		t.Errorf("分类过滤结果不匹配: %+v", filtered)
	}
}

func TestArchiverPersistIdempotent(t *testing.T) {
	a := newTestArchiver(t)
	ctx := context.Background()
	ev := archivedFixture("ev-dup", time.Now().UTC(), "injection", SeverityHigh)

	if err := a.Persist(ctx, ev); err != nil {
		t.Fatalf("首次归档失败: %v", err)
	}
	if err := a.Persist(ctx, ev); err != nil {
		t.Fatalf("重复归档应幂等: %v", err)
	}

	got, err := a.QueryRange(ctx, ev.Timestamp.Add(-time.Minute), ev.Timestamp.Add(time.Minute), "", 0)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("重复写入后应只有 1 条, 得到 %d", len(got))
	}
}

func TestArchiverCountByCategory(t *testing.T) {
	a := newTestArchiver(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a.Persist(ctx, archivedFixture("c-1", base, "injection", SeverityHigh))
	a.Persist(ctx, archivedFixture("c-2", base.Add(time.Second), "injection", SeverityLow))
	a.Persist(ctx, archivedFixture("c-3", base.Add(2*time.Second), "broken_access_control", SeverityHigh))

	counts, err := a.CountByCategory(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if counts["injection"] != 2 || counts["broken_access_control"] != 1 {
		t.Errorf("分类统计不匹配: %v", counts)
	}
}
