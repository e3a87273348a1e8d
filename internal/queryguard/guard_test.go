package queryguard

import (
	"context"
	"strings"
	"testing"
)

// recordingAuditor 记录上报的审计记录
type recordingAuditor struct {
	records []QueryAuditRecord
}

func (r *recordingAuditor) LogQueryBuild(_ context.Context, rec QueryAuditRecord) {
	r.records = append(r.records, rec)
}

func newTestGuard(auditor Auditor) *Guard {
	return New(Config{}, auditor)
}

func TestSelectBasic(t *testing.T) {
	g := newTestGuard(nil)
	ctx := context.Background()

	stmt, err := g.Select(ctx, "users", []string{"id", "email"}, map[string]any{"status": "active"}, nil)
	if err != nil {
		t.Fatalf("Select 失败: %v", err)
	}

	want := "SELECT id, email FROM users WHERE status = $1"
	if stmt.SQL != want {
		t.Errorf("SQL 不匹配: 期望 %q, 得到 %q", want, stmt.SQL)
	}
	if len(stmt.Params) != 1 || stmt.Params[0] != "active" {
		t.Errorf("参数不匹配: %v", stmt.Params)
	}
	if stmt.Hash == "" {
		t.Error("模板哈希为空")
	}
}

func TestSelectOrderAndLimit(t *testing.T) {
	g := newTestGuard(nil)

	stmt, err := g.Select(context.Background(), "generations", []string{"id", "status"},
		map[string]any{"user_id": "u-1"},
		&SelectOptions{OrderBy: "created_at", OrderDesc: true, Limit: 10})
	if err != nil {
		t.Fatalf("Select 失败: %v", err)
	}

	want := "SELECT id, status FROM generations WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2"
	if stmt.SQL != want {
		t.Errorf("SQL 不匹配: 期望 %q, 得到 %q", want, stmt.SQL)
	}
	if len(stmt.Params) != 2 || stmt.Params[1] != 10 {
		t.Errorf("参数不匹配: %v", stmt.Params)
	}
}

func TestRejectUnknownTable(t *testing.T) {
	g := newTestGuard(nil)

	_, err := g.Select(context.Background(), "secrets", []string{"id"}, nil, nil)
	if err == nil {
		t.Fatal("白名单外的表应当被拒绝")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("期望 *ValidationError, 得到 %T", err)
	}
}

func TestRejectUnknownColumn(t *testing.T) {
	g := newTestGuard(nil)

	_, err := g.Select(context.Background(), "users", []string{"password"}, nil, nil)
	if err == nil {
		t.Fatal("白名单外的列应当被拒绝")
	}
}

func TestRejectBadIdentifier(t *testing.T) {
	g := newTestGuard(nil)

	for _, table := range []string{"Users", "users; drop", "1users", "users--"} {
		if _, err := g.Select(context.Background(), table, []string{"id"}, nil, nil); err == nil {
			t.Errorf("非法标识符 %q 应当被拒绝", table)
		}
	}
}

func TestRejectInjectionValues(t *testing.T) {
	g := newTestGuard(nil)
	ctx := context.Background()

	payloads := []string{
		`"; DROP TABLE users; --`,
		`1' OR '1'='1`,
		`admin'--`,
		`a UNION SELECT * FROM users`,
		`<script>alert(1)</script>`,
		`x; exec xp_cmdshell`,
	}

	for _, payload := range payloads {
		_, err := g.Insert(ctx, "users", map[string]any{"email": payload})
		if err == nil {
			t.Errorf("注入载荷 %q 应当被拒绝", payload)
		}
	}
}

func TestNullByteStripped(t *testing.T) {
	g := newTestGuard(nil)

	stmt, err := g.Insert(context.Background(), "users", map[string]any{"username": "al\x00ice"})
	if err != nil {
		t.Fatalf("含空字节的普通值应当通过: %v", err)
	}
	if stmt.Params[0] != "alice" {
		t.Errorf("空字节未剔除: %q", stmt.Params[0])
	}
}

func TestStringLengthCap(t *testing.T) {
	g := New(Config{MaxStringLen: 16}, nil)

	_, err := g.Insert(context.Background(), "users", map[string]any{"email": strings.Repeat("a", 17)})
	if err == nil {
		t.Fatal("超长字符串应当被拒绝")
	}
}

func TestInsertRequiresData(t *testing.T) {
	g := newTestGuard(nil)

	if _, err := g.Insert(context.Background(), "users", nil); err == nil {
		t.Fatal("空数据 INSERT 应当被拒绝")
	}
}

func TestUpdateRequiresWhere(t *testing.T) {
	g := newTestGuard(nil)

	_, err := g.Update(context.Background(), "users", map[string]any{"status": "banned"}, nil)
	if err == nil {
		t.Fatal("无条件 UPDATE 应当被拒绝")
	}
}

func TestDeleteRequiresWhere(t *testing.T) {
	g := newTestGuard(nil)

	if _, err := g.Delete(context.Background(), "users", map[string]any{}); err == nil {
		t.Fatal("无条件 DELETE 应当被拒绝")
	}
}

func TestUpdateParamCount(t *testing.T) {
	g := newTestGuard(nil)

	data := map[string]any{"status": "active", "username": "bob"}
	where := map[string]any{"id": "u-1"}

	stmt, err := g.Update(context.Background(), "users", data, where)
	if err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	// 参数数量 = len(data) + len(where)，且顺序确定
	if len(stmt.Params) != len(data)+len(where) {
		t.Fatalf("参数数量不匹配: 期望 %d, 得到 %d", len(data)+len(where), len(stmt.Params))
	}

	want := "UPDATE users SET status = $1, username = $2 WHERE id = $3"
	if stmt.SQL != want {
		t.Errorf("SQL 不匹配: 期望 %q, 得到 %q", want, stmt.SQL)
	}
}

func TestAuditEmission(t *testing.T) {
	auditor := &recordingAuditor{}
	g := newTestGuard(auditor)
	ctx := context.Background()

	if _, err := g.Insert(ctx, "users", map[string]any{"email": "a@b.c"}); err != nil {
		t.Fatalf("Insert 失败: %v", err)
	}
	if _, err := g.Delete(ctx, "users", map[string]any{"id": "u-1"}); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}

	if len(auditor.records) != 2 {
		t.Fatalf("期望 2 条审计记录, 得到 %d", len(auditor.records))
	}
	if auditor.records[0].Elevated {
		t.Error("INSERT 不应标记为高危")
	}
	if !auditor.records[1].Elevated {
		t.Error("DELETE 应标记为高危")
	}
	if auditor.records[1].Operation != "DELETE" || auditor.records[1].Table != "users" {
		t.Errorf("审计记录内容不匹配: %+v", auditor.records[1])
	}
}

func TestFailedBuildEmitsNoAudit(t *testing.T) {
	auditor := &recordingAuditor{}
	g := newTestGuard(auditor)

	_, _ = g.Insert(context.Background(), "users", map[string]any{"email": `x'; --`})
	if len(auditor.records) != 0 {
		t.Errorf("失败的构造不应上报审计, 得到 %d 条", len(auditor.records))
	}
}

func TestCompositeValueSerialized(t *testing.T) {
	g := newTestGuard(nil)

	stmt, err := g.Insert(context.Background(), "style_templates", map[string]any{
		"name":   "watercolor",
		"config": map[string]any{"strength": 0.8, "steps": 30},
	})
	if err != nil {
		t.Fatalf("复合值应当序列化后通过: %v", err)
	}
	if len(stmt.Params) != 2 {
		t.Fatalf("参数数量不匹配: %v", stmt.Params)
	}
}

func TestCompositeValueSizeCap(t *testing.T) {
	g := New(Config{MaxSerializedLen: 64}, nil)

	big := map[string]any{"data": strings.Repeat("x", 100)}
	_, err := g.Insert(context.Background(), "style_templates", map[string]any{"name": "n", "config": big})
	if err == nil {
		t.Fatal("超长复合值应当被拒绝")
	}
}
