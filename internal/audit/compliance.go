package audit

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceReport 合规报告
type ComplianceReport struct {
	ReportNo        string                 `json:"report_no"`
	GeneratedAt     time.Time              `json:"generated_at"`
	Category        string                 `json:"category,omitempty"` // 为空表示全部分类
	CategoryTotals  map[string]int         `json:"category_totals"`
	Violations      []ComplianceViolation  `json:"violations"`
	Recommendations []string               `json:"recommendations"`
}

// ComplianceViolation 未处置的高严重级别违规
type ComplianceViolation struct {
	Event       SecurityEvent `json:"event"`
	Remediation []string      `json:"remediation"`
}

// complianceWindowHours 合规报表统计窗口
const complianceWindowHours = 24 * 7

// Compliance 生成合规报告
// category 非空时仅统计该分类
func (e *Engine) Compliance(category string) ComplianceReport {
	since := e.now().Add(-complianceWindowHours * time.Hour)
	events := e.store.snapshot(since, 0)

	report := ComplianceReport{
		ReportNo:       "CR-" + uuid.New().String()[:8],
		GeneratedAt:    e.now(),
		Category:       category,
		CategoryTotals: make(map[string]int),
	}

	seenCategories := make(map[string]struct{})

	for i := range events {
		ev := &events[i]
		if category != "" && ev.Category != category {
			continue
		}
		report.CategoryTotals[ev.Category]++
		seenCategories[ev.Category] = struct{}{}

		// 未处置的高严重级别事件视为待整改违规
		if ev.Severity >= SeverityHigh && ev.Status != StatusResolved && ev.Status != StatusFalsePositive {
			report.Violations = append(report.Violations, ComplianceViolation{
				Event:       *ev,
				Remediation: categoryRemediation[ev.Category],
			})
		}
	}

	report.Recommendations = deriveRecommendations(report.CategoryTotals, len(report.Violations))
	return report
}

// deriveRecommendations 从分类分布推导整体建议
func deriveRecommendations(totals map[string]int, violations int) []string {
	var recs []string

	if violations > 0 {
		recs = append(recs, "存在未处置的高严重级别违规，优先走处置流程")
	}
	if totals["injection"] > 5 {
		recs = append(recs, "注入类事件偏多，复核输入白名单与参数化覆盖")
	}
	if totals["broken_access_control"] > 5 {
		recs = append(recs, "越权类事件偏多，复核资源级权限模型")
	}
	if len(recs) == 0 {
		recs = append(recs, "统计窗口内无突出合规风险，维持当前基线")
	}
	return recs
}
