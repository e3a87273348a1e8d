package queryguard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"apiguard/internal/metrics"
)

// ValidationError 查询校验错误
// 调用方可修正后重试，错误原因仅写入审计，不直接透出给终端用户
type ValidationError struct {
	Field  string // 出错的表/列/值位置
	Reason string // 人类可读原因
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("查询校验失败: %s", e.Reason)
	}
	return fmt.Sprintf("查询校验失败 [%s]: %s", e.Field, e.Reason)
}

// Statement 安全构造结果：占位符模板 + 严格有序的参数列表
// 模板中永远不包含内插值
type Statement struct {
	SQL    string
	Params []any
	Hash   string // 模板内容哈希，用于审计关联
}

// QueryAuditRecord 成功构造后上报的审计记录
type QueryAuditRecord struct {
	Operation    string            // SELECT / INSERT / UPDATE / DELETE
	Table        string            //
	ParamPreview map[string]string // 脱敏后的参数预览
	Hash         string            // 模板哈希
	Elevated     bool              // DELETE 等高危操作
}

// Auditor 审计上报接口，由审计引擎实现
type Auditor interface {
	LogQueryBuild(ctx context.Context, rec QueryAuditRecord)
}

// Config 防护配置
type Config struct {
	Whitelist        map[string][]string // 表 -> 允许列
	MaxStringLen     int                 // 单个字符串值上限（字符）
	MaxSerializedLen int                 // 复合值序列化后上限（字节）
}

// Guard 安全查询构造器
// 对结构化查询意图做白名单校验和危险值扫描后渲染参数化语句
type Guard struct {
	whitelist map[string]map[string]struct{}
	maxStr    int
	maxSer    int
	auditor   Auditor
}

// SelectOptions SELECT 附加选项
type SelectOptions struct {
	OrderBy   string
	OrderDesc bool
	Limit     int
}

// New 创建查询防护
// auditor 可为 nil（仅测试场景），此时不上报审计
func New(cfg Config, auditor Auditor) *Guard {
	if cfg.Whitelist == nil {
		cfg.Whitelist = DefaultWhitelist()
	}
	if cfg.MaxStringLen <= 0 {
		cfg.MaxStringLen = 10000
	}
	if cfg.MaxSerializedLen <= 0 {
		cfg.MaxSerializedLen = 50000
	}

	wl := make(map[string]map[string]struct{}, len(cfg.Whitelist))
	for table, cols := range cfg.Whitelist {
		set := make(map[string]struct{}, len(cols))
		for _, col := range cols {
			set[col] = struct{}{}
		}
		wl[table] = set
	}

	return &Guard{
		whitelist: wl,
		maxStr:    cfg.MaxStringLen,
		maxSer:    cfg.MaxSerializedLen,
		auditor:   auditor,
	}
}

// Select 构造 SELECT 语句
func (g *Guard) Select(ctx context.Context, table string, columns []string, where map[string]any, opts *SelectOptions) (stmt Statement, err error) {
	defer func() { observeBuild("SELECT", err) }()
	if err := g.checkTable(table); err != nil {
		return Statement{}, err
	}
	if len(columns) == 0 {
		return Statement{}, &ValidationError{Field: table, Reason: "SELECT 必须指定至少一列"}
	}
	for _, col := range columns {
		if err := g.checkColumn(table, col); err != nil {
			return Statement{}, err
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)

	params := make([]any, 0, len(where)+1)
	params, err = g.appendWhere(&b, table, where, params)
	if err != nil {
		return Statement{}, err
	}

	if opts != nil {
		if opts.OrderBy != "" {
			if err := g.checkColumn(table, opts.OrderBy); err != nil {
				return Statement{}, err
			}
			b.WriteString(" ORDER BY ")
			b.WriteString(opts.OrderBy)
			if opts.OrderDesc {
				b.WriteString(" DESC")
			}
		}
		if opts.Limit > 0 {
			params = append(params, opts.Limit)
			fmt.Fprintf(&b, " LIMIT $%d", len(params))
		}
	}

	return g.finish(ctx, "SELECT", table, b.String(), params, false)
}

// Insert 构造 INSERT 语句
func (g *Guard) Insert(ctx context.Context, table string, data map[string]any) (stmt Statement, err error) {
	defer func() { observeBuild("INSERT", err) }()
	if err := g.checkTable(table); err != nil {
		return Statement{}, err
	}
	if len(data) == 0 {
		return Statement{}, &ValidationError{Field: table, Reason: "INSERT 必须包含至少一列数据"}
	}

	cols, params, err := g.orderedValues(table, data)
	if err != nil {
		return Statement{}, err
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	return g.finish(ctx, "INSERT", table, sql, params, false)
}

// Update 构造 UPDATE 语句，拒绝无条件更新
func (g *Guard) Update(ctx context.Context, table string, data, where map[string]any) (stmt Statement, err error) {
	defer func() { observeBuild("UPDATE", err) }()
	if err := g.checkTable(table); err != nil {
		return Statement{}, err
	}
	if len(data) == 0 {
		return Statement{}, &ValidationError{Field: table, Reason: "UPDATE 必须包含至少一列数据"}
	}
	if len(where) == 0 {
		return Statement{}, &ValidationError{Field: table, Reason: "UPDATE 必须携带 WHERE 条件"}
	}

	cols, params, err := g.orderedValues(table, data)
	if err != nil {
		return Statement{}, err
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(table)
	b.WriteString(" SET ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = $%d", col, i+1)
	}

	params, err = g.appendWhere(&b, table, where, params)
	if err != nil {
		return Statement{}, err
	}

	return g.finish(ctx, "UPDATE", table, b.String(), params, false)
}

// Delete 构造 DELETE 语句，拒绝无条件删除，审计按高危记录
func (g *Guard) Delete(ctx context.Context, table string, where map[string]any) (stmt Statement, err error) {
	defer func() { observeBuild("DELETE", err) }()
	if err := g.checkTable(table); err != nil {
		return Statement{}, err
	}
	if len(where) == 0 {
		return Statement{}, &ValidationError{Field: table, Reason: "DELETE 必须携带 WHERE 条件"}
	}

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(table)

	params, err := g.appendWhere(&b, table, where, nil)
	if err != nil {
		return Statement{}, err
	}

	return g.finish(ctx, "DELETE", table, b.String(), params, true)
}

// ============================================================================
// 校验
// ============================================================================

func (g *Guard) checkTable(table string) error {
	if !validIdentifier(table) {
		return &ValidationError{Field: table, Reason: "表名不符合标识符语法"}
	}
	if _, ok := g.whitelist[table]; !ok {
		return &ValidationError{Field: table, Reason: "表不在白名单内"}
	}
	return nil
}

func (g *Guard) checkColumn(table, col string) error {
	if !validIdentifier(col) {
		return &ValidationError{Field: table + "." + col, Reason: "列名不符合标识符语法"}
	}
	if _, ok := g.whitelist[table][col]; !ok {
		return &ValidationError{Field: table + "." + col, Reason: "列不在白名单内"}
	}
	return nil
}

// checkValue 校验标量值并返回规范化结果
// 仅允许的静默处理：剔除字符串中的空字节
func (g *Guard) checkValue(table, col string, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		cleaned := strings.ReplaceAll(val, "\x00", "")
		if len(cleaned) > g.maxStr {
			return nil, &ValidationError{
				Field:  table + "." + col,
				Reason: fmt.Sprintf("字符串长度 %d 超过上限 %d", len(cleaned), g.maxStr),
			}
		}
		if name := scanString(cleaned); name != "" {
			return nil, &ValidationError{
				Field:  table + "." + col,
				Reason: fmt.Sprintf("值命中危险模式 %s", name),
			}
		}
		return cleaned, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time:
		return val, nil
	default:
		// 复合值：按序列化后的 JSON 做尺寸与内容检查
		data, err := json.Marshal(val)
		if err != nil {
			return nil, &ValidationError{
				Field:  table + "." + col,
				Reason: fmt.Sprintf("值无法序列化: %v", err),
			}
		}
		if len(data) > g.maxSer {
			return nil, &ValidationError{
				Field:  table + "." + col,
				Reason: fmt.Sprintf("序列化长度 %d 超过上限 %d", len(data), g.maxSer),
			}
		}
		if name := scanSerialized(string(data)); name != "" {
			return nil, &ValidationError{
				Field:  table + "." + col,
				Reason: fmt.Sprintf("值命中危险模式 %s", name),
			}
		}
		return string(data), nil
	}
}

// orderedValues 按列名排序校验数据，保证参数顺序确定
func (g *Guard) orderedValues(table string, data map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(data))
	for col := range data {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	params := make([]any, 0, len(cols))
	for _, col := range cols {
		if err := g.checkColumn(table, col); err != nil {
			return nil, nil, err
		}
		v, err := g.checkValue(table, col, data[col])
		if err != nil {
			return nil, nil, err
		}
		params = append(params, v)
	}
	return cols, params, nil
}

// appendWhere 渲染 WHERE 子句并追加参数
func (g *Guard) appendWhere(b *strings.Builder, table string, where map[string]any, params []any) ([]any, error) {
	if len(where) == 0 {
		return params, nil
	}

	cols := make([]string, 0, len(where))
	for col := range where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	b.WriteString(" WHERE ")
	for i, col := range cols {
		if err := g.checkColumn(table, col); err != nil {
			return nil, err
		}
		v, err := g.checkValue(table, col, where[col])
		if err != nil {
			return nil, err
		}
		params = append(params, v)
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(b, "%s = $%d", col, len(params))
	}
	return params, nil
}

// ============================================================================
// 构造收尾
// ============================================================================

// finish 计算模板哈希并上报审计
func (g *Guard) finish(ctx context.Context, op, table, sql string, params []any, elevated bool) (Statement, error) {
	sum := sha256.Sum256([]byte(sql))
	stmt := Statement{
		SQL:    sql,
		Params: params,
		Hash:   hex.EncodeToString(sum[:8]),
	}

	if g.auditor != nil {
		g.auditor.LogQueryBuild(ctx, QueryAuditRecord{
			Operation:    op,
			Table:        table,
			ParamPreview: previewParams(params),
			Hash:         stmt.Hash,
			Elevated:     elevated,
		})
	}

	return stmt, nil
}

// observeBuild 上报构造结果指标
func observeBuild(op string, err error) {
	status := "ok"
	if err != nil {
		status = "rejected"
	}
	metrics.QueryBuildsTotal.WithLabelValues(op, status).Inc()
}

// previewParams 生成脱敏参数预览，长值截断
func previewParams(params []any) map[string]string {
	preview := make(map[string]string, len(params))
	for i, p := range params {
		s := fmt.Sprintf("%v", p)
		if len(s) > 32 {
			s = s[:32] + "..."
		}
		preview[fmt.Sprintf("$%d", i+1)] = s
	}
	return preview
}
