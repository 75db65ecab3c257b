package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Row 原始数据行（CSV 单元格，未解析）
type Row struct {
	Line   int
	Fields []string
}

// CleaningRule 清洗规则，返回错误表示该行被剔除
type CleaningRule interface {
	Apply(*Row) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
}

// DataCleaner 数据清洗器，按顺序执行规则，首个失败的规则决定剔除原因
type DataCleaner struct {
	rules []CleaningRule
	stats CleaningStats
}

// NewDataCleaner 创建数据清洗器：先剔除缺失值，再剔除完全重复的行
func NewDataCleaner(header []string) *DataCleaner {
	cleaner := &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewMissingValueRule(header))
	cleaner.AddRule(NewDuplicateDetectionRule())
	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean 清洗数据，保留行的原始顺序
func (dc *DataCleaner) Clean(rows []*Row) ([]*Row, []QualityIssue) {
	var cleaned []*Row
	var issues []QualityIssue

	for _, row := range rows {
		dc.stats.TotalProcessed++

		rejected := false
		for _, rule := range dc.rules {
			if err := rule.Apply(row); err != nil {
				issues = append(issues, QualityIssue{
					Rule:    rule.Name(),
					Line:    row.Line,
					Message: err.Error(),
				})
				dc.stats.Issues[rule.Name()]++
				rejected = true
				break
			}
		}

		if rejected {
			dc.stats.Rejected++
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, row)
	}

	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// ============ 清洗规则实现 ============

// naTokens 常见的 CSV 缺失值标记
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissing 判断单元格是否为缺失值
func IsMissing(cell string) bool {
	_, ok := naTokens[cell]
	return ok
}

// MissingValueRule 缺失值规则：任一列缺失即剔除
type MissingValueRule struct {
	header []string
}

func NewMissingValueRule(header []string) *MissingValueRule {
	return &MissingValueRule{header: header}
}

func (r *MissingValueRule) Name() string {
	return "missing_value"
}

func (r *MissingValueRule) Apply(row *Row) error {
	if len(row.Fields) < len(r.header) {
		return fmt.Errorf("line %d: missing value in column %q", row.Line, r.column(len(row.Fields)))
	}
	for i, cell := range row.Fields {
		if IsMissing(cell) {
			return fmt.Errorf("line %d: missing value in column %q", row.Line, r.column(i))
		}
	}
	return nil
}

func (r *MissingValueRule) column(i int) string {
	if i < len(r.header) {
		return r.header[i]
	}
	return strconv.Itoa(i)
}

// DuplicateDetectionRule 重复检测规则：所有列完全相同视为重复，保留首次出现
type DuplicateDetectionRule struct {
	seen map[string]int
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seen: make(map[string]int),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(row *Row) error {
	key := rowKey(row.Fields)
	if first, exists := r.seen[key]; exists {
		return fmt.Errorf("line %d: duplicate of line %d", row.Line, first)
	}
	r.seen[key] = row.Line
	return nil
}

// rowKey 数值单元格按解析后的值比较，"0.40" 与 "0.4" 视为相同
func rowKey(fields []string) string {
	var b strings.Builder
	for i, cell := range fields {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			if v == 0 {
				// -0 与 0 视为相同
				v = 0
			}
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			continue
		}
		b.WriteString(cell)
	}
	return b.String()
}
