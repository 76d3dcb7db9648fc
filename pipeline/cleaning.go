package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"flightdelay/flight"
	"flightdelay/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*flight.Record) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule    string `json:"rule"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
}

// DataCleaner 数据清洗器
//
// 一条记录在第一个失败的规则处被拒绝，按规则名计数。
type DataCleaner struct {
	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewDataCleaner 创建数据清洗器
func NewDataCleaner(rules ...CleaningRule) *DataCleaner {
	cleaner := &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
	for _, rule := range rules {
		cleaner.AddRule(rule)
	}
	return cleaner
}

// DefaultRules 默认规则链
//
// 训练时 withLabel 为 true，要求 Fecha-O 可解析；服务端只校验特征列。
func DefaultRules(schema ml.FeatureSchema, withLabel bool) []CleaningRule {
	rules := []CleaningRule{
		NewRequiredFieldsRule(schema.RequiredColumns(withLabel)),
		NewTimestampRule(withLabel),
	}
	var numeric []string
	for _, name := range schema.Numerical {
		if !flight.IsDerived(name) {
			numeric = append(numeric, name)
		}
	}
	if len(numeric) > 0 {
		rules = append(rules, NewNumericRule(numeric))
	}
	return rules
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	zap.L().Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 清洗数据，返回保留的记录和被拒绝记录的问题
func (dc *DataCleaner) Clean(records []flight.Record) ([]flight.Record, []QualityIssue) {
	cleaned := make([]flight.Record, 0, len(records))
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for i := range records {
		dc.stats.TotalProcessed++
		rule, err := dc.check(&records[i])
		if err != nil {
			dc.stats.Rejected++
			dc.stats.Issues[rule]++
			issues = append(issues, QualityIssue{Rule: rule, Row: i, Message: err.Error()})
			continue
		}
		dc.stats.Passed++
		cleaned = append(cleaned, records[i])
	}
	return cleaned, issues
}

// Validate 校验单条记录，不修改统计
func (dc *DataCleaner) Validate(r *flight.Record) error {
	_, err := dc.check(r)
	return err
}

func (dc *DataCleaner) check(r *flight.Record) (string, error) {
	for _, rule := range dc.rules {
		if err := rule.Apply(r); err != nil {
			return rule.Name(), err
		}
	}
	return "", nil
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// ValidateRecord 用默认规则链校验一条预测请求
func ValidateRecord(r *flight.Record, schema ml.FeatureSchema) error {
	for _, rule := range DefaultRules(schema, false) {
		if err := rule.Apply(r); err != nil {
			return err
		}
	}
	return nil
}

// ============ 清洗规则实现 ============

// RequiredFieldsRule 必填字段规则
type RequiredFieldsRule struct {
	Columns []string
}

func NewRequiredFieldsRule(columns []string) *RequiredFieldsRule {
	return &RequiredFieldsRule{Columns: columns}
}

func (r *RequiredFieldsRule) Name() string {
	return "required_fields"
}

func (r *RequiredFieldsRule) Apply(record *flight.Record) error {
	for _, name := range r.Columns {
		v, err := record.Column(name)
		if err != nil {
			return err
		}
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", flight.ErrMissingField, name)
		}
	}
	return nil
}

// TimestampRule 时间戳验证规则
type TimestampRule struct {
	RequireOperated bool
}

func NewTimestampRule(requireOperated bool) *TimestampRule {
	return &TimestampRule{RequireOperated: requireOperated}
}

func (r *TimestampRule) Name() string {
	return "timestamp_validation"
}

func (r *TimestampRule) Apply(record *flight.Record) error {
	if _, err := record.Scheduled(); err != nil {
		return err
	}
	if r.RequireOperated {
		if _, err := record.Operated(); err != nil {
			return err
		}
	}
	return nil
}

// NumericRule 数值列验证规则
type NumericRule struct {
	Columns []string
}

func NewNumericRule(columns []string) *NumericRule {
	return &NumericRule{Columns: columns}
}

func (r *NumericRule) Name() string {
	return "numeric_validation"
}

func (r *NumericRule) Apply(record *flight.Record) error {
	for _, name := range r.Columns {
		v, err := record.Column(name)
		if err != nil {
			return err
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return &FieldError{Column: name, Err: ErrInvalidNumber}
		}
	}
	return nil
}

// DuplicateRule 重复检测规则，同一航班号和计划时间视为重复
type DuplicateRule struct {
	seenMap map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateRule() *DuplicateRule {
	return &DuplicateRule{
		seenMap: make(map[string]struct{}),
	}
}

func (r *DuplicateRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateRule) Apply(record *flight.Record) error {
	key := record.FlightNumber + "|" + record.ScheduledAt

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[key]; exists {
		return fmt.Errorf("duplicate flight %s at %s", record.FlightNumber, record.ScheduledAt)
	}
	r.seenMap[key] = struct{}{}
	return nil
}

var ErrInvalidNumber = errors.New("invalid number")

// FieldError 字段级错误
type FieldError struct {
	Column string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Column, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
