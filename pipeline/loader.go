package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"flightdelay/flight"
	"flightdelay/ml"
)

const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin1"
)

var (
	ErrMissingColumn = errors.New("header is missing a required column")
	ErrNoRows        = errors.New("no usable rows")
)

// LoaderConfig 数据加载配置
type LoaderConfig struct {
	Encoding       string           `yaml:"encoding"`
	Delimiter      string           `yaml:"delimiter"`
	DropDuplicates bool             `yaml:"drop_duplicates"`
	Schema         ml.FeatureSchema `yaml:"-"`
}

// LoadStats 加载统计
type LoadStats struct {
	TotalRows     int              `json:"total_rows"`
	KeptRows      int              `json:"kept_rows"`
	DroppedRows   int              `json:"dropped_rows"`
	DroppedByRule map[string]int64 `json:"dropped_by_rule"`
	Duration      time.Duration    `json:"duration"`
}

// Loader 读取历史航班 CSV
type Loader struct {
	config LoaderConfig
}

// NewLoader 创建加载器
func NewLoader(config LoaderConfig) (*Loader, error) {
	if config.Encoding == "" {
		config.Encoding = EncodingUTF8
	}
	if config.Delimiter == "" {
		config.Delimiter = ","
	}
	switch strings.ToLower(config.Encoding) {
	case EncodingUTF8, "utf8":
	case EncodingLatin1, "iso-8859-1":
	default:
		return nil, fmt.Errorf("unsupported encoding %q", config.Encoding)
	}
	if len([]rune(config.Delimiter)) != 1 {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", config.Delimiter)
	}
	if err := config.Schema.Validate(); err != nil {
		return nil, err
	}
	return &Loader{config: config}, nil
}

// Load 读取文件，按规则链丢弃不合格行
func (l *Loader) Load(path string) ([]flight.Record, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	records, stats, err := l.Read(f)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	zap.L().Info("dataset loaded",
		zap.String("path", path),
		zap.Int("total_rows", stats.TotalRows),
		zap.Int("kept_rows", stats.KeptRows),
		zap.Int("dropped_rows", stats.DroppedRows),
		zap.Any("dropped_by_rule", stats.DroppedByRule),
		zap.Duration("duration", stats.Duration),
	)
	return records, stats, nil
}

// Read 从任意 reader 解析数据
func (l *Loader) Read(src io.Reader) ([]flight.Record, LoadStats, error) {
	start := time.Now()
	stats := LoadStats{DroppedByRule: make(map[string]int64)}

	reader := csv.NewReader(l.decoder(src))
	reader.Comma = []rune(l.config.Delimiter)[0]
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, stats, errors.New("dataset is empty")
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range l.config.Schema.RequiredColumns(true) {
		if _, ok := index[name]; !ok {
			return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	rules := DefaultRules(l.config.Schema, true)
	if l.config.DropDuplicates {
		rules = append(rules, NewDuplicateRule())
	}
	cleaner := NewDataCleaner(rules...)

	var raw []flight.Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read row %d: %w", stats.TotalRows+1, err)
		}
		stats.TotalRows++
		if len(row) != len(header) {
			stats.DroppedByRule["malformed_row"]++
			continue
		}
		raw = append(raw, flight.FromRow(index, row))
	}

	records, issues := cleaner.Clean(raw)
	for rule, n := range cleaner.GetStats().Issues {
		stats.DroppedByRule[rule] += n
	}
	for _, issue := range firstIssues(issues, 5) {
		zap.L().Debug("row dropped", zap.String("rule", issue.Rule), zap.String("reason", issue.Message))
	}

	stats.KeptRows = len(records)
	stats.DroppedRows = stats.TotalRows - stats.KeptRows
	stats.Duration = time.Since(start)
	if stats.KeptRows == 0 {
		return nil, stats, ErrNoRows
	}
	return records, stats, nil
}

func (l *Loader) decoder(src io.Reader) io.Reader {
	if strings.EqualFold(l.config.Encoding, EncodingLatin1) || strings.EqualFold(l.config.Encoding, "iso-8859-1") {
		return transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}
	// 去掉可能存在的 BOM
	return transform.NewReader(src, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func firstIssues(issues []QualityIssue, n int) []QualityIssue {
	if len(issues) < n {
		return issues
	}
	return issues[:n]
}
