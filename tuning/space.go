package tuning

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	MethodRandom = "random"
	MethodTPE    = "tpe"
	MethodGrid   = "grid"

	DirectionMaximize = "maximize"
	DirectionMinimize = "minimize"

	TypeInt         = "int"
	TypeFloat       = "float"
	TypeCategorical = "categorical"
)

// SearchConfig 搜索配置
type SearchConfig struct {
	StudyName string            `yaml:"study_name"` // 研究名称，对应存储中的一条 study
	Method    string            `yaml:"method"`     // 搜索方法: random, tpe, grid
	Direction string            `yaml:"direction"`  // 优化方向: maximize, minimize
	NTrials   int               `yaml:"n_trials"`   // 本次运行的试验次数
	Seed      int64             `yaml:"seed"`       // 随机种子
	Timeout   time.Duration     `yaml:"timeout"`    // 超时后不再开始新试验
	Resume    bool              `yaml:"resume"`     // 继续已存储的 study
	Params    []ParameterConfig `yaml:"params"`     // 参数列表，按顺序采样
	Pruner    PrunerConfig      `yaml:"pruner"`
}

// ParameterConfig 参数配置
type ParameterConfig struct {
	Name   string        `yaml:"name"`
	Type   string        `yaml:"type"` // int, float, categorical
	Low    float64       `yaml:"low"`
	High   float64       `yaml:"high"`
	Step   float64       `yaml:"step"`   // 0 表示连续（float）或 1（int）
	Values []interface{} `yaml:"values"` // categorical 取值
}

// PrunerConfig 中位数剪枝配置
type PrunerConfig struct {
	Enabled       bool `yaml:"enabled"`
	StartupTrials int  `yaml:"startup_trials"` // 完成多少次试验后才开始剪枝
	WarmupSteps   int  `yaml:"warmup_steps"`   // 每个试验前若干步不剪枝
	ReportEvery   int  `yaml:"report_every"`   // 中间值上报间隔（boosting 轮数）
}

// DefaultSearchConfig 默认搜索空间
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		StudyName: "xgboost_training",
		Method:    MethodTPE,
		Direction: DirectionMaximize,
		NTrials:   30,
		Seed:      42,
		Params: []ParameterConfig{
			{Name: "learning_rate", Type: TypeFloat, Low: 0.01, High: 0.1},
			{Name: "n_estimators", Type: TypeInt, Low: 50, High: 1000},
			{Name: "subsample", Type: TypeFloat, Low: 0.7, High: 1.0, Step: 0.1},
			{Name: "max_depth", Type: TypeInt, Low: 3, High: 20},
		},
		Pruner: PrunerConfig{
			Enabled:       true,
			StartupTrials: 5,
			WarmupSteps:   0,
			ReportEvery:   50,
		},
	}
}

// Validate 校验配置
func (c SearchConfig) Validate() error {
	if c.StudyName == "" {
		return errors.New("study_name is required")
	}
	switch c.Method {
	case MethodRandom, MethodTPE, MethodGrid:
	default:
		return fmt.Errorf("unsupported search method: %s", c.Method)
	}
	switch c.Direction {
	case DirectionMaximize, DirectionMinimize:
	default:
		return fmt.Errorf("unsupported direction: %s", c.Direction)
	}
	if c.NTrials <= 0 {
		return fmt.Errorf("n_trials must be positive, got %d", c.NTrials)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if len(c.Params) == 0 {
		return errors.New("search space is empty")
	}
	seen := make(map[string]bool)
	for _, p := range c.Params {
		if seen[p.Name] {
			return fmt.Errorf("parameter %s listed twice", p.Name)
		}
		seen[p.Name] = true
		if err := p.validate(c.Method == MethodGrid); err != nil {
			return err
		}
	}
	if c.Pruner.StartupTrials < 0 || c.Pruner.WarmupSteps < 0 || c.Pruner.ReportEvery < 0 {
		return errors.New("pruner settings must not be negative")
	}
	return nil
}

func (p ParameterConfig) validate(grid bool) error {
	if p.Name == "" {
		return errors.New("parameter name is required")
	}
	switch p.Type {
	case TypeInt, TypeFloat:
		if p.High < p.Low {
			return fmt.Errorf("parameter %s: high %v < low %v", p.Name, p.High, p.Low)
		}
		if p.Step < 0 {
			return fmt.Errorf("parameter %s: negative step", p.Name)
		}
		if p.Type == TypeInt && (p.Low != math.Trunc(p.Low) || p.High != math.Trunc(p.High) || p.Step != math.Trunc(p.Step)) {
			return fmt.Errorf("parameter %s: int bounds must be whole numbers", p.Name)
		}
		if grid && p.Type == TypeFloat && p.Step == 0 {
			return fmt.Errorf("parameter %s: grid search needs a step for float parameters", p.Name)
		}
	case TypeCategorical:
		if len(p.Values) == 0 {
			return fmt.Errorf("parameter %s: categorical needs values", p.Name)
		}
	default:
		return fmt.Errorf("parameter %s: unsupported type %s", p.Name, p.Type)
	}
	return nil
}

// gridValues 网格取值
func (p ParameterConfig) gridValues() []interface{} {
	var values []interface{}
	switch p.Type {
	case TypeInt:
		step := int(math.Max(p.Step, 1))
		for v := int(p.Low); v <= int(p.High); v += step {
			values = append(values, v)
		}
	case TypeFloat:
		n := int(math.Floor((p.High-p.Low)/p.Step+1e-9)) + 1
		for k := 0; k < n; k++ {
			values = append(values, p.stepValue(k))
		}
	default:
		values = append(values, p.Values...)
	}
	return values
}

// stepValue 第 k 个步进值，按步长的小数位取整，避免 0.7999999
func (p ParameterConfig) stepValue(k int) float64 {
	v := p.Low + float64(k)*p.Step
	return math.Round(v*1e9) / 1e9
}

// gridSize 参数组合总数
func gridSize(params []ParameterConfig) int {
	total := 1
	for _, p := range params {
		total *= len(p.gridValues())
	}
	return total
}

// gridPoint 第 index 个组合，最后一个参数变化最快
func gridPoint(params []ParameterConfig, index int) map[string]interface{} {
	indices := gridIndices(params, index)
	point := make(map[string]interface{}, len(params))
	for _, p := range params {
		point[p.Name] = p.gridValues()[indices[p.Name]]
	}
	return point
}

// gridIndices 第 index 个组合中每个参数的取值下标
func gridIndices(params []ParameterConfig, index int) map[string]int {
	indices := make(map[string]int, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		n := len(params[i].gridValues())
		indices[params[i].Name] = index % n
		index /= n
	}
	return indices
}

// internal 取值在 goptuna 中的内部表示；categorical 为下标
func (p ParameterConfig) internal(value interface{}) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	for i, c := range p.Values {
		if c == value {
			return float64(i)
		}
	}
	return 0
}

// external 把内部表示还原成配置中的取值类型
func (p ParameterConfig) external(internal float64) interface{} {
	switch p.Type {
	case TypeInt:
		return int(math.Round(internal))
	case TypeFloat:
		if p.Step > 0 {
			return math.Round(internal*1e9) / 1e9
		}
		return internal
	}
	i := int(internal)
	if i < 0 || i >= len(p.Values) {
		return nil
	}
	return p.Values[i]
}
