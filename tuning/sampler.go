package tuning

import (
	"fmt"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
)

// newSampler 按搜索方法创建 goptuna 采样器
//
// offset 为 study 中已有的试验数。恢复运行时种子随之偏移，避免重复采样前面的参数。
func newSampler(cfg SearchConfig, offset int) (goptuna.Sampler, error) {
	seed := cfg.Seed + int64(offset)
	switch cfg.Method {
	case MethodRandom:
		return goptuna.NewRandomSampler(goptuna.RandomSamplerOptionSeed(seed)), nil
	case MethodTPE:
		return tpe.NewSampler(tpe.SamplerOptionSeed(seed)), nil
	case MethodGrid:
		return &gridSampler{params: cfg.Params}, nil
	}
	return nil, fmt.Errorf("unsupported search method: %s", cfg.Method)
}

// gridSampler 按试验编号枚举参数网格，最后一个参数变化最快
type gridSampler struct {
	params []ParameterConfig
}

// Sample implements goptuna.Sampler.
func (g *gridSampler) Sample(_ *goptuna.Study, trial goptuna.FrozenTrial, name string, _ interface{}) (float64, error) {
	indices := gridIndices(g.params, trial.Number)
	for _, p := range g.params {
		if p.Name != name {
			continue
		}
		values := p.gridValues()
		if p.Type == TypeCategorical {
			return float64(indices[name]), nil
		}
		return p.internal(values[indices[name]]), nil
	}
	return 0, fmt.Errorf("grid sampler: unknown parameter %s", name)
}
