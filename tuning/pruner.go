package tuning

import (
	"sort"

	"github.com/c-bata/goptuna"
)

// MedianPruner 中位数剪枝
//
// 在同一步上，如果当前中间值比已完成试验的中位数差，则剪枝。
type MedianPruner struct {
	StartupTrials int
	WarmupSteps   int
	Direction     string
}

func NewMedianPruner(cfg PrunerConfig, direction string) *MedianPruner {
	return &MedianPruner{
		StartupTrials: cfg.StartupTrials,
		WarmupSteps:   cfg.WarmupSteps,
		Direction:     direction,
	}
}

// Prune implements goptuna.Pruner，取试验最近一次上报的中间值
func (p *MedianPruner) Prune(study *goptuna.Study, trial goptuna.FrozenTrial) (bool, error) {
	step, ok := latestStep(trial.IntermediateValues)
	if !ok {
		return false, nil
	}
	trials, err := study.GetTrials()
	if err != nil {
		return false, err
	}
	history := make([]TrialRecord, 0, len(trials))
	for _, t := range trials {
		if t.Number == trial.Number {
			continue
		}
		history = append(history, TrialRecord{State: stateOf(t.State), Intermediate: t.IntermediateValues})
	}
	return p.ShouldPrune(step, trial.IntermediateValues[step], history), nil
}

func latestStep(values map[int]float64) (int, bool) {
	last, ok := 0, false
	for step := range values {
		if !ok || step > last {
			last, ok = step, true
		}
	}
	return last, ok
}

// ShouldPrune 判断是否剪枝
func (p *MedianPruner) ShouldPrune(step int, value float64, history []TrialRecord) bool {
	var completed []TrialRecord
	for _, t := range history {
		if t.State == StateCompleted {
			completed = append(completed, t)
		}
	}
	if len(completed) < p.StartupTrials || step < p.WarmupSteps {
		return false
	}

	var values []float64
	for _, t := range completed {
		if v, ok := t.Intermediate[step]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return false
	}
	m := median(values)
	if p.Direction == DirectionMinimize {
		return value > m
	}
	return value < m
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
