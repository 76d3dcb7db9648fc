package tuning

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func quadratic(_ context.Context, trial *Trial) (float64, error) {
	x := trial.Params()["x"].(float64)
	return -(x - 0.3) * (x - 0.3), nil
}

func TestSearchDeterministic(t *testing.T) {
	for _, method := range []string{MethodRandom, MethodTPE} {
		t.Run(method, func(t *testing.T) {
			testSearchDeterministic(t, method)
		})
	}
}

func testSearchDeterministic(t *testing.T, method string) {
	cfg := DefaultSearchConfig()
	cfg.Method = method
	cfg.NTrials = 12
	cfg.Pruner.Enabled = false

	objective := func(_ context.Context, trial *Trial) (float64, error) {
		p := trial.Params()
		return p["learning_rate"].(float64) * float64(p["max_depth"].(int)), nil
	}

	run := func() *StudyResult {
		study, err := NewStudy(cfg, nil)
		require.NoError(t, err)
		res, err := study.Optimize(context.Background(), objective)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	require.Equal(t, 12, a.Completed)
	if diff := cmp.Diff(a.Best.Params, b.Best.Params); diff != "" {
		t.Fatalf("same seed gave different best params:\n%s", diff)
	}
	for i := range a.Trials {
		require.Equal(t, a.Trials[i].Params, b.Trials[i].Params)
	}
}

func TestRandomSearchRespectsSpace(t *testing.T) {
	cfg := DefaultSearchConfig()
	cfg.Method = MethodRandom
	cfg.NTrials = 50
	cfg.Pruner.Enabled = false

	study, err := NewStudy(cfg, nil)
	require.NoError(t, err)
	res, err := study.Optimize(context.Background(), func(context.Context, *Trial) (float64, error) { return 1, nil })
	require.NoError(t, err)

	allowedSubsample := map[float64]bool{0.7: true, 0.8: true, 0.9: true, 1.0: true}
	for _, trial := range res.Trials {
		lr := trial.Params["learning_rate"].(float64)
		require.True(t, lr >= 0.01 && lr <= 0.1, "learning_rate %v", lr)
		n := trial.Params["n_estimators"].(int)
		require.True(t, n >= 50 && n <= 1000, "n_estimators %v", n)
		depth := trial.Params["max_depth"].(int)
		require.True(t, depth >= 3 && depth <= 20, "max_depth %v", depth)
		require.True(t, allowedSubsample[trial.Params["subsample"].(float64)], "subsample %v", trial.Params["subsample"])
	}
	require.Equal(t, 0, res.Best.Number, "ties keep the earliest trial")
}

func TestGridSearchEnumeratesProduct(t *testing.T) {
	cfg := SearchConfig{
		StudyName: "grid",
		Method:    MethodGrid,
		Direction: DirectionMaximize,
		NTrials:   100,
		Params: []ParameterConfig{
			{Name: "x", Type: TypeFloat, Low: 0.1, High: 0.5, Step: 0.1},
			{Name: "kind", Type: TypeCategorical, Values: []interface{}{"a", "b"}},
		},
	}
	study, err := NewStudy(cfg, nil)
	require.NoError(t, err)
	res, err := study.Optimize(context.Background(), quadratic)
	require.NoError(t, err)

	require.Len(t, res.Trials, 10)
	require.Equal(t, map[string]interface{}{"x": 0.1, "kind": "a"}, res.Trials[0].Params)
	require.Equal(t, map[string]interface{}{"x": 0.1, "kind": "b"}, res.Trials[1].Params)
	require.Equal(t, 0.3, res.Best.Params["x"])

	cfg.NTrials = 3
	study, err = NewStudy(cfg, nil)
	require.NoError(t, err)
	res, err = study.Optimize(context.Background(), quadratic)
	require.NoError(t, err)
	require.Len(t, res.Trials, 3)
}

func TestGridSearchNeedsFloatStep(t *testing.T) {
	cfg := SearchConfig{
		StudyName: "grid",
		Method:    MethodGrid,
		Direction: DirectionMaximize,
		NTrials:   1,
		Params:    []ParameterConfig{{Name: "x", Type: TypeFloat, Low: 0, High: 1}},
	}
	_, err := NewStudy(cfg, nil)
	require.Error(t, err)
}

func TestFailedTrialsAreSkipped(t *testing.T) {
	cfg := DefaultSearchConfig()
	cfg.NTrials = 4
	cfg.Pruner.Enabled = false

	study, err := NewStudy(cfg, nil)
	require.NoError(t, err)
	res, err := study.Optimize(context.Background(), func(_ context.Context, trial *Trial) (float64, error) {
		if trial.Number()%2 == 0 {
			return 0, errors.New("boom")
		}
		return float64(trial.Number()), nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, 2, res.Completed)
	require.Equal(t, 3, res.Best.Number)
	require.Equal(t, StateFailed, res.Trials[0].State)
	require.Equal(t, "boom", res.Trials[0].Error)
}

func TestNoCompletedTrials(t *testing.T) {
	cfg := DefaultSearchConfig()
	cfg.NTrials = 2
	study, err := NewStudy(cfg, nil)
	require.NoError(t, err)
	_, err = study.Optimize(context.Background(), func(context.Context, *Trial) (float64, error) {
		return 0, errors.New("always fails")
	})
	require.ErrorIs(t, err, ErrNoCompletedTrials)
}

func TestOptimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	study, err := NewStudy(DefaultSearchConfig(), nil)
	require.NoError(t, err)
	_, err = study.Optimize(ctx, quadratic)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMedianPrunerPrunesBelowMedian(t *testing.T) {
	cfg := DefaultSearchConfig()
	cfg.NTrials = 6
	cfg.Pruner = PrunerConfig{Enabled: true, StartupTrials: 3}

	// 前三个试验中间值为 0.5, 0.6, 0.7；之后的试验在第 1 步上报更低的值
	objective := func(_ context.Context, trial *Trial) (float64, error) {
		v := 0.5 + 0.1*float64(trial.Number())
		if trial.Number() >= 3 {
			v = 0.1
		}
		if err := trial.Report(1, v); err != nil {
			return 0, err
		}
		return v, nil
	}

	study, err := NewStudy(cfg, nil)
	require.NoError(t, err)
	res, err := study.Optimize(context.Background(), objective)
	require.NoError(t, err)
	require.Equal(t, 3, res.Completed)
	require.Equal(t, 3, res.Pruned)
	require.Equal(t, StatePruned, res.Trials[4].State)
	require.Equal(t, 0.1, res.Trials[4].Value)
	require.Equal(t, 2, res.Best.Number)
}

func TestMedianPrunerWarmup(t *testing.T) {
	pruner := NewMedianPruner(PrunerConfig{StartupTrials: 1, WarmupSteps: 10}, DirectionMaximize)
	history := []TrialRecord{{State: StateCompleted, Intermediate: map[int]float64{5: 0.9, 20: 0.9}}}
	require.False(t, pruner.ShouldPrune(5, 0.1, history))
	require.True(t, pruner.ShouldPrune(20, 0.1, history))
	require.False(t, pruner.ShouldPrune(30, 0.1, history), "no completed value at this step")

	minimize := NewMedianPruner(PrunerConfig{}, DirectionMinimize)
	require.True(t, minimize.ShouldPrune(20, 1.5, history))
	require.False(t, minimize.ShouldPrune(20, 0.5, history))
}

func TestCategoricalKeepsConfiguredValues(t *testing.T) {
	cfg := SearchConfig{
		StudyName: "categorical",
		Method:    MethodRandom,
		Direction: DirectionMinimize,
		NTrials:   10,
		Params: []ParameterConfig{
			{Name: "depth", Type: TypeCategorical, Values: []interface{}{4, 8}},
			{Name: "n", Type: TypeInt, Low: 10, High: 50, Step: 10},
		},
	}
	study, err := NewStudy(cfg, nil)
	require.NoError(t, err)
	res, err := study.Optimize(context.Background(), func(_ context.Context, trial *Trial) (float64, error) {
		p := trial.Params()
		return float64(p["depth"].(int) + p["n"].(int)), nil
	})
	require.NoError(t, err)
	for _, trial := range res.Trials {
		require.Contains(t, []interface{}{4, 8}, trial.Params["depth"])
		require.Zero(t, trial.Params["n"].(int)%10)
	}
}

func TestGridSamplerIndices(t *testing.T) {
	params := []ParameterConfig{
		{Name: "x", Type: TypeFloat, Low: 0.1, High: 0.3, Step: 0.1},
		{Name: "kind", Type: TypeCategorical, Values: []interface{}{"a", "b"}},
	}
	require.Equal(t, 6, gridSize(params))
	require.Equal(t, map[string]interface{}{"x": 0.2, "kind": "b"}, gridPoint(params, 3))
	require.Equal(t, map[string]int{"x": 1, "kind": 1}, gridIndices(params, 3))
	require.Equal(t, 1.0, params[1].internal("b"))
	require.Equal(t, "b", params[1].external(1))
	require.Equal(t, 7, ParameterConfig{Type: TypeInt}.external(6.9999))
}
