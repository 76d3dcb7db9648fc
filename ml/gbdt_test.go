package ml

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestGradientBoostingLearnsConjunction(t *testing.T) {
	features, labels := andDataset(80)
	params := DefaultBoostingParams()
	params.NEstimators = 30
	params.MaxDepth = 3

	model := NewGradientBoosting(params)
	require.NoError(t, model.Train(features, labels))

	predicted, err := model.PredictBatch(features)
	require.NoError(t, err)
	require.Equal(t, labels, predicted)

	_, p, err := model.Predict([]float64{1, 1})
	require.NoError(t, err)
	require.Greater(t, p, 0.5)
}

func TestGradientBoostingDeterministic(t *testing.T) {
	features, labels := noisyDataset(300, 7)
	params := DefaultBoostingParams()
	params.NEstimators = 20
	params.Subsample = 0.8
	params.Seed = 42

	fit := func(jobs int) *GradientBoosting {
		p := params
		p.NJobs = jobs
		model := NewGradientBoosting(p)
		require.NoError(t, model.Train(features, labels))
		return model
	}

	a, b, c := fit(1), fit(1), fit(4)
	if diff := cmp.Diff(a.Trees, b.Trees); diff != "" {
		t.Fatalf("same seed produced different trees (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.Trees, c.Trees); diff != "" {
		t.Fatalf("n_jobs changed the model (-1 +4):\n%s", diff)
	}
}

func TestGradientBoostingSaveLoad(t *testing.T) {
	features, labels := noisyDataset(200, 3)
	params := DefaultBoostingParams()
	params.NEstimators = 10
	names := []string{"f0", "f1", "f2"}

	model := NewGradientBoosting(params)
	require.NoError(t, model.Fit(features, labels, FitOptions{FeatureNames: names}))

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(path))

	loaded, err := LoadModel(ModelTypeGradientBoosting, path)
	require.NoError(t, err)
	require.Equal(t, names, loaded.FeatureNames())

	for _, row := range features {
		_, want, err := model.Predict(row)
		require.NoError(t, err)
		_, got, err := loaded.Predict(row)
		require.NoError(t, err)
		require.InDelta(t, want, got, 1e-12)
	}
}

func TestGradientBoostingEvalCallbackStops(t *testing.T) {
	features, labels := noisyDataset(100, 1)
	params := DefaultBoostingParams()
	params.NEstimators = 50

	stop := errors.New("stop")
	var rounds []int
	model := NewGradientBoosting(params)
	err := model.Fit(features, labels, FitOptions{
		EvalX:     features,
		EvalY:     labels,
		EvalEvery: 10,
		OnEval: func(round int, margins []float64) error {
			rounds = append(rounds, round)
			require.Len(t, margins, len(features))
			if round == 20 {
				return stop
			}
			return nil
		},
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, []int{10, 20}, rounds)
}

func TestGradientBoostingErrors(t *testing.T) {
	model := NewGradientBoosting(DefaultBoostingParams())
	_, _, err := model.Predict([]float64{1})
	require.ErrorIs(t, err, ErrNotTrained)

	require.Error(t, model.Train([][]float64{{1}, {2}}, []int{0}))
	require.Error(t, model.Train([][]float64{{1}, {2}}, []int{0, 2}))

	require.NoError(t, model.Train([][]float64{{0}, {1}, {0}, {1}}, []int{0, 1, 0, 1}))
	_, _, err = model.Predict([]float64{1, 2})
	require.ErrorIs(t, err, ErrFeatureMismatch)
}

func TestBoostingParamsWithOverrides(t *testing.T) {
	base := DefaultBoostingParams()
	got, err := base.WithOverrides(map[string]interface{}{
		"learning_rate": 0.05,
		"n_estimators":  int64(200),
		"subsample":     0.8,
		"max_depth":     float64(7),
	})
	require.NoError(t, err)
	require.Equal(t, 0.05, got.LearningRate)
	require.Equal(t, 200, got.NEstimators)
	require.Equal(t, 0.8, got.Subsample)
	require.Equal(t, 7, got.MaxDepth)

	_, err = base.WithOverrides(map[string]interface{}{"eta": 0.1})
	require.Error(t, err)

	_, err = base.WithOverrides(map[string]interface{}{"subsample": 1.5})
	require.Error(t, err)
}

// noisyDataset is a linearly separable problem with a few flipped labels.
func noisyDataset(n, width int) ([][]float64, []int) {
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		row := make([]float64, width)
		for j := range row {
			row[j] = float64((i*(j+3))%17) / 17
		}
		features[i] = row
		if row[0] > 0.5 {
			labels[i] = 1
		}
		if i%13 == 0 {
			labels[i] = 1 - labels[i]
		}
	}
	return features, labels
}
