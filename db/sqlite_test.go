package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flightdelay/tuning"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optuna_db", "study.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func numberObjective(_ context.Context, trial *tuning.Trial) (float64, error) {
	return float64(trial.Number()), nil
}

func searchConfig(trials int, resume bool) tuning.SearchConfig {
	cfg := tuning.DefaultSearchConfig()
	cfg.Method = tuning.MethodRandom
	cfg.NTrials = trials
	cfg.Resume = resume
	cfg.Pruner.Enabled = false
	return cfg
}

func TestStoreBacksStudyResume(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	study, err := tuning.NewStudy(searchConfig(3, true), store.Studies())
	require.NoError(t, err)
	first, err := study.Optimize(ctx, numberObjective)
	require.NoError(t, err)
	require.Len(t, first.Trials, 3)

	study, err = tuning.NewStudy(searchConfig(2, true), store.Studies())
	require.NoError(t, err)
	res, err := study.Optimize(ctx, numberObjective)
	require.NoError(t, err)
	require.Len(t, res.Trials, 5)
	require.Equal(t, 4, res.Best.Number)
	require.Equal(t, first.Trials[0].Params, res.Trials[0].Params)
	require.NotEqual(t, res.Trials[0].Params, res.Trials[3].Params, "resumed trials must not repeat earlier samples")
}

func TestStoreResetStudy(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	for i := 0; i < 2; i++ {
		study, err := tuning.NewStudy(searchConfig(3, false), store.Studies())
		require.NoError(t, err)
		res, err := study.Optimize(ctx, numberObjective)
		require.NoError(t, err)
		require.Len(t, res.Trials, 3)
		require.Equal(t, 0, res.Trials[0].Number)
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	store, path := openTestStore(t)

	study, err := tuning.NewStudy(searchConfig(2, true), store.Studies())
	require.NoError(t, err)
	_, err = study.Optimize(ctx, func(_ context.Context, trial *tuning.Trial) (float64, error) {
		if err := trial.Report(50, 0.25); err != nil {
			return 0, err
		}
		return 0.5, nil
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	study, err = tuning.NewStudy(searchConfig(1, true), reopened.Studies())
	require.NoError(t, err)
	res, err := study.Optimize(ctx, numberObjective)
	require.NoError(t, err)
	require.Len(t, res.Trials, 3)
	require.Equal(t, map[int]float64{50: 0.25}, res.Trials[0].Intermediate)
	require.Equal(t, tuning.StateCompleted, res.Trials[0].State)
	require.Equal(t, 2, res.Best.Number)
}

func TestTrainingLog(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	first := TrainingLog{ModelName: "gradient_boosting", F1: 0.3, Params: map[string]interface{}{"max_depth": 4}, TrainedAt: time.Now().Add(-time.Hour)}
	second := TrainingLog{ModelName: "gradient_boosting", F1: 0.4, Params: map[string]interface{}{"max_depth": 5}, DataPoints: 100, TrainedAt: time.Now()}
	require.NoError(t, store.SaveTrainingLog(ctx, first))
	require.NoError(t, store.SaveTrainingLog(ctx, second))

	logs, err := store.LoadTrainingLog(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, 0.4, logs[0].F1)
	require.Equal(t, 100, logs[0].DataPoints)
	require.Equal(t, float64(5), logs[0].Params["max_depth"])
}
