package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "DATA_DIR", "MODELS_DIR"} {
		t.Setenv(key, "")
	}
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Empty(t, cfg.Source)
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, filepath.Join("data", "dataset_SCL.csv"), cfg.Data.Path())
	require.Equal(t, filepath.Join("models", "model.json"), cfg.Artifacts.ModelPath())
	require.Equal(t, filepath.Join("optuna_db", "xgboost_training.db"), cfg.Storage.StudyPath(cfg.Search.StudyName))
	require.Equal(t, 30, cfg.Search.NTrials)
	require.False(t, cfg.Search.Resume)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
http:
  port: 9000
  request_timeout: 2s
data:
  encoding: latin1
search:
  n_trials: 5
  timeout: 10m
log:
  level: warn
`)
	t.Setenv("PORT", "9100")
	t.Setenv("MODELS_DIR", "/srv/models")
	t.Setenv("DATA_DIR", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Source)
	require.Equal(t, 9100, cfg.HTTP.Port)
	require.Equal(t, 2*time.Second, cfg.HTTP.RequestTimeout)
	require.Equal(t, "latin1", cfg.Data.Encoding)
	require.Equal(t, 5, cfg.Search.NTrials)
	require.Equal(t, 10*time.Minute, cfg.Search.Timeout)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "/srv/models", cfg.Artifacts.Dir)
	require.Len(t, cfg.Search.Params, 4, "defaults kept for unset sections")
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "htp:\n  port: 1\n",
		"bad ratio":     "split:\n  test_ratio: 1.5\n",
		"bad level":     "log:\n  level: chatty\n",
		"bad method":    "search:\n  method: bayesian\n",
		"bad feature":   "features:\n  categorical: [airline]\n",
		"bad model":     "model:\n  params:\n    learning_rate: 0\n",
		"bad port type": "http:\n  port: eighty\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), body))
			require.Error(t, err)
		})
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) { changes <- cfg }))

	writeConfig(t, dir, "log:\n  level: debug\n")

	select {
	case cfg := <-changes:
		require.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestRepositoryConfigLoads(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "DATA_DIR", "MODELS_DIR"} {
		t.Setenv(key, "")
	}
	cfg, err := Load(filepath.Join("..", "config.yaml"))
	require.NoError(t, err)

	want := Default()
	require.Equal(t, want.Features, cfg.Features)
	require.Equal(t, want.Search.Params, cfg.Search.Params)
	require.Equal(t, want.HTTP.Port, cfg.HTTP.Port)
	require.Equal(t, want.Model.Params.LearningRate, cfg.Model.Params.LearningRate)
	require.Equal(t, int64(42), cfg.Model.Params.Seed)
}
