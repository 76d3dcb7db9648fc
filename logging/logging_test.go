package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitWritesRotatingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "server.log")

	logger, _, err := Init(cfg)
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	zap.L().Info("hello", zap.String("component", "test"))
	_ = logger.Sync()

	payload, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"msg":"hello"`)
	require.Contains(t, string(payload), `"component":"test"`)
}

func TestSetLevel(t *testing.T) {
	_, level, err := Init(DefaultConfig())
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())

	require.Equal(t, zapcore.InfoLevel, level.Level())
	require.NoError(t, SetLevel(level, "debug"))
	require.Equal(t, zapcore.DebugLevel, level.Level())
	require.Error(t, SetLevel(level, "loud"))
	require.Equal(t, zapcore.DebugLevel, level.Level())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.Format = "xml"
	require.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.Level = "verbose"
	require.Error(t, cfg.Validate())
}
