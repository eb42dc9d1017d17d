package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	log, err := NewLogger(dir, "DEBUG")
	require.NoError(t, err)

	named := log.Named("test")
	named.Info("普通日志")
	named.Error("错误日志")
	_ = named.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "lendwatch.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "普通日志")
	assert.Contains(t, string(data), `"logger":"test"`)

	errData, err := os.ReadFile(filepath.Join(dir, "lendwatch_error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errData), "错误日志")
	assert.NotContains(t, string(errData), "普通日志")
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	log, err := NewLogger(t.TempDir(), "verbose")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(0))
	assert.False(t, log.Core().Enabled(-1))
}
