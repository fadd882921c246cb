package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write redacted entries to the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "storechat.log")
		l, err := New(Config{Level: "debug", File: logFile, Redaction: true, MaxSizeMB: 1})
		require.NoError(t, err)

		l.Info().Str("key", "sk-ant-REDACTED").Msg("provider call")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "provider call")
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "abcdefghijklmnopqrstuv")
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		l, err := New(Config{Level: "loud", Console: true})
		require.NoError(t, err)
		assert.Equal(t, "info", l.GetZerolog().GetLevel().String())
	})

	t.Run("should tag component loggers", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "c.log")
		l, err := New(Config{Level: "info", File: logFile})
		require.NoError(t, err)

		c := l.Component("ledger")
		c.Info().Msg("flushed")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"ledger"`)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 5, cfg.MaxBackups)
}
