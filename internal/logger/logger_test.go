package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		logger, err := New(Config{
			Level:   "info",
			Console: true,
		})
		require.NoError(t, err)
		assert.NotNil(t, logger)
		logger.Close()
	})

	t.Run("create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{
			Level: "debug",
			File:  logFile,
		})
		require.NoError(t, err)

		logger.Info().Msg("test message")
		logger.Close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("redaction masks keys in the file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := New(Config{
			Level:     "info",
			File:      logFile,
			Redaction: true,
		})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		logger.Info().Str("auth", "Bearer sk-live1234567890abcdefghijkl").Msg("calling upstream")
		logger.Close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "sk-live1234567890")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Level())
	})
}

func TestSetLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	logger, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)
	defer logger.Close()

	zl := logger.GetZerolog()
	zl.Debug().Msg("hidden debug")

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zerolog.DebugLevel, logger.Level())

	zl.Debug().Msg("visible debug")

	assert.Error(t, logger.SetLevel("chatty"))
	assert.Equal(t, zerolog.DebugLevel, logger.Level())

	require.NoError(t, logger.SetLevel("info"))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden debug")
	assert.Contains(t, string(data), "visible debug")
	assert.Contains(t, string(data), "Log level changed")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}

func TestLoggerWith(t *testing.T) {
	logger, err := New(Config{Level: "info"})
	require.NoError(t, err)
	defer logger.Close()

	child := logger.With().Str("component", "test").Logger()
	assert.NotNil(t, child)
}
