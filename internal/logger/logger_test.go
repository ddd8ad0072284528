package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"fatal", log.FatalLevel},
		{"bogus", log.InfoLevel},
		{"", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfigure_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "research.log")

	require.NoError(t, Configure("debug", logPath, false))
	t.Cleanup(func() { _ = Configure("info", "", false) })

	assert.Equal(t, log.DebugLevel, Logger.GetLevel())

	Info("stream opened", "request", "req-1")
	component := NewStyledLogger("Session")
	assert.Equal(t, log.DebugLevel, component.GetLevel())
	component.Warn("late frame ignored", "status", "completed")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stream opened")
	assert.Contains(t, string(data), "late frame ignored")
}

func TestConfigure_EnvironmentLevel(t *testing.T) {
	t.Setenv("RESEARCH_LOG_LEVEL", "warn")
	require.NoError(t, Configure("", "", false))
	t.Cleanup(func() { _ = Configure("info", "", false) })

	assert.Equal(t, log.WarnLevel, Logger.GetLevel())
}

func TestConfigure_TestModeForcesInfo(t *testing.T) {
	require.NoError(t, Configure("debug", "", true))
	t.Cleanup(func() { _ = Configure("info", "", false) })

	assert.Equal(t, log.InfoLevel, Logger.GetLevel())
}
