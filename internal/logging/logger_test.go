package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"DEBUG", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"loud", log.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Setenv("OPDIS_LOG_LEVEL", "warn")
	t.Setenv("OPDIS_LOG_PREFIX", "")

	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	lg.Info("hidden")
	lg.Warn("decode", "vma", 0x10)
	require.NoError(t, lg.Close())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "opdis")
	assert.Contains(t, out, "decode")
	assert.Contains(t, out, "vma=16")
}

func TestIsDebug(t *testing.T) {
	t.Setenv("OPDIS_LOG_LEVEL", "debug")
	assert.True(t, IsDebug())
	t.Setenv("OPDIS_LOG_LEVEL", "info")
	assert.False(t, IsDebug())
}
