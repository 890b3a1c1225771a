package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestFileOutputAndSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	log, err := New(Config{Level: "info", Format: "json", File: &FileConfig{Enabled: true, Path: path}})
	require.NoError(t, err)

	scoped := log.WithComponent("chat").WithSession("s-1").WithRequestID("c-1")
	scoped.Debug("hidden")
	scoped.Info("visible")

	require.NoError(t, log.SetLevel("debug"))
	assert.Equal(t, "debug", scoped.Level())
	scoped.Debug("now visible")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, `"hidden"`)
	assert.Contains(t, out, `"msg":"visible"`)
	assert.Contains(t, out, `"msg":"now visible"`)
	assert.Contains(t, out, `"session_id":"s-1"`)
	assert.Contains(t, out, `"correlation_id":"c-1"`)
	assert.Contains(t, out, `"component":"chat"`)

	assert.Error(t, log.SetLevel("loud"))
}

func TestRedactHeaders(t *testing.T) {
	safe := RedactHeaders(map[string][]string{
		"Authorization": {"Bearer sk-123"},
		"X-Api-Key":     {"secret"},
		"Content-Type":  {"application/json"},
		"Empty":         {},
	})

	assert.Equal(t, map[string]string{
		"Authorization": "[REDACTED]",
		"X-Api-Key":     "[REDACTED]",
		"Content-Type":  "application/json",
	}, safe)
}
