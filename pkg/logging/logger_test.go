package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithServiceTagsEveryEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithService("lookout")
	logger.SetOutput(&buf)

	logger.WithField("kind", "engagement").Info("Sync pass finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "lookout", entry["service"])
	assert.Equal(t, "engagement", entry["kind"])
	assert.Equal(t, "Sync pass finished", entry["msg"])
}

func TestNewLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	logger.Warn("deadline reached")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
}
