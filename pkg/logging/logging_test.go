package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("debug").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, New("WARN").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("invalid").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("").GetLevel())
}

func TestComponentTagsLines(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(&buf, "info"), "ledger")
	l.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "hello", line["message"])
	assert.Contains(t, line, "time")
}
