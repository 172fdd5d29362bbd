package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfigLevels(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "warn", false, true)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Str("stage", "analysis").Msg("retrying")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "analysis", entry["stage"])
	assert.Equal(t, "retrying", entry["message"])
}

func TestNewWithConfigUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "chatty", false, true)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
