package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", false, &buf)
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("appointment", "APT-1").Msg("appointment booked")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "APT-1", line["appointment"])
	assert.Equal(t, "appointment booked", line["message"])
	assert.Contains(t, line, "time")
}

func TestNewPretty(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", true, &buf)
	require.NoError(t, err)

	logger.Debug().Str("step", "schedule").Msg("step condition failed to evaluate")
	out := buf.String()
	assert.Contains(t, out, "DBG")
	assert.Contains(t, out, "step=schedule")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", false, nil)
	assert.Error(t, err)
}
