// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	t.Setenv(LevelEnv, "")
	assert.Equal(t, zerolog.InfoLevel, Level(""))
	assert.Equal(t, zerolog.DebugLevel, Level("debug"))
	assert.Equal(t, zerolog.InfoLevel, Level("chatty"))

	t.Setenv(LevelEnv, "warn")
	assert.Equal(t, zerolog.WarnLevel, Level("debug"))
}

func TestNew_JSON(t *testing.T) {
	t.Setenv(LevelEnv, "")
	var buf bytes.Buffer
	log := New(Options{Level: "info", JSON: true, Out: &buf})

	log.Debug().Msg("hidden")
	log.Info().Str("component", "link").Msg("up")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "up", line["message"])
	assert.Equal(t, "link", line["component"])
	assert.Contains(t, line, "time")
}

func TestNew_Console(t *testing.T) {
	t.Setenv(LevelEnv, "")
	var buf bytes.Buffer
	log := New(Options{Out: &buf})
	log.Warn().Msg("timeout")
	assert.Contains(t, buf.String(), "timeout")
	assert.Contains(t, buf.String(), "WRN")
}
