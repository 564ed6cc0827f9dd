// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LevelEnv overrides the configured level
const LevelEnv = "VENDLINK_LOG_LEVEL"

type Options struct {
	// Level is a zerolog level name; empty means info
	Level string
	// JSON writes one JSON object per line instead of console output
	JSON bool
	// Out defaults to stderr
	Out io.Writer
}

// New returns a logger for opts. An unknown level falls back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	if opts.JSON {
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(Level(opts.Level)).With().Timestamp().Logger()
}

// Level resolves the effective level, preferring VENDLINK_LOG_LEVEL
func Level(configured string) zerolog.Level {
	name := configured
	if env := os.Getenv(LevelEnv); env != "" {
		name = env
	}
	if name == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
