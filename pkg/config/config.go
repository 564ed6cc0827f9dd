// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the vendlink runtime configuration. Values are
// layered: command line flags win over VENDLINK_* environment variables,
// which win over the TOML file, which wins over DefaultConfig.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vendlink/pkg/link"
)

// DefaultBaud is the VMC serial rate (8N1)
const DefaultBaud = 57600

type Config struct {
	Port        string
	Baud        int
	URL         string
	Username    string
	NoSSLVerify bool

	MachineID string

	PollDeadline    time.Duration
	MaxRetries      int
	RecordTTL       time.Duration
	DegradedAfter   int
	LinkDownAfter   time.Duration
	EchoAckSequence bool

	StoreDir  string
	Planogram string

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	MetricsAddr string
	CaptureFile string

	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Baud:          DefaultBaud,
		MachineID:     "default",
		PollDeadline:  link.DefaultResponseTimeout,
		MaxRetries:    link.DefaultMaxRetries,
		RecordTTL:     link.DefaultRecordTTL,
		DegradedAfter: link.DefaultDegradedAfter,
		LinkDownAfter: link.DefaultLinkDownAfter,
		MQTTClientID:  "vendlink",
		LogLevel:      "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Port == "" && c.URL == "" {
		return fmt.Errorf("either port or url is required")
	}
	if c.Port != "" && c.URL != "" {
		return fmt.Errorf("port and url are mutually exclusive")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive")
	}
	if c.MachineID == "" {
		return fmt.Errorf("machine-id is required")
	}
	if c.PollDeadline <= 0 {
		return fmt.Errorf("poll deadline must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = link.DefaultRecordTTL
	}
	if c.LinkDownAfter <= 0 {
		c.LinkDownAfter = link.DefaultLinkDownAfter
	}
	if c.MQTTClientID == "" {
		c.MQTTClientID = "vendlink-" + c.MachineID
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// LinkConfig maps the link settings onto an engine configuration
func (c *Config) LinkConfig(log zerolog.Logger) link.Config {
	lc := link.DefaultConfig()
	lc.ResponseTimeout = c.PollDeadline
	lc.MaxRetries = c.MaxRetries
	lc.RecordTTL = c.RecordTTL
	lc.DegradedAfter = c.DegradedAfter
	lc.LinkDownAfter = c.LinkDownAfter
	lc.EchoAckSequence = c.EchoAckSequence
	lc.Logger = log
	return lc
}

// setter applies configuration values while respecting flag precedence.
// A value is only applied when the corresponding flag was not set.
type setter struct {
	changed map[string]bool
}

func newSetter(changed map[string]bool) *setter {
	return &setter{changed: changed}
}

func (s *setter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *setter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *setter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *setter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *setter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString accepts "true" and "1" as true
func (s *setter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
