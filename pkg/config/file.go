// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// File mirrors Config with string durations for TOML
type File struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	NoSSLVerify *bool  `toml:"no_ssl_verify"`

	MachineID string `toml:"machine_id"`

	PollDeadline    string `toml:"poll_deadline"`
	MaxRetries      int    `toml:"max_retries"`
	RecordTTL       string `toml:"record_ttl"`
	DegradedAfter   int    `toml:"degraded_after"`
	LinkDownAfter   string `toml:"link_down_after"`
	EchoAckSequence *bool  `toml:"echo_ack_sequence"`

	StoreDir  string `toml:"store_dir"`
	Planogram string `toml:"planogram"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTUsername string `toml:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"`

	MetricsAddr string `toml:"metrics_addr"`
	CaptureFile string `toml:"capture_file"`

	LogLevel string `toml:"log_level"`
	LogJSON  *bool  `toml:"log_json"`
}

// LoadFile reads and parses a TOML config file
func LoadFile(path string) (File, error) {
	var f File
	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := toml.Unmarshal(b, &f); err != nil {
		return f, err
	}
	return f, nil
}

// DefaultPath returns ~/.vendlink/config.toml, or "" without a home directory
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".vendlink", "config.toml")
	}
	return ""
}

// FileExists reports whether a file exists at p
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ApplyFile applies f to cfg, skipping values whose flag was set
func ApplyFile(cfg *Config, f File, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("port", f.Port, &cfg.Port)
	s.setInt("baud", f.Baud, &cfg.Baud)
	s.setString("url", f.URL, &cfg.URL)
	s.setString("username", f.Username, &cfg.Username)
	s.setBool("no-ssl-verify", f.NoSSLVerify, &cfg.NoSSLVerify)
	s.setString("machine-id", f.MachineID, &cfg.MachineID)

	if err := s.setDuration("poll-deadline", f.PollDeadline, &cfg.PollDeadline); err != nil {
		return err
	}
	s.setInt("max-retries", f.MaxRetries, &cfg.MaxRetries)
	if err := s.setDuration("record-ttl", f.RecordTTL, &cfg.RecordTTL); err != nil {
		return err
	}
	s.setInt("degraded-after", f.DegradedAfter, &cfg.DegradedAfter)
	if err := s.setDuration("link-down-after", f.LinkDownAfter, &cfg.LinkDownAfter); err != nil {
		return err
	}
	s.setBool("echo-ack-seq", f.EchoAckSequence, &cfg.EchoAckSequence)

	s.setString("store", f.StoreDir, &cfg.StoreDir)
	s.setString("planogram", f.Planogram, &cfg.Planogram)

	s.setString("mqtt-broker", f.MQTTBroker, &cfg.MQTTBroker)
	s.setString("mqtt-client-id", f.MQTTClientID, &cfg.MQTTClientID)
	s.setString("mqtt-username", f.MQTTUsername, &cfg.MQTTUsername)
	s.setString("mqtt-password", f.MQTTPassword, &cfg.MQTTPassword)

	s.setString("metrics-addr", f.MetricsAddr, &cfg.MetricsAddr)
	s.setString("capture", f.CaptureFile, &cfg.CaptureFile)

	s.setString("log-level", f.LogLevel, &cfg.LogLevel)
	s.setBool("log-json", f.LogJSON, &cfg.LogJSON)

	return nil
}
