// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import "os"

// ApplyEnv applies VENDLINK_* environment variables to cfg, skipping values
// whose flag was set. It fails on a value that does not parse.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("port", os.Getenv("VENDLINK_PORT"), &cfg.Port)
	if err := s.setIntFromString("baud", os.Getenv("VENDLINK_BAUD"), &cfg.Baud); err != nil {
		return err
	}
	s.setString("url", os.Getenv("VENDLINK_URL"), &cfg.URL)
	s.setString("username", os.Getenv("VENDLINK_USERNAME"), &cfg.Username)
	s.setBoolFromString("no-ssl-verify", os.Getenv("VENDLINK_NO_SSL_VERIFY"), &cfg.NoSSLVerify)
	s.setString("machine-id", os.Getenv("VENDLINK_MACHINE_ID"), &cfg.MachineID)

	if err := s.setDuration("poll-deadline", os.Getenv("VENDLINK_POLL_DEADLINE"), &cfg.PollDeadline); err != nil {
		return err
	}
	if err := s.setIntFromString("max-retries", os.Getenv("VENDLINK_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setDuration("record-ttl", os.Getenv("VENDLINK_RECORD_TTL"), &cfg.RecordTTL); err != nil {
		return err
	}
	if err := s.setIntFromString("degraded-after", os.Getenv("VENDLINK_DEGRADED_AFTER"), &cfg.DegradedAfter); err != nil {
		return err
	}
	if err := s.setDuration("link-down-after", os.Getenv("VENDLINK_LINK_DOWN_AFTER"), &cfg.LinkDownAfter); err != nil {
		return err
	}
	s.setBoolFromString("echo-ack-seq", os.Getenv("VENDLINK_ECHO_ACK_SEQUENCE"), &cfg.EchoAckSequence)

	s.setString("store", os.Getenv("VENDLINK_STORE_DIR"), &cfg.StoreDir)
	s.setString("planogram", os.Getenv("VENDLINK_PLANOGRAM"), &cfg.Planogram)

	s.setString("mqtt-broker", os.Getenv("VENDLINK_MQTT_BROKER"), &cfg.MQTTBroker)
	s.setString("mqtt-client-id", os.Getenv("VENDLINK_MQTT_CLIENT_ID"), &cfg.MQTTClientID)
	s.setString("mqtt-username", os.Getenv("VENDLINK_MQTT_USERNAME"), &cfg.MQTTUsername)
	s.setString("mqtt-password", os.Getenv("VENDLINK_MQTT_PASSWORD"), &cfg.MQTTPassword)

	s.setString("metrics-addr", os.Getenv("VENDLINK_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("capture", os.Getenv("VENDLINK_CAPTURE_FILE"), &cfg.CaptureFile)

	s.setString("log-level", os.Getenv("VENDLINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("log-json", os.Getenv("VENDLINK_LOG_JSON"), &cfg.LogJSON)

	return nil
}
