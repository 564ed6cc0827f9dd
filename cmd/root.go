// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/vendlink/pkg/config"
	"github.com/Thermoquad/vendlink/pkg/logging"
)

var (
	cfg     = config.DefaultConfig()
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "vendlink",
	Short: "Upper computer for VMC serial vending machines",
	Long: `Vendlink - Answers the vending machine controller (VMC) on its serial link.

The VMC polls every 200ms and expects an answer within 100ms. Vendlink answers
each poll with an ACK or a queued command, decodes everything the VMC reports
and keeps selection prices, inventory and sales in a local store.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 57600]
  WebSocket: --url ws://host/path [--username user]

Settings are read from ~/.vendlink/config.toml (or --config), then VENDLINK_*
environment variables, then flags.

For WebSocket authentication, the password is read from the VENDLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.4.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.vendlink/config.toml)")

	// Serial connection flags
	f.StringVarP(&cfg.Port, "port", "p", "", "Serial port device")
	f.IntVarP(&cfg.Baud, "baud", "b", cfg.Baud, "Baud rate (serial only)")

	// WebSocket connection flags
	f.StringVarP(&cfg.URL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	f.StringVar(&cfg.Username, "username", "", "Username for HTTP Basic auth")
	f.BoolVar(&cfg.NoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	f.StringVar(&cfg.MachineID, "machine-id", cfg.MachineID, "Machine identifier used in metrics and MQTT topics")
	f.StringVar(&cfg.StoreDir, "store", "", "Bitcask store directory (in-memory when empty)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	f.BoolVar(&cfg.LogJSON, "log-json", false, "Log JSON lines instead of console output")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig layers the config file and environment under the flags that
// were set on cmd
func loadConfig(cmd *cobra.Command) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	if path != "" && config.FileExists(path) {
		fc, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyFile(&cfg, fc, changed); err != nil {
			return err
		}
	}
	return config.ApplyEnv(&cfg, changed)
}

// loadLinkConfig loads and validates the configuration for commands that
// open a connection
func loadLinkConfig(cmd *cobra.Command) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	return cfg.Validate()
}

func newLogger() zerolog.Logger {
	return logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
}
