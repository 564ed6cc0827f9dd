// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer the VMC and serve the configured adapters",
	Long: `Run the protocol engine against the VMC until interrupted.

Every POLL is answered with an ACK or the next queued command. Decoded
reports update the local store and are published as events. Optional
adapters:
  --planogram file.toml   push prices and stock levels from a file
  --mqtt-broker url       remote control over MQTT (vmc/<machine-id>/...)
  --metrics-addr :9110    Prometheus metrics on /metrics
  --capture file          record all traffic for the replay command`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addEngineFlags(runCmd.Flags())
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := loadLinkConfig(cmd); err != nil {
		return err
	}
	log := newLogger()

	s, err := openStack(log)
	if err != nil {
		return err
	}
	defer s.Close()

	svcs, err := s.services()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Info().Msg("received signal, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("connection", s.connInfo).
		Str("machine", cfg.MachineID).
		Int("services", len(svcs)).
		Msg("vendlink running")
	return runServices(ctx, log, svcs)
}
