// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/logging"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the engine with an interactive status display",
	Long: `Run the protocol engine like the run command and show a live display of
the link status, frame statistics, the purchase in progress and every event
the dispatcher publishes.

Keys:
  b  buy a selection
  x  cancel the purchase in progress
  s  request the machine status
  y  send SYNC_INFO
  q  quit

Log output is shown in the event log instead of stderr.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addEngineFlags(monitorCmd.Flags())
}

// lineWriter hands each log line to the display; lines are dropped while
// the display is behind
type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	select {
	case w <- strings.TrimRight(string(p), "\n"):
	default:
	}
	return len(p), nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if err := loadLinkConfig(cmd); err != nil {
		return err
	}

	logs := make(lineWriter, 256)
	log := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, Out: logs})

	s, err := openStack(log)
	if err != nil {
		return err
	}
	defer s.Close()

	svcs, err := s.services()
	if err != nil {
		return err
	}

	sub := s.dispatch.Bus().Subscribe(dispatch.DefaultSubscriberBuffer)
	defer sub.Close()

	p := tea.NewProgram(newMonitorModel(s, sub.C, logs), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		err := runServices(ctx, log, svcs)
		p.Send(servicesDoneMsg{err: err})
		done <- err
	}()

	final, err := p.Run()
	cancel()
	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if err := <-done; err != nil {
		return err
	}
	if m, ok := final.(monitorModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
