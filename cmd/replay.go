// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vendlink/pkg/capture"
	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

var (
	replaySpeed     float64
	replayShowPolls bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode a traffic capture recorded by run --capture",
	Long: `Decode and print every frame of a capture file.

Frames are printed with their direction (RX from the VMC, TX from vendlink).
With --speed the recorded gaps are reproduced, scaled by the given factor;
the default replays as fast as possible.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Replay speed factor (0 prints without waiting)")
	replayCmd.Flags().BoolVar(&replayShowPolls, "show-polls", false, "Also print POLL frames and plain ACKs")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return err
	}

	fmt.Printf("Vendlink - Replay\n")
	fmt.Printf("Capture: %s (machine %q, started %s)\n\n", args[0], r.Header.MachineID, r.Header.StartedAt.Format("2006-01-02 15:04:05"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	counts := map[link.Direction]int{}
	failures := 0
	p := &capture.Player{Speed: replaySpeed}
	err = p.Play(ctx, r, func(ev capture.Event) error {
		if ev.Err != nil {
			failures++
			fmt.Printf("%s [ERROR] %v\n", ev.Record.Dir, ev.Err)
			return nil
		}
		counts[ev.Record.Dir]++
		if !replayShowPolls && (ev.Frame.IsPoll() || (ev.Frame.IsAck() && !ev.Frame.HasSequence())) {
			return nil
		}
		fmt.Printf("%s %s", ev.Record.Dir, vmc.FormatFrame(ev.Frame))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return err
	}

	fmt.Printf("\n%d frames received, %d sent, %d framing errors\n", counts[link.Inbound], counts[link.Outbound], failures)
	return nil
}
