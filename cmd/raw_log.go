// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

var rawLogShowPolls bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display VMC frames as they arrive.

The connection is only listened to: nothing is written, so this is safe to
point at a tap on a link another upper computer is answering. POLL frames are
hidden unless --show-polls is given.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogShowPolls, "show-polls", false, "Also print POLL frames")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if err := loadLinkConfig(cmd); err != nil {
		return err
	}
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Vendlink - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := vmc.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Write(buf[:n])
			printFrames(decoder)
		}
		if err != nil {
			// A WebSocket read error means the bridge is gone
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
		}
	}
}

func printFrames(decoder *vmc.Decoder) {
	for {
		f, err := decoder.Next()
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			continue
		}
		if f == nil {
			return
		}
		if f.IsPoll() && !rawLogShowPolls {
			continue
		}
		fmt.Print(vmc.FormatFrame(f))
	}
}
