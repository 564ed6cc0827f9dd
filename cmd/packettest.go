// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid VMC frame",
	Long: `Wait for a valid VMC frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any
checksum-valid frame. A running VMC polls every 200ms, so a healthy link
answers almost immediately.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	if err := loadLinkConfig(cmd); err != nil {
		return err
	}
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Vendlink - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid VMC frame...\n\n")

	decoder := vmc.NewDecoder()
	buf := make([]byte, 256)

	frameChan := make(chan *vmc.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				decoder.Write(buf[:n])
				for {
					f, decodeErr := decoder.Next()
					if decodeErr != nil {
						continue
					}
					if f == nil {
						break
					}
					if skipped := decoder.Discarded(); skipped > 0 {
						fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
					}
					frameChan <- f
					return
				}
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Command: %s (0x%02X)\n", vmc.CommandName(f.Command()), f.Command())
		if f.HasSequence() {
			fmt.Printf("  Communication number: %d\n", f.Sequence())
		}
		fmt.Printf("  Length: %d bytes\n", f.Length())
		fmt.Printf("  Checksum: 0x%02X\n", f.Checksum())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
