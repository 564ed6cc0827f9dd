// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

var (
	discoveryTimeout int
	discoveryProbe   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find the serial port the VMC is polling on",
	Long: `List serial ports and, with --probe, listen on each one for VMC traffic.

A VMC polls its upper computer every 200ms, so a port carrying a checksum-valid
frame within the timeout is the one to pass to --port. Probing only listens;
nothing is written to any port.

Examples:
  vendlink discovery
  vendlink discovery --probe --baud 57600

Exit codes:
  0 - At least one port found (and, with --probe, one carrying VMC frames)
  1 - No port found
  2 - Port enumeration error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 2, "Seconds to listen on each port")
	discoveryCmd.Flags().BoolVar(&discoveryProbe, "probe", false, "Listen on each port for VMC frames")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Port enumeration error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Vendlink - Port Discovery\n")
	fmt.Printf("Ports: %d\n", len(ports))
	if discoveryProbe {
		fmt.Printf("Probing at %d baud, %d seconds per port\n", cfg.Baud, discoveryTimeout)
	}
	fmt.Println()

	found := 0
	for _, p := range ports {
		fmt.Printf("%s\n", p.Name)
		if p.IsUSB {
			fmt.Printf("  USB: %s:%s %s (serial %s)\n", p.VID, p.PID, p.Product, p.SerialNumber)
		}
		if !discoveryProbe {
			found++
			continue
		}

		f, err := probePort(p.Name, cfg.Baud, time.Duration(discoveryTimeout)*time.Second)
		switch {
		case err != nil:
			fmt.Printf("  Probe failed: %v\n", err)
		case f == nil:
			fmt.Printf("  No VMC frames\n")
		default:
			found++
			fmt.Printf("  VMC found: %s (0x%02X)\n", vmc.CommandName(f.Command()), f.Command())
		}
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	if discoveryProbe {
		fmt.Printf("Ports carrying VMC frames: %d\n", found)
	} else {
		fmt.Printf("Ports found: %d\n", found)
	}
	if found == 0 {
		os.Exit(1)
	}
	return nil
}

// probePort listens on name until a valid frame arrives or timeout passes.
// It returns a nil frame on timeout.
func probePort(name string, baud int, timeout time.Duration) (*vmc.Frame, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	defer port.Close()

	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return nil, err
	}

	decoder := vmc.NewDecoder()
	buf := make([]byte, 256)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return nil, err
		}
		if frames := decoder.Feed(buf[:n]); len(frames) > 0 {
			return frames[0], nil
		}
	}
	return nil, nil
}
