// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Vendlink - VMC Upper Computer
//
// Answers the vending machine controller on its serial link, tracks
// selections and sales, and exposes the machine to local and remote
// applications.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/vendlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
