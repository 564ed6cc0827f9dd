// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

// Checksum computes the XOR over data. Callers pass every byte from the first
// STX byte through the last text byte.
func Checksum(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}
