// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import "encoding/binary"

// fieldReader walks big-endian fields out of a command's text. The first
// failure sticks; later reads return zero values.
type fieldReader struct {
	cmd  byte
	text []byte
	off  int
	err  error
}

func newFieldReader(cmd byte, text []byte) *fieldReader {
	return &fieldReader{cmd: cmd, text: text}
}

func (r *fieldReader) need(field string, n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.text) {
		r.err = malformed(r.cmd, field, "need %d bytes at offset %d, have %d", n, r.off, len(r.text))
		return false
	}
	return true
}

func (r *fieldReader) remaining() int {
	return len(r.text) - r.off
}

func (r *fieldReader) u8(field string) uint8 {
	if !r.need(field, 1) {
		return 0
	}
	v := r.text[r.off]
	r.off++
	return v
}

func (r *fieldReader) i8(field string) int8 {
	return int8(r.u8(field))
}

func (r *fieldReader) u16(field string) uint16 {
	if !r.need(field, 2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.text[r.off:])
	r.off += 2
	return v
}

func (r *fieldReader) u32(field string) uint32 {
	if !r.need(field, 4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.text[r.off:])
	r.off += 4
	return v
}

func (r *fieldReader) bool(field string) bool {
	return r.u8(field) != 0
}

// selection reads a selection number and checks it against 0-MaxSelection
func (r *fieldReader) selection(field string) uint16 {
	v := r.u16(field)
	if r.err == nil && v > MaxSelection {
		r.err = malformed(r.cmd, field, "selection %d outside 0-%d", v, MaxSelection)
	}
	return v
}

// selector reads a selection number that may also address a tray
func (r *fieldReader) selector(field string) uint16 {
	v := r.u16(field)
	if r.err == nil && !ValidSelector(v) {
		r.err = malformed(r.cmd, field, "selector %d outside 0-%d", v, TraySelectorMax)
	}
	return v
}

func (r *fieldReader) rest() []byte {
	if r.err != nil || r.off >= len(r.text) {
		return nil
	}
	out := append([]byte(nil), r.text[r.off:]...)
	r.off = len(r.text)
	return out
}

// ValidSelection reports whether n addresses a single selection (or 0)
func ValidSelection(n uint16) bool {
	return n <= MaxSelection
}

// ValidSelector reports whether n is a selection, a tray selector, or 0
func ValidSelector(n uint16) bool {
	return n <= TraySelectorMax
}

// TraySelector returns the selector that addresses every selection on a tray
func TraySelector(tray int) uint16 {
	return uint16(TraySelectorMin + tray)
}

// TraySelections returns the selection numbers on a tray (tray n covers
// n*10+1 through n*10+10)
func TraySelections(tray int) []uint16 {
	out := make([]uint16, 0, SelectionsPerTray)
	start := tray*SelectionsPerTray + 1
	for i := 0; i < SelectionsPerTray; i++ {
		out = append(out, uint16(start+i))
	}
	return out
}

func appendU16(b []byte, v uint16) []byte { return binary.BigEndian.AppendUint16(b, v) }
func appendU32(b []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(b, v) }

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}
