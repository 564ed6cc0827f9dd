// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"bytes"
	"fmt"
)

var stx = []byte{STX1, STX2}

// FramingKind classifies a framing failure
type FramingKind int

const (
	FramingChecksum FramingKind = iota
)

// FramingError reports a candidate frame that failed validation. The decoder
// has already recovered by dropping the STX byte; the error exists so
// callers can count it.
type FramingError struct {
	Kind     FramingKind
	Command  byte
	Expected byte
	Got      byte
}

// Error implements the error interface
func (e *FramingError) Error() string {
	return fmt.Sprintf("checksum mismatch on command 0x%02X: expected 0x%02X, got 0x%02X", e.Command, e.Expected, e.Got)
}

// Decoder turns an append-only byte stream into frames.
//
// Bytes are appended with Write and frames are pulled with Next. A partial
// frame stays buffered until the rest arrives.
type Decoder struct {
	buf       []byte
	discarded uint64
	failures  uint64
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		buf: make([]byte, 0, 512),
	}
}

// Reset drops all buffered bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Write appends stream bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet consumed
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the number of bytes skipped while searching for STX,
// including STX bytes dropped after a checksum failure
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// ChecksumFailures returns the number of candidate frames rejected
func (d *Decoder) ChecksumFailures() uint64 {
	return d.failures
}

// Next returns the next complete frame.
// Returns (nil, nil) when more bytes are needed.
// Returns (nil, *FramingError) after rejecting a corrupt candidate; call Next
// again to continue scanning.
func (d *Decoder) Next() (*Frame, error) {
	idx := bytes.Index(d.buf, stx)
	if idx < 0 {
		// Keep a trailing first STX byte, its partner may be in flight
		keep := 0
		if n := len(d.buf); n > 0 && d.buf[n-1] == STX1 {
			keep = 1
		}
		d.consume(len(d.buf) - keep)
		return nil, nil
	}
	if idx > 0 {
		d.consume(idx)
	}

	if len(d.buf) < HeaderSize {
		return nil, nil
	}
	total := HeaderSize + int(d.buf[3]) + 1
	if len(d.buf) < total {
		return nil, nil
	}

	want := Checksum(d.buf[:total-1])
	got := d.buf[total-1]
	if want != got {
		cmd := d.buf[2]
		d.failures++
		// Resynchronize one byte past the rejected STX
		d.consume(1)
		return nil, &FramingError{Kind: FramingChecksum, Command: cmd, Expected: want, Got: got}
	}

	raw := make([]byte, total)
	copy(raw, d.buf[:total])
	d.buf = append(d.buf[:0], d.buf[total:]...)
	return newFrameFromRaw(raw), nil
}

// consume drops n bytes from the head of the buffer and counts them as discarded
func (d *Decoder) consume(n int) {
	if n <= 0 {
		return
	}
	d.discarded += uint64(n)
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

// Feed appends p and returns every frame that became complete.
// Framing errors are absorbed; use ChecksumFailures to observe them.
func (d *Decoder) Feed(p []byte) []*Frame {
	d.Write(p)
	var frames []*Frame
	for {
		f, err := d.Next()
		if err != nil {
			continue
		}
		if f == nil {
			return frames
		}
		frames = append(frames, f)
	}
}

// DecodeAll runs a fresh decoder over data and returns the complete frames
func DecodeAll(data []byte) []*Frame {
	return NewDecoder().Feed(data)
}
