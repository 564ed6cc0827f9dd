// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"bytes"
	"time"
)

// Frame represents one checksum-valid VMC protocol packet.
// Frames are immutable once built.
type Frame struct {
	command   byte
	sequence  uint8
	text      []byte
	raw       []byte
	timestamp time.Time
}

// NewFrame builds a frame for transmission. A zero sequence produces a
// frame without a communication number (Length 0), which is only legal for
// text-less control frames such as POLL and ACK.
func NewFrame(command byte, sequence uint8, text []byte) *Frame {
	raw := make([]byte, 0, MinFrameSize+1+len(text))
	raw = append(raw, STX1, STX2, command)
	if sequence == 0 && len(text) == 0 {
		raw = append(raw, 0)
	} else {
		raw = append(raw, uint8(1+len(text)), sequence)
		raw = append(raw, text...)
	}
	raw = append(raw, Checksum(raw))

	return &Frame{
		command:   command,
		sequence:  sequence,
		text:      append([]byte(nil), text...),
		raw:       raw,
		timestamp: time.Now(),
	}
}

// newFrameFromRaw wraps a validated byte run. raw must be a private copy.
func newFrameFromRaw(raw []byte) *Frame {
	f := &Frame{
		command:   raw[2],
		raw:       raw,
		timestamp: time.Now(),
	}
	if raw[3] > 0 {
		f.sequence = raw[4]
		f.text = raw[5 : len(raw)-1]
	}
	return f
}

// Command returns the command byte
func (f *Frame) Command() byte {
	return f.command
}

// Sequence returns the communication number, or 0 if the frame has none
func (f *Frame) Sequence() uint8 {
	return f.sequence
}

// HasSequence reports whether the frame carries a communication number
func (f *Frame) HasSequence() bool {
	return f.raw[3] > 0
}

// Length returns the declared length byte (CommNo + text)
func (f *Frame) Length() uint8 {
	return f.raw[3]
}

// Payload returns the text bytes following the communication number
func (f *Frame) Payload() []byte {
	return f.text
}

// Raw returns the complete wire bytes including STX and checksum
func (f *Frame) Raw() []byte {
	return f.raw
}

// Checksum returns the trailing XOR byte
func (f *Frame) Checksum() byte {
	return f.raw[len(f.raw)-1]
}

// Timestamp returns when the frame was decoded or built
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Stamped returns a copy of f carrying timestamp t
func (f *Frame) Stamped(t time.Time) *Frame {
	c := *f
	c.timestamp = t
	return &c
}

// IsPoll reports whether the frame is a POLL
func (f *Frame) IsPoll() bool {
	return f.command == CmdPoll
}

// IsAck reports whether the frame is an ACK, with or without a communication number
func (f *Frame) IsAck() bool {
	return f.command == CmdAck
}

// Equal reports whether two frames carry identical wire bytes
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return bytes.Equal(f.raw, other.raw)
}
