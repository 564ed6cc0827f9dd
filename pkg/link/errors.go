// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

var (
	// ErrCommunicationTimeout is wrapped by TimeoutError
	ErrCommunicationTimeout = errors.New("communication timeout")

	// ErrExchangeAbandoned is wrapped by AbandonedError
	ErrExchangeAbandoned = errors.New("exchange abandoned")

	// ErrEngineStopped is returned by operations on a stopped engine
	ErrEngineStopped = errors.New("engine stopped")
)

// TimeoutError reports an exchange whose retries ran out without a valid
// counter-frame
type TimeoutError struct {
	Command  byte
	Sequence uint8
	Attempts int
	// PendingID is the queue ID of the command, zero for engine-originated frames
	PendingID uint64
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (0x%02X) seq=%d: no ACK after %d attempts",
		vmc.CommandName(e.Command), e.Command, e.Sequence, e.Attempts)
}

// Unwrap returns ErrCommunicationTimeout
func (e *TimeoutError) Unwrap() error {
	return ErrCommunicationTimeout
}

// AbandonedError reports an ACK whose communication number did not match the
// outstanding exchange
type AbandonedError struct {
	Command   byte
	Expected  uint8
	Got       uint8
	PendingID uint64
}

// Error implements the error interface
func (e *AbandonedError) Error() string {
	return fmt.Sprintf("%s (0x%02X): ACK for seq=%d while awaiting seq=%d",
		vmc.CommandName(e.Command), e.Command, e.Got, e.Expected)
}

// Unwrap returns ErrExchangeAbandoned
func (e *AbandonedError) Unwrap() error {
	return ErrExchangeAbandoned
}
