// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is the sentinel wrapped by every PayloadError
var ErrMalformedPayload = errors.New("malformed payload")

// ErrNoEncoder is returned when a message type has no registry entry
var ErrNoEncoder = errors.New("no encoder registered")

// PayloadError reports text that decodes but violates the command's layout
type PayloadError struct {
	Command byte
	Field   string
	Reason  string
}

// Error implements the error interface
func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s (0x%02X): %s: %s", CommandName(e.Command), e.Command, e.Field, e.Reason)
}

// Unwrap returns ErrMalformedPayload
func (e *PayloadError) Unwrap() error {
	return ErrMalformedPayload
}

func malformed(cmd byte, field, format string, args ...interface{}) *PayloadError {
	return &PayloadError{Command: cmd, Field: field, Reason: fmt.Sprintf(format, args...)}
}
