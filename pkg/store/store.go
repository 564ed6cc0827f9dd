// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store persists selection configuration, the sales log and the jam
// log. Values are CBOR encoded.
package store

import (
	"errors"
	"time"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// ErrNotFound is returned when a selection has no record
var ErrNotFound = errors.New("not found")

// Selection is the locally known configuration of one selection
type Selection struct {
	Number       uint16             `cbor:"1,keyasint"`
	Tray         int                `cbor:"2,keyasint"`
	Price        uint32             `cbor:"3,keyasint"`
	Inventory    uint8              `cbor:"4,keyasint"`
	Capacity     uint8              `cbor:"5,keyasint"`
	ProductID    uint16             `cbor:"6,keyasint,omitempty"`
	State        vmc.SelectionState `cbor:"7,keyasint,omitempty"`
	UpdatedAt    time.Time          `cbor:"8,keyasint"`
	ReportedByVM bool               `cbor:"9,keyasint,omitempty"`
}

// Outcome of a vend
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Sale is one completed vend attempt
type Sale struct {
	ID        string          `cbor:"1,keyasint"`
	Selection uint16          `cbor:"2,keyasint"`
	Price     uint32          `cbor:"3,keyasint"`
	Mode      vmc.PaymentMode `cbor:"4,keyasint,omitempty"`
	SessionID string          `cbor:"5,keyasint,omitempty"`
	Outcome   Outcome         `cbor:"6,keyasint"`
	At        time.Time       `cbor:"7,keyasint"`
}

// Jam is one failed dispense
type Jam struct {
	ID        string             `cbor:"1,keyasint"`
	Selection uint16             `cbor:"2,keyasint"`
	Status    vmc.DispenseStatus `cbor:"3,keyasint"`
	Reason    string             `cbor:"4,keyasint"`
	At        time.Time          `cbor:"5,keyasint"`
}

// Store is implemented by the bitcask and in-memory stores
type Store interface {
	Selection(n uint16) (Selection, error)
	PutSelection(s Selection) error
	Selections() ([]Selection, error)
	RecordSale(s Sale) error
	Sales() ([]Sale, error)
	RecordJam(j Jam) error
	Jams() ([]Jam, error)
	Close() error
}

// TrayOf returns the tray a selection sits on (tray n holds n*10+1..n*10+10)
func TrayOf(n uint16) int {
	if n == 0 {
		return 0
	}
	return int(n-1) / vmc.SelectionsPerTray
}

// ForTray filters selections to one tray
func ForTray(all []Selection, tray int) []Selection {
	var out []Selection
	for _, s := range all {
		if TrayOf(s.Number) == tray {
			out = append(out, s)
		}
	}
	return out
}
