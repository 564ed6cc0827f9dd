// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"time"

	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Event is a domain event published on the Bus
type Event interface {
	EventName() string
}

// Envelope wraps an event with its publication order and time
type Envelope struct {
	Seq   uint64
	At    time.Time
	Event Event
}

// Origin tells who changed a configuration value
type Origin string

const (
	OriginVMC Origin = "vmc"
	OriginApp Origin = "app"
)

// Dispensing

type SelectionRequested struct {
	Selection uint16 `json:"selection"`
}

type SelectionChecked struct {
	Selection uint16             `json:"selection"`
	State     vmc.SelectionState `json:"state"`
}

type SelectionCancelled struct {
	Selection uint16 `json:"selection"`
}

type DispenseStarted struct {
	Selection uint16 `json:"selection"`
}

type DispenseSucceeded struct {
	Selection uint16 `json:"selection"`
	SaleID    string `json:"sale_id"`
	Price     uint32 `json:"price"`
}

type DispenseFailed struct {
	Selection uint16             `json:"selection"`
	Status    vmc.DispenseStatus `json:"status"`
	Reason    string             `json:"reason"`
}

func (SelectionRequested) EventName() string { return "selection_requested" }
func (SelectionChecked) EventName() string   { return "selection_checked" }
func (SelectionCancelled) EventName() string { return "selection_cancelled" }
func (DispenseStarted) EventName() string    { return "dispense_started" }
func (DispenseSucceeded) EventName() string  { return "dispense_succeeded" }
func (DispenseFailed) EventName() string     { return "dispense_failed" }

// Payment

type MoneyCollected struct {
	SessionID string          `json:"session_id"`
	Mode      vmc.PaymentMode `json:"mode"`
	Amount    uint32          `json:"amount"`
	Total     uint32          `json:"total"`
}

type CreditUpdated struct {
	SessionID string `json:"session_id"`
	Amount    uint32 `json:"amount"`
}

type ChangeRequested struct {
	SessionID string `json:"session_id"`
	Amount    uint32 `json:"amount"`
}

type DisplayText struct {
	Text string `json:"text"`
}

type BalanceRequested struct {
	CardID []byte `json:"card_id"`
}

type DeductionRequested struct {
	Selection uint16 `json:"selection"`
	Amount    uint32 `json:"amount"`
}

type SessionClosed struct {
	Session Session `json:"session"`
}

func (MoneyCollected) EventName() string     { return "money_collected" }
func (CreditUpdated) EventName() string      { return "credit_updated" }
func (ChangeRequested) EventName() string    { return "change_requested" }
func (DisplayText) EventName() string        { return "display_text" }
func (BalanceRequested) EventName() string   { return "balance_requested" }
func (DeductionRequested) EventName() string { return "deduction_requested" }
func (SessionClosed) EventName() string      { return "session_closed" }

// Configuration and status

type ConfigChanged struct {
	Selector uint16 `json:"selector"`
	Field    string `json:"field"`
	Value    uint32 `json:"value"`
	Origin   Origin `json:"origin"`
}

type SelectionReported struct {
	Info vmc.SelectionInfo `json:"info"`
}

type FullyLoaded struct {
	Selector    uint16 `json:"selector"`
	HasSelector bool   `json:"has_selector"`
}

type MachineStatusReported struct {
	Status vmc.MachineStatus `json:"status"`
}

type MenuAnswered struct {
	Subtype vmc.MenuSubtype `json:"subtype"`
	Params  []byte          `json:"params"`
}

type Synchronized struct{}

type PeripheralData struct {
	Command byte   `json:"command"`
	Data    []byte `json:"data"`
}

func (ConfigChanged) EventName() string         { return "config_changed" }
func (SelectionReported) EventName() string     { return "selection_reported" }
func (FullyLoaded) EventName() string           { return "fully_loaded" }
func (MachineStatusReported) EventName() string { return "machine_status" }
func (MenuAnswered) EventName() string          { return "menu_answered" }
func (Synchronized) EventName() string          { return "synchronized" }
func (PeripheralData) EventName() string        { return "peripheral_data" }

// Link and errors

type LinkStatusChanged struct {
	Status link.Status `json:"status"`
}

type CommandCompleted struct {
	PendingID uint64 `json:"pending_id"`
	Command   byte   `json:"command"`
}

type CommandFailed struct {
	PendingID uint64 `json:"pending_id"`
	Command   byte   `json:"command"`
	Err       string `json:"error"`
}

type ProtocolError struct {
	Err string `json:"error"`
}

type UnrecognizedCommand struct {
	Command byte   `json:"command"`
	Payload []byte `json:"payload"`
}

func (LinkStatusChanged) EventName() string   { return "link_status" }
func (CommandCompleted) EventName() string    { return "command_completed" }
func (CommandFailed) EventName() string       { return "command_failed" }
func (ProtocolError) EventName() string       { return "protocol_error" }
func (UnrecognizedCommand) EventName() string { return "unrecognized_command" }
