// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"fmt"
	"strings"
)

// DispenseStatus is the status code carried by DISPENSING_STATUS.
type DispenseStatus uint8

// Dispense status values
const (
	DispenseSuccessLegacy   DispenseStatus = 0x00
	DispenseInProgress      DispenseStatus = 0x01
	DispenseSuccess         DispenseStatus = 0x02
	DispenseJammed          DispenseStatus = 0x03
	DispenseMotorNotStopped DispenseStatus = 0x04
	DispenseMotorMissing    DispenseStatus = 0x06
	DispenseElevatorError   DispenseStatus = 0x07
	DispenseTerminated      DispenseStatus = 0x1F
	DispenseTerminatedAlt   DispenseStatus = 0xFF
)

var dispenseStatusNames = map[DispenseStatus]string{
	DispenseSuccessLegacy:   "SUCCESS",
	DispenseInProgress:      "DISPENSING",
	DispenseSuccess:         "SUCCESS",
	DispenseJammed:          "JAMMED",
	DispenseMotorNotStopped: "MOTOR_NOT_STOPPED",
	DispenseMotorMissing:    "MOTOR_MISSING",
	DispenseElevatorError:   "ELEVATOR_ERROR",
	DispenseTerminated:      "TERMINATED",
	DispenseTerminatedAlt:   "TERMINATED",
}

// Known reports whether the code is a documented status.
func (s DispenseStatus) Known() bool {
	_, ok := dispenseStatusNames[s]
	return ok
}

// Succeeded reports whether the status ends a vend successfully.
func (s DispenseStatus) Succeeded() bool {
	return s == DispenseSuccess || s == DispenseSuccessLegacy
}

// InProgress reports whether the motor is still running.
func (s DispenseStatus) InProgress() bool {
	return s == DispenseInProgress
}

// Failed reports whether the status ends a vend with an error. Unknown codes
// are treated as failures so a selection never stays stuck in Dispensing.
func (s DispenseStatus) Failed() bool {
	return !s.Succeeded() && !s.InProgress()
}

func (s DispenseStatus) String() string {
	if name, ok := dispenseStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
}

// SelectionState is the status code carried by SELECTION_STATUS.
type SelectionState uint8

// Selection state values
const (
	SelectionNormal     SelectionState = 0x01
	SelectionOutOfStock SelectionState = 0x02
	SelectionNotExist   SelectionState = 0x03
	SelectionPaused     SelectionState = 0x04
)

var selectionStateNames = map[SelectionState]string{
	SelectionNormal:     "NORMAL",
	SelectionOutOfStock: "OUT_OF_STOCK",
	SelectionNotExist:   "NOT_EXIST",
	SelectionPaused:     "PAUSED",
}

// Known reports whether the code is a documented state.
func (s SelectionState) Known() bool {
	_, ok := selectionStateNames[s]
	return ok
}

// Available reports whether the selection can be vended.
func (s SelectionState) Available() bool {
	return s == SelectionNormal
}

func (s SelectionState) String() string {
	if name, ok := selectionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
}

// PaymentMode identifies how money was collected.
type PaymentMode uint8

// Payment mode values
const (
	PaymentBill     PaymentMode = 0x01
	PaymentCoin     PaymentMode = 0x02
	PaymentICCard   PaymentMode = 0x03
	PaymentBankCard PaymentMode = 0x04
	PaymentWalletA  PaymentMode = 0x05
	PaymentWalletB  PaymentMode = 0x06
	PaymentRemote   PaymentMode = 0x07
)

var paymentModeNames = map[PaymentMode]string{
	PaymentBill:     "BILL",
	PaymentCoin:     "COIN",
	PaymentICCard:   "IC_CARD",
	PaymentBankCard: "BANK_CARD",
	PaymentWalletA:  "WALLET_A",
	PaymentWalletB:  "WALLET_B",
	PaymentRemote:   "REMOTE",
}

// Known reports whether the code is a documented payment mode.
func (m PaymentMode) Known() bool {
	_, ok := paymentModeNames[m]
	return ok
}

// Cashless reports whether the mode is settled outside the VMC's cash
// devices.
func (m PaymentMode) Cashless() bool {
	return m != PaymentBill && m != PaymentCoin
}

func (m PaymentMode) String() string {
	if name, ok := paymentModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(m))
}

// ParsePaymentMode maps a mode name (case-insensitive) to its code.
func ParsePaymentMode(name string) (PaymentMode, bool) {
	for mode, n := range paymentModeNames {
		if strings.EqualFold(n, name) {
			return mode, true
		}
	}
	return 0, false
}

// Device identifies a cash device in SET_ACCEPTANCE.
type Device uint8

// Cash devices
const (
	DeviceBillAcceptor Device = 0x01
	DeviceCoinAcceptor Device = 0x02
	DeviceCardReader   Device = 0x03
)

func (d Device) String() string {
	switch d {
	case DeviceBillAcceptor:
		return "BILL_ACCEPTOR"
	case DeviceCoinAcceptor:
		return "COIN_ACCEPTOR"
	case DeviceCardReader:
		return "CARD_READER"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(d))
	}
}
