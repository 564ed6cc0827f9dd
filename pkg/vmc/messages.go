// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import "time"

// Message is a decoded protocol message. Each concrete type corresponds to
// one registry entry.
type Message interface {
	Command() byte
}

// Control messages

type Poll struct{}
type Ack struct{}
type Nak struct{}

func (Poll) Command() byte { return CmdPoll }
func (Ack) Command() byte  { return CmdAck }
func (Nak) Command() byte  { return CmdNak }

// Dispensing

// CheckSelection asks the VMC for the state of a selection (answered with SelectionStatus)
type CheckSelection struct {
	Selection uint16
}

// SelectionStatus reports whether a selection can be vended
type SelectionStatus struct {
	State     SelectionState
	Selection uint16
}

// SelectToBuy asks the VMC to vend a selection through its own payment flow
type SelectToBuy struct {
	Selection uint16
}

// DispensingStatus reports motor progress for a vend
type DispensingStatus struct {
	Status       DispenseStatus
	Selection    uint16
	HasSelection bool
	Extra        []byte
}

// SelectCancel selects a product, or cancels the current selection when
// Selection is zero. Either party may send it.
type SelectCancel struct {
	Selection uint16
}

// DirectDrive runs a selection motor without a VMC-side payment
type DirectDrive struct {
	DropSensor bool
	Elevator   bool
	Selection  uint16
}

func (CheckSelection) Command() byte   { return CmdCheckSelection }
func (SelectionStatus) Command() byte  { return CmdSelectionStatus }
func (SelectToBuy) Command() byte      { return CmdSelectToBuy }
func (DispensingStatus) Command() byte { return CmdDispenseStatus }
func (SelectCancel) Command() byte     { return CmdSelectCancel }
func (DirectDrive) Command() byte      { return CmdDirectDrive }

// IsCancel reports whether the message cancels rather than selects
func (m SelectCancel) IsCancel() bool { return m.Selection == SelectionAll }

// Selection configuration

// SelectionInfo is the VMC's report of one selection's configuration
type SelectionInfo struct {
	Selection    uint16
	Price        uint32
	Inventory    uint8
	Capacity     uint8
	ProductID    uint16
	HasProductID bool
	Status       SelectionState
	HasStatus    bool
}

// SetPrice sets the price of a selector (selection, tray selector, or 0 for all)
type SetPrice struct {
	Selector uint16
	Price    uint32
}

// SetInventory sets the inventory count of a selector
type SetInventory struct {
	Selector  uint16
	Inventory uint8
}

// SetCapacity sets the capacity of a selector
type SetCapacity struct {
	Selector uint16
	Capacity uint8
}

// SetProductID assigns a product ID to a selector
type SetProductID struct {
	Selector  uint16
	ProductID uint16
}

// SetPollInterval changes the VMC poll cadence (10ms resolution)
type SetPollInterval struct {
	Interval time.Duration
}

// FullyLoading reports that the fully-loading button was pressed
type FullyLoading struct {
	Selector    uint16
	HasSelector bool
}

func (SelectionInfo) Command() byte   { return CmdSelectionInfo }
func (SetPrice) Command() byte        { return CmdSetPrice }
func (SetInventory) Command() byte    { return CmdSetInventory }
func (SetCapacity) Command() byte     { return CmdSetCapacity }
func (SetProductID) Command() byte    { return CmdSetProductID }
func (SetPollInterval) Command() byte { return CmdSetPollInterval }
func (FullyLoading) Command() byte    { return CmdFullyLoading }

// Payment

// MoneyNotice reports money collected by the VMC's cash devices
type MoneyNotice struct {
	Mode   PaymentMode
	Amount uint32
}

// MoneyNoticeAck confirms a MoneyNotice at the application level
type MoneyNoticeAck struct {
	Mode   PaymentMode
	Amount uint32
}

// CurrentAmount reports the credit currently held by the VMC
type CurrentAmount struct {
	Amount uint32
}

// DisplayRequest carries text the VMC wants shown on the POS display
type DisplayRequest struct {
	Text []byte
}

// ChangeRequest asks the upper computer to give change
type ChangeRequest struct {
	Amount uint32
}

// ChangeResponse reports the change actually dispensed
type ChangeResponse struct {
	Amount uint32
}

// MoneyReceived tells the VMC the upper computer captured a payment
type MoneyReceived struct {
	Mode   PaymentMode
	Amount uint32
}

// SetAcceptance enables or disables a cash device
type SetAcceptance struct {
	Device  Device
	Enabled bool
}

func (MoneyNotice) Command() byte    { return CmdMoneyNotice }
func (MoneyNoticeAck) Command() byte { return CmdMoneyNoticeAck }
func (CurrentAmount) Command() byte  { return CmdCurrentAmount }
func (DisplayRequest) Command() byte { return CmdDisplayRequest }
func (ChangeRequest) Command() byte  { return CmdChangeRequest }
func (ChangeResponse) Command() byte { return CmdChangeResponse }
func (MoneyReceived) Command() byte  { return CmdMoneyReceived }
func (SetAcceptance) Command() byte  { return CmdSetAcceptance }

// Synchronization and machine status

// SyncInfo is the information synchronization packet
type SyncInfo struct {
	Data []byte
}

type MachineStatusRequest struct{}

// MachineStatus is the VMC's peripheral summary. Fields beyond the received
// text are left zero and Complete is false.
type MachineStatus struct {
	BillAcceptor uint8
	CoinAcceptor uint8
	CardReader   uint8
	Door         uint8
	Temperature  int8
	Complete     bool
	Raw          []byte
}

type MachineStatusDetailRequest struct{}

// MachineStatusDetail carries the vendor-specific detailed status
type MachineStatusDetail struct {
	Raw []byte
}

func (SyncInfo) Command() byte                   { return CmdSyncInfo }
func (MachineStatusRequest) Command() byte       { return CmdMachineStatusReq }
func (MachineStatus) Command() byte              { return CmdMachineStatus }
func (MachineStatusDetailRequest) Command() byte { return CmdMachineStatusDetailReq }
func (MachineStatusDetail) Command() byte        { return CmdMachineStatusDetail }

// Card and peripherals

// CheckICBalance asks the upper computer for an IC card balance
type CheckICBalance struct {
	CardID []byte
}

// ICBalance answers CheckICBalance
type ICBalance struct {
	Balance uint32
}

// CallMenu asks the upper computer to open its service menu
type CallMenu struct {
	Data []byte
}

// CardDeduction asks the upper computer to charge a card for a selection
type CardDeduction struct {
	Selection uint16
	Amount    uint32
}

// CardDeductionResult answers CardDeduction
type CardDeductionResult struct {
	OK bool
}

// MicrowaveInfo carries heating-unit information
type MicrowaveInfo struct {
	Data []byte
}

func (CheckICBalance) Command() byte      { return CmdCheckICBalance }
func (ICBalance) Command() byte           { return CmdICBalance }
func (CallMenu) Command() byte            { return CmdCallMenu }
func (CardDeduction) Command() byte       { return CmdCardDeduction }
func (CardDeductionResult) Command() byte { return CmdCardDeductionResult }
func (MicrowaveInfo) Command() byte       { return CmdMicrowaveInfo }

// Menu envelope

// MenuCommand sets or queries a VMC menu parameter
type MenuCommand struct {
	Subtype MenuSubtype
	Params  []byte
}

// MenuResponse answers a MenuCommand
type MenuResponse struct {
	Subtype MenuSubtype
	Params  []byte
}

func (MenuCommand) Command() byte  { return CmdMenuCommand }
func (MenuResponse) Command() byte { return CmdMenuResponse }

// Unrecognized carries a command byte with no registry entry. Its payload is
// passed through untouched so undocumented commands still flow.
type Unrecognized struct {
	Cmd     byte
	Payload []byte
}

func (m Unrecognized) Command() byte { return m.Cmd }
