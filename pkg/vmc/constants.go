// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vmc implements the wire format of the vending machine control board
// (VMC) serial protocol as seen from the upper computer.
//
// Every packet is framed as
//
//	STX(2)=0xFA,0xFB | Command(1) | Length(1) | [CommNo(1) + Text(Length-1)] | XOR(1)
//
// where XOR covers every byte from the first STX byte through the last text
// byte. This package provides frame decoding with resynchronization, frame
// encoding, and a data-described registry that maps command bytes to typed
// messages.
package vmc

// Protocol framing bytes
const (
	STX1 = 0xFA
	STX2 = 0xFB
)

// Frame size limits
const (
	HeaderSize   = 4 // STX(2) + Command + Length
	MinFrameSize = HeaderSize + 1
	MaxTextSize  = 254 // Length byte minus the communication number
)

// Serial line parameters mandated by the VMC
const (
	BaudRate = 57600
	DataBits = 8
)

// Selection number limits
const (
	SelectionAll      = 0    // Cancel (SELECT_CANCEL) or all selections (config sets)
	MaxSelection      = 1000 // Highest addressable selection
	TraySelectorMin   = 1000 // 1000+tray addresses a whole tray in config sets
	TraySelectorMax   = 1009
	SelectionsPerTray = 10
)

// Command bytes - Dispensing 0x01-0x06
const (
	CmdCheckSelection  = 0x01
	CmdSelectionStatus = 0x02
	CmdSelectToBuy     = 0x03
	CmdDispenseStatus  = 0x04
	CmdSelectCancel    = 0x05
	CmdDirectDrive     = 0x06
)

// Command bytes - Selection configuration 0x11-0x17
const (
	CmdSelectionInfo   = 0x11
	CmdSetPrice        = 0x12
	CmdSetInventory    = 0x13
	CmdSetCapacity     = 0x14
	CmdSetProductID    = 0x15
	CmdSetPollInterval = 0x16
	CmdFullyLoading    = 0x17
)

// Command bytes - Payment 0x21-0x28
const (
	CmdMoneyNotice    = 0x21
	CmdMoneyNoticeAck = 0x22
	CmdCurrentAmount  = 0x23
	CmdDisplayRequest = 0x24
	CmdChangeRequest  = 0x25
	CmdChangeResponse = 0x26
	CmdMoneyReceived  = 0x27
	CmdSetAcceptance  = 0x28
)

// Command bytes - Synchronization and control
const (
	CmdSyncInfo = 0x31
	CmdPoll     = 0x41
	CmdAck      = 0x42
	CmdNak      = 0x43
)

// Command bytes - Machine status 0x51-0x54
const (
	CmdMachineStatusReq       = 0x51
	CmdMachineStatus          = 0x52
	CmdMachineStatusDetailReq = 0x53
	CmdMachineStatusDetail    = 0x54
)

// Command bytes - Card and peripherals 0x61-0x66
const (
	CmdCheckICBalance      = 0x61
	CmdICBalance           = 0x62
	CmdCallMenu            = 0x63
	CmdCardDeduction       = 0x64
	CmdCardDeductionResult = 0x65
	CmdMicrowaveInfo       = 0x66
)

// Command bytes - Menu envelope
const (
	CmdMenuCommand  = 0x70
	CmdMenuResponse = 0x71
)

// Reserved literal packets
var (
	PollPacket = []byte{STX1, STX2, CmdPoll, 0x00, 0x40}
	AckPacket  = []byte{STX1, STX2, CmdAck, 0x00, 0x43}
)
