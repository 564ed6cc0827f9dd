// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"fmt"
	"sort"
	"time"
)

// Direction tells which party originates a command
type Direction uint8

const (
	FromVMC Direction = 1 << iota
	ToVMC
	Bidirectional = FromVMC | ToVMC
)

// Class tells the exchange engine how a command is acknowledged
type Class uint8

const (
	ClassControl Class = iota // POLL, ACK, NAK
	ClassCommand              // Acknowledged command
	ClassData                 // Acknowledged data transfer (payment notices, answers)
)

// Descriptor describes one command byte. Fixed commands must carry exactly
// Length text bytes; variable commands at least Length.
type Descriptor struct {
	Command   byte
	Name      string
	Direction Direction
	Class     Class
	Fixed     bool
	Length    int
	Decode    func(text []byte) (Message, error)
	Encode    func(m Message) ([]byte, error)
}

// CheckLength validates a text length against the descriptor
func (d *Descriptor) CheckLength(n int) error {
	if d.Fixed && n != d.Length {
		return malformed(d.Command, "length", "expected %d text bytes, got %d", d.Length, n)
	}
	if !d.Fixed && n < d.Length {
		return malformed(d.Command, "length", "expected at least %d text bytes, got %d", d.Length, n)
	}
	return nil
}

var registry = map[byte]*Descriptor{}

// Register adds or replaces a descriptor
func Register(d Descriptor) {
	registry[d.Command] = &d
}

// Lookup returns the descriptor for a command byte
func Lookup(cmd byte) (*Descriptor, bool) {
	d, ok := registry[cmd]
	return d, ok
}

// Descriptors returns all registered descriptors ordered by command byte
func Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Decode maps a frame to its typed message. Unknown command bytes decode to
// Unrecognized without error.
func Decode(f *Frame) (Message, error) {
	return DecodeText(f.Command(), f.Payload())
}

// DecodeText maps a command byte and its text to a typed message
func DecodeText(cmd byte, text []byte) (Message, error) {
	d, ok := registry[cmd]
	if !ok {
		return Unrecognized{Cmd: cmd, Payload: append([]byte(nil), text...)}, nil
	}
	if err := d.CheckLength(len(text)); err != nil {
		return nil, err
	}
	return d.Decode(text)
}

// Encode maps a message to its command byte and text
func Encode(m Message) (byte, []byte, error) {
	if u, ok := m.(Unrecognized); ok {
		return u.Cmd, append([]byte(nil), u.Payload...), nil
	}
	d, ok := registry[m.Command()]
	if !ok {
		return 0, nil, fmt.Errorf("%w: command 0x%02X", ErrNoEncoder, m.Command())
	}
	text, err := d.Encode(m)
	if err != nil {
		return 0, nil, err
	}
	if err := d.CheckLength(len(text)); err != nil {
		return 0, nil, err
	}
	if len(text) > MaxTextSize {
		return 0, nil, malformed(d.Command, "length", "text of %d bytes exceeds %d", len(text), MaxTextSize)
	}
	return d.Command, text, nil
}

// EncodeFrame encodes a message and stamps it with a communication number
func EncodeFrame(m Message, sequence uint8) (*Frame, error) {
	cmd, text, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return NewFrame(cmd, sequence, text), nil
}

// ClassOf returns the exchange class of a command byte. Unregistered
// commands are treated as ClassCommand.
func ClassOf(cmd byte) Class {
	if d, ok := registry[cmd]; ok {
		return d.Class
	}
	return ClassCommand
}

// wrongType is returned by encoders handed the wrong message type
func wrongType(cmd byte, m Message) error {
	return fmt.Errorf("encoder for 0x%02X got %T", cmd, m)
}

func emptyText(Message) ([]byte, error) { return nil, nil }

func init() {
	for _, d := range builtinDescriptors() {
		Register(d)
	}
}

func builtinDescriptors() []Descriptor {
	return []Descriptor{
		// Control
		{Command: CmdPoll, Name: "POLL", Direction: FromVMC, Class: ClassControl, Fixed: true, Length: 0,
			Decode: func([]byte) (Message, error) { return Poll{}, nil },
			Encode: emptyText},
		{Command: CmdAck, Name: "ACK", Direction: Bidirectional, Class: ClassControl, Fixed: true, Length: 0,
			Decode: func([]byte) (Message, error) { return Ack{}, nil },
			Encode: emptyText},
		{Command: CmdNak, Name: "NAK", Direction: FromVMC, Class: ClassControl, Fixed: true, Length: 0,
			Decode: func([]byte) (Message, error) { return Nak{}, nil },
			Encode: emptyText},

		// Dispensing
		{Command: CmdCheckSelection, Name: "CHECK_SELECTION", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 2,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdCheckSelection, t)
				m := CheckSelection{Selection: r.selection("selection")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(CheckSelection)
				if !ok {
					return nil, wrongType(CmdCheckSelection, m)
				}
				return encodeSelection(CmdCheckSelection, v.Selection)
			}},
		{Command: CmdSelectionStatus, Name: "SELECTION_STATUS", Direction: FromVMC, Class: ClassCommand, Fixed: true, Length: 3,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSelectionStatus, t)
				m := SelectionStatus{State: SelectionState(r.u8("status")), Selection: r.selection("selection")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SelectionStatus)
				if !ok {
					return nil, wrongType(CmdSelectionStatus, m)
				}
				b, err := encodeSelection(CmdSelectionStatus, v.Selection)
				return append([]byte{byte(v.State)}, b...), err
			}},
		{Command: CmdSelectToBuy, Name: "SELECT_TO_BUY", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 2,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSelectToBuy, t)
				m := SelectToBuy{Selection: r.selection("selection")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SelectToBuy)
				if !ok {
					return nil, wrongType(CmdSelectToBuy, m)
				}
				return encodeSelection(CmdSelectToBuy, v.Selection)
			}},
		{Command: CmdDispenseStatus, Name: "DISPENSING_STATUS", Direction: FromVMC, Class: ClassCommand, Length: 1,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdDispenseStatus, t)
				m := DispensingStatus{Status: DispenseStatus(r.u8("status"))}
				if r.remaining() >= 2 {
					m.Selection = r.selection("selection")
					m.HasSelection = true
				}
				m.Extra = r.rest()
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(DispensingStatus)
				if !ok {
					return nil, wrongType(CmdDispenseStatus, m)
				}
				b := []byte{byte(v.Status)}
				if v.HasSelection {
					sel, err := encodeSelection(CmdDispenseStatus, v.Selection)
					if err != nil {
						return nil, err
					}
					b = append(b, sel...)
				}
				return append(b, v.Extra...), nil
			}},
		{Command: CmdSelectCancel, Name: "SELECT_CANCEL", Direction: Bidirectional, Class: ClassCommand, Fixed: true, Length: 2,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSelectCancel, t)
				m := SelectCancel{Selection: r.selection("selection")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SelectCancel)
				if !ok {
					return nil, wrongType(CmdSelectCancel, m)
				}
				return encodeSelection(CmdSelectCancel, v.Selection)
			}},
		{Command: CmdDirectDrive, Name: "DIRECT_DRIVE", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 4,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdDirectDrive, t)
				m := DirectDrive{DropSensor: r.bool("drop_sensor"), Elevator: r.bool("elevator"), Selection: r.selection("selection")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(DirectDrive)
				if !ok {
					return nil, wrongType(CmdDirectDrive, m)
				}
				b := appendBool(nil, v.DropSensor)
				b = appendBool(b, v.Elevator)
				sel, err := encodeSelection(CmdDirectDrive, v.Selection)
				return append(b, sel...), err
			}},

		// Selection configuration
		{Command: CmdSelectionInfo, Name: "SELECTION_INFO", Direction: FromVMC, Class: ClassCommand, Length: 8,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSelectionInfo, t)
				m := SelectionInfo{
					Selection: r.selection("selection"),
					Price:     r.u32("price"),
					Inventory: r.u8("inventory"),
					Capacity:  r.u8("capacity"),
				}
				if r.remaining() >= 2 {
					m.ProductID = r.u16("product_id")
					m.HasProductID = true
				}
				if r.remaining() >= 1 {
					m.Status = SelectionState(r.u8("status"))
					m.HasStatus = true
				}
				if r.err == nil && m.Inventory > m.Capacity && m.Capacity != 0 {
					r.err = malformed(CmdSelectionInfo, "inventory", "inventory %d exceeds capacity %d", m.Inventory, m.Capacity)
				}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SelectionInfo)
				if !ok {
					return nil, wrongType(CmdSelectionInfo, m)
				}
				b, err := encodeSelection(CmdSelectionInfo, v.Selection)
				if err != nil {
					return nil, err
				}
				b = appendU32(b, v.Price)
				b = append(b, v.Inventory, v.Capacity)
				if v.HasProductID || v.HasStatus {
					b = appendU16(b, v.ProductID)
				}
				if v.HasStatus {
					b = append(b, byte(v.Status))
				}
				return b, nil
			}},
		{Command: CmdSetPrice, Name: "SET_PRICE", Direction: Bidirectional, Class: ClassCommand, Fixed: true, Length: 6,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSetPrice, t)
				m := SetPrice{Selector: r.selector("selector"), Price: r.u32("price")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SetPrice)
				if !ok {
					return nil, wrongType(CmdSetPrice, m)
				}
				b, err := encodeSelector(CmdSetPrice, v.Selector)
				return appendU32(b, v.Price), err
			}},
		{Command: CmdSetInventory, Name: "SET_INVENTORY", Direction: Bidirectional, Class: ClassCommand, Fixed: true, Length: 3,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSetInventory, t)
				m := SetInventory{Selector: r.selector("selector"), Inventory: r.u8("inventory")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SetInventory)
				if !ok {
					return nil, wrongType(CmdSetInventory, m)
				}
				b, err := encodeSelector(CmdSetInventory, v.Selector)
				return append(b, v.Inventory), err
			}},
		{Command: CmdSetCapacity, Name: "SET_CAPACITY", Direction: Bidirectional, Class: ClassCommand, Fixed: true, Length: 3,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSetCapacity, t)
				m := SetCapacity{Selector: r.selector("selector"), Capacity: r.u8("capacity")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SetCapacity)
				if !ok {
					return nil, wrongType(CmdSetCapacity, m)
				}
				b, err := encodeSelector(CmdSetCapacity, v.Selector)
				return append(b, v.Capacity), err
			}},
		{Command: CmdSetProductID, Name: "SET_PRODUCT_ID", Direction: Bidirectional, Class: ClassCommand, Fixed: true, Length: 4,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSetProductID, t)
				m := SetProductID{Selector: r.selector("selector"), ProductID: r.u16("product_id")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SetProductID)
				if !ok {
					return nil, wrongType(CmdSetProductID, m)
				}
				b, err := encodeSelector(CmdSetProductID, v.Selector)
				return appendU16(b, v.ProductID), err
			}},
		{Command: CmdSetPollInterval, Name: "SET_POLL_INTERVAL", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 1,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSetPollInterval, t)
				m := SetPollInterval{Interval: time.Duration(r.u8("interval")) * 10 * time.Millisecond}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SetPollInterval)
				if !ok {
					return nil, wrongType(CmdSetPollInterval, m)
				}
				units := v.Interval / (10 * time.Millisecond)
				if units < 1 || units > 255 {
					return nil, malformed(CmdSetPollInterval, "interval", "%s outside 10ms-2.55s", v.Interval)
				}
				return []byte{byte(units)}, nil
			}},
		{Command: CmdFullyLoading, Name: "FULLY_LOADING", Direction: FromVMC, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdFullyLoading, t)
				var m FullyLoading
				if r.remaining() >= 2 {
					m.Selector = r.selector("selector")
					m.HasSelector = true
				}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(FullyLoading)
				if !ok {
					return nil, wrongType(CmdFullyLoading, m)
				}
				if !v.HasSelector {
					return nil, nil
				}
				return encodeSelector(CmdFullyLoading, v.Selector)
			}},

		// Payment
		{Command: CmdMoneyNotice, Name: "MONEY_NOTICE", Direction: FromVMC, Class: ClassData, Fixed: true, Length: 5,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdMoneyNotice, t)
				m := MoneyNotice{Mode: PaymentMode(r.u8("mode")), Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MoneyNotice)
				if !ok {
					return nil, wrongType(CmdMoneyNotice, m)
				}
				return appendU32([]byte{byte(v.Mode)}, v.Amount), nil
			}},
		{Command: CmdMoneyNoticeAck, Name: "MONEY_NOTICE_ACK", Direction: ToVMC, Class: ClassData, Fixed: true, Length: 5,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdMoneyNoticeAck, t)
				m := MoneyNoticeAck{Mode: PaymentMode(r.u8("mode")), Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MoneyNoticeAck)
				if !ok {
					return nil, wrongType(CmdMoneyNoticeAck, m)
				}
				return appendU32([]byte{byte(v.Mode)}, v.Amount), nil
			}},
		{Command: CmdCurrentAmount, Name: "CURRENT_AMOUNT", Direction: FromVMC, Class: ClassData, Fixed: true, Length: 4,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdCurrentAmount, t)
				m := CurrentAmount{Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(CurrentAmount)
				if !ok {
					return nil, wrongType(CmdCurrentAmount, m)
				}
				return appendU32(nil, v.Amount), nil
			}},
		{Command: CmdDisplayRequest, Name: "DISPLAY_REQUEST", Direction: FromVMC, Class: ClassData, Length: 0,
			Decode: func(t []byte) (Message, error) {
				return DisplayRequest{Text: append([]byte(nil), t...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(DisplayRequest)
				if !ok {
					return nil, wrongType(CmdDisplayRequest, m)
				}
				return v.Text, nil
			}},
		{Command: CmdChangeRequest, Name: "CHANGE_REQUEST", Direction: FromVMC, Class: ClassData, Fixed: true, Length: 4,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdChangeRequest, t)
				m := ChangeRequest{Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(ChangeRequest)
				if !ok {
					return nil, wrongType(CmdChangeRequest, m)
				}
				return appendU32(nil, v.Amount), nil
			}},
		{Command: CmdChangeResponse, Name: "CHANGE_RESPONSE", Direction: ToVMC, Class: ClassData, Fixed: true, Length: 4,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdChangeResponse, t)
				m := ChangeResponse{Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(ChangeResponse)
				if !ok {
					return nil, wrongType(CmdChangeResponse, m)
				}
				return appendU32(nil, v.Amount), nil
			}},
		{Command: CmdMoneyReceived, Name: "MONEY_RECEIVED", Direction: ToVMC, Class: ClassData, Fixed: true, Length: 5,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdMoneyReceived, t)
				m := MoneyReceived{Mode: PaymentMode(r.u8("mode")), Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MoneyReceived)
				if !ok {
					return nil, wrongType(CmdMoneyReceived, m)
				}
				return appendU32([]byte{byte(v.Mode)}, v.Amount), nil
			}},
		{Command: CmdSetAcceptance, Name: "SET_ACCEPTANCE", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 2,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdSetAcceptance, t)
				m := SetAcceptance{Device: Device(r.u8("device")), Enabled: r.bool("enabled")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SetAcceptance)
				if !ok {
					return nil, wrongType(CmdSetAcceptance, m)
				}
				return appendBool([]byte{byte(v.Device)}, v.Enabled), nil
			}},

		// Synchronization
		{Command: CmdSyncInfo, Name: "SYNC_INFO", Direction: Bidirectional, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				return SyncInfo{Data: append([]byte(nil), t...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(SyncInfo)
				if !ok {
					return nil, wrongType(CmdSyncInfo, m)
				}
				return v.Data, nil
			}},

		// Machine status
		{Command: CmdMachineStatusReq, Name: "MACHINE_STATUS_REQ", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 0,
			Decode: func([]byte) (Message, error) { return MachineStatusRequest{}, nil },
			Encode: emptyText},
		{Command: CmdMachineStatus, Name: "MACHINE_STATUS", Direction: FromVMC, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				m := MachineStatus{Raw: append([]byte(nil), t...)}
				if len(t) >= 5 {
					r := newFieldReader(CmdMachineStatus, t)
					m.BillAcceptor = r.u8("bill")
					m.CoinAcceptor = r.u8("coin")
					m.CardReader = r.u8("card")
					m.Door = r.u8("door")
					m.Temperature = r.i8("temperature")
					m.Complete = true
				}
				return m, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MachineStatus)
				if !ok {
					return nil, wrongType(CmdMachineStatus, m)
				}
				if !v.Complete {
					return v.Raw, nil
				}
				return []byte{v.BillAcceptor, v.CoinAcceptor, v.CardReader, v.Door, byte(v.Temperature)}, nil
			}},
		{Command: CmdMachineStatusDetailReq, Name: "MACHINE_STATUS_DETAIL_REQ", Direction: ToVMC, Class: ClassCommand, Fixed: true, Length: 0,
			Decode: func([]byte) (Message, error) { return MachineStatusDetailRequest{}, nil },
			Encode: emptyText},
		{Command: CmdMachineStatusDetail, Name: "MACHINE_STATUS_DETAIL", Direction: FromVMC, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				return MachineStatusDetail{Raw: append([]byte(nil), t...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MachineStatusDetail)
				if !ok {
					return nil, wrongType(CmdMachineStatusDetail, m)
				}
				return v.Raw, nil
			}},

		// Card and peripherals
		{Command: CmdCheckICBalance, Name: "CHECK_IC_BALANCE", Direction: FromVMC, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				return CheckICBalance{CardID: append([]byte(nil), t...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(CheckICBalance)
				if !ok {
					return nil, wrongType(CmdCheckICBalance, m)
				}
				return v.CardID, nil
			}},
		{Command: CmdICBalance, Name: "IC_BALANCE", Direction: ToVMC, Class: ClassData, Fixed: true, Length: 4,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdICBalance, t)
				m := ICBalance{Balance: r.u32("balance")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(ICBalance)
				if !ok {
					return nil, wrongType(CmdICBalance, m)
				}
				return appendU32(nil, v.Balance), nil
			}},
		{Command: CmdCallMenu, Name: "CALL_MENU", Direction: FromVMC, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				return CallMenu{Data: append([]byte(nil), t...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(CallMenu)
				if !ok {
					return nil, wrongType(CmdCallMenu, m)
				}
				return v.Data, nil
			}},
		{Command: CmdCardDeduction, Name: "CARD_DEDUCTION", Direction: FromVMC, Class: ClassCommand, Fixed: true, Length: 6,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdCardDeduction, t)
				m := CardDeduction{Selection: r.selection("selection"), Amount: r.u32("amount")}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(CardDeduction)
				if !ok {
					return nil, wrongType(CmdCardDeduction, m)
				}
				b, err := encodeSelection(CmdCardDeduction, v.Selection)
				return appendU32(b, v.Amount), err
			}},
		{Command: CmdCardDeductionResult, Name: "CARD_DEDUCTION_RESULT", Direction: ToVMC, Class: ClassData, Fixed: true, Length: 1,
			Decode: func(t []byte) (Message, error) {
				r := newFieldReader(CmdCardDeductionResult, t)
				m := CardDeductionResult{OK: r.u8("result") == 0}
				return m, r.err
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(CardDeductionResult)
				if !ok {
					return nil, wrongType(CmdCardDeductionResult, m)
				}
				if v.OK {
					return []byte{0}, nil
				}
				return []byte{1}, nil
			}},
		{Command: CmdMicrowaveInfo, Name: "MICROWAVE_INFO", Direction: FromVMC, Class: ClassCommand, Length: 0,
			Decode: func(t []byte) (Message, error) {
				return MicrowaveInfo{Data: append([]byte(nil), t...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MicrowaveInfo)
				if !ok {
					return nil, wrongType(CmdMicrowaveInfo, m)
				}
				return v.Data, nil
			}},

		// Menu envelope; sub-types are described in menu.go
		{Command: CmdMenuCommand, Name: "MENU_COMMAND", Direction: ToVMC, Class: ClassCommand, Length: 1,
			Decode: func(t []byte) (Message, error) {
				m := MenuCommand{Subtype: MenuSubtype(t[0]), Params: append([]byte(nil), t[1:]...)}
				return m, checkMenuParams(CmdMenuCommand, m.Subtype, m.Params)
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MenuCommand)
				if !ok {
					return nil, wrongType(CmdMenuCommand, m)
				}
				if err := checkMenuParams(CmdMenuCommand, v.Subtype, v.Params); err != nil {
					return nil, err
				}
				return append([]byte{byte(v.Subtype)}, v.Params...), nil
			}},
		{Command: CmdMenuResponse, Name: "MENU_RESPONSE", Direction: FromVMC, Class: ClassCommand, Length: 1,
			Decode: func(t []byte) (Message, error) {
				return MenuResponse{Subtype: MenuSubtype(t[0]), Params: append([]byte(nil), t[1:]...)}, nil
			},
			Encode: func(m Message) ([]byte, error) {
				v, ok := m.(MenuResponse)
				if !ok {
					return nil, wrongType(CmdMenuResponse, m)
				}
				return append([]byte{byte(v.Subtype)}, v.Params...), nil
			}},
	}
}

func encodeSelection(cmd byte, sel uint16) ([]byte, error) {
	if !ValidSelection(sel) {
		return nil, malformed(cmd, "selection", "selection %d outside 0-%d", sel, MaxSelection)
	}
	return appendU16(nil, sel), nil
}

func encodeSelector(cmd byte, sel uint16) ([]byte, error) {
	if !ValidSelector(sel) {
		return nil, malformed(cmd, "selector", "selector %d outside 0-%d", sel, TraySelectorMax)
	}
	return appendU16(nil, sel), nil
}
