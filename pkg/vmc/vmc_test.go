// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_LiteralPackets(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
	}{
		{name: "POLL", packet: PollPacket},
		{name: "ACK", packet: AckPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(tt.packet)
			got := Checksum(tt.packet[:n-1])
			if got != tt.packet[n-1] {
				t.Errorf("checksum mismatch: expected 0x%02X, got 0x%02X", tt.packet[n-1], got)
			}
		})
	}
}

func TestChecksum_Empty(t *testing.T) {
	if got := Checksum(nil); got != 0 {
		t.Errorf("checksum of empty data should be 0, got 0x%02X", got)
	}
}

// ============================================================
// Frame Tests
// ============================================================

func TestNewFrame_ControlWithoutSequence(t *testing.T) {
	f := NewFrame(CmdPoll, 0, nil)
	if !bytes.Equal(f.Raw(), PollPacket) {
		t.Errorf("POLL mismatch: got % X", f.Raw())
	}
	if f.HasSequence() {
		t.Error("POLL should not carry a communication number")
	}

	f = NewFrame(CmdAck, 0, nil)
	if !bytes.Equal(f.Raw(), AckPacket) {
		t.Errorf("ACK mismatch: got % X", f.Raw())
	}
}

func TestNewFrame_AckWithSequence(t *testing.T) {
	f := NewFrame(CmdAck, 7, nil)
	want := []byte{0xFA, 0xFB, 0x42, 0x01, 0x07}
	want = append(want, Checksum(want))
	if !bytes.Equal(f.Raw(), want) {
		t.Errorf("expected % X, got % X", want, f.Raw())
	}
	if f.Sequence() != 7 || !f.HasSequence() {
		t.Errorf("expected sequence 7, got %d", f.Sequence())
	}
}

func TestEncodeFrame_SelectToBuy(t *testing.T) {
	f, err := EncodeFrame(SelectToBuy{Selection: 12}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0xFA, 0xFB, 0x03, 0x03, 0x01, 0x00, 0x0C, 0x0C}
	if !bytes.Equal(f.Raw(), want) {
		t.Errorf("expected % X, got % X", want, f.Raw())
	}
}

func TestEncodeFrame_RejectsSelectionOutOfRange(t *testing.T) {
	_, err := EncodeFrame(SelectToBuy{Selection: 1001}, 1)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	var pe *PayloadError
	if !errors.As(err, &pe) || pe.Field != "selection" {
		t.Errorf("expected selection PayloadError, got %#v", err)
	}
}

func TestEncodeFrame_TraySelectorAllowedOnConfigSets(t *testing.T) {
	if _, err := EncodeFrame(SetPrice{Selector: TraySelector(3), Price: 150}, 1); err != nil {
		t.Errorf("tray selector should be accepted on SET_PRICE: %v", err)
	}
	if _, err := EncodeFrame(SetPrice{Selector: 1010, Price: 150}, 1); err == nil {
		t.Error("selector 1010 should be rejected")
	}
	if _, err := EncodeFrame(CheckSelection{Selection: TraySelector(3)}, 1); err == nil {
		t.Error("tray selector should be rejected where a single selection is required")
	}
}

func TestEncodeFrame_MaxTextSize(t *testing.T) {
	if _, err := EncodeFrame(DisplayRequest{Text: make([]byte, MaxTextSize)}, 1); err != nil {
		t.Errorf("text of %d bytes should encode: %v", MaxTextSize, err)
	}
	if _, err := EncodeFrame(DisplayRequest{Text: make([]byte, MaxTextSize+1)}, 1); err == nil {
		t.Error("oversized text should be rejected")
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_SingleFrame(t *testing.T) {
	frames := DecodeAll(PollPacket)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !frames[0].IsPoll() {
		t.Errorf("expected POLL, got 0x%02X", frames[0].Command())
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	f, _ := EncodeFrame(SelectionInfo{Selection: 5, Price: 250, Inventory: 3, Capacity: 8}, 9)
	d := NewDecoder()
	var got []*Frame
	for _, b := range f.Raw() {
		got = append(got, d.Feed([]byte{b})...)
	}
	if len(got) != 1 || !got[0].Equal(f) {
		t.Fatalf("expected the frame back, got %d frames", len(got))
	}
	if d.Buffered() != 0 {
		t.Errorf("expected empty buffer, %d bytes left", d.Buffered())
	}
}

func TestDecoder_LeadingGarbage(t *testing.T) {
	stream := append([]byte{0x00, 0x13, 0xFA, 0x77}, PollPacket...)
	d := NewDecoder()
	frames := d.Feed(stream)
	if len(frames) != 1 || !frames[0].IsPoll() {
		t.Fatalf("expected POLL after garbage, got %d frames", len(frames))
	}
	if d.Discarded() != 4 {
		t.Errorf("expected 4 discarded bytes, got %d", d.Discarded())
	}
}

func TestDecoder_KeepsTrailingSTX1(t *testing.T) {
	d := NewDecoder()
	if frames := d.Feed([]byte{0x55, STX1}); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if d.Buffered() != 1 {
		t.Fatalf("expected the STX1 byte kept, buffered=%d", d.Buffered())
	}
	frames := d.Feed(PollPacket[1:])
	if len(frames) != 1 || !frames[0].IsPoll() {
		t.Fatalf("expected POLL split across writes, got %d frames", len(frames))
	}
}

func TestDecoder_ChecksumFailureReported(t *testing.T) {
	bad := []byte{0xFA, 0xFB, 0x41, 0x00, 0x41}
	d := NewDecoder()
	d.Write(bad)
	f, err := d.Next()
	if f != nil {
		t.Fatal("expected no frame")
	}
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError, got %v", err)
	}
	if fe.Expected != 0x40 || fe.Got != 0x41 {
		t.Errorf("expected 0x40/0x41, got 0x%02X/0x%02X", fe.Expected, fe.Got)
	}
	if d.ChecksumFailures() != 1 {
		t.Errorf("expected 1 checksum failure, got %d", d.ChecksumFailures())
	}
}

// Any single-byte corruption of a frame yields no frame for it and the
// following frame still decodes.
func TestDecoder_ResyncAfterCorruption(t *testing.T) {
	a := []byte{0xFA, 0xFB, 0x03, 0x03, 0x01, 0x00, 0x0C, 0x0C}
	if Checksum(a[:len(a)-1]) != a[len(a)-1] {
		t.Fatal("fixture checksum is wrong")
	}

	for i := range a {
		corrupt := append([]byte(nil), a...)
		corrupt[i] ^= 0x01
		stream := append(corrupt, PollPacket...)

		frames := DecodeAll(stream)
		if len(frames) != 1 {
			t.Errorf("byte %d: expected 1 frame, got %d", i, len(frames))
			continue
		}
		if !frames[0].IsPoll() {
			t.Errorf("byte %d: expected POLL, got 0x%02X", i, frames[0].Command())
		}
	}
}

// A corrupted length byte that claims more bytes than follow holds every
// later frame until the claimed length has arrived. The checksum then fails
// and the scan restarts one byte in, recovering all of them.
func TestDecoder_ResyncAfterInflatedLength(t *testing.T) {
	corrupt := []byte{0xFA, 0xFB, 0x41, 0xFF, 0x40}
	d := NewDecoder()

	var stream []byte
	stream = append(stream, corrupt...)
	for i := 0; i < 10; i++ {
		stream = append(stream, PollPacket...)
	}
	if frames := d.Feed(stream); len(frames) != 0 {
		t.Fatalf("expected frames held behind the inflated length, got %d", len(frames))
	}
	if d.Buffered() != len(stream) {
		t.Errorf("expected %d bytes buffered, got %d", len(stream), d.Buffered())
	}

	var more []byte
	for i := 0; i < 50; i++ {
		more = append(more, PollPacket...)
	}
	frames := d.Feed(more)
	if len(frames) != 60 {
		t.Fatalf("expected 60 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if !f.IsPoll() {
			t.Errorf("frame %d: expected POLL, got 0x%02X", i, f.Command())
		}
	}
	if d.ChecksumFailures() != 1 {
		t.Errorf("expected 1 checksum failure, got %d", d.ChecksumFailures())
	}
}

func TestDecoder_BackToBackFrames(t *testing.T) {
	a, _ := EncodeFrame(DispensingStatus{Status: DispenseSuccess, Selection: 4, HasSelection: true}, 3)
	stream := append(append(append([]byte(nil), PollPacket...), a.Raw()...), AckPacket...)
	frames := DecodeAll(stream)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if !frames[1].Equal(a) {
		t.Errorf("middle frame mismatch: % X", frames[1].Raw())
	}
}

// ============================================================
// Registry Tests
// ============================================================

func TestRoundTrip(t *testing.T) {
	tests := []Message{
		CheckSelection{Selection: 1000},
		SelectionStatus{State: SelectionOutOfStock, Selection: 17},
		SelectToBuy{Selection: 12},
		DispensingStatus{Status: DispenseJammed, Selection: 8, HasSelection: true},
		SelectCancel{Selection: 0},
		DirectDrive{DropSensor: true, Selection: 21},
		SelectionInfo{Selection: 3, Price: 120, Inventory: 4, Capacity: 9, ProductID: 77, HasProductID: true, Status: SelectionNormal, HasStatus: true},
		SetPrice{Selector: TraySelector(9), Price: 1},
		SetInventory{Selector: 0, Inventory: 255},
		SetCapacity{Selector: 44, Capacity: 10},
		SetProductID{Selector: 44, ProductID: 0xBEEF},
		SetPollInterval{Interval: 200 * time.Millisecond},
		FullyLoading{Selector: 1002, HasSelector: true},
		MoneyNotice{Mode: PaymentCoin, Amount: 50},
		MoneyReceived{Mode: PaymentRemote, Amount: 300},
		SetAcceptance{Device: DeviceCoinAcceptor, Enabled: true},
		MachineStatus{BillAcceptor: 1, CoinAcceptor: 2, CardReader: 0, Door: 1, Temperature: -5, Complete: true, Raw: []byte{1, 2, 0, 1, 0xFB}},
		ICBalance{Balance: 9999},
		CardDeduction{Selection: 2, Amount: 150},
		CardDeductionResult{OK: true},
		MenuCommand{Subtype: MenuDecimalPoint, Params: []byte{2}},
	}

	for _, m := range tests {
		t.Run(CommandName(m.Command()), func(t *testing.T) {
			f, err := EncodeFrame(m, 42)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			frames := DecodeAll(f.Raw())
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			got, err := Decode(frames[0])
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			re, err := EncodeFrame(got, 42)
			if err != nil {
				t.Fatalf("re-encode failed: %v", err)
			}
			if !re.Equal(f) {
				t.Errorf("round trip changed the wire bytes: % X -> % X", f.Raw(), re.Raw())
			}
		})
	}
}

func TestDecode_UnknownCommand(t *testing.T) {
	f := NewFrame(0x99, 5, []byte{1, 2, 3})
	m, err := Decode(f)
	if err != nil {
		t.Fatalf("unknown commands must not error: %v", err)
	}
	u, ok := m.(Unrecognized)
	if !ok {
		t.Fatalf("expected Unrecognized, got %T", m)
	}
	if u.Cmd != 0x99 || !bytes.Equal(u.Payload, []byte{1, 2, 3}) {
		t.Errorf("unexpected Unrecognized: %+v", u)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		cmd   byte
		text  []byte
		field string
	}{
		{name: "short selection", cmd: CmdSelectToBuy, text: []byte{0x00}, field: "length"},
		{name: "long fixed", cmd: CmdSetPrice, text: make([]byte, 7), field: "length"},
		{name: "selection over 1000", cmd: CmdCheckSelection, text: []byte{0x03, 0xE9}, field: "selection"},
		{name: "selector over tray range", cmd: CmdSetInventory, text: []byte{0x03, 0xF2, 0x01}, field: "selector"},
		{name: "empty dispensing status", cmd: CmdDispenseStatus, text: nil, field: "length"},
		{name: "system time wrong length", cmd: CmdMenuCommand, text: []byte{0x09, 1, 2, 3}, field: "SYSTEM_TIME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeText(tt.cmd, tt.text)
			var pe *PayloadError
			if !errors.As(err, &pe) {
				t.Fatalf("expected PayloadError, got %v", err)
			}
			if pe.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, pe.Field)
			}
			if !errors.Is(err, ErrMalformedPayload) {
				t.Error("PayloadError should wrap ErrMalformedPayload")
			}
		})
	}
}

func TestDecode_DispensingStatusVariants(t *testing.T) {
	m, err := DecodeText(CmdDispenseStatus, []byte{0x02})
	if err != nil {
		t.Fatalf("status-only text should decode: %v", err)
	}
	ds := m.(DispensingStatus)
	if ds.HasSelection || !ds.Status.Succeeded() {
		t.Errorf("unexpected %+v", ds)
	}

	m, err = DecodeText(CmdDispenseStatus, []byte{0x05, 0x00, 0x0C, 0xAA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ds = m.(DispensingStatus)
	if ds.Selection != 12 || !bytes.Equal(ds.Extra, []byte{0xAA}) {
		t.Errorf("unexpected %+v", ds)
	}
	if !ds.Status.Failed() || ds.Status.String() != "UNKNOWN(0x05)" {
		t.Errorf("unknown status should fail and print UNKNOWN(0x05), got %s", ds.Status)
	}
}

func TestDecode_PartialMachineStatus(t *testing.T) {
	m, err := DecodeText(CmdMachineStatus, []byte{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ms := m.(MachineStatus)
	if ms.Complete || !bytes.Equal(ms.Raw, []byte{1, 2}) {
		t.Errorf("unexpected %+v", ms)
	}
}

func TestDescriptors_Ordered(t *testing.T) {
	ds := Descriptors()
	for i := 1; i < len(ds); i++ {
		if ds[i-1].Command >= ds[i].Command {
			t.Fatalf("descriptors out of order at %d: 0x%02X >= 0x%02X", i, ds[i-1].Command, ds[i].Command)
		}
	}
	if ClassOf(CmdMoneyReceived) != ClassData || ClassOf(CmdPoll) != ClassControl || ClassOf(CmdSelectToBuy) != ClassCommand {
		t.Error("unexpected command classes")
	}
}

// ============================================================
// Helper Tests
// ============================================================

func TestTraySelections(t *testing.T) {
	got := TraySelections(2)
	if len(got) != SelectionsPerTray || got[0] != 21 || got[9] != 30 {
		t.Errorf("unexpected tray 2 selections: %v", got)
	}
	if TraySelector(0) != 1000 || TraySelector(9) != 1009 {
		t.Error("unexpected tray selectors")
	}
}

func TestFormatSelector(t *testing.T) {
	tests := map[uint16]string{0: "ALL", 1004: "TRAY 4", 37: "37"}
	for sel, want := range tests {
		if got := FormatSelector(sel); got != want {
			t.Errorf("FormatSelector(%d) = %q, want %q", sel, got, want)
		}
	}
}

func TestNewSystemTimeMenu(t *testing.T) {
	ts := time.Date(2026, time.March, 4, 13, 5, 9, 0, time.UTC)
	m := NewSystemTimeMenu(ts)
	want := []byte{26, 3, 4, 13, 5, 9, byte(time.Wednesday)}
	if !bytes.Equal(m.Params, want) {
		t.Errorf("expected % X, got % X", want, m.Params)
	}
	if _, err := EncodeFrame(m, 1); err != nil {
		t.Errorf("system time menu should encode: %v", err)
	}
}

func TestParsePaymentMode(t *testing.T) {
	mode, ok := ParsePaymentMode("ic_card")
	if !ok || mode != PaymentICCard {
		t.Errorf("expected IC_CARD, got %v %v", mode, ok)
	}
	if _, ok := ParsePaymentMode("barter"); ok {
		t.Error("unknown mode should not parse")
	}
}
