// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	name := CommandName(f.command)

	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d len=%d\n", timestamp, name, f.command, f.sequence, f.Length())

	m, err := Decode(f)
	switch {
	case err != nil:
		result += fmt.Sprintf("  Malformed: %v\n", err)
	default:
		if line := FormatMessage(m); line != "" {
			result += "  " + line + "\n"
		}
	}

	return result
}

// CommandName returns the human-readable name for a command byte
func CommandName(cmd byte) string {
	if d, ok := registry[cmd]; ok {
		return d.Name
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", cmd)
}

// FormatMessage renders the fields of a decoded message on one line. Control
// messages render as an empty string.
func FormatMessage(m Message) string {
	switch v := m.(type) {
	case Poll, Ack, Nak, MachineStatusRequest, MachineStatusDetailRequest:
		return ""

	case CheckSelection:
		return fmt.Sprintf("Selection: %d", v.Selection)
	case SelectionStatus:
		return fmt.Sprintf("Selection: %d, State: %s", v.Selection, v.State)
	case SelectToBuy:
		return fmt.Sprintf("Selection: %d", v.Selection)
	case DispensingStatus:
		result := fmt.Sprintf("Status: %s (0x%02X)", v.Status, uint8(v.Status))
		if v.HasSelection {
			result += fmt.Sprintf(", Selection: %d", v.Selection)
		}
		if len(v.Extra) > 0 {
			result += ", Extra: " + FormatHex(v.Extra)
		}
		return result
	case SelectCancel:
		if v.IsCancel() {
			return "Cancel"
		}
		return fmt.Sprintf("Selection: %d", v.Selection)
	case DirectDrive:
		return fmt.Sprintf("Selection: %d, Drop sensor: %s, Elevator: %s",
			v.Selection, onOff(v.DropSensor), onOff(v.Elevator))

	case SelectionInfo:
		result := fmt.Sprintf("Selection: %d, Price: %d, Inventory: %d/%d",
			v.Selection, v.Price, v.Inventory, v.Capacity)
		if v.HasProductID {
			result += fmt.Sprintf(", Product: %d", v.ProductID)
		}
		if v.HasStatus {
			result += fmt.Sprintf(", State: %s", v.Status)
		}
		return result
	case SetPrice:
		return fmt.Sprintf("Selector: %s, Price: %d", FormatSelector(v.Selector), v.Price)
	case SetInventory:
		return fmt.Sprintf("Selector: %s, Inventory: %d", FormatSelector(v.Selector), v.Inventory)
	case SetCapacity:
		return fmt.Sprintf("Selector: %s, Capacity: %d", FormatSelector(v.Selector), v.Capacity)
	case SetProductID:
		return fmt.Sprintf("Selector: %s, Product: %d", FormatSelector(v.Selector), v.ProductID)
	case SetPollInterval:
		return fmt.Sprintf("Interval: %s", v.Interval)
	case FullyLoading:
		if v.HasSelector {
			return fmt.Sprintf("Selector: %s", FormatSelector(v.Selector))
		}
		return "Selector: ALL"

	case MoneyNotice:
		return fmt.Sprintf("Mode: %s, Amount: %d", v.Mode, v.Amount)
	case MoneyNoticeAck:
		return fmt.Sprintf("Mode: %s, Amount: %d", v.Mode, v.Amount)
	case CurrentAmount:
		return fmt.Sprintf("Amount: %d", v.Amount)
	case DisplayRequest:
		return fmt.Sprintf("Text: %q", v.Text)
	case ChangeRequest:
		return fmt.Sprintf("Amount: %d", v.Amount)
	case ChangeResponse:
		return fmt.Sprintf("Amount: %d", v.Amount)
	case MoneyReceived:
		return fmt.Sprintf("Mode: %s, Amount: %d", v.Mode, v.Amount)
	case SetAcceptance:
		return fmt.Sprintf("Device: %s, %s", v.Device, onOff(v.Enabled))

	case SyncInfo:
		return "Data: " + FormatHex(v.Data)
	case MachineStatus:
		if !v.Complete {
			return "Raw: " + FormatHex(v.Raw)
		}
		return fmt.Sprintf("Bill: %d, Coin: %d, Card: %d, Door: %d, Temperature: %d°C",
			v.BillAcceptor, v.CoinAcceptor, v.CardReader, v.Door, v.Temperature)
	case MachineStatusDetail:
		return "Raw: " + FormatHex(v.Raw)

	case CheckICBalance:
		return "Card: " + FormatHex(v.CardID)
	case ICBalance:
		return fmt.Sprintf("Balance: %d", v.Balance)
	case CallMenu:
		return "Data: " + FormatHex(v.Data)
	case CardDeduction:
		return fmt.Sprintf("Selection: %d, Amount: %d", v.Selection, v.Amount)
	case CardDeductionResult:
		if v.OK {
			return "Result: OK"
		}
		return "Result: REJECTED"
	case MicrowaveInfo:
		return "Data: " + FormatHex(v.Data)

	case MenuCommand:
		return fmt.Sprintf("Menu: %s, Params: %s", v.Subtype, FormatHex(v.Params))
	case MenuResponse:
		return fmt.Sprintf("Menu: %s, Params: %s", v.Subtype, FormatHex(v.Params))

	case Unrecognized:
		return "Payload: " + FormatHex(v.Payload)
	}
	return fmt.Sprintf("%+v", m)
}

// FormatSelector renders a config-set selector as ALL, TRAY n, or a number
func FormatSelector(sel uint16) string {
	switch {
	case sel == SelectionAll:
		return "ALL"
	case sel >= TraySelectorMin && sel <= TraySelectorMax:
		return fmt.Sprintf("TRAY %d", sel-TraySelectorMin)
	default:
		return fmt.Sprintf("%d", sel)
	}
}

// FormatHex renders bytes as space-separated hex, or "-" when empty
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "-"
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// FormatDuration renders a duration in the compact form used by the monitor
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
