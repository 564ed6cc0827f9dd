// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"fmt"
	"time"
)

// MenuSubtype selects the parameter carried by MENU_COMMAND and MENU_RESPONSE
type MenuSubtype uint8

// Menu sub-types
const (
	MenuCoinSystem           MenuSubtype = 0x01
	MenuSelectionMode        MenuSubtype = 0x02
	MenuMotorAD              MenuSubtype = 0x03
	MenuSelectionCoupling    MenuSubtype = 0x04
	MenuClearCoupling        MenuSubtype = 0x05
	MenuCouplingSyncTime     MenuSubtype = 0x06
	MenuMotorShort           MenuSubtype = 0x07
	MenuMachineID            MenuSubtype = 0x08
	MenuSystemTime           MenuSubtype = 0x09
	MenuDecimalPoint         MenuSubtype = 0x10
	MenuQuerySelectionConfig MenuSubtype = 0x42
)

type menuEntry struct {
	name string
	// params is the parameter length of a set. Zero means variable. A query
	// (no parameters) is always accepted.
	params int
}

var menuTable = map[MenuSubtype]menuEntry{
	MenuCoinSystem:           {name: "COIN_SYSTEM"},
	MenuSelectionMode:        {name: "SELECTION_MODE", params: 1},
	MenuMotorAD:              {name: "MOTOR_AD"},
	MenuSelectionCoupling:    {name: "SELECTION_COUPLING"},
	MenuClearCoupling:        {name: "CLEAR_COUPLING"},
	MenuCouplingSyncTime:     {name: "COUPLING_SYNC_TIME"},
	MenuMotorShort:           {name: "MOTOR_SHORT"},
	MenuMachineID:            {name: "MACHINE_ID"},
	MenuSystemTime:           {name: "SYSTEM_TIME", params: 7},
	MenuDecimalPoint:         {name: "DECIMAL_POINT", params: 1},
	MenuQuerySelectionConfig: {name: "QUERY_SELECTION_CONFIG", params: 2},
}

// Known reports whether the sub-type is documented
func (s MenuSubtype) Known() bool {
	_, ok := menuTable[s]
	return ok
}

func (s MenuSubtype) String() string {
	if entry, ok := menuTable[s]; ok {
		return entry.name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(s))
}

// ParseMenuSubtype maps a sub-type name to its code
func ParseMenuSubtype(name string) (MenuSubtype, bool) {
	for s, entry := range menuTable {
		if entry.name == name {
			return s, true
		}
	}
	return 0, false
}

// checkMenuParams rejects a set whose parameters do not match a fixed
// sub-type layout. Unknown sub-types pass through.
func checkMenuParams(cmd byte, s MenuSubtype, params []byte) error {
	entry, ok := menuTable[s]
	if !ok || entry.params == 0 || len(params) == 0 {
		return nil
	}
	if len(params) != entry.params {
		return malformed(cmd, s.String(), "expected %d parameter bytes, got %d", entry.params, len(params))
	}
	return nil
}

// NewSystemTimeMenu builds the SYSTEM_TIME set: yy mm dd hh mi ss weekday
func NewSystemTimeMenu(t time.Time) MenuCommand {
	return MenuCommand{
		Subtype: MenuSystemTime,
		Params: []byte{
			byte(t.Year() % 100),
			byte(t.Month()),
			byte(t.Day()),
			byte(t.Hour()),
			byte(t.Minute()),
			byte(t.Second()),
			byte(t.Weekday()),
		},
	}
}

// NewQuerySelectionConfigMenu asks the VMC to report a selection's configuration
func NewQuerySelectionConfigMenu(selection uint16) MenuCommand {
	return MenuCommand{Subtype: MenuQuerySelectionConfig, Params: appendU16(nil, selection)}
}
