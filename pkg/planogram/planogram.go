// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package planogram loads the desired machine layout from a TOML file and
// reconciles it against the configuration store by queueing set commands.
//
// A planogram lists trays and selections:
//
//	[[tray]]
//	tray = 1
//	price = 150
//	capacity = 8
//
//	[[selection]]
//	number = 12
//	price = 175
//	product_id = 4012
//
// Selection entries override the tray they belong to.
package planogram

import (
	"fmt"
	"os"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Values holds the optional settings of an entry
type Values struct {
	Price     *uint32 `toml:"price"`
	Inventory *uint8  `toml:"inventory"`
	Capacity  *uint8  `toml:"capacity"`
	ProductID *uint16 `toml:"product_id"`
}

type TrayEntry struct {
	Tray int `toml:"tray"`
	Values
}

type SelectionEntry struct {
	Number uint16 `toml:"number"`
	Values
}

type Planogram struct {
	Trays      []TrayEntry      `toml:"tray"`
	Selections []SelectionEntry `toml:"selection"`
}

// Load reads and validates a planogram file
func Load(path string) (*Planogram, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates planogram TOML
func Parse(b []byte) (*Planogram, error) {
	var p Planogram
	if err := toml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse planogram: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Planogram) Validate() error {
	trays := make(map[int]bool)
	for _, t := range p.Trays {
		if t.Tray < 0 || t.Tray > vmc.TraySelectorMax-vmc.TraySelectorMin {
			return fmt.Errorf("tray %d outside 0-9", t.Tray)
		}
		if trays[t.Tray] {
			return fmt.Errorf("tray %d listed twice", t.Tray)
		}
		trays[t.Tray] = true
	}
	sels := make(map[uint16]bool)
	for _, s := range p.Selections {
		if s.Number == 0 || !vmc.ValidSelection(s.Number) {
			return fmt.Errorf("selection %d outside 1-%d", s.Number, vmc.MaxSelection)
		}
		if sels[s.Number] {
			return fmt.Errorf("selection %d listed twice", s.Number)
		}
		sels[s.Number] = true
	}
	return nil
}

// Resolve flattens trays and selections into per-selection values
func (p *Planogram) Resolve() map[uint16]Values {
	out := make(map[uint16]Values)
	for _, t := range p.Trays {
		for _, sel := range vmc.TraySelections(t.Tray) {
			out[sel] = t.Values
		}
	}
	for _, s := range p.Selections {
		out[s.Number] = merge(out[s.Number], s.Values)
	}
	return out
}

func merge(base, over Values) Values {
	if over.Price != nil {
		base.Price = over.Price
	}
	if over.Inventory != nil {
		base.Inventory = over.Inventory
	}
	if over.Capacity != nil {
		base.Capacity = over.Capacity
	}
	if over.ProductID != nil {
		base.ProductID = over.ProductID
	}
	return base
}

// Field names a configurable selection value
type Field string

const (
	FieldPrice     Field = "price"
	FieldInventory Field = "inventory"
	FieldCapacity  Field = "capacity"
	FieldProductID Field = "product_id"
)

var fieldOrder = []Field{FieldCapacity, FieldInventory, FieldPrice, FieldProductID}

// Change is one set command needed to reach the planogram
type Change struct {
	Selector uint16
	Field    Field
	Value    uint32
}

// Message returns the set command for c
func (c Change) Message() vmc.Message {
	switch c.Field {
	case FieldPrice:
		return vmc.SetPrice{Selector: c.Selector, Price: c.Value}
	case FieldInventory:
		return vmc.SetInventory{Selector: c.Selector, Inventory: uint8(c.Value)}
	case FieldCapacity:
		return vmc.SetCapacity{Selector: c.Selector, Capacity: uint8(c.Value)}
	default:
		return vmc.SetProductID{Selector: c.Selector, ProductID: uint16(c.Value)}
	}
}

func (v Values) get(f Field) (uint32, bool) {
	switch f {
	case FieldPrice:
		if v.Price != nil {
			return *v.Price, true
		}
	case FieldInventory:
		if v.Inventory != nil {
			return uint32(*v.Inventory), true
		}
	case FieldCapacity:
		if v.Capacity != nil {
			return uint32(*v.Capacity), true
		}
	case FieldProductID:
		if v.ProductID != nil {
			return uint32(*v.ProductID), true
		}
	}
	return 0, false
}

func current(s store.Selection, f Field) uint32 {
	switch f {
	case FieldPrice:
		return s.Price
	case FieldInventory:
		return uint32(s.Inventory)
	case FieldCapacity:
		return uint32(s.Capacity)
	default:
		return uint32(s.ProductID)
	}
}

// Diff lists the set commands that bring st in line with p. A tray whose ten
// selections all need the same value is addressed with one tray selector.
// Capacity changes come before inventory so the VMC never sees inventory
// above capacity.
func Diff(p *Planogram, st store.Store) ([]Change, error) {
	known, err := st.Selections()
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	have := make(map[uint16]store.Selection, len(known))
	for _, s := range known {
		have[s.Number] = s
	}

	want := p.Resolve()
	sels := make([]uint16, 0, len(want))
	for n := range want {
		sels = append(sels, n)
	}
	sort.Slice(sels, func(i, j int) bool { return sels[i] < sels[j] })

	var out []Change
	for _, f := range fieldOrder {
		var pending []Change
		for _, n := range sels {
			v, ok := want[n].get(f)
			if !ok {
				continue
			}
			s, exists := have[n]
			if exists && current(s, f) == v {
				continue
			}
			pending = append(pending, Change{Selector: n, Field: f, Value: v})
		}
		out = append(out, compact(pending)...)
	}
	return out, nil
}

// compact folds complete trays with one value into a tray selector
func compact(changes []Change) []Change {
	type key struct {
		tray  int
		value uint32
	}
	counts := make(map[key]int)
	for _, c := range changes {
		counts[key{store.TrayOf(c.Selector), c.Value}]++
	}

	var out []Change
	emitted := make(map[key]bool)
	for _, c := range changes {
		k := key{store.TrayOf(c.Selector), c.Value}
		if k.tray > vmc.TraySelectorMax-vmc.TraySelectorMin || counts[k] < vmc.SelectionsPerTray {
			out = append(out, c)
			continue
		}
		if !emitted[k] {
			emitted[k] = true
			out = append(out, Change{Selector: vmc.TraySelector(k.tray), Field: c.Field, Value: c.Value})
		}
	}
	return out
}

// Applier queues set commands; dispatch.Dispatcher satisfies it
type Applier interface {
	SetPrice(selector uint16, price uint32) (uint64, error)
	SetInventory(selector uint16, inventory uint8) (uint64, error)
	SetCapacity(selector uint16, capacity uint8) (uint64, error)
	SetProductID(selector uint16, id uint16) (uint64, error)
}

// Apply queues every change, stopping at the first error
func Apply(changes []Change, a Applier) error {
	for _, c := range changes {
		var err error
		switch c.Field {
		case FieldPrice:
			_, err = a.SetPrice(c.Selector, c.Value)
		case FieldInventory:
			_, err = a.SetInventory(c.Selector, uint8(c.Value))
		case FieldCapacity:
			_, err = a.SetCapacity(c.Selector, uint8(c.Value))
		case FieldProductID:
			_, err = a.SetProductID(c.Selector, uint16(c.Value))
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.Field, vmc.FormatSelector(c.Selector), err)
		}
	}
	return nil
}

// Reconcile loads path and queues the changes it needs
func Reconcile(path string, st store.Store, a Applier) ([]Change, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	changes, err := Diff(p, st)
	if err != nil {
		return nil, err
	}
	return changes, Apply(changes, a)
}
