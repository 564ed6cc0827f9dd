// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"sort"
	"sync"
)

// Memory is a Store kept in process memory
type Memory struct {
	mu         sync.Mutex
	selections map[uint16]Selection
	sales      []Sale
	jams       []Jam
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{selections: make(map[uint16]Selection)}
}

func (m *Memory) Selection(n uint16) (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.selections[n]
	if !ok {
		return Selection{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) PutSelection(s Selection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Tray = TrayOf(s.Number)
	m.selections[s.Number] = s
	return nil
}

func (m *Memory) Selections() ([]Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Selection, 0, len(m.selections))
	for _, s := range m.selections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) RecordSale(s Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, s)
	return nil
}

func (m *Memory) Sales() ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sale(nil), m.sales...), nil
}

func (m *Memory) RecordJam(j Jam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jams = append(m.jams, j)
	return nil
}

func (m *Memory) Jams() ([]Jam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Jam(nil), m.jams...), nil
}

func (m *Memory) Close() error { return nil }
