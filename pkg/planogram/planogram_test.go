// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package planogram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

const sample = `
[[tray]]
tray = 1
price = 150
capacity = 8

[[selection]]
number = 12
price = 175
product_id = 4012

[[selection]]
number = 3
inventory = 5
`

type recordingApplier struct {
	mu      sync.Mutex
	changes []Change
	fail    error
}

func (a *recordingApplier) add(c Change) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return 0, a.fail
	}
	a.changes = append(a.changes, c)
	return uint64(len(a.changes)), nil
}

func (a *recordingApplier) SetPrice(sel uint16, v uint32) (uint64, error) {
	return a.add(Change{sel, FieldPrice, v})
}

func (a *recordingApplier) SetInventory(sel uint16, v uint8) (uint64, error) {
	return a.add(Change{sel, FieldInventory, uint32(v)})
}

func (a *recordingApplier) SetCapacity(sel uint16, v uint8) (uint64, error) {
	return a.add(Change{sel, FieldCapacity, uint32(v)})
}

func (a *recordingApplier) SetProductID(sel uint16, v uint16) (uint64, error) {
	return a.add(Change{sel, FieldProductID, uint32(v)})
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.changes)
}

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, p.Trays, 1)
	require.Len(t, p.Selections, 2)

	r := p.Resolve()
	assert.Len(t, r, 11)
	require.NotNil(t, r[12].Price)
	assert.Equal(t, uint32(175), *r[12].Price)
	require.NotNil(t, r[12].Capacity, "tray values survive a selection override")
	assert.Equal(t, uint8(8), *r[12].Capacity)
	assert.Nil(t, r[3].Price)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"tray range":      "[[tray]]\ntray = 10\n",
		"selection zero":  "[[selection]]\nnumber = 0\n",
		"selection range": "[[selection]]\nnumber = 1001\n",
		"duplicate":       "[[selection]]\nnumber = 4\n[[selection]]\nnumber = 4\n",
		"syntax":          "[[selection]\n",
		"inventory range": "[[selection]]\nnumber = 4\ninventory = 300\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestDiff_EmptyStore(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)

	changes, err := Diff(p, store.NewMemory())
	require.NoError(t, err)

	assert.Equal(t, []Change{
		{vmc.TraySelector(1), FieldCapacity, 8},
		{3, FieldInventory, 5},
		{11, FieldPrice, 150},
		{12, FieldPrice, 175},
		{13, FieldPrice, 150},
		{14, FieldPrice, 150},
		{15, FieldPrice, 150},
		{16, FieldPrice, 150},
		{17, FieldPrice, 150},
		{18, FieldPrice, 150},
		{19, FieldPrice, 150},
		{20, FieldPrice, 150},
		{12, FieldProductID, 4012},
	}, changes)
}

func TestDiff_SkipsMatchingValues(t *testing.T) {
	st := store.NewMemory()
	for _, n := range vmc.TraySelections(1) {
		require.NoError(t, st.PutSelection(store.Selection{Number: n, Price: 150, Capacity: 8}))
	}
	require.NoError(t, st.PutSelection(store.Selection{Number: 3, Inventory: 5}))

	p, err := Parse([]byte(sample))
	require.NoError(t, err)
	changes, err := Diff(p, st)
	require.NoError(t, err)

	assert.Equal(t, []Change{
		{12, FieldPrice, 175},
		{12, FieldProductID, 4012},
	}, changes)
}

func TestChange_Message(t *testing.T) {
	assert.Equal(t, vmc.SetCapacity{Selector: 1001, Capacity: 8}, Change{1001, FieldCapacity, 8}.Message())
	assert.Equal(t, vmc.SetProductID{Selector: 4, ProductID: 9}, Change{4, FieldProductID, 9}.Message())
}

func TestApply_StopsOnError(t *testing.T) {
	a := &recordingApplier{fail: errors.New("queue closed")}
	err := Apply([]Change{{1, FieldPrice, 10}}, a)
	assert.ErrorContains(t, err, "queue closed")
}

func TestWatcher_ReconcilesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planogram.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[selection]]\nnumber = 5\nprice = 100\n"), 0644))

	a := &recordingApplier{}
	w := NewWatcher(path, store.NewMemory(), a, zerolog.Nop())
	w.Debounce = 10 * time.Millisecond

	var mu sync.Mutex
	var runs int
	w.OnReconcile = func([]Change, error) {
		mu.Lock()
		runs++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return a.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[[selection]]\nnumber = 5\nprice = 120\n"), 0644))
	assert.Eventually(t, func() bool { return a.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, runs, 2)
	assert.Equal(t, Change{5, FieldPrice, 120}, a.changes[len(a.changes)-1])
}
