// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	bc, err := OpenBitcask(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() })
	return map[string]Store{
		"memory":  NewMemory(),
		"bitcask": bc,
	}
}

func TestStore_Selections(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Selection(12)
			assert.ErrorIs(t, err, ErrNotFound)

			now := time.Date(2026, 2, 1, 9, 30, 0, 123, time.UTC)
			require.NoError(t, s.PutSelection(Selection{Number: 12, Price: 150, Inventory: 3, Capacity: 8, UpdatedAt: now}))
			require.NoError(t, s.PutSelection(Selection{Number: 3, Price: 90}))

			got, err := s.Selection(12)
			require.NoError(t, err)
			assert.Equal(t, uint32(150), got.Price)
			assert.Equal(t, 1, got.Tray)
			assert.True(t, now.Equal(got.UpdatedAt))

			all, err := s.Selections()
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, uint16(3), all[0].Number)
			assert.Equal(t, uint16(12), all[1].Number)
		})
	}
}

func TestStore_SalesAndJamsInTimeOrder(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
			require.NoError(t, s.RecordSale(Sale{ID: "a", Selection: 1, Price: 100, Outcome: OutcomeSucceeded, At: t0}))
			require.NoError(t, s.RecordSale(Sale{ID: "b", Selection: 2, Price: 200, Mode: vmc.PaymentCoin, Outcome: OutcomeFailed, At: t0.Add(time.Minute)}))
			require.NoError(t, s.RecordJam(Jam{ID: "j", Selection: 2, Status: vmc.DispenseJammed, Reason: "JAMMED", At: t0}))

			sales, err := s.Sales()
			require.NoError(t, err)
			require.Len(t, sales, 2)
			assert.Equal(t, "a", sales[0].ID)
			assert.Equal(t, vmc.PaymentCoin, sales[1].Mode)

			jams, err := s.Jams()
			require.NoError(t, err)
			require.Len(t, jams, 1)
			assert.Equal(t, vmc.DispenseJammed, jams[0].Status)
		})
	}
}

func TestBitcask_Reopen(t *testing.T) {
	dir := t.TempDir()
	bc, err := OpenBitcask(dir)
	require.NoError(t, err)
	require.NoError(t, bc.PutSelection(Selection{Number: 44, Price: 250}))
	require.NoError(t, bc.Close())

	bc, err = OpenBitcask(dir)
	require.NoError(t, err)
	defer bc.Close()
	got, err := bc.Selection(44)
	require.NoError(t, err)
	assert.Equal(t, uint32(250), got.Price)
}

func TestTrayOf(t *testing.T) {
	tests := map[uint16]int{1: 0, 10: 0, 11: 1, 20: 1, 100: 9}
	for n, want := range tests {
		assert.Equal(t, want, TrayOf(n), "selection %d", n)
	}
	all := []Selection{{Number: 5}, {Number: 15}, {Number: 18}}
	assert.Len(t, ForTray(all, 1), 2)
}
