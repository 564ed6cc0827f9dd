// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/prologic/bitcask"
)

// Key prefixes. Sales and jams are keyed by time so a key scan returns them
// in order.
const (
	selectionPrefix = "sel_"
	salePrefix      = "sale_"
	jamPrefix       = "jam_"
)

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Bitcask is a Store on a bitcask database directory. All entries live in
// one database, distinguished by key prefix.
type Bitcask struct {
	db *bitcask.Bitcask
	sync.Mutex
}

// OpenBitcask opens or creates the database at path
func OpenBitcask(path string) (*Bitcask, error) {
	db, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Bitcask{db: db}, nil
}

func (b *Bitcask) Selection(n uint16) (Selection, error) {
	var s Selection
	err := b.deserialize(selectionKey(n), &s)
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return Selection{}, ErrNotFound
	}
	return s, err
}

func (b *Bitcask) PutSelection(s Selection) error {
	s.Tray = TrayOf(s.Number)
	return b.serialize(selectionKey(s.Number), s)
}

func (b *Bitcask) Selections() ([]Selection, error) {
	var out []Selection
	err := b.scan(selectionPrefix, func(v []byte) error {
		var s Selection
		if err := cbor.Unmarshal(v, &s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, err
}

func (b *Bitcask) RecordSale(s Sale) error {
	return b.serialize(timeKey(salePrefix, s.At.UnixNano(), s.ID), s)
}

func (b *Bitcask) Sales() ([]Sale, error) {
	var out []Sale
	err := b.scan(salePrefix, func(v []byte) error {
		var s Sale
		if err := cbor.Unmarshal(v, &s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func (b *Bitcask) RecordJam(j Jam) error {
	return b.serialize(timeKey(jamPrefix, j.At.UnixNano(), j.ID), j)
}

func (b *Bitcask) Jams() ([]Jam, error) {
	var out []Jam
	err := b.scan(jamPrefix, func(v []byte) error {
		var j Jam
		if err := cbor.Unmarshal(v, &j); err != nil {
			return err
		}
		out = append(out, j)
		return nil
	})
	return out, err
}

func (b *Bitcask) Close() error {
	b.Lock()
	defer b.Unlock()
	return b.db.Close()
}

func (b *Bitcask) serialize(k []byte, v interface{}) error {
	data, err := encMode.Marshal(v)
	if err != nil {
		return err
	}
	b.Lock()
	defer b.Unlock()
	return b.db.Put(k, data)
}

func (b *Bitcask) deserialize(k []byte, v interface{}) error {
	b.Lock()
	data, err := b.db.Get(k)
	b.Unlock()
	if err != nil {
		return err
	}
	return cbor.Unmarshal(data, v)
}

// scan visits the values under prefix in key order
func (b *Bitcask) scan(prefix string, fn func(v []byte) error) error {
	b.Lock()
	defer b.Unlock()

	p := []byte(prefix)
	var keys [][]byte
	for k := range b.db.Keys() {
		if bytes.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	for _, k := range keys {
		v, err := b.db.Get(k)
		if err != nil {
			return fmt.Errorf("read %s: %w", k, err)
		}
		if err := fn(v); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
	}
	return nil
}

func selectionKey(n uint16) []byte {
	return []byte(fmt.Sprintf("%s%04d", selectionPrefix, n))
}

func timeKey(prefix string, nanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d_%s", prefix, nanos, id))
}
