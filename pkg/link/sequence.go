// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"time"
)

// DefaultRecordTTL is how long an inbound record stays available to answer a
// retransmit. Five retries at 100ms fit well inside it.
const DefaultRecordTTL = 2 * time.Second

// Verdict is the result of observing an inbound communication number
type Verdict int

const (
	Fresh Verdict = iota
	Duplicate
)

func (v Verdict) String() string {
	if v == Duplicate {
		return "DUPLICATE"
	}
	return "FRESH"
}

// SequenceRecord remembers one recently seen inbound frame and the response
// sent for it
type SequenceRecord struct {
	Sequence     uint8
	LastFrame    []byte
	LastResponse []byte
	SeenAt       time.Time
	CompletedAt  time.Time
}

// SequenceTracker issues outbound communication numbers and deduplicates
// inbound ones. It is owned by the engine loop and is not safe for
// concurrent use.
type SequenceTracker struct {
	next    uint8
	issued  uint8
	ttl     time.Duration
	records map[uint8]*SequenceRecord
}

// NewSequenceTracker creates a tracker whose first outbound number is 1
func NewSequenceTracker(ttl time.Duration) *SequenceTracker {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &SequenceTracker{
		next:    1,
		ttl:     ttl,
		records: make(map[uint8]*SequenceRecord),
	}
}

// NextOutbound returns the next communication number: 1, 2, ... 255, 1, ...
func (t *SequenceTracker) NextOutbound() uint8 {
	n := t.next
	t.issued = n
	t.next = advance(n)
	return n
}

// Peek returns the number NextOutbound would issue without issuing it
func (t *SequenceTracker) Peek() uint8 {
	return t.next
}

// Reclaim hands back the most recently issued number after a failed
// exchange so it is issued again. Older numbers are ignored.
func (t *SequenceTracker) Reclaim(n uint8) {
	if n != 0 && n == t.issued && advance(n) == t.next {
		t.next = n
		t.issued = 0
	}
}

func advance(n uint8) uint8 {
	if n >= 255 {
		return 1
	}
	return n + 1
}

// Observe classifies an inbound sequenced frame. A frame is a duplicate when
// a live record holds the same number and identical wire bytes; the cached
// response is returned for verbatim replay. A reused number with different
// content evicts the old record.
func (t *SequenceTracker) Observe(seq uint8, raw []byte, now time.Time) (Verdict, []byte) {
	if r, ok := t.records[seq]; ok {
		if t.expired(r, now) || !bytes.Equal(r.LastFrame, raw) {
			delete(t.records, seq)
		} else {
			return Duplicate, r.LastResponse
		}
	}
	t.records[seq] = &SequenceRecord{
		Sequence:  seq,
		LastFrame: append([]byte(nil), raw...),
		SeenAt:    now,
	}
	return Fresh, nil
}

// RecordResponse stores the response sent for a fresh frame
func (t *SequenceTracker) RecordResponse(seq uint8, response []byte, now time.Time) {
	r, ok := t.records[seq]
	if !ok {
		return
	}
	r.LastResponse = append([]byte(nil), response...)
	r.CompletedAt = now
}

// Prune evicts records older than the TTL and returns how many went
func (t *SequenceTracker) Prune(now time.Time) int {
	n := 0
	for seq, r := range t.records {
		if t.expired(r, now) {
			delete(t.records, seq)
			n++
		}
	}
	return n
}

// ResetInbound forgets every inbound record, used when the VMC restarts
func (t *SequenceTracker) ResetInbound() {
	clear(t.records)
}

// Records returns the number of live inbound records
func (t *SequenceTracker) Records() int {
	return len(t.records)
}

func (t *SequenceTracker) expired(r *SequenceRecord, now time.Time) bool {
	ref := r.CompletedAt
	if ref.IsZero() {
		ref = r.SeenAt
	}
	return now.Sub(ref) > t.ttl
}
