// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"sync"
	"time"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// PendingCommand is an application request waiting for a POLL turn
type PendingCommand struct {
	ID        uint64
	Message   vmc.Message
	Command   byte
	Text      []byte
	CreatedAt time.Time
}

// OutboundQueue is a FIFO of pending commands. Enqueue and Cancel are safe
// from any goroutine; TakeNext is called by the engine at a POLL boundary.
type OutboundQueue struct {
	mu     sync.Mutex
	items  []PendingCommand
	nextID uint64
	now    func() time.Time
}

// NewOutboundQueue creates an empty queue
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{now: time.Now}
}

// Enqueue encodes m and appends it. It never blocks and never drops; an
// error means m cannot be encoded and nothing was queued.
func (q *OutboundQueue) Enqueue(m vmc.Message) (uint64, error) {
	cmd, text, err := vmc.Encode(m)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.items = append(q.items, PendingCommand{
		ID:        q.nextID,
		Message:   m,
		Command:   cmd,
		Text:      text,
		CreatedAt: q.now(),
	})
	return q.nextID, nil
}

// Cancel withdraws a command that has not been sent yet
func (q *OutboundQueue) Cancel(id uint64) bool {
	return q.CancelWhere(func(p PendingCommand) bool { return p.ID == id }) > 0
}

// CancelWhere withdraws every queued command matching fn and returns how many
func (q *OutboundQueue) CancelWhere(fn func(PendingCommand) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, p := range q.items {
		if fn(p) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	clear(q.items[len(kept):])
	q.items = kept
	return removed
}

// TakeNext removes and returns the oldest command
func (q *OutboundQueue) TakeNext() (PendingCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingCommand{}, false
	}
	p := q.items[0]
	q.items[0] = PendingCommand{}
	q.items = q.items[1:]
	return p, true
}

// Len returns the number of queued commands
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued commands, oldest first
func (q *OutboundQueue) Pending() []PendingCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingCommand(nil), q.items...)
}
