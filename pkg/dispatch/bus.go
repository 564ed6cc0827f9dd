// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSubscriberBuffer is the channel depth of a subscription
const DefaultSubscriberBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	seq     atomic.Uint64
	dropped atomic.Uint64
	now     func() time.Time
}

// Subscription receives envelopes on C until Close
type Subscription struct {
	C       <-chan Envelope
	c       chan Envelope
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// NewBus creates a bus with no subscribers
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), now: time.Now}
}

// Subscribe registers a subscriber with the given buffer depth
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	c := make(chan Envelope, buffer)
	s := &Subscription{C: c, c: c, bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers ev to every subscriber that has room
func (b *Bus) Publish(ev Event) {
	env := Envelope{Seq: b.seq.Add(1), At: b.now(), Event: ev}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.c <- env:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped across all subscribers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Dropped returns how many events this subscriber missed
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.c)
	})
}
