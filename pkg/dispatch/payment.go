// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Session is the payment view of one customer interaction, from the first
// money or selection until the vend ends
type Session struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	ClosedAt  time.Time       `json:"closed_at,omitempty"`
	Selection uint16          `json:"selection,omitempty"`
	Mode      vmc.PaymentMode `json:"mode,omitempty"`
	Collected uint32          `json:"collected"`
	Captured  uint32          `json:"captured"`
	Credit    uint32          `json:"credit"`
	ChangeDue uint32          `json:"change_due"`
	ChangeOut uint32          `json:"change_out"`
	Vended    bool            `json:"vended"`
}

// Payments correlates money messages into sessions. Not safe for concurrent
// use.
type Payments struct {
	current *Session
	now     func() time.Time
}

// NewPayments creates a tracker with no open session
func NewPayments(now func() time.Time) *Payments {
	if now == nil {
		now = time.Now
	}
	return &Payments{now: now}
}

// Current returns a copy of the open session
func (p *Payments) Current() (Session, bool) {
	if p.current == nil {
		return Session{}, false
	}
	return *p.current, true
}

func (p *Payments) open() *Session {
	if p.current == nil {
		p.current = &Session{ID: uuid.NewString(), StartedAt: p.now()}
	}
	return p.current
}

// Select ties the open session, or a new one, to a selection
func (p *Payments) Select(sel uint16) *Session {
	s := p.open()
	s.Selection = sel
	return s
}

// Collected records money taken by the VMC's cash devices
func (p *Payments) Collected(mode vmc.PaymentMode, amount uint32) *Session {
	s := p.open()
	s.Mode = mode
	s.Collected += amount
	return s
}

// Captured records money taken by an external terminal
func (p *Payments) Captured(mode vmc.PaymentMode, amount uint32) *Session {
	s := p.open()
	s.Mode = mode
	s.Captured += amount
	return s
}

// Credit records the VMC's current credit
func (p *Payments) Credit(amount uint32) *Session {
	s := p.open()
	s.Credit = amount
	return s
}

// ChangeRequested records change the VMC wants paid out
func (p *Payments) ChangeRequested(amount uint32) *Session {
	s := p.open()
	s.ChangeDue += amount
	return s
}

// ChangeDispensed records change paid out
func (p *Payments) ChangeDispensed(amount uint32) *Session {
	s := p.open()
	s.ChangeOut += amount
	if s.ChangeDue >= amount {
		s.ChangeDue -= amount
	} else {
		s.ChangeDue = 0
	}
	return s
}

// Close ends the open session and returns it
func (p *Payments) Close(vended bool) (Session, bool) {
	if p.current == nil {
		return Session{}, false
	}
	s := *p.current
	s.Vended = vended
	s.ClosedAt = p.now()
	p.current = nil
	return s, true
}
