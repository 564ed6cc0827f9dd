// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"fmt"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// DispenseState is the position of one selection in its vend cycle
type DispenseState int

const (
	DispenseIdle DispenseState = iota
	DispenseSelecting
	DispenseDispensing
	DispenseStateSucceeded
	DispenseStateFailed
)

func (s DispenseState) String() string {
	switch s {
	case DispenseSelecting:
		return "SELECTING"
	case DispenseDispensing:
		return "DISPENSING"
	case DispenseStateSucceeded:
		return "SUCCEEDED"
	case DispenseStateFailed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

// Terminal is a finished vend, reported once
type Terminal struct {
	Selection uint16
	Succeeded bool
	Status    vmc.DispenseStatus
	Reason    string
}

type vend struct {
	state DispenseState
	// sent is set once the buy or drive command left the queue
	sent bool
}

// Dispenser tracks the vend cycle of every selection. Succeeded and Failed
// are transient: Apply reports the terminal once and resets the selection
// to Idle. Not safe for concurrent use.
type Dispenser struct {
	vends   map[uint16]*vend
	current uint16
}

// NewDispenser creates a dispenser with every selection Idle
func NewDispenser() *Dispenser {
	return &Dispenser{vends: make(map[uint16]*vend)}
}

// State returns the state of a selection
func (d *Dispenser) State(sel uint16) DispenseState {
	if v, ok := d.vends[sel]; ok {
		return v.state
	}
	return DispenseIdle
}

// Current returns the selection in an active vend, or 0
func (d *Dispenser) Current() uint16 {
	return d.current
}

// Active reports whether any selection is selecting or dispensing
func (d *Dispenser) Active() bool {
	return d.current != 0
}

// Select moves a selection to Selecting
func (d *Dispenser) Select(sel uint16) {
	d.vends[sel] = &vend{state: DispenseSelecting}
	d.current = sel
}

// MarkSent records that the command for the current vend was transmitted
func (d *Dispenser) MarkSent(sel uint16) {
	if v, ok := d.vends[sel]; ok {
		v.sent = true
	}
}

// Sent reports whether the command for sel was transmitted
func (d *Dispenser) Sent(sel uint16) bool {
	v, ok := d.vends[sel]
	return ok && v.sent
}

// Cancel returns a selecting selection to Idle. A dispensing selection is
// left alone since the motor is already running.
func (d *Dispenser) Cancel(sel uint16) bool {
	v, ok := d.vends[sel]
	if !ok || v.state != DispenseSelecting {
		return false
	}
	d.reset(sel)
	return true
}

// Checked applies a SELECTION_STATUS answer. An unavailable selection ends
// a pending vend.
func (d *Dispenser) Checked(sel uint16, state vmc.SelectionState) *Terminal {
	v, ok := d.vends[sel]
	if !ok || v.state != DispenseSelecting || state.Available() {
		return nil
	}
	return d.fail(sel, 0, fmt.Sprintf("selection %s", state))
}

// Status applies a DISPENSING_STATUS report. It returns the terminal when a
// vend finished, and started=true when the motor began running.
func (d *Dispenser) Status(m vmc.DispensingStatus) (t *Terminal, started bool) {
	sel := d.current
	if m.HasSelection && m.Selection != 0 {
		sel = m.Selection
	}
	if sel == 0 {
		return nil, false
	}

	v, ok := d.vends[sel]
	if !ok || v.state == DispenseIdle {
		// The VMC vended through its own keypad; track it from here
		if !m.Status.InProgress() {
			return nil, false
		}
		v = &vend{state: DispenseSelecting, sent: true}
		d.vends[sel] = v
		d.current = sel
	}

	switch {
	case m.Status.InProgress():
		if v.state == DispenseDispensing {
			return nil, false
		}
		v.state = DispenseDispensing
		d.current = sel
		return nil, true
	case m.Status.Succeeded():
		v.state = DispenseStateSucceeded
		t := &Terminal{Selection: sel, Succeeded: true, Status: m.Status}
		d.reset(sel)
		return t, false
	default:
		return d.fail(sel, m.Status, m.Status.String()), false
	}
}

// Fail ends a vend that could not be sent
func (d *Dispenser) Fail(sel uint16, reason string) *Terminal {
	v, ok := d.vends[sel]
	if !ok || v.state == DispenseIdle {
		return nil
	}
	return d.fail(sel, 0, reason)
}

func (d *Dispenser) fail(sel uint16, status vmc.DispenseStatus, reason string) *Terminal {
	d.vends[sel].state = DispenseStateFailed
	t := &Terminal{Selection: sel, Status: status, Reason: reason}
	d.reset(sel)
	return t
}

func (d *Dispenser) reset(sel uint16) {
	delete(d.vends, sel)
	if d.current == sel {
		d.current = 0
	}
}
