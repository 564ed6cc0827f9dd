// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

// Status is the link health shown to the presentation layer
type Status int

const (
	StatusDown Status = iota
	StatusUp
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "UP"
	case StatusDegraded:
		return "DEGRADED"
	default:
		return "DOWN"
	}
}

// State is the exchange state machine position
type State int

const (
	StateIdle State = iota
	StateAwaitingCommandAck
	StateAwaitingDataAck
)

func (s State) String() string {
	switch s {
	case StateAwaitingCommandAck:
		return "AWAITING_COMMAND_ACK"
	case StateAwaitingDataAck:
		return "AWAITING_DATA_ACK"
	default:
		return "IDLE"
	}
}
