// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link implements the upper computer's side of the VMC exchange
// protocol: POLL answering, outbound command release, ACK tracking with
// byte-identical retransmission, and inbound deduplication.
//
// All exchange state lives on one Engine and is mutated only from the
// goroutine that calls HandleBytes, HandleFrame and Tick. Run is that
// goroutine in production.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Protocol timing
const (
	DefaultResponseTimeout = 100 * time.Millisecond
	DefaultMaxRetries      = 5
	DefaultDegradedAfter   = 3
	DefaultLinkDownAfter   = time.Second
	DefaultPollInterval    = 200 * time.Millisecond
)

// Direction of a captured frame
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "TX"
	}
	return "RX"
}

// Tap receives every raw frame crossing the link
type Tap interface {
	Capture(dir Direction, raw []byte, at time.Time)
}

// Outcome is the fate of an outbound exchange
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeCompleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "SENT"
	}
}

// ExchangeEvent reports progress of a queued command
type ExchangeEvent struct {
	PendingID uint64
	Message   vmc.Message
	Command   byte
	Sequence  uint8
	Outcome   Outcome
	Attempts  int
	Err       error
}

// Sink consumes what the engine decodes. Calls arrive on the engine
// goroutine and must not block.
type Sink interface {
	HandleMessage(m vmc.Message, f *vmc.Frame)
	HandleError(err error)
	HandleExchange(ev ExchangeEvent)
	HandleStatus(s Status)
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) HandleMessage(vmc.Message, *vmc.Frame) {}
func (NopSink) HandleError(error)                     {}
func (NopSink) HandleExchange(ExchangeEvent)          {}
func (NopSink) HandleStatus(Status)                   {}

// Config holds engine tunables. Zero fields take the protocol defaults.
type Config struct {
	ResponseTimeout time.Duration
	MaxRetries      int
	RecordTTL       time.Duration
	DegradedAfter   int
	LinkDownAfter   time.Duration
	// EchoAckSequence answers sequenced frames with an ACK carrying the same
	// communication number instead of the literal ACK packet
	EchoAckSequence bool

	Logger zerolog.Logger
	Clock  func() time.Time
	Tap    Tap
}

// DefaultConfig returns the timing mandated by the protocol
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: DefaultResponseTimeout,
		MaxRetries:      DefaultMaxRetries,
		RecordTTL:       DefaultRecordTTL,
		DegradedAfter:   DefaultDegradedAfter,
		LinkDownAfter:   DefaultLinkDownAfter,
		Logger:          zerolog.Nop(),
		Clock:           time.Now,
	}
}

type exchange struct {
	pending   PendingCommand
	frame     *vmc.Frame
	retries   int
	attempts  int
	deadline  time.Time
	startedAt time.Time
}

// Engine is the exchange state machine
type Engine struct {
	cfg   Config
	log   zerolog.Logger
	out   io.Writer
	sink  Sink
	queue *OutboundQueue
	seq   *SequenceTracker
	dec   *vmc.Decoder
	stats *Statistics

	current             *exchange
	lastFrame           time.Time
	consecutiveTimeouts int
	discarded           uint64

	state  atomic.Int32
	status atomic.Int32

	writeMu sync.Mutex
}

// NewEngine creates an engine writing to out and reporting to sink
func NewEngine(cfg Config, out io.Writer, queue *OutboundQueue, sink Sink) *Engine {
	def := DefaultConfig()
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = def.DegradedAfter
	}
	if cfg.LinkDownAfter <= 0 {
		cfg.LinkDownAfter = def.LinkDownAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if sink == nil {
		sink = NopSink{}
	}
	if queue == nil {
		queue = NewOutboundQueue()
	}

	e := &Engine{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "link").Logger(),
		out:   out,
		sink:  sink,
		queue: queue,
		seq:   NewSequenceTracker(cfg.RecordTTL),
		dec:   vmc.NewDecoder(),
		stats: NewStatistics(cfg.Clock()),
	}
	e.status.Store(int32(StatusDown))
	return e
}

// Queue returns the outbound queue feeding the engine
func (e *Engine) Queue() *OutboundQueue {
	return e.queue
}

// Statistics returns the live counters
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// State returns the exchange state; safe from any goroutine
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Status returns the link status; safe from any goroutine
func (e *Engine) Status() Status {
	return Status(e.status.Load())
}

// Sequences exposes the tracker for inspection in tests and diagnostics
func (e *Engine) Sequences() *SequenceTracker {
	return e.seq
}

// Run reads from r and drives the engine until ctx is done or r fails.
// It owns the read goroutine and the deadline timer.
func (e *Engine) Run(ctx context.Context, r io.Reader) error {
	chunks := make(chan []byte, 16)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	timer := time.NewTimer(e.nextWake(e.cfg.Clock()))
	defer timer.Stop()

	e.log.Info().Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine stopped")
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				e.log.Info().Msg("transport closed")
				return nil
			}
			return fmt.Errorf("transport read: %w", err)
		case chunk := <-chunks:
			e.HandleBytes(chunk)
		case <-timer.C:
			e.Tick(e.cfg.Clock())
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.nextWake(e.cfg.Clock()))
	}
}

// nextWake returns how long until the next deadline the engine must act on
func (e *Engine) nextWake(now time.Time) time.Duration {
	wake := e.cfg.LinkDownAfter
	if !e.lastFrame.IsZero() && e.Status() != StatusDown {
		wake = e.lastFrame.Add(e.cfg.LinkDownAfter).Sub(now)
	}
	if e.current != nil {
		if d := e.current.deadline.Sub(now); d < wake {
			wake = d
		}
	}
	if wake < time.Millisecond {
		wake = time.Millisecond
	}
	return wake
}

// HandleBytes feeds raw transport bytes through the decoder
func (e *Engine) HandleBytes(p []byte) {
	e.dec.Write(p)
	for {
		f, err := e.dec.Next()
		if d := e.dec.Discarded(); d != e.discarded {
			delta := d - e.discarded
			e.discarded = d
			e.stats.update(func(s *StatisticsSnapshot) { s.ResyncBytes += delta })
		}
		if err != nil {
			var fe *vmc.FramingError
			if errors.As(err, &fe) {
				e.stats.update(func(s *StatisticsSnapshot) { s.ChecksumFailures++ })
				e.log.Debug().Err(err).Msg("resynchronizing")
			}
			continue
		}
		if f == nil {
			return
		}
		e.HandleFrame(f)
	}
}

// HandleFrame processes one checksum-valid frame
func (e *Engine) HandleFrame(f *vmc.Frame) {
	now := e.cfg.Clock()
	e.lastFrame = now
	e.stats.update(func(s *StatisticsSnapshot) {
		s.FramesReceived++
		s.LastFrameTime = now
	})
	if e.cfg.Tap != nil {
		e.cfg.Tap.Capture(Inbound, f.Raw(), now)
	}
	if e.Status() == StatusDown {
		if e.consecutiveTimeouts >= e.cfg.DegradedAfter {
			e.setStatus(StatusDegraded)
		} else {
			e.setStatus(StatusUp)
		}
	}

	switch f.Command() {
	case vmc.CmdPoll:
		e.stats.update(func(s *StatisticsSnapshot) { s.Polls++ })
		e.handlePoll(now)
	case vmc.CmdAck:
		e.stats.update(func(s *StatisticsSnapshot) { s.AcksReceived++ })
		e.handleAck(f, now)
	case vmc.CmdNak:
		e.stats.update(func(s *StatisticsSnapshot) { s.Naks++ })
		e.handleNak(now)
	default:
		e.handleInbound(f, now)
	}
}

// Tick fires expired deadlines. Run calls it from its timer; tests call it
// with a fake clock.
func (e *Engine) Tick(now time.Time) {
	if x := e.current; x != nil && !now.Before(x.deadline) {
		e.retryOrFail(now, "deadline")
	}
	if e.Status() != StatusDown && !e.lastFrame.IsZero() && now.Sub(e.lastFrame) >= e.cfg.LinkDownAfter {
		e.log.Warn().Dur("silence", now.Sub(e.lastFrame)).Msg("link down")
		e.setStatus(StatusDown)
	}
	e.seq.Prune(now)
}

func (e *Engine) handlePoll(now time.Time) {
	if e.current != nil {
		// The VMC never saw our frame; a POLL counts as one retry
		if e.retryOrFail(now, "poll") {
			return
		}
		e.write(vmc.AckPacket, now)
		return
	}

	p, ok := e.queue.TakeNext()
	if !ok {
		e.write(vmc.AckPacket, now)
		return
	}
	e.start(p, now)
}

func (e *Engine) start(p PendingCommand, now time.Time) {
	seq := e.seq.NextOutbound()
	f := vmc.NewFrame(p.Command, seq, p.Text)
	e.current = &exchange{
		pending:   p,
		frame:     f,
		retries:   e.cfg.MaxRetries,
		attempts:  1,
		deadline:  now.Add(e.cfg.ResponseTimeout),
		startedAt: now,
	}
	if vmc.ClassOf(p.Command) == vmc.ClassData {
		e.setState(StateAwaitingDataAck)
	} else {
		e.setState(StateAwaitingCommandAck)
	}

	e.log.Debug().
		Str("command", vmc.CommandName(p.Command)).
		Uint8("seq", seq).
		Uint64("id", p.ID).
		Msg("sending queued command")
	e.stats.update(func(s *StatisticsSnapshot) { s.CommandsSent++ })
	e.write(f.Raw(), now)
	e.sink.HandleExchange(e.event(OutcomeSent, nil))
}

// retryOrFail resends the outstanding frame if retries remain and reports
// whether it did. Otherwise the exchange fails with a TimeoutError.
func (e *Engine) retryOrFail(now time.Time, reason string) bool {
	x := e.current
	if x.retries > 0 {
		x.retries--
		x.attempts++
		x.deadline = now.Add(e.cfg.ResponseTimeout)
		e.log.Debug().
			Str("command", vmc.CommandName(x.frame.Command())).
			Uint8("seq", x.frame.Sequence()).
			Int("attempt", x.attempts).
			Str("reason", reason).
			Msg("retransmitting")
		e.stats.update(func(s *StatisticsSnapshot) { s.Retries++ })
		e.write(x.frame.Raw(), now)
		return true
	}

	err := &TimeoutError{
		Command:   x.frame.Command(),
		Sequence:  x.frame.Sequence(),
		Attempts:  x.attempts,
		PendingID: x.pending.ID,
	}
	e.stats.update(func(s *StatisticsSnapshot) { s.Timeouts++ })
	e.consecutiveTimeouts++
	e.log.Warn().Err(err).Int("consecutive", e.consecutiveTimeouts).Msg("exchange failed")
	e.finish(OutcomeFailed, err)
	if e.consecutiveTimeouts >= e.cfg.DegradedAfter && e.Status() == StatusUp {
		e.setStatus(StatusDegraded)
	}
	e.sink.HandleError(err)
	return false
}

func (e *Engine) handleAck(f *vmc.Frame, now time.Time) {
	x := e.current
	if x == nil {
		e.log.Debug().Uint8("seq", f.Sequence()).Msg("ACK with no outstanding exchange")
		return
	}

	if f.HasSequence() && f.Sequence() != x.frame.Sequence() {
		err := &AbandonedError{
			Command:   x.frame.Command(),
			Expected:  x.frame.Sequence(),
			Got:       f.Sequence(),
			PendingID: x.pending.ID,
		}
		e.stats.update(func(s *StatisticsSnapshot) { s.Abandoned++ })
		e.log.Warn().Err(err).Msg("exchange abandoned")
		e.finish(OutcomeFailed, err)
		e.sink.HandleError(err)
		return
	}

	e.log.Debug().
		Str("command", vmc.CommandName(x.frame.Command())).
		Uint8("seq", x.frame.Sequence()).
		Dur("rtt", now.Sub(x.startedAt)).
		Msg("exchange completed")
	e.stats.update(func(s *StatisticsSnapshot) { s.Completed++ })
	e.consecutiveTimeouts = 0
	if e.Status() == StatusDegraded {
		e.setStatus(StatusUp)
	}
	e.finish(OutcomeCompleted, nil)
}

func (e *Engine) handleNak(now time.Time) {
	if e.current == nil {
		e.log.Debug().Msg("NAK with no outstanding exchange")
		return
	}
	e.retryOrFail(now, "nak")
}

// finish closes the outstanding exchange and returns to Idle
func (e *Engine) finish(outcome Outcome, err error) {
	ev := e.event(outcome, err)
	if outcome == OutcomeFailed {
		e.seq.Reclaim(e.current.frame.Sequence())
	}
	e.current = nil
	e.setState(StateIdle)
	e.sink.HandleExchange(ev)
}

func (e *Engine) event(outcome Outcome, err error) ExchangeEvent {
	x := e.current
	return ExchangeEvent{
		PendingID: x.pending.ID,
		Message:   x.pending.Message,
		Command:   x.frame.Command(),
		Sequence:  x.frame.Sequence(),
		Outcome:   outcome,
		Attempts:  x.attempts,
		Err:       err,
	}
}

// handleInbound processes a VMC-originated command or data frame. The ACK is
// sent even when the text cannot be decoded.
func (e *Engine) handleInbound(f *vmc.Frame, now time.Time) {
	if f.HasSequence() {
		verdict, cached := e.seq.Observe(f.Sequence(), f.Raw(), now)
		if verdict == Duplicate {
			e.stats.update(func(s *StatisticsSnapshot) { s.Duplicates++ })
			e.log.Debug().
				Str("command", vmc.CommandName(f.Command())).
				Uint8("seq", f.Sequence()).
				Msg("duplicate frame, replaying response")
			if cached == nil {
				cached = e.ackFor(f)
			}
			e.write(cached, now)
			return
		}
		if f.Command() == vmc.CmdSyncInfo {
			e.log.Info().Msg("VMC synchronized, clearing inbound records")
			e.seq.ResetInbound()
			e.seq.Observe(f.Sequence(), f.Raw(), now)
		}
	}

	m, err := vmc.Decode(f)
	switch {
	case err != nil:
		e.stats.update(func(s *StatisticsSnapshot) { s.Malformed++ })
		e.log.Warn().Err(err).Str("raw", vmc.FormatHex(f.Raw())).Msg("malformed payload")
		e.sink.HandleError(err)
	default:
		if u, ok := m.(vmc.Unrecognized); ok {
			e.stats.update(func(s *StatisticsSnapshot) { s.Unrecognized++ })
			e.log.Info().
				Str("command", fmt.Sprintf("0x%02X", u.Cmd)).
				Str("payload", vmc.FormatHex(u.Payload)).
				Msg("unrecognized command")
		}
		e.sink.HandleMessage(m, f)
	}

	resp := e.ackFor(f)
	e.write(resp, now)
	if f.HasSequence() {
		e.seq.RecordResponse(f.Sequence(), resp, now)
	}
}

func (e *Engine) ackFor(f *vmc.Frame) []byte {
	if e.cfg.EchoAckSequence && f.HasSequence() {
		return vmc.NewFrame(vmc.CmdAck, f.Sequence(), nil).Raw()
	}
	return vmc.AckPacket
}

func (e *Engine) write(raw []byte, now time.Time) {
	e.writeMu.Lock()
	_, err := e.out.Write(raw)
	e.writeMu.Unlock()
	if err != nil {
		e.log.Error().Err(err).Msg("transport write failed")
		e.sink.HandleError(fmt.Errorf("transport write: %w", err))
		return
	}
	e.stats.update(func(s *StatisticsSnapshot) { s.FramesSent++ })
	if e.cfg.Tap != nil {
		e.cfg.Tap.Capture(Outbound, raw, now)
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) setStatus(s Status) {
	if Status(e.status.Swap(int32(s))) == s {
		return
	}
	e.log.Info().Str("status", s.String()).Msg("link status changed")
	e.sink.HandleStatus(s)
}
