// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// ============================================================
// Test Helpers
// ============================================================

type fixture struct {
	t     *testing.T
	queue *link.OutboundQueue
	store *store.Memory
	d     *Dispatcher
	sub   *Subscription
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		queue: link.NewOutboundQueue(),
		store: store.NewMemory(),
		now:   time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
	f.d = New(f.queue, Options{Store: f.store, Clock: func() time.Time { return f.now }})
	f.sub = f.d.Bus().Subscribe(256)
	t.Cleanup(f.sub.Close)
	return f
}

// events drains everything published so far
func (f *fixture) events() []Event {
	var out []Event
	for {
		select {
		case env := <-f.sub.C:
			out = append(out, env.Event)
		default:
			return out
		}
	}
}

// send takes the next queued command and reports it sent, the way the
// engine does on a POLL
func (f *fixture) send() link.PendingCommand {
	f.t.Helper()
	p, ok := f.queue.TakeNext()
	require.True(f.t, ok, "queue empty")
	f.d.HandleExchange(link.ExchangeEvent{PendingID: p.ID, Message: p.Message, Command: p.Command, Outcome: link.OutcomeSent})
	return p
}

func (f *fixture) complete(p link.PendingCommand) {
	f.d.HandleExchange(link.ExchangeEvent{PendingID: p.ID, Message: p.Message, Command: p.Command, Outcome: link.OutcomeCompleted})
}

func ofType[T Event](events []Event) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// ============================================================
// Dispensing
// ============================================================

func TestDispatcher_PurchaseSucceeds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.PutSelection(store.Selection{Number: 12, Price: 150, Inventory: 4, Capacity: 8}))

	_, err := f.d.SubmitPurchase(12)
	require.NoError(t, err)
	assert.Equal(t, DispenseSelecting, f.d.DispenseState(12))

	p := f.send()
	assert.Equal(t, byte(vmc.CmdSelectToBuy), p.Command)
	f.complete(p)

	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseInProgress, Selection: 12, HasSelection: true}, nil)
	assert.Equal(t, DispenseDispensing, f.d.DispenseState(12))

	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseSuccess, Selection: 12, HasSelection: true}, nil)
	assert.Equal(t, DispenseIdle, f.d.DispenseState(12))

	events := f.events()
	assert.Len(t, ofType[DispenseStarted](events), 1)
	ok := ofType[DispenseSucceeded](events)
	require.Len(t, ok, 1)
	assert.Equal(t, uint32(150), ok[0].Price)

	sales, err := f.store.Sales()
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, store.OutcomeSucceeded, sales[0].Outcome)
	assert.Equal(t, ok[0].SaleID, sales[0].ID)

	rec, err := f.store.Selection(12)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), rec.Inventory)

	closed := ofType[SessionClosed](events)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Session.Vended)
}

func TestDispatcher_SuccessWhileDispensingEmitsOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.DirectDrive(7, true, false)
	require.NoError(t, err)
	f.send()
	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseInProgress, Selection: 7, HasSelection: true}, nil)
	f.events()

	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseSuccess, Selection: 7, HasSelection: true}, nil)
	// a repeated report after the vend ended is ignored
	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseSuccess, Selection: 7, HasSelection: true}, nil)

	events := f.events()
	assert.Len(t, ofType[DispenseSucceeded](events), 1)
	assert.Empty(t, ofType[DispenseFailed](events))
}

func TestDispatcher_JamRecordsFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(21)
	require.NoError(t, err)
	f.send()

	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseJammed, Selection: 21, HasSelection: true}, nil)

	failed := ofType[DispenseFailed](f.events())
	require.Len(t, failed, 1)
	assert.Equal(t, vmc.DispenseJammed, failed[0].Status)

	jams, err := f.store.Jams()
	require.NoError(t, err)
	require.Len(t, jams, 1)
	assert.Equal(t, uint16(21), jams[0].Selection)

	sales, err := f.store.Sales()
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, store.OutcomeFailed, sales[0].Outcome)
}

func TestDispatcher_UnavailableSelectionFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(5)
	require.NoError(t, err)
	f.send()

	f.d.HandleMessage(vmc.SelectionStatus{State: vmc.SelectionOutOfStock, Selection: 5}, nil)

	assert.Equal(t, DispenseIdle, f.d.DispenseState(5))
	failed := ofType[DispenseFailed](f.events())
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Reason, "selection")
	jams, _ := f.store.Jams()
	assert.Empty(t, jams)
}

func TestDispatcher_SecondPurchaseRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(5)
	require.NoError(t, err)

	_, err = f.d.SubmitPurchase(6)
	assert.ErrorIs(t, err, ErrPurchaseInProgress)
	_, err = f.d.DirectDrive(6, false, false)
	assert.ErrorIs(t, err, ErrPurchaseInProgress)
	assert.Equal(t, 1, f.queue.Len())
}

func TestDispatcher_KeypadSelectionThenDirectDrive(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMessage(vmc.SelectCancel{Selection: 33}, nil)
	assert.Equal(t, DispenseSelecting, f.d.DispenseState(33))
	assert.Len(t, ofType[SelectionRequested](f.events()), 1)

	_, err := f.d.PaymentCaptured(vmc.PaymentBankCard, 200)
	require.NoError(t, err)
	_, err = f.d.DirectDrive(33, true, false)
	require.NoError(t, err)

	first := f.send()
	assert.Equal(t, byte(vmc.CmdMoneyReceived), first.Command)
	second := f.send()
	assert.Equal(t, byte(vmc.CmdDirectDrive), second.Command)

	s, ok := f.d.Session()
	require.True(t, ok)
	assert.Equal(t, uint32(200), s.Captured)
	assert.Equal(t, uint16(33), s.Selection)
}

func TestDispatcher_CancelWithdrawsQueuedCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(12)
	require.NoError(t, err)

	require.NoError(t, f.d.CancelPurchase())
	assert.Equal(t, 0, f.queue.Len(), "unsent buy is withdrawn without SELECT_CANCEL")
	assert.Equal(t, DispenseIdle, f.d.DispenseState(12))
	assert.Len(t, ofType[SelectionCancelled](f.events()), 1)

	assert.ErrorIs(t, f.d.CancelPurchase(), ErrNoPurchase)
}

func TestDispatcher_CancelAfterSendQueuesSelectCancel(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(12)
	require.NoError(t, err)
	f.send()

	require.NoError(t, f.d.CancelPurchase())
	p, ok := f.queue.TakeNext()
	require.True(t, ok)
	assert.Equal(t, vmc.SelectCancel{Selection: 0}, p.Message)
}

func TestDispatcher_CancelWhileDispensingRefused(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(12)
	require.NoError(t, err)
	f.send()
	f.d.HandleMessage(vmc.DispensingStatus{Status: vmc.DispenseInProgress, Selection: 12, HasSelection: true}, nil)

	assert.ErrorIs(t, f.d.CancelPurchase(), ErrAlreadyDispensing)
	assert.Equal(t, DispenseDispensing, f.d.DispenseState(12))
}

func TestDispatcher_VMCCancel(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMessage(vmc.SelectCancel{Selection: 40}, nil)
	f.d.HandleMessage(vmc.SelectCancel{Selection: 0}, nil)
	assert.Equal(t, DispenseIdle, f.d.DispenseState(40))
	assert.Len(t, ofType[SelectionCancelled](f.events()), 1)
}

func TestDispatcher_FailedExchangeFailsVend(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SubmitPurchase(12)
	require.NoError(t, err)
	p := f.send()

	timeout := &link.TimeoutError{Command: p.Command, Sequence: 1, Attempts: 6, PendingID: p.ID}
	f.d.HandleExchange(link.ExchangeEvent{PendingID: p.ID, Message: p.Message, Command: p.Command, Outcome: link.OutcomeFailed, Err: timeout})

	events := f.events()
	cf := ofType[CommandFailed](events)
	require.Len(t, cf, 1)
	assert.Equal(t, p.ID, cf[0].PendingID)
	assert.Len(t, ofType[DispenseFailed](events), 1)
	assert.Equal(t, DispenseIdle, f.d.DispenseState(12))
}

// ============================================================
// Configuration
// ============================================================

func TestDispatcher_VMCSetAppliesImmediately(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMessage(vmc.SetPrice{Selector: 14, Price: 325}, nil)

	rec, err := f.store.Selection(14)
	require.NoError(t, err)
	assert.Equal(t, uint32(325), rec.Price)

	changed := ofType[ConfigChanged](f.events())
	require.Len(t, changed, 1)
	assert.Equal(t, OriginVMC, changed[0].Origin)
}

func TestDispatcher_AppSetAppliesOnCompletion(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.SetInventory(vmc.TraySelector(2), 6)
	require.NoError(t, err)

	_, err = f.store.Selection(21)
	assert.ErrorIs(t, err, store.ErrNotFound, "store must not change before the VMC acknowledges")

	p := f.send()
	f.complete(p)

	all, err := f.store.Selections()
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, uint16(21), all[0].Number)
	assert.Equal(t, uint16(30), all[9].Number)
	for _, s := range all {
		assert.Equal(t, uint8(6), s.Inventory)
	}
	changed := ofType[ConfigChanged](f.events())
	require.Len(t, changed, 1)
	assert.Equal(t, OriginApp, changed[0].Origin)
}

func TestDispatcher_SetAllExpansion(t *testing.T) {
	t.Run("empty store covers default range", func(t *testing.T) {
		f := newFixture(t)
		f.d.HandleMessage(vmc.SetCapacity{Selector: vmc.SelectionAll, Capacity: 9}, nil)
		all, err := f.store.Selections()
		require.NoError(t, err)
		assert.Len(t, all, DefaultSelectionCount)
	})

	t.Run("known selections only", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.PutSelection(store.Selection{Number: 3}))
		require.NoError(t, f.store.PutSelection(store.Selection{Number: 57}))
		f.d.HandleMessage(vmc.SetCapacity{Selector: vmc.SelectionAll, Capacity: 9}, nil)
		all, err := f.store.Selections()
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, uint8(9), all[1].Capacity)
	})
}

func TestDispatcher_SelectionInfoAndFullyLoading(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMessage(vmc.SelectionInfo{Selection: 8, Price: 100, Inventory: 2, Capacity: 10}, nil)
	f.d.HandleMessage(vmc.FullyLoading{}, nil)

	rec, err := f.store.Selection(8)
	require.NoError(t, err)
	assert.True(t, rec.ReportedByVM)
	assert.Equal(t, uint8(10), rec.Inventory)

	events := f.events()
	assert.Len(t, ofType[SelectionReported](events), 1)
	assert.Len(t, ofType[FullyLoaded](events), 1)
}

// ============================================================
// Payment and status
// ============================================================

func TestDispatcher_MoneyNoticeIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.d.HandleMessage(vmc.MoneyNotice{Mode: vmc.PaymentBill, Amount: 500}, nil)

	p, ok := f.queue.TakeNext()
	require.True(t, ok)
	assert.Equal(t, vmc.MoneyNoticeAck{Mode: vmc.PaymentBill, Amount: 500}, p.Message)

	mc := ofType[MoneyCollected](f.events())
	require.Len(t, mc, 1)
	assert.Equal(t, uint32(500), mc[0].Total)
}

func TestDispatcher_ManualMoneyAck(t *testing.T) {
	q := link.NewOutboundQueue()
	d := New(q, Options{ManualMoneyAck: true})
	d.HandleMessage(vmc.MoneyNotice{Mode: vmc.PaymentCoin, Amount: 100}, nil)
	assert.Equal(t, 0, q.Len())
}

func TestDispatcher_LinkAndErrors(t *testing.T) {
	f := newFixture(t)
	f.d.HandleStatus(link.StatusUp)
	f.d.HandleError(errors.New("checksum mismatch"))
	f.d.HandleMessage(vmc.Unrecognized{Cmd: 0x7E, Payload: []byte{1}}, nil)

	events := f.events()
	require.Len(t, events, 3)
	assert.Equal(t, LinkStatusChanged{Status: link.StatusUp}, events[0])
	assert.IsType(t, ProtocolError{}, events[1])
	assert.Equal(t, UnrecognizedCommand{Command: 0x7E, Payload: []byte{1}}, events[2])
}

func TestDispatcher_RejectsInvalidCommands(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.CheckSelection(1001)
	assert.Error(t, err)
	_, err = f.d.SetPollInterval(5 * time.Second)
	assert.Error(t, err)
	assert.Equal(t, 0, f.queue.Len())
}

// ============================================================
// Bus
// ============================================================

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 3; i++ {
		b.Publish(Synchronized{})
	}
	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, uint64(2), b.Dropped())

	env := <-fast.C
	assert.Equal(t, uint64(1), env.Seq)
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(4)
	s.Close()
	s.Close()
	b.Publish(Synchronized{})
	_, open := <-s.C
	assert.False(t, open)
}

// ============================================================
// Payments
// ============================================================

func TestPayments_Session(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	p := NewPayments(func() time.Time { return now })

	_, ok := p.Current()
	assert.False(t, ok)

	s := p.Collected(vmc.PaymentCoin, 100)
	id := s.ID
	p.Collected(vmc.PaymentCoin, 50)
	p.ChangeRequested(30)
	p.ChangeDispensed(40)

	got, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, uint32(150), got.Collected)
	assert.Equal(t, uint32(0), got.ChangeDue)
	assert.Equal(t, uint32(40), got.ChangeOut)

	closed, ok := p.Close(true)
	require.True(t, ok)
	assert.True(t, closed.Vended)
	_, ok = p.Close(false)
	assert.False(t, ok)

	next := p.Select(3)
	assert.NotEqual(t, id, next.ID)
}
