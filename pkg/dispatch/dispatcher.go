// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch routes decoded VMC messages to the dispensing, payment
// and configuration domains, publishes the resulting events and turns
// application requests into queued commands.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// DefaultSelectionCount is how many selections "all" covers when the store
// knows none
const DefaultSelectionCount = 100

var (
	ErrPurchaseInProgress = errors.New("another purchase is in progress")
	ErrNoPurchase         = errors.New("no purchase in progress")
	ErrAlreadyDispensing  = errors.New("selection is already dispensing")
)

// Options configures a Dispatcher
type Options struct {
	Store  store.Store
	Bus    *Bus
	Logger zerolog.Logger
	Clock  func() time.Time
	// ManualMoneyAck leaves MONEY_NOTICE_ACK to the application
	ManualMoneyAck bool
	// SelectionCount bounds "all" when the store is empty
	SelectionCount int
}

// Dispatcher implements link.Sink and the application API
type Dispatcher struct {
	mu    sync.Mutex
	queue *link.OutboundQueue
	store store.Store
	bus   *Bus
	log   zerolog.Logger
	now   func() time.Time
	opts  Options

	disp *Dispenser
	pay  *Payments
	// vends maps queued buy/drive commands to their selection
	vends map[uint64]uint16
}

// New creates a dispatcher feeding queue
func New(queue *link.OutboundQueue, opts Options) *Dispatcher {
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SelectionCount <= 0 {
		opts.SelectionCount = DefaultSelectionCount
	}
	return &Dispatcher{
		queue: queue,
		store: opts.Store,
		bus:   opts.Bus,
		log:   opts.Logger.With().Str("component", "dispatch").Logger(),
		now:   opts.Clock,
		opts:  opts,
		disp:  NewDispenser(),
		pay:   NewPayments(opts.Clock),
		vends: make(map[uint64]uint16),
	}
}

// Bus returns the event bus
func (d *Dispatcher) Bus() *Bus {
	return d.bus
}

// Store returns the configuration store
func (d *Dispatcher) Store() store.Store {
	return d.store
}

// DispenseState returns a selection's vend state
func (d *Dispatcher) DispenseState(sel uint16) DispenseState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disp.State(sel)
}

// Session returns the open payment session
func (d *Dispatcher) Session() (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pay.Current()
}

// ============================================================
// link.Sink
// ============================================================

// HandleMessage routes one decoded inbound message
func (d *Dispatcher) HandleMessage(m vmc.Message, _ *vmc.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch v := m.(type) {
	// Dispensing
	case vmc.SelectionStatus:
		d.bus.Publish(SelectionChecked{Selection: v.Selection, State: v.State})
		if t := d.disp.Checked(v.Selection, v.State); t != nil {
			d.terminal(t)
		}
	case vmc.DispensingStatus:
		t, started := d.disp.Status(v)
		if started {
			d.bus.Publish(DispenseStarted{Selection: d.disp.Current()})
		}
		if t != nil {
			d.terminal(t)
		}
	case vmc.SelectCancel:
		d.vmcSelect(v)

	// Configuration
	case vmc.SelectionInfo:
		d.selectionInfo(v)
	case vmc.SetPrice, vmc.SetInventory, vmc.SetCapacity, vmc.SetProductID:
		d.applySet(v, OriginVMC)
	case vmc.FullyLoading:
		d.fullyLoading(v)

	// Payment
	case vmc.MoneyNotice:
		s := d.pay.Collected(v.Mode, v.Amount)
		d.bus.Publish(MoneyCollected{SessionID: s.ID, Mode: v.Mode, Amount: v.Amount, Total: s.Collected})
		if !d.opts.ManualMoneyAck {
			d.enqueue(vmc.MoneyNoticeAck{Mode: v.Mode, Amount: v.Amount})
		}
	case vmc.CurrentAmount:
		s := d.pay.Credit(v.Amount)
		d.bus.Publish(CreditUpdated{SessionID: s.ID, Amount: v.Amount})
	case vmc.ChangeRequest:
		s := d.pay.ChangeRequested(v.Amount)
		d.bus.Publish(ChangeRequested{SessionID: s.ID, Amount: v.Amount})
	case vmc.DisplayRequest:
		d.bus.Publish(DisplayText{Text: string(v.Text)})
	case vmc.CheckICBalance:
		d.bus.Publish(BalanceRequested{CardID: v.CardID})
	case vmc.CardDeduction:
		d.bus.Publish(DeductionRequested{Selection: v.Selection, Amount: v.Amount})

	// Status and peripherals
	case vmc.SyncInfo:
		d.bus.Publish(Synchronized{})
	case vmc.MachineStatus:
		d.bus.Publish(MachineStatusReported{Status: v})
	case vmc.MachineStatusDetail:
		d.bus.Publish(PeripheralData{Command: vmc.CmdMachineStatusDetail, Data: v.Raw})
	case vmc.CallMenu:
		d.bus.Publish(PeripheralData{Command: vmc.CmdCallMenu, Data: v.Data})
	case vmc.MicrowaveInfo:
		d.bus.Publish(PeripheralData{Command: vmc.CmdMicrowaveInfo, Data: v.Data})
	case vmc.MenuResponse:
		d.bus.Publish(MenuAnswered{Subtype: v.Subtype, Params: v.Params})
	case vmc.Unrecognized:
		d.bus.Publish(UnrecognizedCommand{Command: v.Cmd, Payload: v.Payload})

	default:
		d.log.Debug().Str("command", vmc.CommandName(m.Command())).Msg("no handler")
	}
}

// HandleError publishes a protocol error
func (d *Dispatcher) HandleError(err error) {
	d.bus.Publish(ProtocolError{Err: err.Error()})
}

// HandleExchange follows queued commands through the link
func (d *Dispatcher) HandleExchange(ev link.ExchangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel, isVend := d.vends[ev.PendingID]
	switch ev.Outcome {
	case link.OutcomeSent:
		if isVend {
			d.disp.MarkSent(sel)
		}
	case link.OutcomeCompleted:
		delete(d.vends, ev.PendingID)
		d.bus.Publish(CommandCompleted{PendingID: ev.PendingID, Command: ev.Command})
		switch ev.Message.(type) {
		case vmc.SetPrice, vmc.SetInventory, vmc.SetCapacity, vmc.SetProductID:
			d.applySet(ev.Message, OriginApp)
		}
	case link.OutcomeFailed:
		delete(d.vends, ev.PendingID)
		reason := "communication failure"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		d.bus.Publish(CommandFailed{PendingID: ev.PendingID, Command: ev.Command, Err: reason})
		if isVend {
			if t := d.disp.Fail(sel, reason); t != nil {
				d.terminal(t)
			}
		}
	}
}

// HandleStatus publishes link status changes
func (d *Dispatcher) HandleStatus(s link.Status) {
	d.bus.Publish(LinkStatusChanged{Status: s})
}

// vmcSelect handles SELECT_CANCEL from the VMC: a customer picked a
// selection on the keypad, or cancelled
func (d *Dispatcher) vmcSelect(v vmc.SelectCancel) {
	if v.IsCancel() {
		cur := d.disp.Current()
		if cur == 0 {
			return
		}
		d.withdrawVends(cur)
		if d.disp.Cancel(cur) {
			d.bus.Publish(SelectionCancelled{Selection: cur})
			d.closeSession(false)
		}
		return
	}

	if d.disp.Active() {
		d.log.Warn().
			Uint16("selection", v.Selection).
			Uint16("current", d.disp.Current()).
			Msg("selection while a vend is active")
		return
	}
	d.disp.Select(v.Selection)
	d.pay.Select(v.Selection)
	d.bus.Publish(SelectionRequested{Selection: v.Selection})
}

// terminal reports a finished vend: sale and jam logs, inventory, events
// and the payment session close
func (d *Dispatcher) terminal(t *Terminal) {
	now := d.now()
	rec, err := d.store.Selection(t.Selection)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		d.log.Warn().Err(err).Uint16("selection", t.Selection).Msg("selection lookup failed")
	}
	sess, _ := d.pay.Current()

	sale := store.Sale{
		ID:        uuid.NewString(),
		Selection: t.Selection,
		Price:     rec.Price,
		Mode:      sess.Mode,
		SessionID: sess.ID,
		Outcome:   store.OutcomeFailed,
		At:        now,
	}
	if t.Succeeded {
		sale.Outcome = store.OutcomeSucceeded
	}
	if err := d.store.RecordSale(sale); err != nil {
		d.log.Warn().Err(err).Msg("recording sale failed")
	}

	if t.Succeeded {
		if err == nil && rec.Inventory > 0 {
			rec.Inventory--
			rec.UpdatedAt = now
			if err := d.store.PutSelection(rec); err != nil {
				d.log.Warn().Err(err).Msg("inventory update failed")
			}
		}
		d.log.Info().Uint16("selection", t.Selection).Str("sale", sale.ID).Msg("dispense succeeded")
		d.bus.Publish(DispenseSucceeded{Selection: t.Selection, SaleID: sale.ID, Price: rec.Price})
	} else {
		if t.Status != 0 {
			jam := store.Jam{ID: uuid.NewString(), Selection: t.Selection, Status: t.Status, Reason: t.Reason, At: now}
			if err := d.store.RecordJam(jam); err != nil {
				d.log.Warn().Err(err).Msg("recording jam failed")
			}
		}
		d.log.Warn().Uint16("selection", t.Selection).Str("reason", t.Reason).Msg("dispense failed")
		d.bus.Publish(DispenseFailed{Selection: t.Selection, Status: t.Status, Reason: t.Reason})
	}
	d.closeSession(t.Succeeded)
}

func (d *Dispatcher) closeSession(vended bool) {
	if s, ok := d.pay.Close(vended); ok {
		d.bus.Publish(SessionClosed{Session: s})
	}
}

func (d *Dispatcher) selectionInfo(v vmc.SelectionInfo) {
	rec, err := d.store.Selection(v.Selection)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		d.log.Warn().Err(err).Msg("selection lookup failed")
	}
	rec.Number = v.Selection
	rec.Price = v.Price
	rec.Inventory = v.Inventory
	rec.Capacity = v.Capacity
	if v.HasProductID {
		rec.ProductID = v.ProductID
	}
	if v.HasStatus {
		rec.State = v.Status
	}
	rec.ReportedByVM = true
	rec.UpdatedAt = d.now()
	if err := d.store.PutSelection(rec); err != nil {
		d.log.Warn().Err(err).Msg("storing selection failed")
	}
	d.bus.Publish(SelectionReported{Info: v})
}

func (d *Dispatcher) fullyLoading(v vmc.FullyLoading) {
	selector := uint16(vmc.SelectionAll)
	if v.HasSelector {
		selector = v.Selector
	}
	for _, sel := range d.expand(selector) {
		rec, err := d.store.Selection(sel)
		if err != nil {
			continue
		}
		rec.Inventory = rec.Capacity
		rec.UpdatedAt = d.now()
		if err := d.store.PutSelection(rec); err != nil {
			d.log.Warn().Err(err).Msg("storing selection failed")
		}
	}
	d.bus.Publish(FullyLoaded{Selector: v.Selector, HasSelector: v.HasSelector})
}

// applySet writes a configuration set to every selection it addresses
func (d *Dispatcher) applySet(m vmc.Message, origin Origin) {
	var (
		selector uint16
		field    string
		value    uint32
		set      func(*store.Selection)
	)
	switch v := m.(type) {
	case vmc.SetPrice:
		selector, field, value = v.Selector, "price", v.Price
		set = func(s *store.Selection) { s.Price = v.Price }
	case vmc.SetInventory:
		selector, field, value = v.Selector, "inventory", uint32(v.Inventory)
		set = func(s *store.Selection) { s.Inventory = v.Inventory }
	case vmc.SetCapacity:
		selector, field, value = v.Selector, "capacity", uint32(v.Capacity)
		set = func(s *store.Selection) { s.Capacity = v.Capacity }
	case vmc.SetProductID:
		selector, field, value = v.Selector, "product_id", uint32(v.ProductID)
		set = func(s *store.Selection) { s.ProductID = v.ProductID }
	default:
		return
	}

	now := d.now()
	for _, sel := range d.expand(selector) {
		rec, err := d.store.Selection(sel)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			d.log.Warn().Err(err).Msg("selection lookup failed")
			continue
		}
		rec.Number = sel
		set(&rec)
		rec.UpdatedAt = now
		if err := d.store.PutSelection(rec); err != nil {
			d.log.Warn().Err(err).Msg("storing selection failed")
		}
	}
	d.log.Debug().
		Str("selector", vmc.FormatSelector(selector)).
		Str("field", field).
		Uint32("value", value).
		Str("origin", string(origin)).
		Msg("configuration changed")
	d.bus.Publish(ConfigChanged{Selector: selector, Field: field, Value: value, Origin: origin})
}

// expand turns a selector into the selections it addresses
func (d *Dispatcher) expand(selector uint16) []uint16 {
	switch {
	case selector == vmc.SelectionAll:
		all, err := d.store.Selections()
		if err == nil && len(all) > 0 {
			out := make([]uint16, 0, len(all))
			for _, s := range all {
				out = append(out, s.Number)
			}
			return out
		}
		out := make([]uint16, 0, d.opts.SelectionCount)
		for n := 1; n <= d.opts.SelectionCount; n++ {
			out = append(out, uint16(n))
		}
		return out
	case selector >= vmc.TraySelectorMin && selector <= vmc.TraySelectorMax:
		return vmc.TraySelections(int(selector - vmc.TraySelectorMin))
	default:
		return []uint16{selector}
	}
}

// ============================================================
// Application API
// ============================================================

func (d *Dispatcher) enqueue(m vmc.Message) (uint64, error) {
	id, err := d.queue.Enqueue(m)
	if err != nil {
		return 0, fmt.Errorf("queue %s: %w", vmc.CommandName(m.Command()), err)
	}
	return id, nil
}

func (d *Dispatcher) withdrawVends(sel uint16) int {
	return d.queue.CancelWhere(func(p link.PendingCommand) bool {
		s, ok := d.vends[p.ID]
		if ok && s == sel {
			delete(d.vends, p.ID)
			return true
		}
		return false
	})
}

func (d *Dispatcher) startVend(sel uint16, m vmc.Message) (uint64, error) {
	if cur := d.disp.Current(); cur != 0 && (cur != sel || d.disp.State(cur) != DispenseSelecting || d.disp.Sent(cur)) {
		return 0, ErrPurchaseInProgress
	}
	id, err := d.enqueue(m)
	if err != nil {
		return 0, err
	}
	if d.disp.Current() != sel {
		d.disp.Select(sel)
	}
	d.pay.Select(sel)
	d.vends[id] = sel
	return id, nil
}

// SubmitPurchase asks the VMC to vend sel through its own payment flow
func (d *Dispatcher) SubmitPurchase(sel uint16) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startVend(sel, vmc.SelectToBuy{Selection: sel})
}

// DirectDrive runs the motor of sel after an external payment. The
// selection may already be Selecting from the VMC keypad.
func (d *Dispatcher) DirectDrive(sel uint16, dropSensor, elevator bool) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startVend(sel, vmc.DirectDrive{DropSensor: dropSensor, Elevator: elevator, Selection: sel})
}

// CancelPurchase withdraws the current vend. A command still queued is
// removed; one already sent is cancelled with SELECT_CANCEL 0.
func (d *Dispatcher) CancelPurchase() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.disp.Current()
	if cur == 0 {
		return ErrNoPurchase
	}
	if d.disp.State(cur) == DispenseDispensing {
		return ErrAlreadyDispensing
	}

	withdrawn := d.withdrawVends(cur)
	if d.disp.Sent(cur) || withdrawn == 0 {
		if _, err := d.enqueue(vmc.SelectCancel{Selection: vmc.SelectionAll}); err != nil {
			return err
		}
	}
	d.disp.Cancel(cur)
	d.bus.Publish(SelectionCancelled{Selection: cur})
	d.closeSession(false)
	return nil
}

// PaymentCaptured tells the VMC an external terminal took payment
func (d *Dispatcher) PaymentCaptured(mode vmc.PaymentMode, amount uint32) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.enqueue(vmc.MoneyReceived{Mode: mode, Amount: amount})
	if err != nil {
		return 0, err
	}
	d.pay.Captured(mode, amount)
	return id, nil
}

// ChangeDispensed reports change paid out for a CHANGE_REQUEST
func (d *Dispatcher) ChangeDispensed(amount uint32) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.enqueue(vmc.ChangeResponse{Amount: amount})
	if err != nil {
		return 0, err
	}
	d.pay.ChangeDispensed(amount)
	return id, nil
}

// AcknowledgeMoney confirms a MONEY_NOTICE when ManualMoneyAck is set
func (d *Dispatcher) AcknowledgeMoney(mode vmc.PaymentMode, amount uint32) (uint64, error) {
	return d.enqueue(vmc.MoneyNoticeAck{Mode: mode, Amount: amount})
}

// SetPrice queues a price set; the store follows once the VMC acknowledges
func (d *Dispatcher) SetPrice(selector uint16, price uint32) (uint64, error) {
	return d.enqueue(vmc.SetPrice{Selector: selector, Price: price})
}

// SetInventory queues an inventory set
func (d *Dispatcher) SetInventory(selector uint16, inventory uint8) (uint64, error) {
	return d.enqueue(vmc.SetInventory{Selector: selector, Inventory: inventory})
}

// SetCapacity queues a capacity set
func (d *Dispatcher) SetCapacity(selector uint16, capacity uint8) (uint64, error) {
	return d.enqueue(vmc.SetCapacity{Selector: selector, Capacity: capacity})
}

// SetProductID queues a product ID assignment
func (d *Dispatcher) SetProductID(selector uint16, id uint16) (uint64, error) {
	return d.enqueue(vmc.SetProductID{Selector: selector, ProductID: id})
}

// CheckSelection asks the VMC whether sel can be vended
func (d *Dispatcher) CheckSelection(sel uint16) (uint64, error) {
	return d.enqueue(vmc.CheckSelection{Selection: sel})
}

// RequestMachineStatus asks for the peripheral summary
func (d *Dispatcher) RequestMachineStatus() (uint64, error) {
	return d.enqueue(vmc.MachineStatusRequest{})
}

// RequestMachineStatusDetail asks for the vendor-specific status
func (d *Dispatcher) RequestMachineStatusDetail() (uint64, error) {
	return d.enqueue(vmc.MachineStatusDetailRequest{})
}

// SetPollInterval changes the VMC poll cadence
func (d *Dispatcher) SetPollInterval(interval time.Duration) (uint64, error) {
	return d.enqueue(vmc.SetPollInterval{Interval: interval})
}

// SetAcceptance enables or disables a cash device
func (d *Dispatcher) SetAcceptance(device vmc.Device, enabled bool) (uint64, error) {
	return d.enqueue(vmc.SetAcceptance{Device: device, Enabled: enabled})
}

// SendMenu queues a menu sub-command
func (d *Dispatcher) SendMenu(subtype vmc.MenuSubtype, params []byte) (uint64, error) {
	return d.enqueue(vmc.MenuCommand{Subtype: subtype, Params: params})
}

// Sync queues an information synchronization packet
func (d *Dispatcher) Sync() (uint64, error) {
	return d.enqueue(vmc.SyncInfo{})
}

// AnswerBalance answers CHECK_IC_BALANCE
func (d *Dispatcher) AnswerBalance(balance uint32) (uint64, error) {
	return d.enqueue(vmc.ICBalance{Balance: balance})
}

// AnswerDeduction answers CARD_DEDUCTION
func (d *Dispatcher) AnswerDeduction(ok bool) (uint64, error) {
	return d.enqueue(vmc.CardDeductionResult{OK: ok})
}
