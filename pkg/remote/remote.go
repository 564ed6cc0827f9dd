// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package remote exposes the machine to an MQTT broker. Requests arrive on
// vmc/<machine>/<verb> as JSON and are answered on a status topic once the
// VMC acknowledges the resulting command. Domain events are mirrored to
// vmc/<machine>/events.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Remote selections are limited to the first ten trays
const (
	MaxRemoteSelection = 100
	MaxTray            = 9
	DefaultReplyWait   = 30 * time.Second
	inboxDepth         = 64
)

// Request topics
const (
	TopicSetPrice           = "set_price"
	TopicSetInventory       = "set_inventory"
	TopicSetCapacity        = "set_capacity"
	TopicGetPrices          = "get_prices"
	TopicGetSales           = "get_sales"
	TopicGetInventoryByTray = "get_inventory_by_tray"
	TopicPing               = "ping"
	TopicBuy                = "buy"
	TopicCancel             = "cancel"
)

// Reply topics
const (
	TopicPriceStatus     = "price_update_status"
	TopicInventoryStatus = "inventory_update_status"
	TopicCapacityStatus  = "capacity_update_status"
	TopicPrices          = "prices"
	TopicSalesStatus     = "sales_update_status"
	TopicTrayStatus      = "inventory_by_tray_status"
	TopicPong            = "pong"
	TopicBuyStatus       = "buy_status"
	TopicCancelStatus    = "cancel_status"
	TopicEvents          = "events"
	TopicAvailability    = "status"
)

var requestTopics = []string{
	TopicSetPrice, TopicSetInventory, TopicSetCapacity, TopicGetPrices,
	TopicGetSales, TopicGetInventoryByTray, TopicPing, TopicBuy, TopicCancel,
}

var ErrInvalidRequest = errors.New("invalid request")

type message struct {
	topic   string
	payload []byte
}

// pending is a reply waiting for its command's exchange to finish
type pending struct {
	topic    string
	build    func(ok bool, reason string) any
	deadline time.Time
}

// Remote bridges MQTT requests to the dispatcher
type Remote struct {
	client  Client
	d       *dispatch.Dispatcher
	machine string
	log     zerolog.Logger
	now     func() time.Time

	// ReplyWait bounds how long a reply waits for the VMC
	ReplyWait time.Duration

	inbox   chan message
	pending map[uint64]*pending
}

func New(client Client, d *dispatch.Dispatcher, machine string, log zerolog.Logger) *Remote {
	return &Remote{
		client:    client,
		d:         d,
		machine:   machine,
		log:       log.With().Str("component", "remote").Str("machine", machine).Logger(),
		now:       time.Now,
		ReplyWait: DefaultReplyWait,
		inbox:     make(chan message, inboxDepth),
		pending:   make(map[uint64]*pending),
	}
}

func (r *Remote) topic(name string) string {
	return fmt.Sprintf("vmc/%s/%s", r.machine, name)
}

// Run subscribes to the request topics and serves them until ctx is done.
// Requests and dispatcher events are handled on one goroutine.
func (r *Remote) Run(ctx context.Context) error {
	sub := r.d.Bus().Subscribe(dispatch.DefaultSubscriberBuffer)
	defer sub.Close()

	for _, name := range requestTopics {
		if err := r.client.Subscribe(r.topic(name), r.enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}
	r.publishRaw(TopicAvailability, []byte("online"))

	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.inbox:
			r.handle(m.topic, m.payload)
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			r.observe(env)
		case <-sweep.C:
			r.expire(r.now())
		}
	}
}

// enqueue runs on the client's goroutine
func (r *Remote) enqueue(topic string, payload []byte) {
	select {
	case r.inbox <- message{topic: topic, payload: payload}:
	default:
		r.log.Warn().Str("topic", topic).Msg("request dropped, inbox full")
	}
}

func (r *Remote) handle(topic string, payload []byte) {
	var err error
	switch topic {
	case r.topic(TopicSetPrice):
		err = r.handleSet(payload, fieldPrice)
	case r.topic(TopicSetInventory):
		err = r.handleSet(payload, fieldInventory)
	case r.topic(TopicSetCapacity):
		err = r.handleSet(payload, fieldCapacity)
	case r.topic(TopicGetPrices):
		err = r.handleGetPrices()
	case r.topic(TopicGetSales):
		err = r.handleGetSales()
	case r.topic(TopicGetInventoryByTray):
		err = r.handleInventoryByTray(payload)
	case r.topic(TopicPing):
		err = r.handlePing(payload)
	case r.topic(TopicBuy):
		err = r.handleBuy(payload)
	case r.topic(TopicCancel):
		err = r.handleCancel()
	default:
		r.log.Debug().Str("topic", topic).Msg("ignoring topic")
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("request failed")
	}
}

func (r *Remote) publishJSON(name string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Error().Err(err).Str("topic", name).Msg("encode reply")
		return
	}
	r.publishRaw(name, b)
}

func (r *Remote) publishRaw(name string, b []byte) {
	if err := r.client.Publish(r.topic(name), b); err != nil {
		r.log.Warn().Err(err).Str("topic", name).Msg("publish failed")
	}
}

type errorReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r *Remote) fail(name string, err error) error {
	r.publishJSON(name, errorReply{Error: err.Error()})
	return err
}

// ============================================================
// Configuration sets
// ============================================================

type field int

const (
	fieldPrice field = iota
	fieldInventory
	fieldCapacity
)

func (f field) replyTopic() string {
	switch f {
	case fieldInventory:
		return TopicInventoryStatus
	case fieldCapacity:
		return TopicCapacityStatus
	default:
		return TopicPriceStatus
	}
}

type setRequest struct {
	Selection *int   `json:"selection"`
	Tray      *int   `json:"tray"`
	All       bool   `json:"all"`
	Price     *int64 `json:"price"`
	Inventory *int   `json:"inventory"`
	Capacity  *int   `json:"capacity"`
}

type setResult struct {
	Selection        *int `json:"selection,omitempty"`
	Tray             *int `json:"tray,omitempty"`
	All              bool `json:"all,omitempty"`
	SpecialSelection *int `json:"special_selection,omitempty"`
	Success          bool `json:"success"`
}

type setReply struct {
	Success   bool        `json:"success"`
	Tray      *int        `json:"tray"`
	Selection *int        `json:"selection"`
	Price     *int64      `json:"price,omitempty"`
	Inventory *int        `json:"inventory,omitempty"`
	Capacity  *int        `json:"capacity,omitempty"`
	Results   []setResult `json:"results"`
	Error     string      `json:"error,omitempty"`
}

// selector resolves the addressing of a set request
func (q setRequest) selector() (uint16, setResult, error) {
	switch {
	case q.Selection != nil:
		if *q.Selection < 1 || *q.Selection > MaxRemoteSelection {
			return 0, setResult{}, fmt.Errorf("%w: selection must be between 1 and %d", ErrInvalidRequest, MaxRemoteSelection)
		}
		return uint16(*q.Selection), setResult{Selection: q.Selection}, nil
	case q.Tray != nil:
		if *q.Tray < 0 || *q.Tray > MaxTray {
			return 0, setResult{}, fmt.Errorf("%w: tray must be between 0 and %d", ErrInvalidRequest, MaxTray)
		}
		special := int(vmc.TraySelector(*q.Tray))
		return uint16(special), setResult{Tray: q.Tray, SpecialSelection: &special}, nil
	case q.All:
		zero := 0
		return vmc.SelectionAll, setResult{All: true, SpecialSelection: &zero}, nil
	default:
		return 0, setResult{}, fmt.Errorf("%w: no selection, tray or all flag", ErrInvalidRequest)
	}
}

func byteValue(name string, v *int) (uint8, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidRequest, name)
	}
	if *v < 0 || *v > 255 {
		return 0, fmt.Errorf("%w: %s must be between 0 and 255", ErrInvalidRequest, name)
	}
	return uint8(*v), nil
}

func (r *Remote) handleSet(payload []byte, f field) error {
	var q setRequest
	if err := json.Unmarshal(payload, &q); err != nil {
		return r.fail(f.replyTopic(), fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	selector, result, err := q.selector()
	if err != nil {
		return r.fail(f.replyTopic(), err)
	}

	reply := setReply{Tray: q.Tray, Selection: q.Selection}
	var id uint64
	switch f {
	case fieldPrice:
		if q.Price == nil || *q.Price < 0 || *q.Price > 0xFFFFFFFF {
			return r.fail(f.replyTopic(), fmt.Errorf("%w: price must be between 0 and 4294967295", ErrInvalidRequest))
		}
		reply.Price = q.Price
		id, err = r.d.SetPrice(selector, uint32(*q.Price))
	case fieldInventory:
		var v uint8
		if v, err = byteValue("inventory", q.Inventory); err != nil {
			return r.fail(f.replyTopic(), err)
		}
		reply.Inventory = q.Inventory
		id, err = r.d.SetInventory(selector, v)
	case fieldCapacity:
		var v uint8
		if v, err = byteValue("capacity", q.Capacity); err != nil {
			return r.fail(f.replyTopic(), err)
		}
		reply.Capacity = q.Capacity
		id, err = r.d.SetCapacity(selector, v)
	}
	if err != nil {
		return r.fail(f.replyTopic(), err)
	}

	r.await(id, f.replyTopic(), func(ok bool, reason string) any {
		result.Success = ok
		reply.Success = ok
		reply.Error = reason
		reply.Results = []setResult{result}
		return reply
	})
	return nil
}

func (r *Remote) await(id uint64, topic string, build func(ok bool, reason string) any) {
	r.pending[id] = &pending{topic: topic, build: build, deadline: r.now().Add(r.ReplyWait)}
}

// observe mirrors an event and settles replies waiting on its command
func (r *Remote) observe(env dispatch.Envelope) {
	switch ev := env.Event.(type) {
	case dispatch.CommandCompleted:
		r.settle(ev.PendingID, true, "")
	case dispatch.CommandFailed:
		r.settle(ev.PendingID, false, ev.Err)
	}
	r.publishJSON(TopicEvents, eventMessage{
		Seq:   env.Seq,
		At:    env.At,
		Event: env.Event.EventName(),
		Data:  env.Event,
	})
}

type eventMessage struct {
	Seq   uint64         `json:"seq"`
	At    time.Time      `json:"at"`
	Event string         `json:"event"`
	Data  dispatch.Event `json:"data"`
}

func (r *Remote) settle(id uint64, ok bool, reason string) {
	p, found := r.pending[id]
	if !found {
		return
	}
	delete(r.pending, id)
	r.publishJSON(p.topic, p.build(ok, reason))
}

// expire fails replies the VMC never answered
func (r *Remote) expire(now time.Time) {
	for id, p := range r.pending {
		if now.After(p.deadline) {
			r.settle(id, false, "no answer from vending machine")
		}
	}
}

// ============================================================
// Queries
// ============================================================

type priceEntry struct {
	Selection uint16 `json:"selection"`
	Price     uint32 `json:"price"`
	Inventory uint8  `json:"inventory"`
	Capacity  uint8  `json:"capacity"`
}

func (r *Remote) handleGetPrices() error {
	sels, err := r.d.Store().Selections()
	if err != nil {
		return r.fail(TopicPrices, err)
	}
	out := make([]priceEntry, 0, len(sels))
	for _, s := range sels {
		out = append(out, priceEntry{Selection: s.Number, Price: s.Price, Inventory: s.Inventory, Capacity: s.Capacity})
	}
	r.publishJSON(TopicPrices, struct {
		Success bool         `json:"success"`
		Prices  []priceEntry `json:"prices"`
	}{true, out})
	return nil
}

type saleEntry struct {
	ID        string    `json:"id"`
	Selection uint16    `json:"selection"`
	Price     uint32    `json:"price"`
	Mode      string    `json:"mode,omitempty"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

func (r *Remote) handleGetSales() error {
	sales, err := r.d.Store().Sales()
	if err != nil {
		return r.fail(TopicSalesStatus, err)
	}
	out := make([]saleEntry, 0, len(sales))
	for _, s := range sales {
		e := saleEntry{ID: s.ID, Selection: s.Selection, Price: s.Price, Outcome: string(s.Outcome), At: s.At}
		if s.Mode != 0 {
			e.Mode = s.Mode.String()
		}
		out = append(out, e)
	}
	r.publishJSON(TopicSalesStatus, struct {
		Success bool        `json:"success"`
		Sales   []saleEntry `json:"sales"`
	}{true, out})
	return nil
}

type trayEntry struct {
	Selection uint16 `json:"selection"`
	Inventory uint8  `json:"inventory"`
}

func (r *Remote) handleInventoryByTray(payload []byte) error {
	var q struct {
		Tray *int `json:"tray"`
	}
	if err := json.Unmarshal(payload, &q); err != nil || q.Tray == nil {
		return r.fail(TopicTrayStatus, fmt.Errorf("%w: tray number not provided", ErrInvalidRequest))
	}
	sels, err := r.d.Store().Selections()
	if err != nil {
		return r.fail(TopicTrayStatus, err)
	}
	data := []trayEntry{}
	for _, s := range store.ForTray(sels, *q.Tray) {
		data = append(data, trayEntry{Selection: s.Number, Inventory: s.Inventory})
	}
	r.publishJSON(TopicTrayStatus, struct {
		Success bool        `json:"success"`
		Tray    int         `json:"tray"`
		Data    []trayEntry `json:"data"`
	}{true, *q.Tray, data})
	return nil
}

// handlePing echoes any payload fields that do not collide with the reply
func (r *Remote) handlePing(payload []byte) error {
	reply := map[string]any{
		"status":     "pong",
		"timestamp":  r.now().Unix(),
		"machine_id": r.machine,
	}
	var extra map[string]any
	if json.Unmarshal(payload, &extra) == nil {
		for k, v := range extra {
			if _, taken := reply[k]; !taken {
				reply[k] = v
			}
		}
	}
	r.publishJSON(TopicPong, reply)
	return nil
}

// ============================================================
// Purchases
// ============================================================

type buyReply struct {
	Success   bool   `json:"success"`
	Selection int    `json:"selection"`
	Error     string `json:"error,omitempty"`
}

func (r *Remote) handleBuy(payload []byte) error {
	var q struct {
		Selection *int `json:"selection"`
	}
	if err := json.Unmarshal(payload, &q); err != nil || q.Selection == nil {
		return r.fail(TopicBuyStatus, fmt.Errorf("%w: selection not provided", ErrInvalidRequest))
	}
	if *q.Selection < 1 || *q.Selection > vmc.MaxSelection {
		return r.fail(TopicBuyStatus, fmt.Errorf("%w: selection must be between 1 and %d", ErrInvalidRequest, vmc.MaxSelection))
	}
	id, err := r.d.SubmitPurchase(uint16(*q.Selection))
	if err != nil {
		r.publishJSON(TopicBuyStatus, buyReply{Selection: *q.Selection, Error: err.Error()})
		return err
	}
	sel := *q.Selection
	r.await(id, TopicBuyStatus, func(ok bool, reason string) any {
		return buyReply{Success: ok, Selection: sel, Error: reason}
	})
	return nil
}

func (r *Remote) handleCancel() error {
	if err := r.d.CancelPurchase(); err != nil {
		return r.fail(TopicCancelStatus, err)
	}
	r.publishJSON(TopicCancelStatus, struct {
		Success bool `json:"success"`
	}{true})
	return nil
}
