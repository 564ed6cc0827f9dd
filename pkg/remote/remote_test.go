// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/store"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// ============================================================
// Test Helpers
// ============================================================

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	published []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]Handler)}
}

func (c *fakeClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
	return nil
}

func (c *fakeClient) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, payload})
	return nil
}

func (c *fakeClient) Close() {}

func (c *fakeClient) deliver(topic string, payload string) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if ok {
		h(topic, []byte(payload))
	}
	return ok
}

// last decodes the most recent message on topic
func (c *fakeClient) last(t *testing.T, topic string) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			var out map[string]any
			require.NoError(t, json.Unmarshal(c.published[i].payload, &out))
			return out
		}
	}
	return nil
}

type fixture struct {
	client *fakeClient
	queue  *link.OutboundQueue
	store  *store.Memory
	d      *dispatch.Dispatcher
	r      *Remote
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		client: newFakeClient(),
		queue:  link.NewOutboundQueue(),
		store:  store.NewMemory(),
		now:    time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
	f.d = dispatch.New(f.queue, dispatch.Options{Store: f.store})
	f.r = New(f.client, f.d, "m1", zerolog.Nop())
	f.r.now = func() time.Time { return f.now }
	return f
}

// complete acknowledges the next queued command the way the engine would
func (f *fixture) complete(t *testing.T) link.PendingCommand {
	t.Helper()
	p, ok := f.queue.TakeNext()
	require.True(t, ok)
	f.d.HandleExchange(link.ExchangeEvent{PendingID: p.ID, Message: p.Message, Command: p.Command, Outcome: link.OutcomeCompleted})
	f.r.settle(p.ID, true, "")
	return p
}

// ============================================================
// Sets
// ============================================================

func TestSetPrice_Selection(t *testing.T) {
	f := newFixture()
	f.r.handle("vmc/m1/set_price", []byte(`{"selection": 12, "price": 150}`))

	p := f.complete(t)
	assert.Equal(t, vmc.SetPrice{Selector: 12, Price: 150}, p.Message)

	reply := f.client.last(t, "vmc/m1/price_update_status")
	require.NotNil(t, reply)
	assert.Equal(t, true, reply["success"])
	assert.Equal(t, 12.0, reply["selection"])
	assert.Nil(t, reply["tray"])
	assert.Equal(t, 150.0, reply["price"])

	rec, err := f.store.Selection(12)
	require.NoError(t, err)
	assert.Equal(t, uint32(150), rec.Price)
}

func TestSetInventory_Tray(t *testing.T) {
	f := newFixture()
	f.r.handle("vmc/m1/set_inventory", []byte(`{"tray": 2, "inventory": 7}`))

	p := f.complete(t)
	assert.Equal(t, vmc.SetInventory{Selector: 1002, Inventory: 7}, p.Message)

	reply := f.client.last(t, "vmc/m1/inventory_update_status")
	results := reply["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, 1002.0, first["special_selection"])
	assert.Equal(t, true, first["success"])

	all, err := f.store.Selections()
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestSetCapacity_All(t *testing.T) {
	f := newFixture()
	f.r.handle("vmc/m1/set_capacity", []byte(`{"all": true, "capacity": 12}`))
	p := f.complete(t)
	assert.Equal(t, vmc.SetCapacity{Selector: 0, Capacity: 12}, p.Message)
}

func TestSet_RejectsInvalid(t *testing.T) {
	tests := map[string]struct {
		topic, reply, payload string
	}{
		"selection range": {"set_price", "price_update_status", `{"selection": 101, "price": 1}`},
		"no address":      {"set_price", "price_update_status", `{"price": 1}`},
		"missing value":   {"set_inventory", "inventory_update_status", `{"selection": 3}`},
		"value range":     {"set_capacity", "capacity_update_status", `{"tray": 1, "capacity": 256}`},
		"tray range":      {"set_capacity", "capacity_update_status", `{"tray": 10, "capacity": 1}`},
		"bad json":        {"set_price", "price_update_status", `{"selection":`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.r.handle("vmc/m1/"+tt.topic, []byte(tt.payload))
			assert.Equal(t, 0, f.queue.Len())
			reply := f.client.last(t, "vmc/m1/"+tt.reply)
			require.NotNil(t, reply)
			assert.Equal(t, false, reply["success"])
			assert.NotEmpty(t, reply["error"])
		})
	}
}

func TestSet_FailureAndExpiry(t *testing.T) {
	f := newFixture()
	f.r.handle("vmc/m1/set_price", []byte(`{"selection": 1, "price": 10}`))
	f.r.handle("vmc/m1/set_price", []byte(`{"selection": 2, "price": 20}`))
	first, _ := f.queue.TakeNext()

	f.r.observe(dispatch.Envelope{Event: dispatch.CommandFailed{PendingID: first.ID, Err: "communication timeout"}})
	reply := f.client.last(t, "vmc/m1/price_update_status")
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, "communication timeout", reply["error"])

	f.now = f.now.Add(DefaultReplyWait + time.Second)
	f.r.expire(f.now)
	reply = f.client.last(t, "vmc/m1/price_update_status")
	assert.Equal(t, 2.0, reply["selection"])
	assert.Equal(t, false, reply["success"])
	assert.Empty(t, f.r.pending)
}

// ============================================================
// Queries
// ============================================================

func TestGetPricesAndTray(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.PutSelection(store.Selection{Number: 11, Price: 100, Inventory: 3, Capacity: 5}))
	require.NoError(t, f.store.PutSelection(store.Selection{Number: 4, Price: 90}))

	f.r.handle("vmc/m1/get_prices", []byte(`{}`))
	prices := f.client.last(t, "vmc/m1/prices")["prices"].([]any)
	require.Len(t, prices, 2)
	assert.Equal(t, 4.0, prices[0].(map[string]any)["selection"])

	f.r.handle("vmc/m1/get_inventory_by_tray", []byte(`{"tray": 1}`))
	tray := f.client.last(t, "vmc/m1/inventory_by_tray_status")
	assert.Equal(t, true, tray["success"])
	data := tray["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, 3.0, data[0].(map[string]any)["inventory"])

	f.r.handle("vmc/m1/get_inventory_by_tray", []byte(`{}`))
	assert.Equal(t, false, f.client.last(t, "vmc/m1/inventory_by_tray_status")["success"])
}

func TestGetSales(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.store.RecordSale(store.Sale{ID: "s1", Selection: 4, Price: 90, Mode: vmc.PaymentCoin, Outcome: store.OutcomeSucceeded, At: f.now}))

	f.r.handle("vmc/m1/get_sales", nil)
	sales := f.client.last(t, "vmc/m1/sales_update_status")["sales"].([]any)
	require.Len(t, sales, 1)
	sale := sales[0].(map[string]any)
	assert.Equal(t, "COIN", sale["mode"])
	assert.Equal(t, "succeeded", sale["outcome"])
}

func TestPing(t *testing.T) {
	f := newFixture()
	f.r.handle("vmc/m1/ping", []byte(`{"request_id": "abc", "status": "ignored"}`))
	pong := f.client.last(t, "vmc/m1/pong")
	assert.Equal(t, "pong", pong["status"])
	assert.Equal(t, "m1", pong["machine_id"])
	assert.Equal(t, "abc", pong["request_id"])
	assert.Equal(t, float64(f.now.Unix()), pong["timestamp"])
}

// ============================================================
// Purchases and events
// ============================================================

func TestBuyAndCancel(t *testing.T) {
	f := newFixture()
	f.r.handle("vmc/m1/buy", []byte(`{"selection": 21}`))
	assert.Equal(t, dispatch.DispenseSelecting, f.d.DispenseState(21))

	f.r.handle("vmc/m1/buy", []byte(`{"selection": 22}`))
	second := f.client.last(t, "vmc/m1/buy_status")
	assert.Equal(t, false, second["success"])

	f.r.handle("vmc/m1/cancel", nil)
	assert.Equal(t, true, f.client.last(t, "vmc/m1/cancel_status")["success"])
	assert.Equal(t, 0, f.queue.Len())
}

func TestRun_ServesAndMirrorsEvents(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.client.deliver("vmc/m1/set_price", `{"selection": 5, "price": 55}`)
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.queue.Len() == 1 }, time.Second, 5*time.Millisecond)

	p, _ := f.queue.TakeNext()
	f.d.HandleExchange(link.ExchangeEvent{PendingID: p.ID, Message: p.Message, Command: p.Command, Outcome: link.OutcomeCompleted})

	require.Eventually(t, func() bool {
		reply := f.client.last(t, "vmc/m1/price_update_status")
		return reply != nil && reply["success"] == true
	}, time.Second, 5*time.Millisecond)

	ev := f.client.last(t, "vmc/m1/events")
	require.NotNil(t, ev)
	assert.NotEmpty(t, ev["event"])

	cancel()
	require.NoError(t, <-done)
}
