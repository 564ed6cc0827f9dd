// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Reconnect backoff bounds
const (
	ReconnectDelay    = 5 * time.Second
	MaxReconnectDelay = 60 * time.Second
	publishTimeout    = 5 * time.Second
)

// Handler receives one inbound message
type Handler func(topic string, payload []byte)

// Client is the broker surface the controller needs
type Client interface {
	Subscribe(topic string, h Handler) error
	Publish(topic string, payload []byte) error
	Close()
}

type PahoOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic receives "offline" if the connection drops
	WillTopic string
}

// PahoClient is a Client on eclipse/paho. Subscriptions are restored after
// every reconnect.
type PahoClient struct {
	c   mqtt.Client
	log zerolog.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// Dial starts connecting to the broker. Connection and reconnection continue
// in the background with a backoff from ReconnectDelay to MaxReconnectDelay.
func Dial(opts PahoOptions, log zerolog.Logger) (*PahoClient, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	p := &PahoClient{
		log:  log.With().Str("component", "mqtt").Str("broker", opts.Broker).Logger(),
		subs: make(map[string]Handler),
	}

	o := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(ReconnectDelay).
		SetMaxReconnectInterval(MaxReconnectDelay).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn().Err(err).Msg("connection lost")
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			p.log.Info().Msg("reconnecting")
		})
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		o.SetWill(opts.WillTopic, "offline", 1, true)
	}

	p.c = mqtt.NewClient(o)
	// With ConnectRetry the token only completes once connected
	p.c.Connect()
	return p, nil
}

func (p *PahoClient) onConnect(c mqtt.Client) {
	p.log.Info().Msg("connected")
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, h := range p.subs {
		if err := p.subscribe(topic, h); err != nil {
			p.log.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (p *PahoClient) subscribe(topic string, h Handler) error {
	tok := p.c.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	return tok.Error()
}

// Subscribe registers h for topic, now when connected and after every
// reconnect
func (p *PahoClient) Subscribe(topic string, h Handler) error {
	p.mu.Lock()
	p.subs[topic] = h
	p.mu.Unlock()
	if !p.c.IsConnectionOpen() {
		return nil
	}
	return p.subscribe(topic, h)
}

func (p *PahoClient) Publish(topic string, payload []byte) error {
	if !p.c.IsConnectionOpen() {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	tok := p.c.Publish(topic, 1, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return tok.Error()
}

func (p *PahoClient) Close() {
	p.c.Disconnect(250)
}
