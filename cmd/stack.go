// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/vendlink/pkg/capture"
	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/metrics"
	"github.com/Thermoquad/vendlink/pkg/planogram"
	"github.com/Thermoquad/vendlink/pkg/remote"
	"github.com/Thermoquad/vendlink/pkg/store"
)

// addEngineFlags registers the flags of commands that answer the VMC
func addEngineFlags(f *pflag.FlagSet) {
	f.DurationVar(&cfg.PollDeadline, "poll-deadline", cfg.PollDeadline, "Time the VMC allows for an answer")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retransmissions before a command fails")
	f.DurationVar(&cfg.RecordTTL, "record-ttl", cfg.RecordTTL, "How long inbound frames are remembered for duplicate detection")
	f.IntVar(&cfg.DegradedAfter, "degraded-after", cfg.DegradedAfter, "Consecutive timeouts before the link is degraded")
	f.DurationVar(&cfg.LinkDownAfter, "link-down-after", cfg.LinkDownAfter, "Silence before the link is down")
	f.BoolVar(&cfg.EchoAckSequence, "echo-ack-seq", false, "Answer with an ACK carrying the frame's communication number")
	f.StringVar(&cfg.Planogram, "planogram", "", "Planogram TOML file pushed to the VMC on start and on change")
	f.StringVar(&cfg.CaptureFile, "capture", "", "Record all traffic to this file")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9110)")
	f.StringVar(&cfg.MQTTBroker, "mqtt-broker", "", "MQTT broker URL for remote control (e.g. tcp://host:1883)")
	f.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client identifier")
	f.StringVar(&cfg.MQTTUsername, "mqtt-username", "", "MQTT username")
	f.StringVar(&cfg.MQTTPassword, "mqtt-password", "", "MQTT password")
}

func openStore() (store.Store, error) {
	if cfg.StoreDir == "" {
		return store.NewMemory(), nil
	}
	st, err := store.OpenBitcask(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// stack is everything between the connection and the outer adapters
type stack struct {
	log      zerolog.Logger
	conn     Connection
	connInfo string
	store    store.Store
	capture  *capture.Writer
	engine   *link.Engine
	dispatch *dispatch.Dispatcher
}

func openStack(log zerolog.Logger) (*stack, error) {
	s := &stack{log: log}
	var err error

	if s.store, err = openStore(); err != nil {
		return nil, err
	}

	lc := cfg.LinkConfig(log)
	if cfg.CaptureFile != "" {
		s.capture, err = capture.Create(cfg.CaptureFile, capture.Header{MachineID: cfg.MachineID})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open capture: %w", err)
		}
		lc.Tap = s.capture
	}

	if s.conn, s.connInfo, err = OpenConnection(); err != nil {
		s.Close()
		return nil, err
	}

	queue := link.NewOutboundQueue()
	s.dispatch = dispatch.New(queue, dispatch.Options{Store: s.store, Logger: log})
	s.engine = link.NewEngine(lc, s.conn, queue, s.dispatch)
	return s, nil
}

func (s *stack) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.log.Error().Err(err).Msg("capture incomplete")
		} else {
			s.log.Info().Int("frames", s.capture.Frames()).Str("file", cfg.CaptureFile).Msg("capture written")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Error().Err(err).Msg("close store")
		}
	}
}

// services returns the engine plus every adapter the configuration enables
func (s *stack) services() ([]service, error) {
	svcs := []service{{"engine", func(ctx context.Context) error { return s.engine.Run(ctx, s.conn) }}}

	if cfg.Planogram != "" {
		w := planogram.NewWatcher(cfg.Planogram, s.store, s.dispatch, s.log)
		svcs = append(svcs, service{"planogram", w.Run})
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		c := metrics.NewCollector(cfg.MachineID, s.engine, s.dispatch.Bus())
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		sub := s.dispatch.Bus().Subscribe(dispatch.DefaultSubscriberBuffer)
		svcs = append(svcs,
			service{"metrics", func(ctx context.Context) error { return metrics.Serve(ctx, cfg.MetricsAddr, reg, s.log) }},
			service{"metrics-events", func(ctx context.Context) error {
				defer sub.Close()
				c.Observe(ctx, sub)
				return nil
			}},
		)
	}

	if cfg.MQTTBroker != "" {
		r, client, err := s.remote()
		if err != nil {
			return nil, err
		}
		svcs = append(svcs, service{"remote", func(ctx context.Context) error {
			defer client.Close()
			return r.Run(ctx)
		}})
	}
	return svcs, nil
}

func (s *stack) remote() (*remote.Remote, remote.Client, error) {
	client, err := remote.Dial(remote.PahoOptions{
		Broker:    cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		WillTopic: fmt.Sprintf("vmc/%s/%s", cfg.MachineID, remote.TopicAvailability),
	}, s.log)
	if err != nil {
		return nil, nil, err
	}
	return remote.New(client, s.dispatch, cfg.MachineID, s.log), client, nil
}

type service struct {
	name string
	run  func(ctx context.Context) error
}

// runServices runs every service until ctx is done or one of them returns.
// The first failure cancels the rest and is returned.
func runServices(ctx context.Context, log zerolog.Logger, svcs []service) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, svc := range svcs {
		g.Go(func() error {
			// A service that stops on its own, like the engine at EOF, ends the run
			defer cancel()
			err := svc.run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				log.Debug().Str("service", svc.name).Msg("service stopped")
				return nil
			}
			log.Error().Err(err).Str("service", svc.name).Msg("service failed")
			return fmt.Errorf("%s: %w", svc.name, err)
		})
	}
	return g.Wait()
}
