// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes link and dispatcher counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/link"
)

const namespace = "vendlink"

// LinkSource is the engine surface the collector reads; *link.Engine
// satisfies it
type LinkSource interface {
	Statistics() *link.Statistics
	Status() link.Status
	State() link.State
	Queue() *link.OutboundQueue
}

func desc(subsystem, name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, []string{"machine"}, nil)
}

var (
	framesReceived   = desc("link", "frames_received_total", "Checksum-valid frames received.")
	polls            = desc("link", "polls_total", "POLL frames received.")
	acksReceived     = desc("link", "acks_received_total", "ACK frames received.")
	naks             = desc("link", "naks_total", "NAK frames received.")
	checksumFailures = desc("link", "checksum_failures_total", "Frames rejected for a bad checksum.")
	resyncBytes      = desc("link", "resync_bytes_total", "Bytes discarded while hunting for a frame header.")
	duplicates       = desc("link", "duplicates_total", "Retransmitted inbound frames suppressed.")
	malformed        = desc("link", "malformed_total", "Frames whose payload failed to decode.")
	unrecognized     = desc("link", "unrecognized_total", "Frames with an unknown command byte.")
	framesSent       = desc("link", "frames_sent_total", "Frames written to the transport.")
	commandsSent     = desc("link", "commands_sent_total", "Queued commands transmitted for the first time.")
	retries          = desc("link", "retries_total", "Command retransmissions.")
	timeouts         = desc("link", "timeouts_total", "Exchanges that exhausted their retries.")
	abandoned        = desc("link", "abandoned_total", "Exchanges abandoned on a mismatched ACK.")
	completed        = desc("link", "completed_total", "Exchanges acknowledged by the VMC.")
	status           = desc("link", "status", "Link status: 0 down, 1 up, 2 degraded.")
	awaiting         = desc("link", "awaiting_ack", "1 while an outbound exchange waits for its ACK.")
	queueDepth       = desc("link", "queue_depth", "Commands waiting for a POLL.")
	busDropped       = desc("dispatch", "events_dropped_total", "Events dropped because a subscriber was full.")
)

// Collector reads the engine and bus at scrape time
type Collector struct {
	machine string
	link    LinkSource
	bus     *dispatch.Bus
	now     func() time.Time

	events *prometheus.CounterVec
}

func NewCollector(machine string, src LinkSource, bus *dispatch.Bus) *Collector {
	return &Collector{
		machine: machine,
		link:    src,
		bus:     bus,
		now:     time.Now,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "dispatch",
			Name:        "events_total",
			Help:        "Domain events published, by event name.",
			ConstLabels: prometheus.Labels{"machine": machine},
		}, []string{"event"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		framesReceived, polls, acksReceived, naks, checksumFailures, resyncBytes,
		duplicates, malformed, unrecognized, framesSent, commandsSent, retries,
		timeouts, abandoned, completed, status, awaiting, queueDepth, busDropped,
	} {
		ch <- d
	}
	c.events.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.link.Statistics().Snapshot(c.now())
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), c.machine)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, c.machine)
	}

	counter(framesReceived, s.FramesReceived)
	counter(polls, s.Polls)
	counter(acksReceived, s.AcksReceived)
	counter(naks, s.Naks)
	counter(checksumFailures, s.ChecksumFailures)
	counter(resyncBytes, s.ResyncBytes)
	counter(duplicates, s.Duplicates)
	counter(malformed, s.Malformed)
	counter(unrecognized, s.Unrecognized)
	counter(framesSent, s.FramesSent)
	counter(commandsSent, s.CommandsSent)
	counter(retries, s.Retries)
	counter(timeouts, s.Timeouts)
	counter(abandoned, s.Abandoned)
	counter(completed, s.Completed)

	gauge(status, float64(c.link.Status()))
	var wait float64
	if c.link.State() != link.StateIdle {
		wait = 1
	}
	gauge(awaiting, wait)
	gauge(queueDepth, float64(c.link.Queue().Len()))
	if c.bus != nil {
		counter(busDropped, c.bus.Dropped())
	}

	c.events.Collect(ch)
}

// Observe counts events from sub until ctx is done or sub closes
func (c *Collector) Observe(ctx context.Context, sub *dispatch.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			c.events.WithLabelValues(env.Event.EventName()).Inc()
		}
	}
}

// Handler serves the registry in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Info().Str("component", "metrics").Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
