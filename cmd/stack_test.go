// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vendlink/pkg/dispatch"
	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunServices_FirstFailureStopsAll(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})
	svcs := []service{
		{"waits", func(ctx context.Context) error {
			defer close(stopped)
			return blockUntilDone(ctx)
		}},
		{"fails", func(context.Context) error { return boom }},
	}

	err := runServices(context.Background(), zerolog.Nop(), svcs)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fails")
	select {
	case <-stopped:
	default:
		t.Fatal("waiting service was not stopped")
	}
}

func TestRunServices_CleanStopEndsRun(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		done <- runServices(context.Background(), zerolog.Nop(), []service{
			{"waits", blockUntilDone},
			{"eof", func(context.Context) error { return nil }},
		})
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("services did not stop")
	}
}

func TestRunServices_CancelIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServices(ctx, zerolog.Nop(), []service{{"a", blockUntilDone}, {"b", blockUntilDone}})
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("services did not stop")
	}
}

func TestLineWriter_DropsWhenFull(t *testing.T) {
	w := make(lineWriter, 1)
	n, err := w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, "first", <-w)
	assert.Empty(t, w)
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		event   dispatch.Event
		text    string
		isError bool
	}{
		{dispatch.LinkStatusChanged{Status: link.StatusUp}, "link UP", false},
		{dispatch.LinkStatusChanged{Status: link.StatusDown}, "link DOWN", true},
		{dispatch.DispenseFailed{Selection: 4, Reason: "jammed"}, "selection 4 failed: jammed", true},
		{dispatch.ConfigChanged{Selector: vmc.TraySelector(2), Field: "price", Value: 150, Origin: dispatch.OriginApp}, "TRAY 2 price = 150 (app)", false},
		{dispatch.Synchronized{}, "synchronized", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			text, isError := describeEvent(tt.event)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.isError, isError)
		})
	}
}
