// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Thermoquad/vendlink/pkg/link"
	"github.com/Thermoquad/vendlink/pkg/vmc"
)

// Event is one decoded replayed frame
type Event struct {
	Record Record
	Frame  *vmc.Frame
	Err    error
}

// Player replays a capture through the frame decoder
type Player struct {
	// Speed scales the recorded gaps; 0 replays without waiting
	Speed float64
	// Sleep waits between records, time.Sleep when nil
	Sleep func(ctx context.Context, d time.Duration) error
}

// Play decodes every record of r and calls fn for each frame or framing
// error. Inbound and outbound bytes go through separate decoders.
func (p *Player) Play(ctx context.Context, r *Reader, fn func(Event) error) error {
	decoders := map[link.Direction]*vmc.Decoder{
		link.Inbound:  vmc.NewDecoder(),
		link.Outbound: vmc.NewDecoder(),
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last time.Time
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if p.Speed > 0 && !last.IsZero() {
			gap := time.Duration(float64(rec.At.Sub(last)) / p.Speed)
			if gap > 0 {
				if err := sleep(ctx, gap); err != nil {
					return err
				}
			}
		}
		last = rec.At

		dec, ok := decoders[rec.Dir]
		if !ok {
			continue
		}
		dec.Write(rec.Raw)
		for {
			f, derr := dec.Next()
			if f == nil && derr == nil {
				break
			}
			if f != nil {
				f = f.Stamped(rec.At)
			}
			if err := fn(Event{Record: rec, Frame: f, Err: derr}); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
