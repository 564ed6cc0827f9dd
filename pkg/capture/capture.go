// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw link traffic as a stream of CBOR items for
// offline replay. A capture starts with a Header followed by one Record per
// frame.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/vendlink/pkg/link"
)

const (
	Magic   = "vendlink-capture"
	Version = 1
)

var ErrNotCapture = errors.New("not a vendlink capture")

type Header struct {
	Magic     string    `cbor:"1,keyasint"`
	Version   int       `cbor:"2,keyasint"`
	StartedAt time.Time `cbor:"3,keyasint"`
	MachineID string    `cbor:"4,keyasint,omitempty"`
}

// Record is one captured frame
type Record struct {
	At  time.Time      `cbor:"1,keyasint"`
	Dir link.Direction `cbor:"2,keyasint"`
	Raw []byte         `cbor:"3,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer is a link.Tap appending records to a stream. The first write
// error is kept and returned by Close; later captures are dropped.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *cbor.Encoder
	closer io.Closer
	frames int
	err    error
}

// NewWriter writes a header to w and returns a Writer appending to it
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h.Magic = Magic
	h.Version = Version
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	buf := bufio.NewWriter(w)
	cw := &Writer{buf: buf, enc: encMode.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	if err := cw.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return cw, nil
}

// Create opens path for writing and starts a capture in it
func Create(path string, h Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Capture implements link.Tap
func (w *Writer) Capture(dir link.Direction, raw []byte, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	w.err = w.enc.Encode(Record{At: at, Dir: dir, Raw: raw})
	if w.err == nil {
		w.frames++
	}
}

// Frames returns how many records were written
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Flush pushes buffered records to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying writer when it is a Closer
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.err
	if ferr := w.buf.Flush(); err == nil {
		err = ferr
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates over a capture
type Reader struct {
	dec    *cbor.Decoder
	Header Header
}

// NewReader reads and checks the header
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(bufio.NewReader(r))
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if h.Magic != Magic {
		return nil, ErrNotCapture
	}
	if h.Version != Version {
		return nil, fmt.Errorf("capture version %d unsupported", h.Version)
	}
	return &Reader{dec: dec, Header: h}, nil
}

// Next returns the next record, or io.EOF at the end
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every remaining record
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
