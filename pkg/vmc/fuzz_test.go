// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vmc

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// newFuzzRng creates a random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomFrame(rng *rand.Rand) *Frame {
	text := make([]byte, rng.Intn(32))
	rng.Read(text)
	return NewFrame(byte(rng.Intn(256)), uint8(1+rng.Intn(255)), text)
}

// randomGarbage never contains STX1 so it cannot open a false frame
func randomGarbage(rng *rand.Rand) []byte {
	g := make([]byte, rng.Intn(8))
	for i := range g {
		b := byte(rng.Intn(256))
		if b == STX1 {
			b = 0x00
		}
		g[i] = b
	}
	return g
}

func TestFuzz_FramesSurviveGarbageAndChunking(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		var stream []byte
		var want []*Frame
		for i := 0; i < 1+rng.Intn(6); i++ {
			stream = append(stream, randomGarbage(rng)...)
			f := randomFrame(rng)
			want = append(want, f)
			stream = append(stream, f.Raw()...)
		}

		d := NewDecoder()
		var got []*Frame
		for len(stream) > 0 {
			n := 1 + rng.Intn(len(stream))
			got = append(got, d.Feed(stream[:n])...)
			stream = stream[n:]
		}

		if len(got) != len(want) {
			t.Fatalf("round %d: expected %d frames, got %d", round, len(want), len(got))
		}
		for i := range want {
			if !got[i].Equal(want[i]) {
				t.Fatalf("round %d frame %d: expected % X, got % X", round, i, want[i].Raw(), got[i].Raw())
			}
		}
	}
}

func TestFuzz_DecodeNeverPanics(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		text := make([]byte, rng.Intn(16))
		rng.Read(text)
		for _, d := range Descriptors() {
			m, err := DecodeText(d.Command, text)
			if err == nil && m == nil {
				t.Fatalf("0x%02X returned neither message nor error", d.Command)
			}
		}
	}
}

func TestFuzz_RandomBytesNeverPanic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	d := NewDecoder()
	for round := 0; round < rounds; round++ {
		chunk := make([]byte, rng.Intn(64))
		rng.Read(chunk)
		for _, f := range d.Feed(chunk) {
			if Checksum(f.Raw()[:len(f.Raw())-1]) != f.Checksum() {
				t.Fatalf("decoder emitted a frame with a bad checksum: % X", f.Raw())
			}
			_, _ = Decode(f)
		}
	}
}
