// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"sync"
	"time"
)

// Statistics tracks link counters and error rates. The engine loop writes,
// any goroutine may read through Snapshot.
type Statistics struct {
	mu sync.Mutex
	s  StatisticsSnapshot
}

// StatisticsSnapshot is a point-in-time copy of the counters
type StatisticsSnapshot struct {
	StartTime     time.Time
	LastFrameTime time.Time

	// Inbound
	FramesReceived   uint64
	Polls            uint64
	AcksReceived     uint64
	Naks             uint64
	ChecksumFailures uint64
	ResyncBytes      uint64
	Duplicates       uint64
	Malformed        uint64
	Unrecognized     uint64

	// Outbound
	FramesSent   uint64
	CommandsSent uint64
	Retries      uint64
	Timeouts     uint64
	Abandoned    uint64
	Completed    uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{s: StatisticsSnapshot{StartTime: now}}
}

func (st *Statistics) update(fn func(s *StatisticsSnapshot)) {
	st.mu.Lock()
	fn(&st.s)
	st.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates calculated at now
func (st *Statistics) Snapshot(now time.Time) StatisticsSnapshot {
	st.mu.Lock()
	s := st.s
	st.mu.Unlock()

	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesReceived) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
	return s
}

// Reset zeroes every counter
func (st *Statistics) Reset(now time.Time) {
	st.update(func(s *StatisticsSnapshot) {
		*s = StatisticsSnapshot{StartTime: now}
	})
}

// Errors sums the counters that indicate a problem on the line
func (s StatisticsSnapshot) Errors() uint64 {
	return s.ChecksumFailures + s.Malformed + s.Timeouts + s.Abandoned
}

// String returns a formatted statistics summary
func (s StatisticsSnapshot) String() string {
	var checksumPercent, malformedPercent float64
	if s.FramesReceived > 0 {
		checksumPercent = float64(s.ChecksumFailures) * 100.0 / float64(s.FramesReceived+s.ChecksumFailures)
		malformedPercent = float64(s.Malformed) * 100.0 / float64(s.FramesReceived)
	}

	elapsed := s.LastFrameTime.Sub(s.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Received: %8d\n", s.FramesReceived)
	result += fmt.Sprintf("  Polls:          %7d\n", s.Polls)
	result += fmt.Sprintf("  ACKs:           %7d\n", s.AcksReceived)
	if s.Naks > 0 {
		result += fmt.Sprintf("  NAKs:           %7d\n", s.Naks)
	}
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	result += fmt.Sprintf("  Commands:       %7d\n", s.CommandsSent)
	result += fmt.Sprintf("  Completed:      %7d\n", s.Completed)

	if s.ChecksumFailures > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumFailures, checksumPercent)
		result += fmt.Sprintf("  Resync Bytes:   %7d\n", s.ResyncBytes)
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Malformed, malformedPercent)
	}
	if s.Unrecognized > 0 {
		result += fmt.Sprintf("Unrecognized:    %8d\n", s.Unrecognized)
	}
	if s.Duplicates > 0 {
		result += fmt.Sprintf("Duplicates:      %8d\n", s.Duplicates)
	}
	if s.Retries > 0 || s.Timeouts > 0 || s.Abandoned > 0 {
		result += fmt.Sprintf("Retries:         %8d\n", s.Retries)
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
		result += fmt.Sprintf("Abandoned:       %8d\n", s.Abandoned)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}
