// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Statistics tracks link health counters for one port. All methods are
// safe for concurrent use; the port updates counters from its loops while
// monitors read snapshots.
type Statistics struct {
	mu        sync.Mutex
	startTime time.Time

	totalFrames uint64
	ackFrames   uint64

	crcErrors      uint64
	stopByteErrors uint64
	lengthErrors   uint64
	timeouts       uint64
	otherErrors    uint64

	anomalies uint64

	bytesIn    uint64
	bytesOut   uint64
	framesSent uint64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Elapsed time.Duration

	TotalFrames uint64
	AckFrames   uint64

	CRCErrors      uint64
	StopByteErrors uint64
	LengthErrors   uint64
	Timeouts       uint64
	OtherErrors    uint64

	Anomalies uint64

	BytesIn    uint64
	BytesOut   uint64
	FramesSent uint64
}

// NewStatistics creates a statistics tracker with the clock started
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// RecordFrame counts a successfully decoded frame
func (s *Statistics) RecordFrame(f *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFrames++
	if f.IsAck() {
		s.ackFrames++
	}
}

// RecordDecodeError classifies a decode failure into its counter
func (s *Statistics) RecordDecodeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, ErrCRCMismatch):
		s.crcErrors++
	case errors.Is(err, ErrBadStopByte):
		s.stopByteErrors++
	case errors.Is(err, ErrBadLength):
		s.lengthErrors++
	case errors.Is(err, ErrTimeout):
		s.timeouts++
	default:
		s.otherErrors++
	}
}

// RecordAnomalies counts validator findings on received frames
func (s *Statistics) RecordAnomalies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies += uint64(n)
}

// RecordBytes counts raw bytes read from the transport
func (s *Statistics) RecordBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesIn += uint64(n)
}

// RecordSent counts a transmitted frame and its wire bytes
func (s *Statistics) RecordSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesSent++
	s.bytesOut += uint64(n)
}

// TotalErrors returns the sum of all decode error counters
func (s *Statistics) TotalErrors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crcErrors + s.stopByteErrors + s.lengthErrors + s.timeouts + s.otherErrors
}

// Snapshot returns a consistent copy of all counters
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Elapsed:        time.Since(s.startTime),
		TotalFrames:    s.totalFrames,
		AckFrames:      s.ackFrames,
		CRCErrors:      s.crcErrors,
		StopByteErrors: s.stopByteErrors,
		LengthErrors:   s.lengthErrors,
		Timeouts:       s.timeouts,
		OtherErrors:    s.otherErrors,
		Anomalies:      s.anomalies,
		BytesIn:        s.bytesIn,
		BytesOut:       s.bytesOut,
		FramesSent:     s.framesSent,
	}
}

// Reset zeroes all counters and restarts the clock
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
	s.totalFrames = 0
	s.ackFrames = 0
	s.crcErrors = 0
	s.stopByteErrors = 0
	s.lengthErrors = 0
	s.timeouts = 0
	s.otherErrors = 0
	s.anomalies = 0
	s.bytesIn = 0
	s.bytesOut = 0
	s.framesSent = 0
}

// String formats the counters as a multi-line report
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

// String formats the snapshot as a multi-line report
func (snap Snapshot) String() string {
	var sb strings.Builder

	errorTotal := snap.CRCErrors + snap.StopByteErrors + snap.LengthErrors + snap.Timeouts + snap.OtherErrors
	errorRate := 0.0
	if snap.TotalFrames+errorTotal > 0 {
		errorRate = float64(errorTotal) / float64(snap.TotalFrames+errorTotal) * 100
	}
	frameRate := 0.0
	if secs := snap.Elapsed.Seconds(); secs > 0 {
		frameRate = float64(snap.TotalFrames) / secs
	}

	sb.WriteString(fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", snap.Elapsed.Seconds()))
	sb.WriteString(fmt.Sprintf("Frames received:   %d (%.1f/s)\n", snap.TotalFrames, frameRate))
	sb.WriteString(fmt.Sprintf("Frames sent:       %d\n", snap.FramesSent))
	sb.WriteString(fmt.Sprintf("Acks received:     %d\n", snap.AckFrames))
	sb.WriteString(fmt.Sprintf("Bytes in/out:      %d / %d\n", snap.BytesIn, snap.BytesOut))
	sb.WriteString(fmt.Sprintf("Decode errors:     %d (%.2f%%)\n", errorTotal, errorRate))
	sb.WriteString(fmt.Sprintf("  CRC mismatches:  %d\n", snap.CRCErrors))
	sb.WriteString(fmt.Sprintf("  Bad stop bytes:  %d\n", snap.StopByteErrors))
	sb.WriteString(fmt.Sprintf("  Bad lengths:     %d\n", snap.LengthErrors))
	sb.WriteString(fmt.Sprintf("  Timeouts:        %d\n", snap.Timeouts))
	sb.WriteString(fmt.Sprintf("  Other:           %d\n", snap.OtherErrors))
	sb.WriteString(fmt.Sprintf("Anomalies:         %d\n", snap.Anomalies))
	return sb.String()
}
