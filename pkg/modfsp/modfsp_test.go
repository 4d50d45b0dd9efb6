// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// feedFrame runs a complete wire image through the decoder and returns the
// last result
func feedFrame(t *testing.T, d *Decoder, data []byte) (*Frame, error) {
	t.Helper()
	var frame *Frame
	var err error
	for _, b := range data {
		frame, err = d.DecodeByte(b)
		if err != nil {
			return nil, err
		}
	}
	return frame, err
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x31C3, // CRC-16/XMODEM check value
		},
		{
			name:     "single zero byte",
			data:     []byte{0x00},
			expected: 0x0000,
		},
		{
			name:     "single 0xFF",
			data:     []byte{0xFF},
			expected: 0x1EF0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateCRC_MatchesIncremental(t *testing.T) {
	data := []byte{0xC0, 0xDE, 0x01, 0x02, 0x03, 0x04}
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = UpdateCRC(crc, b)
	}
	if crc != CalculateCRC(data) {
		t.Errorf("incremental CRC 0x%04X != block CRC 0x%04X", crc, CalculateCRC(data))
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeFrame_EmptyPayload(t *testing.T) {
	data, err := EncodeFrame(CmdHalt, nil)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(data) != FrameOverhead {
		t.Errorf("expected %d bytes, got %d", FrameOverhead, len(data))
	}
	if data[0] != StartByte1 || data[1] != StartByte2 {
		t.Errorf("bad start bytes: %02X %02X", data[0], data[1])
	}
	if data[2] != CmdHalt {
		t.Errorf("bad frame ID: 0x%02X", data[2])
	}
	if data[3] != 0 || data[4] != 0 {
		t.Errorf("bad length bytes: %02X %02X", data[3], data[4])
	}
	if data[len(data)-2] != StopByte1 || data[len(data)-1] != StopByte2 {
		t.Errorf("bad stop bytes: %02X %02X", data[len(data)-2], data[len(data)-1])
	}
}

func TestEncodeFrame_LengthLittleEndian(t *testing.T) {
	payload := make([]byte, 0x0234)
	data, err := EncodeFrame(FrameIDScriptInit, payload)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if data[3] != 0x34 || data[4] != 0x02 {
		t.Errorf("length not little-endian: %02X %02X", data[3], data[4])
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(0x01, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestAppendFrame_Chaining(t *testing.T) {
	img, err := AppendFrame(nil, FrameIDScriptInit, []byte{0x01})
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	img, err = AppendFrame(img, FrameIDScriptDLS, []byte{0x02, 0x03})
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	if len(img) != 2*FrameOverhead+3 {
		t.Errorf("expected %d bytes, got %d", 2*FrameOverhead+3, len(img))
	}

	// Both frames must decode back out in order.
	d := NewDecoder()
	var frames []*Frame
	for _, b := range img {
		f, err := d.DecodeByte(b)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].ID() != FrameIDScriptInit || frames[1].ID() != FrameIDScriptDLS {
		t.Errorf("frame order wrong: 0x%02X, 0x%02X", frames[0].ID(), frames[1].ID())
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		id      byte
		payload []byte
	}{
		{"empty payload", CmdHalt, nil},
		{"time payload", CmdSendTime, []byte{14, 5, 9, 25, 8, 26}},
		{"max single byte values", 0xFF, []byte{0xFF, 0xFF, 0xFF}},
		{"start bytes inside payload", 0x42, []byte{StartByte1, StartByte2, StopByte1, StopByte2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MustEncodeFrame(tt.id, tt.payload)
			d := NewDecoder()
			frame, err := feedFrame(t, d, data)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if frame == nil {
				t.Fatal("expected frame, got nil")
			}
			if frame.ID() != tt.id {
				t.Errorf("ID mismatch: expected 0x%02X, got 0x%02X", tt.id, frame.ID())
			}
			if !bytes.Equal(frame.Payload(), tt.payload) {
				t.Errorf("payload mismatch: expected %X, got %X", tt.payload, frame.Payload())
			}
		})
	}
}

func TestDecoder_GarbageBeforeStart(t *testing.T) {
	d := NewDecoder()
	for _, b := range []byte{0x00, 0x55, 0xAA, StartByte1, 0x13} {
		// start1 followed by a non-start2 byte must fall back to idle
		if f, err := d.DecodeByte(b); f != nil || err != nil {
			t.Fatalf("unexpected result on garbage: %v, %v", f, err)
		}
	}
	if d.InFrame() {
		t.Error("decoder should be idle after false start")
	}

	frame, err := feedFrame(t, d, MustEncodeFrame(CmdHalt, nil))
	if err != nil || frame == nil {
		t.Fatalf("frame after garbage failed: %v, %v", frame, err)
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	data := MustEncodeFrame(CmdSendTime, []byte{14, 5, 9, 25, 8, 26})
	data[6] ^= 0xFF // corrupt a payload byte

	d := NewDecoder()
	var lastErr error
	for _, b := range data {
		if _, err := d.DecodeByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrCRCMismatch) {
		t.Errorf("expected ErrCRCMismatch, got %v", lastErr)
	}
	if d.InFrame() {
		t.Error("decoder should have reset after CRC error")
	}
}

func TestDecoder_BadStopByte(t *testing.T) {
	data := MustEncodeFrame(CmdHalt, nil)
	data[len(data)-1] = 0x00

	d := NewDecoder()
	var lastErr error
	for _, b := range data {
		if _, err := d.DecodeByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrBadStopByte) {
		t.Errorf("expected ErrBadStopByte, got %v", lastErr)
	}
}

func TestDecoder_BadLength(t *testing.T) {
	// Declared length above the buffer capacity must fail before any
	// payload byte is consumed.
	d := NewDecoder()
	oversize := BufferSize + 1
	data := []byte{StartByte1, StartByte2, 0x01, byte(oversize), byte(oversize >> 8)}

	var lastErr error
	for _, b := range data {
		if _, err := d.DecodeByte(b); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrBadLength) {
		t.Errorf("expected ErrBadLength, got %v", lastErr)
	}
}

func TestDecoder_ResyncAfterError(t *testing.T) {
	bad := MustEncodeFrame(CmdHalt, nil)
	bad[5] ^= 0x01 // corrupt CRC low byte
	good := MustEncodeFrame(CmdRunExperiment, nil)

	d := NewDecoder()
	sawError := false
	var frames []*Frame
	for _, b := range append(bad, good...) {
		f, err := d.DecodeByte(b)
		if err != nil {
			sawError = true
			continue
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	if !sawError {
		t.Error("expected decode error from corrupted frame")
	}
	if len(frames) != 1 || frames[0].ID() != CmdRunExperiment {
		t.Fatalf("expected one recovered frame, got %v", frames)
	}
}

func TestDecoder_Timeout(t *testing.T) {
	d := NewDecoder()
	d.SetTimeout(100 * time.Millisecond)

	// No timeout when idle, no matter how long the line is silent.
	if err := d.CheckTimeout(time.Now().Add(time.Hour)); err != nil {
		t.Errorf("idle decoder should never time out: %v", err)
	}

	// Start a frame, then let the window lapse.
	d.DecodeByte(StartByte1)
	d.DecodeByte(StartByte2)
	d.DecodeByte(0x01)
	if !d.InFrame() {
		t.Fatal("decoder should be mid-frame")
	}
	if err := d.CheckTimeout(time.Now().Add(200 * time.Millisecond)); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if d.InFrame() {
		t.Error("decoder should have reset after timeout")
	}

	// A fresh frame right after the timeout must decode cleanly.
	frame, err := feedFrame(t, d, MustEncodeFrame(CmdHalt, nil))
	if err != nil || frame == nil {
		t.Fatalf("frame after timeout failed: %v, %v", frame, err)
	}
}

func TestDecoder_TimeoutWithinWindow(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte1)
	d.DecodeByte(StartByte2)
	if err := d.CheckTimeout(time.Now()); err != nil {
		t.Errorf("timeout fired inside the window: %v", err)
	}
	if !d.InFrame() {
		t.Error("in-window check must not reset the decoder")
	}
}

// ============================================================
// ParseFrame Tests
// ============================================================

func TestParseFrame_ScanToStart(t *testing.T) {
	data := append([]byte{0x00, 0x11, 0x22}, MustEncodeFrame(CmdHalt, nil)...)
	frame, consumed, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if frame.ID() != CmdHalt {
		t.Errorf("ID mismatch: 0x%02X", frame.ID())
	}
	if consumed != len(data) {
		t.Errorf("expected %d bytes consumed, got %d", len(data), consumed)
	}
}

func TestParseFrame_LenientCRC(t *testing.T) {
	// Offline parsing tolerates a wrong CRC; the frame still comes back.
	data := MustEncodeFrame(CmdSendTime, []byte{1, 2, 3, 4, 5, 6})
	data[6] ^= 0xFF
	frame, _, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("lenient parse should not fail on CRC: %v", err)
	}
	if frame == nil {
		t.Fatal("expected frame despite CRC mismatch")
	}
}

func TestParseFrame_Truncated(t *testing.T) {
	data := MustEncodeFrame(CmdSendTime, []byte{1, 2, 3, 4, 5, 6})
	if _, _, err := ParseFrame(data[:len(data)-3]); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestParseFrame_MultiFrameImage(t *testing.T) {
	img, _ := AppendFrame(nil, FrameIDScriptInit, []byte{0xAA})
	img, _ = AppendFrame(img, FrameIDScriptCam, []byte{0xBB, 0xCC})

	var ids []byte
	rest := img
	for len(rest) > 0 {
		frame, consumed, err := ParseFrame(rest)
		if err != nil {
			t.Fatalf("parse error: %v", err)
		}
		ids = append(ids, frame.ID())
		rest = rest[consumed:]
	}
	if len(ids) != 2 || ids[0] != FrameIDScriptInit || ids[1] != FrameIDScriptCam {
		t.Errorf("unexpected frame IDs: %X", ids)
	}
}

// ============================================================
// Frame Tests
// ============================================================

func TestFrame_IsAck(t *testing.T) {
	if !NewFrame(AckHalt, nil).IsAck() {
		t.Error("AckHalt should be an ack")
	}
	if NewFrame(CmdHalt, nil).IsAck() {
		t.Error("CmdHalt should not be an ack")
	}
	if !NewFrame(NakMaster, nil).IsAck() {
		t.Error("NakMaster belongs to the ack vocabulary")
	}
}

// ============================================================
// Registry Tests
// ============================================================

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry()
	var got []byte
	r.Register(CmdSendTime, func(payload []byte) {
		got = payload
	})

	r.Dispatch(NewFrame(CmdSendTime, []byte{1, 2, 3}))
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("handler got %X", got)
	}
}

func TestRegistry_UnregisteredDropped(t *testing.T) {
	r := NewRegistry()
	// Must not panic or block.
	r.Dispatch(NewFrame(0x42, nil))
}

func TestRegistry_PanicContained(t *testing.T) {
	r := NewRegistry()
	r.Register(0x01, func(payload []byte) {
		panic("handler bug")
	})
	called := false
	r.Register(0x02, func(payload []byte) {
		called = true
	})

	r.Dispatch(NewFrame(0x01, nil)) // must not propagate
	r.Dispatch(NewFrame(0x02, nil))
	if !called {
		t.Error("dispatch stopped working after a handler panic")
	}
}

func TestRegistry_ReplaceAndUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(0x01, func(payload []byte) { t.Error("replaced handler ran") })
	hit := false
	r.Register(0x01, func(payload []byte) { hit = true })
	r.Dispatch(NewFrame(0x01, nil))
	if !hit {
		t.Error("replacement handler did not run")
	}

	r.Unregister(0x01)
	if r.Handles(0x01) {
		t.Error("handler still registered after Unregister")
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateFrame_Clean(t *testing.T) {
	frames := []*Frame{
		NewFrame(CmdHalt, nil),
		NewFrame(CmdSendTime, []byte{14, 5, 9, 25, 8, 26}),
		NewFrame(CmdSelfTest, []byte{0, 50, 0x0F}),
		NewFrame(AckSelfTest, []byte{0x10, 0x27}),
	}
	for _, f := range frames {
		if anomalies := ValidateFrame(f); len(anomalies) != 0 {
			t.Errorf("frame 0x%02X: unexpected anomalies %v", f.ID(), anomalies)
		}
	}
}

func TestValidateFrame_Anomalies(t *testing.T) {
	tests := []struct {
		name     string
		frame    *Frame
		expected AnomalyType
	}{
		{"unknown ID", NewFrame(0x55, nil), AnomalyUnknownID},
		{"halt with payload", NewFrame(CmdHalt, []byte{1}), AnomalyLengthMismatch},
		{"short time payload", NewFrame(CmdSendTime, []byte{1, 2, 3}), AnomalyLengthMismatch},
		{"hour out of range", NewFrame(CmdSendTime, []byte{24, 0, 0, 1, 1, 26}), AnomalyValueRange},
		{"month zero", NewFrame(CmdSendTime, []byte{12, 0, 0, 1, 0, 26}), AnomalyValueRange},
		{"self test kind", NewFrame(CmdSelfTest, []byte{2, 50, 0x01}), AnomalyValueRange},
		{"laser status too wide", NewFrame(AckGetLaserInternal, make([]byte, 9)), AnomalyLengthMismatch},
		{"runt script section", NewFrame(FrameIDScriptInit, []byte{1, 2}), AnomalyLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomalies := ValidateFrame(tt.frame)
			if len(anomalies) == 0 {
				t.Fatal("expected anomalies, got none")
			}
			if anomalies[0].Type != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, anomalies[0].Type)
			}
		})
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_ErrorClassification(t *testing.T) {
	s := NewStatistics()
	s.RecordDecodeError(errors.New("wrapped: " + ErrCRCMismatch.Error()))
	s.RecordDecodeError(ErrCRCMismatch)
	s.RecordDecodeError(ErrBadStopByte)
	s.RecordDecodeError(ErrBadLength)
	s.RecordDecodeError(ErrTimeout)
	s.RecordDecodeError(io.ErrUnexpectedEOF)

	snap := s.Snapshot()
	if snap.CRCErrors != 1 {
		t.Errorf("CRC errors: %d", snap.CRCErrors)
	}
	if snap.StopByteErrors != 1 || snap.LengthErrors != 1 || snap.Timeouts != 1 {
		t.Errorf("bad classification: %+v", snap)
	}
	// The string-built error does not wrap the sentinel and must land in
	// the other bucket with the EOF.
	if snap.OtherErrors != 2 {
		t.Errorf("other errors: %d", snap.OtherErrors)
	}
	if s.TotalErrors() != 6 {
		t.Errorf("total errors: %d", s.TotalErrors())
	}
}

func TestStatistics_FramesAndReset(t *testing.T) {
	s := NewStatistics()
	s.RecordFrame(NewFrame(CmdHalt, nil))
	s.RecordFrame(NewFrame(AckHalt, nil))
	s.RecordBytes(18)
	s.RecordSent(9)

	snap := s.Snapshot()
	if snap.TotalFrames != 2 || snap.AckFrames != 1 {
		t.Errorf("frame counters: %+v", snap)
	}
	if snap.BytesIn != 18 || snap.BytesOut != 9 || snap.FramesSent != 1 {
		t.Errorf("byte counters: %+v", snap)
	}

	s.Reset()
	if snap := s.Snapshot(); snap.TotalFrames != 0 || snap.BytesIn != 0 {
		t.Errorf("reset left counters: %+v", snap)
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrameID(t *testing.T) {
	if got := FormatFrameID(CmdHalt); got != "CMD_HALT" {
		t.Errorf("CmdHalt: %q", got)
	}
	if got := FormatFrameID(0x55); got != "UNKNOWN_0x55" {
		t.Errorf("unknown: %q", got)
	}
}

func TestFormatFrame_TimePayload(t *testing.T) {
	f := NewFrame(CmdSendTime, []byte{14, 5, 9, 25, 8, 26})
	out := FormatFrame(f)
	if !containsAll(out, "CMD_SEND_TIME", "14:05:09", "25/08/26") {
		t.Errorf("unexpected format: %q", out)
	}
}

func TestFormatFrame_SelfTestAck(t *testing.T) {
	f := NewFrame(AckSelfTest, []byte{0x10, 0x27}) // 10000 mA
	out := FormatFrame(f)
	if !containsAll(out, "ACK_SELF_TEST", "current=10000 mA") {
		t.Errorf("unexpected format: %q", out)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !bytes.Contains([]byte(s), []byte(sub)) {
			return false
		}
	}
	return true
}

// ============================================================
// Command Builder Tests
// ============================================================

func TestNewSyncTimeFrame(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 5, 9, 0, time.UTC)
	f := NewSyncTimeFrame(now)
	if f.ID() != CmdSendTime {
		t.Errorf("ID: 0x%02X", f.ID())
	}
	if !bytes.Equal(f.Payload(), []byte{14, 5, 9, 25, 8, 26}) {
		t.Errorf("payload: %X", f.Payload())
	}
}

func TestNewTestConnectionFrame_BigEndian(t *testing.T) {
	f := NewTestConnectionFrame(0x01020304)
	if !bytes.Equal(f.Payload(), []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("payload not big-endian: %X", f.Payload())
	}
	value, err := ParseTestConnectionAck(f.Payload())
	if err != nil || value != 0x01020304 {
		t.Errorf("round trip: %d, %v", value, err)
	}
}

func TestParseSelfTestAck(t *testing.T) {
	mA, err := ParseSelfTestAck([]byte{0xE8, 0x03})
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if mA != 1000 {
		t.Errorf("expected 1000 mA, got %d", mA)
	}
	if _, err := ParseSelfTestAck([]byte{0x01}); err == nil {
		t.Error("expected error for short payload")
	}
}

// ============================================================
// Journal Tests
// ============================================================

func TestJournal_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	jw := NewJournalWriter(&buf)

	frames := []*Frame{
		NewFrame(CmdSendTime, []byte{14, 5, 9, 25, 8, 26}),
		NewFrame(AckSendTime, nil),
	}
	dirs := []Direction{DirOut, DirIn}
	for i, f := range frames {
		if err := jw.AppendFrame(dirs[i], f); err != nil {
			t.Fatalf("append error: %v", err)
		}
	}

	jr := NewJournalReader(&buf)
	for i := range frames {
		rec, err := jr.Next()
		if err != nil {
			t.Fatalf("read error at %d: %v", i, err)
		}
		if rec.ID != frames[i].ID() {
			t.Errorf("record %d: ID 0x%02X, expected 0x%02X", i, rec.ID, frames[i].ID())
		}
		if rec.Dir != dirs[i] {
			t.Errorf("record %d: direction %v, expected %v", i, rec.Dir, dirs[i])
		}
		if !bytes.Equal(rec.Payload, frames[i].Payload()) {
			t.Errorf("record %d: payload %X", i, rec.Payload)
		}
	}
	if _, err := jr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of journal, got %v", err)
	}
}
