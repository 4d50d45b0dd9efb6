// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one journaled frame. Records are CBOR-encoded with integer
// keys to keep captures compact on long sessions.
type Record struct {
	Time    time.Time `cbor:"1,keyasint"`
	Dir     Direction `cbor:"2,keyasint"`
	ID      byte      `cbor:"3,keyasint"`
	Payload []byte    `cbor:"4,keyasint"`
}

// JournalWriter appends frame records to a capture stream as a CBOR
// sequence. Safe for concurrent use; both port directions may journal
// through one writer.
type JournalWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewJournalWriter creates a journal writer over w
func NewJournalWriter(w io.Writer) *JournalWriter {
	return &JournalWriter{enc: cbor.NewEncoder(w)}
}

// Append writes one record to the journal
func (jw *JournalWriter) Append(rec Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.enc.Encode(rec)
}

// AppendFrame journals a frame with the given direction
func (jw *JournalWriter) AppendFrame(dir Direction, f *Frame) error {
	return jw.Append(Record{
		Time:    f.Timestamp(),
		Dir:     dir,
		ID:      f.ID(),
		Payload: f.Payload(),
	})
}

// JournalReader iterates the records of a capture stream
type JournalReader struct {
	dec *cbor.Decoder
}

// NewJournalReader creates a journal reader over r
func NewJournalReader(r io.Reader) *JournalReader {
	return &JournalReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the capture
func (jr *JournalReader) Next() (*Record, error) {
	var rec Record
	if err := jr.dec.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
