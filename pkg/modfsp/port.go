// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Conn is the byte-stream transport a Port drives. Serial ports, WebSocket
// bridges and in-memory pipes all satisfy it; the protocol layer never
// looks past these three operations.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// SpaceReporter is optionally implemented by transports with a bounded
// transmit buffer. When present, Send refuses frames the buffer cannot
// hold instead of queueing them.
type SpaceReporter interface {
	AvailableSpace() int
}

// Port failure modes
var (
	ErrQueueFull         = errors.New("send queue full")
	ErrInsufficientSpace = errors.New("not enough transmit space")
	ErrPortClosed        = errors.New("port closed")
	ErrWaiterExists      = errors.New("ack wait already in flight")
	ErrAckTimeout        = errors.New("timed out waiting for ack")
)

const (
	sendQueueDepth      = 32
	timeoutPollInterval = 50 * time.Millisecond
)

type outgoing struct {
	id      byte
	payload []byte
	raw     []byte // pre-framed image, written verbatim when set
}

// Port runs the full-duplex protocol loops over one Conn: an inbound
// goroutine that feeds the decoder and dispatches completed frames, and
// an outbound goroutine that drains the send queue. The decoder is owned
// exclusively by the inbound goroutine; callers interact only through
// Send, SendAndWait and the Registry.
type Port struct {
	conn     Conn
	decoder  *Decoder
	registry *Registry
	stats    *Statistics
	log      *logrus.Entry

	sendQ chan outgoing

	mu      sync.Mutex
	pending map[byte]chan []byte

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPort creates a port over conn dispatching through registry. The
// inter-byte timeout defaults to DefaultTimeout; adjust with SetTimeout
// before Start. The port is inert until Start is called.
func NewPort(conn Conn, registry *Registry) *Port {
	return &Port{
		conn:     conn,
		decoder:  NewDecoder(),
		registry: registry,
		stats:    NewStatistics(),
		log:      logrus.WithField("component", "modfsp.port"),
		sendQ:    make(chan outgoing, sendQueueDepth),
		pending:  make(map[byte]chan []byte),
		done:     make(chan struct{}),
	}
}

// SetTimeout adjusts the decoder's inter-byte timeout. Call before Start.
func (p *Port) SetTimeout(timeout time.Duration) {
	p.decoder.SetTimeout(timeout)
}

// Registry returns the command registry frames are dispatched through
func (p *Port) Registry() *Registry {
	return p.registry
}

// Statistics returns the port's link statistics tracker
func (p *Port) Statistics() *Statistics {
	return p.stats
}

// Start launches the inbound and outbound loops
func (p *Port) Start() {
	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()
}

// Close stops both loops and closes the Conn. Idempotent.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
		p.wg.Wait()
	})
	return err
}

// Send enqueues a frame for transmission without waiting for any reply.
// It fails fast with ErrQueueFull when the outbound queue is saturated
// and with ErrInsufficientSpace when the transport reports less room
// than the encoded frame needs.
func (p *Port) Send(id byte, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if err := p.checkSpace(EncodedSize(len(payload))); err != nil {
		return err
	}
	return p.enqueue(outgoing{id: id, payload: payload})
}

// SendRaw enqueues an already-framed byte image (a compiled script, a
// replayed capture) for verbatim transmission
func (p *Port) SendRaw(image []byte) error {
	if err := p.checkSpace(len(image)); err != nil {
		return err
	}
	return p.enqueue(outgoing{raw: image})
}

func (p *Port) checkSpace(need int) error {
	sr, ok := p.conn.(SpaceReporter)
	if !ok {
		return nil
	}
	if have := sr.AvailableSpace(); have < need {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientSpace, need, have)
	}
	return nil
}

func (p *Port) enqueue(out outgoing) error {
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	select {
	case p.sendQ <- out:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendAndWait sends a command frame and blocks until the frame with
// ackID arrives, the timeout expires, or ctx is cancelled. At most one
// waiter may be in flight per ack ID; a second caller fails with
// ErrWaiterExists. An ack that arrives after the waiter has given up is
// not delivered to any later waiter — it falls through to the registry,
// which drops it at debug level.
func (p *Port) SendAndWait(ctx context.Context, id byte, payload []byte, ackID byte, timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)

	p.mu.Lock()
	if _, exists := p.pending[ackID]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: ack 0x%02X", ErrWaiterExists, ackID)
	}
	p.pending[ackID] = ch
	p.mu.Unlock()

	abandon := func() {
		p.mu.Lock()
		if p.pending[ackID] == ch {
			delete(p.pending, ackID)
		}
		p.mu.Unlock()
	}

	if err := p.Send(id, payload); err != nil {
		abandon()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w: command 0x%02X after %v", ErrAckTimeout, id, timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-p.done:
		abandon()
		return nil, ErrPortClosed
	}
}

// readLoop owns the decoder. A helper goroutine performs the blocking
// reads so the loop can keep checking the inter-byte timeout while the
// line is silent.
func (p *Port) readLoop() {
	defer p.wg.Done()

	raw := make(chan []byte, 16)
	go func() {
		defer close(raw)
		buf := make([]byte, 256)
		for {
			n, err := p.conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case raw <- data:
				case <-p.done:
					return
				}
			}
			if err != nil {
				select {
				case <-p.done:
				default:
					p.log.WithError(err).Debug("read loop ended")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(timeoutPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case data, ok := <-raw:
			if !ok {
				return
			}
			p.stats.RecordBytes(len(data))
			for _, b := range data {
				frame, err := p.decoder.DecodeByte(b)
				if err != nil {
					p.stats.RecordDecodeError(err)
					p.log.WithError(err).Warn("frame decode failed, resynchronizing")
					continue
				}
				if frame == nil {
					continue
				}
				p.stats.RecordFrame(frame)
				p.deliver(frame)
			}
		case <-ticker.C:
			if err := p.decoder.CheckTimeout(time.Now()); err != nil {
				p.stats.RecordDecodeError(err)
				p.log.WithError(err).Warn("partial frame discarded")
			}
		}
	}
}

// deliver hands a completed frame to a pending ack waiter if one is
// registered for its ID, otherwise to the registry
func (p *Port) deliver(frame *Frame) {
	p.mu.Lock()
	ch := p.pending[frame.ID()]
	if ch != nil {
		delete(p.pending, frame.ID())
	}
	p.mu.Unlock()

	if ch != nil {
		ch <- append([]byte(nil), frame.Payload()...)
		return
	}
	p.registry.Dispatch(frame)
}

func (p *Port) writeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case out := <-p.sendQ:
			data := out.raw
			if data == nil {
				var err error
				data, err = EncodeFrame(out.id, out.payload)
				if err != nil {
					// Size is validated at Send time, so this is unreachable
					// short of caller misuse.
					p.log.WithError(err).Error("dropping unencodable frame")
					continue
				}
			}
			if _, err := p.conn.Write(data); err != nil {
				p.log.WithError(err).Warn("write failed, frame dropped")
				continue
			}
			p.stats.RecordSent(len(data))
		}
	}
}
