// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler processes the payload of a dispatched frame. Handlers run on the
// port's inbound goroutine; long work should be handed off.
type Handler func(payload []byte)

// Registry maps frame IDs to handlers. Safe for concurrent use; handlers
// may be registered and removed while a port is running.
type Registry struct {
	mu       sync.RWMutex
	handlers map[byte]Handler
	log      *logrus.Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[byte]Handler),
		log:      logrus.WithField("component", "modfsp.registry"),
	}
}

// Register installs a handler for the given frame ID. Last write wins:
// replacing an existing handler is legal and logged at warn level.
func (r *Registry) Register(id byte, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		r.log.WithField("id", fmt.Sprintf("0x%02X", id)).Warn("replacing registered handler")
	}
	r.handlers[id] = h
}

// Unregister removes the handler for the given frame ID, if any
func (r *Registry) Unregister(id byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// Handles reports whether a handler is registered for the given frame ID
func (r *Registry) Handles(id byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

// Dispatch routes a frame to its registered handler. Frames without a
// handler are dropped at debug level. A panicking handler is contained:
// the panic is logged and Dispatch returns, so one bad handler cannot
// take down the decode loop.
func (r *Registry) Dispatch(frame *Frame) {
	r.mu.RLock()
	h := r.handlers[frame.ID()]
	r.mu.RUnlock()

	if h == nil {
		r.log.WithField("id", fmt.Sprintf("0x%02X", frame.ID())).Debug("no handler registered, dropping frame")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{
				"id":    fmt.Sprintf("0x%02X", frame.ID()),
				"panic": rec,
			}).Error("handler panicked")
		}
	}()
	h(frame.Payload())
}
