package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stemsi/exstem-proctor/internal/monitor"
)

// ErrUnknownSignal is returned by ParseSignal for a signal name outside the known set.
var ErrUnknownSignal = errors.New("unknown signal")

// ConnHost is the monitor.Host of a student connected over WebSocket. Signals
// arrive as client frames; PreventDefault is answered with a suppress frame.
type ConnHost struct {
	send func(v any) bool

	mu       sync.Mutex
	handlers map[int]func(monitor.Signal)
	nextID   int

	focused atomic.Bool
}

// NewConnHost creates a focused host. send must not block.
func NewConnHost(send func(v any) bool) *ConnHost {
	h := &ConnHost{
		send:     send,
		handlers: make(map[int]func(monitor.Signal)),
	}
	h.focused.Store(true)
	return h
}

// Listen implements monitor.Host.
func (h *ConnHost) Listen(handler func(monitor.Signal)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// HasFocus implements monitor.Host.
func (h *ConnHost) HasFocus() bool {
	return h.focused.Load()
}

// SetFocused records the focus state reported by a heartbeat.
func (h *ConnHost) SetFocused(focused bool) {
	h.focused.Store(focused)
}

// Dispatch delivers a client signal to every listener.
func (h *ConnHost) Dispatch(sig monitor.Signal) {
	switch sig.Type {
	case monitor.SignalBlur:
		h.focused.Store(false)
	case monitor.SignalFocus:
		h.focused.Store(true)
	}

	var once sync.Once
	name := string(sig.Type)
	sig.Prevent = func() {
		once.Do(func() {
			h.send(SuppressResponse{Event: EventSuppress, Signal: name})
		})
	}

	h.mu.Lock()
	handlers := make([]func(monitor.Signal), 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(sig)
	}
}

// ParseSignal converts a signal frame into a monitor.Signal.
func ParseSignal(req Request) (monitor.Signal, error) {
	t := monitor.SignalType(req.Signal)
	if !t.Valid() {
		return monitor.Signal{}, ErrUnknownSignal
	}
	sig := monitor.Signal{
		Type:   t,
		Key:    req.Key,
		Ctrl:   req.Ctrl,
		Shift:  req.Shift,
		Alt:    req.Alt,
		Meta:   req.Meta,
		Hidden: req.Hidden,
	}
	if req.At > 0 {
		sig.At = time.UnixMilli(req.At)
	}
	return sig, nil
}
