package monitor

import (
	"sync"
	"time"
)

// FakeHost is an in-memory Host for deterministic tests. Signals are delivered
// synchronously to every listener on the calling goroutine.
type FakeHost struct {
	mu        sync.Mutex
	listeners map[int]func(Signal)
	nextID    int
	focused   bool
	prevented []SignalType
}

var _ Host = (*FakeHost)(nil)

// NewFakeHost returns a focused host with no listeners.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		listeners: make(map[int]func(Signal)),
		focused:   true,
	}
}

func (h *FakeHost) Listen(handler func(Signal)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

func (h *FakeHost) HasFocus() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focused
}

// SetFocused changes what HasFocus reports without emitting a signal.
func (h *FakeHost) SetFocused(focused bool) {
	h.mu.Lock()
	h.focused = focused
	h.mu.Unlock()
}

// ListenerCount returns the number of registered listeners.
func (h *FakeHost) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Prevented returns the signal types a listener cancelled, in order.
func (h *FakeHost) Prevented() []SignalType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SignalType, len(h.prevented))
	copy(out, h.prevented)
	return out
}

// Emit delivers sig to every listener and reports whether any of them prevented it.
func (h *FakeHost) Emit(sig Signal) bool {
	h.mu.Lock()
	handlers := make([]func(Signal), 0, len(h.listeners))
	for _, fn := range h.listeners {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	prevented := false
	sig.Prevent = func() { prevented = true }
	for _, fn := range handlers {
		fn(sig)
	}

	if prevented {
		h.mu.Lock()
		h.prevented = append(h.prevented, sig.Type)
		h.mu.Unlock()
	}
	return prevented
}

func (h *FakeHost) Copy() bool        { return h.Emit(Signal{Type: SignalCopy}) }
func (h *FakeHost) Cut() bool         { return h.Emit(Signal{Type: SignalCut}) }
func (h *FakeHost) Paste() bool       { return h.Emit(Signal{Type: SignalPaste}) }
func (h *FakeHost) ContextMenu() bool { return h.Emit(Signal{Type: SignalContextMenu}) }

// KeyDown emits a plain key press observed at at.
func (h *FakeHost) KeyDown(key string, at time.Time) bool {
	return h.Emit(Signal{Type: SignalKeyDown, Key: key, At: at})
}

// KeyCombo emits a key press with modifiers.
func (h *FakeHost) KeyCombo(key string, ctrl, shift, alt, meta bool) bool {
	return h.Emit(Signal{Type: SignalKeyDown, Key: key, Ctrl: ctrl, Shift: shift, Alt: alt, Meta: meta})
}

// Hide emits a visibility change to hidden.
func (h *FakeHost) Hide() { h.Emit(Signal{Type: SignalVisibility, Hidden: true}) }

// Show emits a visibility change to visible.
func (h *FakeHost) Show() { h.Emit(Signal{Type: SignalVisibility}) }

// Blur drops focus and emits a blur signal.
func (h *FakeHost) Blur() {
	h.SetFocused(false)
	h.Emit(Signal{Type: SignalBlur})
}

// Focus restores focus and emits a focus signal.
func (h *FakeHost) Focus() {
	h.SetFocused(true)
	h.Emit(Signal{Type: SignalFocus})
}

func (h *FakeHost) ExitFullscreen()        { h.Emit(Signal{Type: SignalFullscreenExit}) }
func (h *FakeHost) FullscreenUnavailable() { h.Emit(Signal{Type: SignalFullscreenUnavailable}) }
