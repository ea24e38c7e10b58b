package monitor

import "time"

// SignalType names a raw interaction signal from the exam host.
type SignalType string

const (
	SignalCopy                  SignalType = "copy"
	SignalCut                   SignalType = "cut"
	SignalPaste                 SignalType = "paste"
	SignalContextMenu           SignalType = "contextmenu"
	SignalKeyDown               SignalType = "keydown"
	SignalVisibility            SignalType = "visibility"
	SignalBlur                  SignalType = "blur"
	SignalFocus                 SignalType = "focus"
	SignalFullscreenExit        SignalType = "fullscreen_exit"
	SignalFullscreenUnavailable SignalType = "fullscreen_unavailable"
)

// Valid reports whether t is a known signal type.
func (t SignalType) Valid() bool {
	switch t {
	case SignalCopy, SignalCut, SignalPaste, SignalContextMenu, SignalKeyDown,
		SignalVisibility, SignalBlur, SignalFocus, SignalFullscreenExit, SignalFullscreenUnavailable:
		return true
	}
	return false
}

// Signal is one interaction observed by the host.
type Signal struct {
	Type   SignalType
	Key    string
	Ctrl   bool
	Shift  bool
	Alt    bool
	Meta   bool
	Hidden bool
	// At is when the host observed the signal. Zero means "now".
	At time.Time
	// Prevent asks the host to cancel the underlying action. May be nil.
	Prevent func()
}

// PreventDefault cancels the underlying host action when the host supports it.
func (s Signal) PreventDefault() {
	if s.Prevent != nil {
		s.Prevent()
	}
}

// Host is the environment the exam runs in.
type Host interface {
	// Listen registers handler for every signal and returns a function that unregisters it.
	Listen(handler func(Signal)) (unlisten func())
	// HasFocus reports whether the exam window currently has focus.
	HasFocus() bool
}
