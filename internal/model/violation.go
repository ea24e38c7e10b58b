package model

// ViolationKind is one of a closed set of detected rule breaches.
type ViolationKind string

const (
	ViolationCopy                 ViolationKind = "copyAttempts"
	ViolationPaste                ViolationKind = "pasteAttempts"
	ViolationContextMenu          ViolationKind = "contextMenu"
	ViolationTabSwitch            ViolationKind = "tabSwitches"
	ViolationFocusLost            ViolationKind = "focusLost"
	ViolationSuspiciousKeystrokes ViolationKind = "suspiciousKeystrokes"
	ViolationDevTools             ViolationKind = "devTools"
)

// ViolationKinds lists every kind in display order.
var ViolationKinds = []ViolationKind{
	ViolationCopy,
	ViolationPaste,
	ViolationContextMenu,
	ViolationTabSwitch,
	ViolationFocusLost,
	ViolationSuspiciousKeystrokes,
	ViolationDevTools,
}

// Valid reports whether k is a known kind.
func (k ViolationKind) Valid() bool {
	for _, v := range ViolationKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Counted reports whether k counts toward the auto-submit threshold.
// Context menu attempts are suppressed silently.
func (k ViolationKind) Counted() bool {
	return k.Valid() && k != ViolationContextMenu
}

// Message returns the user-facing description of the violation.
func (k ViolationKind) Message() string {
	switch k {
	case ViolationTabSwitch:
		return "Tab switching detected"
	case ViolationFocusLost:
		return "Window focus lost"
	case ViolationCopy:
		return "Copy attempt detected"
	case ViolationPaste:
		return "Paste attempt detected"
	case ViolationSuspiciousKeystrokes:
		return "Suspicious typing pattern"
	case ViolationContextMenu:
		return "Right-click menu blocked"
	case ViolationDevTools:
		return "Developer tools blocked"
	default:
		return "Unknown violation"
	}
}

// ViolationTally counts violations per kind.
type ViolationTally map[ViolationKind]int

// Clone returns an independent copy of the tally.
func (t ViolationTally) Clone() ViolationTally {
	out := make(ViolationTally, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Total sums the counted kinds.
func (t ViolationTally) Total() int {
	total := 0
	for k, v := range t {
		if k.Counted() {
			total += v
		}
	}
	return total
}
