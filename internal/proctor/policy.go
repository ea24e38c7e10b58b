package proctor

import "time"

// User-facing warning texts.
const (
	msgViolationPrefix    = "Security violation: "
	msgMaxViolations      = "Maximum violations reached. Exam will be submitted automatically."
	msgSuspiciousContent  = "Suspicious content detected. Please ensure all answers are your own work."
	msgSaveFailed         = "Error saving answer. Please try again."
	msgMirrorFailed       = "Connection issue: a security event could not be recorded."
	msgSubmitFailed       = "Error submitting exam. Please try again and do not close this window."
	msgFullscreenExit     = "Please return to fullscreen mode for the exam."
	msgFullscreenMissing  = "Fullscreen mode is not available. The exam will continue without it."
	msgTimeUp             = "Time is up. Your exam is being submitted."
	reasonManual          = "manual"
	reasonViolations      = "violations"
	reasonTimeout         = "timeout"
	defaultRecentWarnings = 3
)

// Policy holds the proctoring thresholds and cadences.
type Policy struct {
	MaxViolations    int
	AutoSubmitGrace  time.Duration
	AutosaveInterval time.Duration
	// TickInterval is the wall time of one countdown second.
	TickInterval   time.Duration
	RecentWarnings int
	// ShutdownGrace bounds how long queued writes may drain after teardown.
	ShutdownGrace time.Duration
	WriteTimeout  time.Duration
}

// DefaultPolicy returns the standard proctoring policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxViolations:    3,
		AutoSubmitGrace:  2 * time.Second,
		AutosaveInterval: 30 * time.Second,
		TickInterval:     time.Second,
		RecentWarnings:   defaultRecentWarnings,
		ShutdownGrace:    5 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxViolations <= 0 {
		p.MaxViolations = def.MaxViolations
	}
	if p.AutoSubmitGrace < 0 {
		p.AutoSubmitGrace = def.AutoSubmitGrace
	}
	if p.AutosaveInterval <= 0 {
		p.AutosaveInterval = def.AutosaveInterval
	}
	if p.TickInterval <= 0 {
		p.TickInterval = def.TickInterval
	}
	if p.RecentWarnings <= 0 {
		p.RecentWarnings = def.RecentWarnings
	}
	if p.ShutdownGrace <= 0 {
		p.ShutdownGrace = def.ShutdownGrace
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = def.WriteTimeout
	}
	return p
}
