package monitor

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/analyzer"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PatternFastTyping is recorded when the recent keystroke average falls below the threshold.
const PatternFastTyping = "fast_typing"

// NoticeType names a non-violation condition reported by the monitor.
type NoticeType string

const (
	NoticeFullscreenExit        NoticeType = "fullscreen_exit"
	NoticeFullscreenUnavailable NoticeType = "fullscreen_unavailable"
)

// PatternNote records a suspicious keystroke pattern.
type PatternNote struct {
	Timestamp time.Time `json:"timestamp"`
	Pattern   string    `json:"pattern"`
	AverageMs float64   `json:"average_ms"`
}

// Config tunes the monitor.
type Config struct {
	FocusPollInterval   time.Duration
	FastTypingThreshold time.Duration
	// Window is how many recent intervals the fast-typing rule averages.
	Window int
	// BufferSize caps the number of retained keystroke intervals.
	BufferSize int
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		FocusPollInterval:   5 * time.Second,
		FastTypingThreshold: 80 * time.Millisecond,
		Window:              analyzer.MinKeystrokeSamples,
		BufferSize:          4096,
	}
}

// Monitor turns host signals into violations and a keystroke timing stream.
// All methods are safe for concurrent use.
type Monitor struct {
	host  Host
	cfg   Config
	clock clockwork.Clock
	log   zerolog.Logger

	// mu guards the running flag and the callbacks. Callbacks run under the read lock
	// so Stop waits for in-flight deliveries.
	mu          sync.RWMutex
	running     bool
	onViolation func(model.ViolationKind)
	onNotice    func(NoticeType)
	unlisten    func()
	stop        chan struct{}
	wg          sync.WaitGroup

	keysMu    sync.Mutex
	lastKey   time.Time
	intervals *ring
	patterns  []PatternNote
}

// New creates a stopped Monitor bound to host.
func New(host Host, cfg Config, clock clockwork.Clock, log zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.FocusPollInterval <= 0 {
		cfg.FocusPollInterval = def.FocusPollInterval
	}
	if cfg.FastTypingThreshold <= 0 {
		cfg.FastTypingThreshold = def.FastTypingThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BufferSize < cfg.Window {
		cfg.BufferSize = def.BufferSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		host:      host,
		cfg:       cfg,
		clock:     clock,
		log:       log.With().Str("component", "event_monitor").Logger(),
		intervals: newRing(cfg.BufferSize),
	}
}

// Subscribe sets the single violation callback. It replaces any previous one.
func (m *Monitor) Subscribe(fn func(model.ViolationKind)) {
	m.mu.Lock()
	m.onViolation = fn
	m.mu.Unlock()
}

// OnNotice sets the callback for non-violation conditions such as leaving fullscreen.
func (m *Monitor) OnNotice(fn func(NoticeType)) {
	m.mu.Lock()
	m.onNotice = fn
	m.mu.Unlock()
}

// Start begins listening to the host and polling focus. Calling it while running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	m.running = true
	m.stop = make(chan struct{})
	m.unlisten = m.host.Listen(m.handle)

	ticker := m.clock.NewTicker(m.cfg.FocusPollInterval)
	m.wg.Add(1)
	go m.pollFocus(ticker, m.stop)

	m.log.Debug().Dur("focus_poll", m.cfg.FocusPollInterval).Msg("Monitor started")
}

// Stop unregisters from the host and cancels the focus poll. No violation is
// delivered after Stop returns. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	unlisten := m.unlisten
	m.unlisten = nil
	close(m.stop)
	m.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	m.wg.Wait()
	m.log.Debug().Msg("Monitor stopped")
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// KeystrokeAnalysis classifies the keystroke intervals collected so far.
func (m *Monitor) KeystrokeAnalysis() model.KeystrokeProfile {
	m.keysMu.Lock()
	samples := m.intervals.values()
	m.keysMu.Unlock()
	return analyzer.ClassifyKeystrokes(samples)
}

// Patterns returns the suspicious keystroke patterns recorded so far.
func (m *Monitor) Patterns() []PatternNote {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()
	out := make([]PatternNote, len(m.patterns))
	copy(out, m.patterns)
	return out
}

func (m *Monitor) pollFocus(ticker clockwork.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			m.mu.RLock()
			if m.running && !m.host.HasFocus() {
				m.emit(model.ViolationFocusLost)
			}
			m.mu.RUnlock()
		}
	}
}

func (m *Monitor) handle(sig Signal) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return
	}

	switch sig.Type {
	case SignalCopy, SignalCut:
		sig.PreventDefault()
		m.emit(model.ViolationCopy)
	case SignalPaste:
		sig.PreventDefault()
		m.emit(model.ViolationPaste)
	case SignalContextMenu:
		sig.PreventDefault()
		m.emit(model.ViolationContextMenu)
	case SignalKeyDown:
		if isDevToolsCombo(sig) {
			sig.PreventDefault()
			m.emit(model.ViolationDevTools)
		}
		m.recordKeystroke(sig.At)
	case SignalVisibility:
		if sig.Hidden {
			m.emit(model.ViolationTabSwitch)
		}
	case SignalBlur:
		m.emit(model.ViolationFocusLost)
	case SignalFullscreenExit:
		m.notify(NoticeFullscreenExit)
	case SignalFullscreenUnavailable:
		m.notify(NoticeFullscreenUnavailable)
	case SignalFocus:
	default:
		m.log.Debug().Str("signal", string(sig.Type)).Msg("Ignoring unknown signal")
	}
}

// recordKeystroke appends the interval since the previous key and applies the
// fast-typing rule. Called with mu read-locked.
func (m *Monitor) recordKeystroke(at time.Time) {
	if at.IsZero() {
		at = m.clock.Now()
	}

	m.keysMu.Lock()
	prev := m.lastKey
	m.lastKey = at
	if prev.IsZero() {
		m.keysMu.Unlock()
		return
	}

	delta := at.Sub(prev)
	if delta < 0 {
		delta = 0
	}
	m.intervals.push(float64(delta) / float64(time.Millisecond))

	var note PatternNote
	if m.intervals.len() >= m.cfg.Window {
		avg := m.intervals.tailMean(m.cfg.Window)
		if avg < float64(m.cfg.FastTypingThreshold)/float64(time.Millisecond) {
			note = PatternNote{Timestamp: at, Pattern: PatternFastTyping, AverageMs: avg}
			m.patterns = append(m.patterns, note)
		}
	}
	m.keysMu.Unlock()

	if note.Pattern != "" {
		m.log.Warn().Float64("average_ms", note.AverageMs).Str("pattern", note.Pattern).Msg("Fast typing detected")
		m.emit(model.ViolationSuspiciousKeystrokes)
	}
}

// emit forwards kind to the subscriber. Called with mu read-locked.
func (m *Monitor) emit(kind model.ViolationKind) {
	m.log.Debug().Str("kind", string(kind)).Msg("Violation observed")
	if m.onViolation != nil {
		m.onViolation(kind)
	}
}

func (m *Monitor) notify(n NoticeType) {
	if m.onNotice != nil {
		m.onNotice(n)
	}
}

// isDevToolsCombo matches F12, Ctrl+Shift+I/J, Ctrl+U and their macOS equivalents.
func isDevToolsCombo(sig Signal) bool {
	key := strings.ToUpper(sig.Key)
	switch {
	case key == "F12":
		return true
	case sig.Ctrl && sig.Shift && (key == "I" || key == "J"):
		return true
	case sig.Ctrl && key == "U":
		return true
	case sig.Meta && sig.Alt && (key == "I" || key == "J" || key == "U"):
		return true
	}
	return false
}
