package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

type recordingConn struct {
	mu      sync.Mutex
	written []interface{}
	err     error
	block   chan struct{}
}

func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordingConn) WriteJSON(v interface{}) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.written = append(c.written, v)
	return nil
}

func (c *recordingConn) frames() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.written...)
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal(Request{Action: ActionSignal, Signal: "keydown", Key: "i", Ctrl: true, Shift: true, At: 1700000000123})
	require.NoError(t, err)
	assert.Equal(t, monitor.SignalKeyDown, sig.Type)
	assert.True(t, sig.Ctrl)
	assert.Equal(t, time.UnixMilli(1700000000123), sig.At)

	sig, err = ParseSignal(Request{Signal: "copy"})
	require.NoError(t, err)
	assert.True(t, sig.At.IsZero())

	_, err = ParseSignal(Request{Signal: "print"})
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestConnHost_DispatchAndSuppress(t *testing.T) {
	var sent []interface{}
	h := NewConnHost(func(v interface{}) bool {
		sent = append(sent, v)
		return true
	})

	var got []monitor.SignalType
	unlisten := h.Listen(func(s monitor.Signal) {
		got = append(got, s.Type)
		if s.Type == monitor.SignalPaste {
			s.PreventDefault()
			s.PreventDefault()
		}
	})

	h.Dispatch(monitor.Signal{Type: monitor.SignalPaste})
	h.Dispatch(monitor.Signal{Type: monitor.SignalKeyDown, Key: "a"})

	assert.Equal(t, []monitor.SignalType{monitor.SignalPaste, monitor.SignalKeyDown}, got)
	require.Len(t, sent, 1)
	assert.Equal(t, SuppressResponse{Event: EventSuppress, Signal: "paste"}, sent[0])

	unlisten()
	h.Dispatch(monitor.Signal{Type: monitor.SignalCopy})
	assert.Len(t, got, 2)
}

func TestConnHost_FocusTracking(t *testing.T) {
	h := NewConnHost(func(interface{}) bool { return true })
	assert.True(t, h.HasFocus())

	h.Dispatch(monitor.Signal{Type: monitor.SignalBlur})
	assert.False(t, h.HasFocus())
	h.Dispatch(monitor.Signal{Type: monitor.SignalFocus})
	assert.True(t, h.HasFocus())

	h.SetFocused(false)
	assert.False(t, h.HasFocus())
}

func TestConnHost_DrivesMonitor(t *testing.T) {
	h := NewConnHost(func(interface{}) bool { return true })
	m := monitor.New(h, monitor.DefaultConfig(), nil, zerolog.Nop())

	var mu sync.Mutex
	var kinds []model.ViolationKind
	m.Subscribe(func(k model.ViolationKind) {
		mu.Lock()
		kinds = append(kinds, k)
		mu.Unlock()
	})
	m.Start()
	defer m.Stop()

	h.Dispatch(monitor.Signal{Type: monitor.SignalCopy})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.ViolationKind{model.ViolationCopy}, kinds)
}

func TestNewStudentSnapshot_StripsAnalyzerMetadata(t *testing.T) {
	snap := proctor.Snapshot{
		Lifecycle: model.LifecycleInProgress,
		Answers: map[int]model.Answer{
			0: {
				QuestionIndex: 0,
				Text:          "mitochondria",
				Keystrokes:    &model.KeystrokeProfile{Samples: 30},
				Provenance:    &model.TextProvenanceResult{Likelihood: model.LikelihoodHigh},
			},
		},
		WarningCount:   2,
		RecentWarnings: []model.Warning{{Message: "b"}},
	}

	got := NewStudentSnapshot(snap)
	assert.Equal(t, StudentAnswer{Text: "mitochondria"}, got.Answers[0])
	assert.Equal(t, []model.Warning{{Message: "b"}}, got.RecentWarnings)
}

func TestSnapshotFramer_SendsTicksBetweenChanges(t *testing.T) {
	var f SnapshotFramer

	first := f.Frame(proctor.Snapshot{Revision: 4, RemainingSeconds: 60, Buffer: "draft"})
	require.IsType(t, SnapshotResponse{}, first)
	assert.Equal(t, "draft", first.(SnapshotResponse).Snapshot.Buffer)

	assert.Equal(t, TickResponse{Event: EventTick, RemainingSeconds: 59},
		f.Frame(proctor.Snapshot{Revision: 4, RemainingSeconds: 59, Buffer: "draft"}))

	changed := f.Frame(proctor.Snapshot{Revision: 5, RemainingSeconds: 59, Buffer: "draft2"})
	require.IsType(t, SnapshotResponse{}, changed)
	assert.Equal(t, 59, changed.(SnapshotResponse).Snapshot.RemainingSeconds)

	assert.IsType(t, TickResponse{}, f.Frame(proctor.Snapshot{Revision: 5, RemainingSeconds: 58}))
}

func TestOutbox_WritesInOrderAndFlushesOnClose(t *testing.T) {
	conn := &recordingConn{}
	o := NewOutbox(conn, zerolog.Nop())
	go o.Run()

	require.True(t, o.Send(PongResponse{Event: EventPong}))
	require.True(t, o.Send(NewErrorResponse(response.ErrNothingToSubmit)))
	o.Close()

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, PongResponse{Event: EventPong}, frames[0])
	assert.Equal(t, response.ErrNothingToSubmit, frames[1].(ErrorResponse).Code)

	assert.False(t, o.Send(PongResponse{Event: EventPong}))
	o.Close()
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	conn := &recordingConn{block: make(chan struct{})}
	o := NewOutbox(conn, zerolog.Nop())
	go o.Run()

	accepted := 0
	for i := 0; i < outboxSize+10; i++ {
		if o.Send(PongResponse{Event: EventPong}) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, outboxSize+1)
	close(conn.block)
	o.Close()
}

func TestOutbox_StopsOnWriteError(t *testing.T) {
	conn := &recordingConn{err: errors.New("broken pipe")}
	o := NewOutbox(conn, zerolog.Nop())
	go o.Run()

	o.Send(PongResponse{Event: EventPong})
	require.Eventually(t, func() bool { return !o.Send(PongResponse{Event: EventPong}) }, time.Second, 5*time.Millisecond)
	o.Close()
}
