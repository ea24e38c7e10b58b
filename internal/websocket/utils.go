package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
)

const (
	writeWait  = 10 * time.Second
	readWait   = 5 * time.Minute
	outboxSize = 64
	closeWait  = time.Second
)

// JSONWriter is the write side of a WebSocket connection.
type JSONWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn JSONWriter, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn JSONWriter, code response.ErrCode) error {
	return WriteTyped(conn, NewErrorResponse(code))
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

// Outbox serializes writes to one connection. Session goroutines enqueue
// frames without blocking; a single writer goroutine sends them in order.
type Outbox struct {
	conn JSONWriter
	ch   chan interface{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

// NewOutbox creates an Outbox. Call Run in a goroutine.
func NewOutbox(conn JSONWriter, log zerolog.Logger) *Outbox {
	return &Outbox{
		conn: conn,
		ch:   make(chan interface{}, outboxSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send enqueues v. It reports false if the outbox is closed or full.
func (o *Outbox) Send(v interface{}) bool {
	select {
	case <-o.quit:
		return false
	default:
	}
	select {
	case o.ch <- v:
		return true
	case <-o.quit:
		return false
	default:
		o.log.Warn().Msg("Outbox full, dropping frame")
		return false
	}
}

// Run writes queued frames until Close. Frames queued before Close are flushed.
func (o *Outbox) Run() {
	defer close(o.done)
	for {
		select {
		case v := <-o.ch:
			if err := WriteTyped(o.conn, v); err != nil {
				o.log.Debug().Err(err).Msg("Write failed, closing outbox")
				o.once.Do(func() { close(o.quit) })
				return
			}
		case <-o.quit:
			o.flush()
			return
		}
	}
}

func (o *Outbox) flush() {
	deadline := time.Now().Add(closeWait)
	for time.Now().Before(deadline) {
		select {
		case v := <-o.ch:
			if err := WriteTyped(o.conn, v); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close stops the outbox after flushing and waits for the writer to exit.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.quit) })
	<-o.done
}
