package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs a proctored session over a student's WebSocket.
type WSHandler struct {
	proctorService *service.ProctorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(proctorService *service.ProctorService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		proctorService: proctorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:code/stream
// Opens the session behind an access code and streams its snapshots.
// Browser signals come in as "signal" frames and feed the integrity monitor.
func (h *WSHandler) SessionStream(c *gin.Context) {
	var uri accessCodeURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	outbox := ws.NewOutbox(conn, h.log)
	go outbox.Run()
	defer func() {
		outbox.Close()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	host := ws.NewConnHost(outbox.Send)
	ctx := c.Request.Context()

	var framer ws.SnapshotFramer
	ctrl, err := h.proctorService.Open(ctx, uri.Code, host, func(s proctor.Snapshot) {
		outbox.Send(framer.Frame(s))
	})
	if err != nil {
		code := errorCode(err)
		if code == response.ErrInternal {
			h.log.Error().Err(err).Msg("Open session failed")
		}
		outbox.Send(ws.NewErrorResponse(code))
		return
	}
	defer ctrl.Dispose()

	wsLog := h.log.With().Str("session_id", ctrl.Ref().SessionID.String()).Logger()
	wsLog.Info().Msg("Student connected")

	// A terminated session ends the connection even while the read loop is blocked.
	go func() {
		<-ctrl.Done()
		snap := ctrl.Snapshot()
		if snap.Lifecycle == model.LifecycleTerminated {
			outbox.Send(ws.TerminatedResponse{Event: ws.EventTerminated, Snapshot: ws.NewStudentSnapshot(snap)})
		}
		outbox.Close()
		conn.Close()
	}()

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.handle(ctx, wsLog, ctrl, host, outbox, &msg)
	}
}

// handle applies one client frame. Successful commands are answered by the
// snapshot the controller publishes; failures get an error frame.
func (h *WSHandler) handle(ctx context.Context, log zerolog.Logger, ctrl *proctor.Controller, host *ws.ConnHost, outbox *ws.Outbox, msg *ws.Request) {
	var err error
	switch msg.Action {
	case ws.ActionSignal:
		sig, perr := ws.ParseSignal(*msg)
		if perr != nil {
			outbox.Send(ws.NewErrorResponse(response.ErrInvalidPayload))
			return
		}
		host.Dispatch(sig)
		return
	case ws.ActionPing:
		if msg.Focused != nil {
			host.SetFocused(*msg.Focused)
		}
		outbox.Send(ws.PongResponse{Event: ws.EventPong})
		return
	case ws.ActionState:
		outbox.Send(ws.NewSnapshotResponse(ctrl.Snapshot()))
		return
	case ws.ActionAnswer:
		_, err = ctrl.UpdateAnswer(ctx, msg.Text)
	case ws.ActionSave:
		_, err = ctrl.SaveCurrentAnswer(ctx)
	case ws.ActionNext:
		_, err = ctrl.Next(ctx)
	case ws.ActionPrevious:
		_, err = ctrl.Previous(ctx)
	case ws.ActionJump:
		if msg.Index == nil {
			outbox.Send(ws.NewErrorResponse(response.ErrInvalidPayload))
			return
		}
		_, err = ctrl.JumpTo(ctx, *msg.Index)
	case ws.ActionSubmit:
		_, err = ctrl.SubmitExam(ctx)
	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		outbox.Send(ws.NewErrorResponse(response.ErrUnknownAction))
		return
	}

	if err == nil {
		return
	}
	code := errorCode(err)
	if code == response.ErrInternal && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("action", string(msg.Action)).Msg("Command failed")
	}
	outbox.Send(ws.NewErrorResponse(code))
}
