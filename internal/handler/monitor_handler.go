package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second
)

// MonitorHandler serves the proctor's view of a running exam.
type MonitorHandler struct {
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(examService *service.ExamService, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetProgress godoc
// GET /api/v1/admin/exams/:id/progress
func (h *MonitorHandler) GetProgress(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	progress, err := h.monitorService.GetExamProgress(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Progress query failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Opens with a progress snapshot, then relays joined, violation, completed
// and left events as they are published. The table is re-sent every
// refreshInterval.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.examService.GetDefinition(ctx, examID); err != nil {
		fail(c, err)
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	pubsub := h.monitorService.Subscribe(ctx, examID)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Monitor subscribe failed")
		response.FailCode(c, response.ErrInternal)
		return
	}
	events := pubsub.Channel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	log := h.log.With().Str("exam_id", examID.String()).Logger()
	log.Info().Msg("Proctor attached to exam monitor")
	defer log.Info().Msg("Proctor detached from exam monitor")

	h.pushProgress(c, examID, "snapshot")

	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-events:
			if !ok {
				return false
			}
			// Published events are JSON already.
			c.SSEvent("message", msg.Payload)
		case <-refresh.C:
			h.pushProgress(c, examID, "refresh")
		case <-keepAlive.C:
			c.SSEvent("message", gin.H{"type": "ping"})
		}
		return true
	})
}

func (h *MonitorHandler) pushProgress(c *gin.Context, examID uuid.UUID, kind string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetExamProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Progress refresh failed")
		return
	}
	c.SSEvent("message", gin.H{"type": kind, "progress": progress})
	c.Writer.Flush()
}
