package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler handles access code issuance and session administration.
type SessionHandler struct {
	adminService *service.SessionAdminService
	log          zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(adminService *service.SessionAdminService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		adminService: adminService,
		log:          log.With().Str("component", "session_handler").Logger(),
	}
}

// IssueSessions godoc
// POST /api/v1/admin/exams/:id/sessions
// Issues count fresh access codes for the exam.
func (h *SessionHandler) IssueSessions(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.IssueSessionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sessions, err := h.adminService.IssueSessions(c.Request.Context(), examID, req.Count)
	if err != nil {
		fail(c, err)
		return
	}

	if claims := middleware.GetClaims(c); claims != nil {
		h.log.Info().
			Str("admin", claims.Subject).
			Str("exam_id", examID.String()).
			Int("count", len(sessions)).
			Msg("Access codes issued")
	}
	response.Success(c, http.StatusCreated, gin.H{"sessions": sessions})
}

// GetResults godoc
// GET /api/v1/admin/exams/:id/results
// Lists completed sessions with answers, analyzer verdicts and violation tallies.
func (h *SessionHandler) GetResults(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	results, err := h.adminService.Results(c.Request.Context(), examID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// ClearSessions godoc
// DELETE /api/v1/admin/exams/:id/sessions
func (h *SessionHandler) ClearSessions(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	n, err := h.adminService.ClearExamSessions(c.Request.Context(), examID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": n})
}

// DeleteSession godoc
// DELETE /api/v1/admin/sessions/:session_id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	if err := h.adminService.DeleteSession(c.Request.Context(), sessionID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Session deleted"})
}

// ReopenSession godoc
// POST /api/v1/admin/sessions/:session_id/reopen
// Lets a student whose connection dropped open the session again.
func (h *SessionHandler) ReopenSession(c *gin.Context) {
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	if err := h.adminService.Reopen(c.Request.Context(), sessionID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Session reopened"})
}
