package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// accessCodeURI binds the :code path parameter.
type accessCodeURI struct {
	Code string `uri:"code" json:"code" binding:"required,access_code"`
}

// StudentHandler serves the student entry point ahead of the session stream.
type StudentHandler struct {
	proctorService *service.ProctorService
	log            zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(proctorService *service.ProctorService, log zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		proctorService: proctorService,
		log:            log.With().Str("component", "student_handler").Logger(),
	}
}

// CheckAccessCode godoc
// GET /api/v1/sessions/:code
// Reports whether an access code can be opened, without claiming it.
func (h *StudentHandler) CheckAccessCode(c *gin.Context) {
	var uri accessCodeURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	access, err := h.proctorService.Inspect(c.Request.Context(), uri.Code)
	if err != nil {
		code := errorCode(err)
		if code == response.ErrInternal {
			h.log.Error().Err(err).Msg("Access code check failed")
		}
		response.FailCode(c, code)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": access})
}
