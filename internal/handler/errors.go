package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// errorCode maps a domain error onto its API code. Unknown errors are internal.
func errorCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, proctor.ErrSessionNotFound):
		return response.ErrSessionNotFound
	case errors.Is(err, proctor.ErrSessionAlreadyUsed):
		return response.ErrSessionUsed
	case errors.Is(err, proctor.ErrSessionCompleted):
		return response.ErrSessionCompleted
	case errors.Is(err, proctor.ErrSessionInactive):
		return response.ErrSessionInactive
	case errors.Is(err, proctor.ErrSessionTerminated):
		return response.ErrSessionTerminated
	case errors.Is(err, proctor.ErrNotInProgress):
		return response.ErrNotInProgress
	case errors.Is(err, proctor.ErrNothingToSubmit):
		return response.ErrNothingToSubmit
	case errors.Is(err, proctor.ErrQuestionOutOfRange):
		return response.ErrQuestionOutOfRange
	case errors.Is(err, service.ErrExamNotFound):
		return response.ErrNotFound
	case errors.Is(err, service.ErrExamNotAvailable):
		return response.ErrExamNotAvailable
	case errors.Is(err, service.ErrNoQuestions):
		return response.ErrNoQuestions
	case errors.Is(err, service.ErrSessionRecordNotFound):
		return response.ErrNotFound
	case errors.Is(err, service.ErrSessionNotReopenable):
		return response.ErrNotInProgress
	case errors.Is(err, service.ErrShuttingDown):
		return response.ErrServiceUnavailable
	default:
		return response.ErrInternal
	}
}

// fail writes the error envelope for err.
func fail(c *gin.Context, err error) {
	response.FailCode(c, errorCode(err))
}
