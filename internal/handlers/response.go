package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questionbank-backend/internal/platform/apierr"
	"github.com/yungbote/questionbank-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// respondServiceError maps service errors onto HTTP via apierr. Anything
// unmapped is a 500; record-scoped problems never reach here because they
// are persisted, not raised.
func respondServiceError(c *gin.Context, err error) {
	ae := classify(err)
	RespondError(c, ae.Status, ae.Code, ae)
}

func classify(err error) *apierr.Error {
	switch {
	case errors.Is(err, services.ErrBatchNotFound),
		errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrDuplicateNotFound):
		return apierr.NotFound(err)
	case errors.Is(err, services.ErrConcurrencyConflict):
		return apierr.ConcurrencyConflict(err)
	case errors.Is(err, services.ErrInvalidStatusFilter),
		errors.Is(err, services.ErrInvalidResolution),
		errors.Is(err, services.ErrEmptyDocument):
		return apierr.InvalidRequest(err)
	case errors.Is(err, services.ErrBatchNotReviewable),
		errors.Is(err, services.ErrRecordNotReviewable),
		errors.Is(err, services.ErrBatchNotCancellable),
		errors.Is(err, services.ErrBatchNotImportable):
		return apierr.InvalidState(err)
	default:
		return apierr.Internal(err)
	}
}
