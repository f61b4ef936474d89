package server

import (
	"errors"
	"net/http"

	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	"github.com/datakilde/varsel/internal/orchestrator/guard"
	providerdomain "github.com/datakilde/varsel/internal/provider/domain"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, datasetdomain.ErrInvalidCode),
		errors.Is(err, quotadomain.ErrInvalidConsume):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, datasetdomain.ErrNotFound),
		errors.Is(err, providerdomain.ErrUnknownScope),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, datasetdomain.ErrNotConfigured),
		errors.Is(err, sentineldomain.ErrNoActiveItems),
		errors.Is(err, guard.ErrNotConfigured),
		errors.Is(err, guard.ErrDatasetInactive),
		errors.Is(err, guard.ErrScopeMismatch):
		return http.StatusConflict, errorPayload{
			Type:    "not_configured",
			Message: err.Error(),
		}
	case errors.Is(err, quotadomain.ErrQuotaExhausted):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "quota_exhausted",
			Message: err.Error(),
		}
	case errors.Is(err, ErrServiceUnavailable),
		providerdomain.IsTransient(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
