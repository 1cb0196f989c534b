package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta"
)

// statusFor maps orquesta errors to HTTP status codes.
func statusFor(err error) int {
	var ve *orquesta.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, orquesta.ErrInvalidState),
		errors.Is(err, orquesta.ErrDuplicateCron),
		errors.Is(err, orquesta.ErrRunAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, orquesta.ErrJobNotFound) ||
		errors.Is(err, orquesta.ErrRunNotFound) ||
		errors.Is(err, orquesta.ErrDLQNotFound) ||
		errors.Is(err, orquesta.ErrWorkflowNotFound) ||
		errors.Is(err, orquesta.ErrEventNotFound) ||
		errors.Is(err, orquesta.ErrCronNotFound)
}

// abort writes err as a JSON error body. Server errors are logged.
func (a *API) abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("http handler failed",
			slog.String("route", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
