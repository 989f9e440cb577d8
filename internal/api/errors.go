package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/sandbox"
	"github.com/opensandbox/devbox/pkg/types"
)

// statusFor maps a sandbox service error to an HTTP status.
func statusFor(err error) int {
	var cmdErr *sandbox.CommandError
	switch {
	case errors.Is(err, sandbox.ErrSandboxNotFound):
		return http.StatusNotFound
	case errors.Is(err, sandbox.ErrPreviewUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, sandbox.ErrInvalidFileTree), errors.Is(err, sandbox.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.As(err, &cmdErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Str("sandbox_id", c.Param("id")).Msg("api: request failed")
	}
	return c.JSON(status, types.ErrorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: msg})
}
