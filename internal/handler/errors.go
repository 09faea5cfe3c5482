package handler

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/logger"
)

// respondError converts err into the JSON error response. Internal causes are logged, never returned.
func respondError(c echo.Context, err error) error {
	httpErr := apperrors.MapErrorToHTTP(err)
	if httpErr.IsInternal() {
		logger.Error("request failed", err,
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
	}
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

// bindAndValidate decodes the JSON body into req and runs the registered validator.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperrors.NewValidationError("invalid request body")
	}
	return c.Validate(req)
}
