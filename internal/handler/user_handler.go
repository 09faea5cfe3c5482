package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"taskmanager/internal/middleware"
	"taskmanager/internal/service"
)

// UserHandler serves the requester's own identity.
type UserHandler struct {
	svc service.UserService
}

// NewUserHandler creates a handler layer.
func NewUserHandler(svc service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// Me godoc
// @Summary Current user
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.PublicUser
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/users/me [get]
func (h *UserHandler) Me(c echo.Context) error {
	identity, err := middleware.IdentityFrom(c)
	if err != nil {
		return err
	}

	me, err := h.svc.Me(c.Request().Context(), identity.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, me)
}
