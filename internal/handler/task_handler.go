package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/middleware"
	"taskmanager/internal/service"
)

// TaskHandler exposes owner-scoped task CRUD. Every route sits behind middleware.Auth.
type TaskHandler struct {
	taskService service.TaskService
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(taskService service.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

// taskID parses the :id path parameter. A malformed id is reported like an absent task.
func taskID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.ErrTaskNotFound
	}
	return id, nil
}

// Create godoc
// @Summary Create task
// @Tags tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.TaskInput true "Task"
// @Success 201 {object} model.Task
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /api/task [post]
func (h *TaskHandler) Create(c echo.Context) error {
	identity, err := middleware.IdentityFrom(c)
	if err != nil {
		return err
	}

	var req service.TaskInput
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}

	task, err := h.taskService.Create(c.Request().Context(), identity.ID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

// List godoc
// @Summary List own tasks
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.Task
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /api/task [get]
func (h *TaskHandler) List(c echo.Context) error {
	identity, err := middleware.IdentityFrom(c)
	if err != nil {
		return err
	}

	tasks, err := h.taskService.List(c.Request().Context(), identity.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}

// Get godoc
// @Summary Get task
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 200 {object} model.Task
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/task/{id} [get]
func (h *TaskHandler) Get(c echo.Context) error {
	identity, err := middleware.IdentityFrom(c)
	if err != nil {
		return err
	}
	id, err := taskID(c)
	if err != nil {
		return respondError(c, err)
	}

	task, err := h.taskService.Get(c.Request().Context(), identity.ID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// Update godoc
// @Summary Replace task
// @Tags tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Param request body service.TaskInput true "Task"
// @Success 200 {object} model.Task
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/task/{id} [put]
func (h *TaskHandler) Update(c echo.Context) error {
	identity, err := middleware.IdentityFrom(c)
	if err != nil {
		return err
	}
	id, err := taskID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req service.TaskInput
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}

	task, err := h.taskService.Update(c.Request().Context(), identity.ID, id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// Delete godoc
// @Summary Delete task
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 200 {object} model.Task
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/task/{id} [delete]
func (h *TaskHandler) Delete(c echo.Context) error {
	identity, err := middleware.IdentityFrom(c)
	if err != nil {
		return err
	}
	id, err := taskID(c)
	if err != nil {
		return respondError(c, err)
	}

	task, err := h.taskService.Delete(c.Request().Context(), identity.ID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}
