package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskmanager/internal/cache"
	apperrors "taskmanager/internal/errors"
	"taskmanager/internal/logger"
	"taskmanager/internal/model"
	"taskmanager/internal/repository"
	"taskmanager/internal/validation"
)

const taskCacheTTL = 5 * time.Minute

// taskTombstone marks a deleted task so a racing read cannot re-cache it.
var taskTombstone = []byte("deleted")

// TaskInput is the full task payload accepted by create and update.
type TaskInput struct {
	Title       string           `json:"title" validate:"notblank" example:"Write report"`
	Description string           `json:"description" validate:"notblank" example:"Quarterly numbers"`
	Responsible string           `json:"responsible" validate:"notblank" example:"alice"`
	Status      model.TaskStatus `json:"status" validate:"required,oneof=in_progress done blocked" example:"in_progress"`
	StartDate   string           `json:"startDate" validate:"required,taskdate" example:"2024-01-01"`
	EndDate     string           `json:"endDate" validate:"required,taskdate" example:"2024-01-02"`
	Deadline    string           `json:"deadline" validate:"required,taskdate" example:"2024-01-03"`
}

// apply checks the schedule ordering and copies the input onto task.
func (in TaskInput) apply(task *model.Task) error {
	if !in.Status.Valid() {
		return apperrors.NewValidationError("invalid input", apperrors.FieldError{
			Field: "status", Message: "status must be one of: in_progress, done, blocked",
		})
	}

	var fields []apperrors.FieldError
	parse := func(field, value string) time.Time {
		t, err := validation.ParseDate(value)
		if err != nil {
			fields = append(fields, apperrors.FieldError{
				Field: field, Message: field + " must be a date in YYYY-MM-DD or RFC 3339 format",
			})
		}
		return t
	}
	start := parse("startDate", in.StartDate)
	end := parse("endDate", in.EndDate)
	deadline := parse("deadline", in.Deadline)
	if len(fields) > 0 {
		return apperrors.NewValidationError("invalid input", fields...)
	}

	if start.After(end) {
		return apperrors.NewValidationError("startDate must not be after endDate", apperrors.FieldError{
			Field: "endDate", Message: "startDate must not be after endDate",
		})
	}
	if end.After(deadline) {
		return apperrors.NewValidationError("endDate must not be after deadline", apperrors.FieldError{
			Field: "deadline", Message: "endDate must not be after deadline",
		})
	}

	task.Title = in.Title
	task.Description = in.Description
	task.Responsible = in.Responsible
	task.Status = in.Status
	task.StartDate = start
	task.EndDate = end
	task.Deadline = deadline
	return nil
}

// TaskService handles owner-scoped task operations.
type TaskService interface {
	Create(ctx context.Context, ownerID uuid.UUID, in TaskInput) (*model.Task, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]model.Task, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Task, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, in TaskInput) (*model.Task, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) (*model.Task, error)
}

type taskService struct {
	repo  repository.TaskRepository
	cache *cache.Client
	stale *staleKeys
}

// NewTaskService creates a new task service.
func NewTaskService(repo repository.TaskRepository, cache *cache.Client) TaskService {
	return &taskService{
		repo:  repo,
		cache: cache,
		stale: newStaleKeys(taskCacheTTL),
	}
}

func (s *taskService) cacheKey(ownerID, id uuid.UUID) string {
	return fmt.Sprintf("task:%s:%s", ownerID.String(), id.String())
}

// Create stores a new task owned by ownerID.
func (s *taskService) Create(ctx context.Context, ownerID uuid.UUID, in TaskInput) (*model.Task, error) {
	task := &model.Task{UserID: ownerID}
	if err := in.apply(task); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// List returns every task owned by ownerID.
func (s *taskService) List(ctx context.Context, ownerID uuid.UUID) ([]model.Task, error) {
	tasks, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Get retrieves a task by ID with caching.
//
// Reads fill the cache with SETNX, while Update and Delete overwrite the entry, so a read
// that loaded the row before a write can never replace the newer entry.
func (s *taskService) Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Task, error) {
	key := s.cacheKey(ownerID, id)
	stale := s.stale.has(key)

	if !stale {
		if data, _ := s.cache.Get(ctx, key); data != nil {
			if bytes.Equal(data, taskTombstone) {
				return nil, apperrors.ErrTaskNotFound
			}
			var cached model.Task
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	task, err := s.repo.FindByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		if stale && errors.Is(err, gorm.ErrRecordNotFound) {
			s.store(ctx, key, taskTombstone)
		}
		return nil, mapTaskError("get task", err)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return task, nil
	}
	if stale {
		s.store(ctx, key, payload)
	} else {
		_, _ = s.cache.SetNX(ctx, key, payload, taskCacheTTL)
	}
	return task, nil
}

// Update replaces every field of an owned task. Concurrent updates are last-write-wins.
func (s *taskService) Update(ctx context.Context, ownerID, id uuid.UUID, in TaskInput) (*model.Task, error) {
	task := &model.Task{ID: id, UserID: ownerID}
	if err := in.apply(task); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, mapTaskError("update task", err)
	}

	key := s.cacheKey(ownerID, id)
	if payload, err := json.Marshal(task); err == nil {
		s.store(ctx, key, payload)
	} else {
		s.invalidate(ctx, key)
	}
	return task, nil
}

// Delete permanently removes an owned task and returns it.
func (s *taskService) Delete(ctx context.Context, ownerID, id uuid.UUID) (*model.Task, error) {
	var deleted *model.Task
	err := s.repo.WithTransaction(ctx, func(ctx context.Context, repo repository.TaskRepository) error {
		task, err := repo.FindByIDAndOwner(ctx, id, ownerID)
		if err != nil {
			return err
		}
		if err := repo.DeleteByIDAndOwner(ctx, id, ownerID); err != nil {
			return err
		}
		deleted = task
		return nil
	})
	if err != nil {
		return nil, mapTaskError("delete task", err)
	}
	s.store(ctx, s.cacheKey(ownerID, id), taskTombstone)
	return deleted, nil
}

// store overwrites the cache entry for key. On failure the key is read from the database
// until a later write succeeds.
func (s *taskService) store(ctx context.Context, key string, payload []byte) {
	if err := s.cache.Put(ctx, key, payload, taskCacheTTL); err != nil {
		logger.Warn("task cache write failed, bypassing cache for key", zap.String("key", key), zap.Error(err))
		s.stale.mark(key)
		return
	}
	s.stale.clear(key)
}

func (s *taskService) invalidate(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		logger.Warn("task cache invalidation failed, bypassing cache for key", zap.String("key", key), zap.Error(err))
		s.stale.mark(key)
	}
}

func mapTaskError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrTaskNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
