package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"taskmanager/internal/model"
)

// TaskRepository defines task persistence operations. Every read and write is scoped by owner.
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Task, error)
	FindByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*model.Task, error)
	Update(ctx context.Context, task *model.Task) error
	DeleteByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) error
	// Transaction methods
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repo TaskRepository) error) error
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Create creates a new task.
func (r *taskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// ListByOwner returns the owner's tasks, oldest first.
func (r *taskRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindByIDAndOwner returns gorm.ErrRecordNotFound when the task is absent or owned by someone else.
func (r *taskRepository) FindByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, ownerID).
		First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// Update replaces the mutable fields of task and bumps its version.
// The stored row is read back into task.
func (r *taskRepository) Update(ctx context.Context, task *model.Task) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND user_id = ?", task.ID, task.UserID).
		Updates(map[string]any{
			"title":       task.Title,
			"description": task.Description,
			"responsible": task.Responsible,
			"status":      task.Status,
			"start_date":  task.StartDate,
			"end_date":    task.EndDate,
			"deadline":    task.Deadline,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.db.WithContext(ctx).Where("id = ?", task.ID).First(task).Error
}

// DeleteByIDAndOwner permanently removes the task.
func (r *taskRepository) DeleteByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, ownerID).
		Delete(&model.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// WithTransaction executes a function within a database transaction.
func (r *taskRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo TaskRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &taskRepository{db: tx}
		return fn(ctx, txRepo)
	})
}
