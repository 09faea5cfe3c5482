package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStatus is a closed set; any value may follow any other.
type TaskStatus string

const (
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusDone, StatusBlocked:
		return true
	}
	return false
}

// Task is a unit of work owned by exactly one user.
type Task struct {
	ID          uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Title       string     `json:"title" gorm:"size:255;not null"`
	Description string     `json:"description" gorm:"type:text;not null"`
	Responsible string     `json:"responsible" gorm:"size:255;not null"`
	Status      TaskStatus `json:"status" gorm:"size:20;not null;index"`
	StartDate   time.Time  `json:"startDate" gorm:"not null"`
	EndDate     time.Time  `json:"endDate" gorm:"not null"`
	Deadline    time.Time  `json:"deadline" gorm:"not null"`
	UserID      uuid.UUID  `json:"userId" gorm:"type:char(36);not null;index"`
	Version     int        `json:"version" gorm:"not null;default:1"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate sets UUID before creating the record.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Version == 0 {
		t.Version = 1
	}
	return nil
}
