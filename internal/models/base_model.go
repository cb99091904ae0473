package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared fields for persistent models. Rows are never soft-deleted.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// TaskState is the lifecycle of an asynchronous side effect attached to a certificate.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	// TaskSkipped marks side effects that were never scheduled, e.g. a disabled collaborator.
	TaskSkipped TaskState = "skipped"
)

// ParseTaskState normalises a task state filter value.
func ParseTaskState(value string) (TaskState, bool) {
	state := TaskState(strings.ToLower(strings.TrimSpace(value)))
	switch state {
	case TaskPending, TaskRunning, TaskSucceeded, TaskFailed, TaskSkipped:
		return state, true
	}
	return "", false
}

// Terminal reports whether no further transitions are expected.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}
