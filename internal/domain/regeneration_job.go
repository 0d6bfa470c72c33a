package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Regeneration job statuses. Only pending jobs whose scheduled_for has passed
// are eligible for claim; terminal jobs are never reclaimed.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Job types dispatched by the queue drain.
const (
	JobTypePlanRegenerate = "plan_regenerate"
)

type RegenerationJob struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PlanID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"plan_id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	JobType      string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status       string         `gorm:"column:status;not null;default:pending;index" json:"status"`
	Priority     int            `gorm:"column:priority;not null;default:0;index" json:"priority"`
	AttemptCount int            `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	MaxAttempts  int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	ScheduledFor time.Time      `gorm:"column:scheduled_for;not null;default:now();index" json:"scheduled_for"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (RegenerationJob) TableName() string { return "regeneration_job" }
