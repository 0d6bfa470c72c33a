package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Attempt statuses. An attempt is terminal exactly once; a success row is
// immutable after it is written.
const (
	AttemptStatusInProgress = "in_progress"
	AttemptStatusSuccess    = "success"
	AttemptStatusFailure    = "failure"
)

type GenerationAttempt struct {
	ID                    uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PlanID                uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_attempt_plan_number,priority:1" json:"plan_id"`
	UserID                uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	AttemptNumber         int            `gorm:"column:attempt_number;not null;uniqueIndex:idx_attempt_plan_number,priority:2" json:"attempt_number"`
	Status                string         `gorm:"column:status;not null;index" json:"status"`
	FailureClassification *string        `gorm:"column:failure_classification;index" json:"failure_classification,omitempty"`
	DurationMs            int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	ModulesCount          int            `gorm:"column:modules_count;not null;default:0" json:"modules_count"`
	TasksCount            int            `gorm:"column:tasks_count;not null;default:0" json:"tasks_count"`
	TopicTruncated        bool           `gorm:"column:topic_truncated;not null;default:false" json:"topic_truncated"`
	NotesTruncated        bool           `gorm:"column:notes_truncated;not null;default:false" json:"notes_truncated"`
	InputHash             string         `gorm:"column:input_hash;not null;index" json:"input_hash"`
	Metadata              datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	StartedAt             time.Time      `gorm:"column:started_at;not null;default:now();index" json:"started_at"`
	CreatedAt             time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (GenerationAttempt) TableName() string { return "generation_attempt" }
