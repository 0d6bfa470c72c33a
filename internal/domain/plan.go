package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan generation statuses.
const (
	PlanStatusPending    = "pending"
	PlanStatusGenerating = "generating"
	PlanStatusReady      = "ready"
	PlanStatusFailed     = "failed"
)

// Plan origins.
const (
	PlanOriginAI       = "ai"
	PlanOriginManual   = "manual"
	PlanOriginTemplate = "template"
	PlanOriginPDF      = "pdf"
)

type LearningPlan struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Topic            string         `gorm:"column:topic;not null" json:"topic"`
	SkillLevel       string         `gorm:"column:skill_level;not null" json:"skill_level"`
	LearningStyle    string         `gorm:"column:learning_style;not null" json:"learning_style"`
	WeeklyHours      float64        `gorm:"column:weekly_hours;not null;default:0" json:"weekly_hours"`
	StartDate        *string        `gorm:"column:start_date" json:"start_date,omitempty"`
	DeadlineDate     *string        `gorm:"column:deadline_date" json:"deadline_date,omitempty"`
	Notes            string         `gorm:"column:notes" json:"notes,omitempty"`
	Origin           string         `gorm:"column:origin;not null;default:ai" json:"origin"`
	GenerationStatus string         `gorm:"column:generation_status;not null;default:pending;index" json:"generation_status"`
	AttemptCount     int            `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (LearningPlan) TableName() string { return "learning_plan" }

type PlanModule struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PlanID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"plan_id"`
	Position         int            `gorm:"column:position;not null" json:"position"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Description      string         `gorm:"column:description" json:"description,omitempty"`
	EstimatedMinutes int            `gorm:"column:estimated_minutes;not null;default:0" json:"estimated_minutes"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PlanModule) TableName() string { return "plan_module" }

type PlanTask struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ModuleID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"module_id"`
	Position         int            `gorm:"column:position;not null" json:"position"`
	Title            string         `gorm:"column:title;not null" json:"title"`
	Description      string         `gorm:"column:description" json:"description,omitempty"`
	EstimatedMinutes int            `gorm:"column:estimated_minutes;not null;default:0" json:"estimated_minutes"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (PlanTask) TableName() string { return "plan_task" }
