package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/domain"
)

func SeedPlan(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, status string) *domain.LearningPlan {
	tb.Helper()
	p := &domain.LearningPlan{
		ID:               uuid.New(),
		UserID:           userID,
		Topic:            "TypeScript",
		SkillLevel:       "beginner",
		LearningStyle:    "mixed",
		WeeklyHours:      5,
		Origin:           domain.PlanOriginAI,
		GenerationStatus: status,
		Metadata:         datatypes.JSON([]byte(`{}`)),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed plan: %v", err)
	}
	return p
}

func SeedAttempt(tb testing.TB, ctx context.Context, tx *gorm.DB, planID, userID uuid.UUID, number int, status string) *domain.GenerationAttempt {
	tb.Helper()
	a := &domain.GenerationAttempt{
		ID:            uuid.New(),
		PlanID:        planID,
		UserID:        userID,
		AttemptNumber: number,
		Status:        status,
		InputHash:     "deadbeef",
		Metadata:      datatypes.JSON([]byte(`{}`)),
		StartedAt:     time.Now(),
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed attempt: %v", err)
	}
	return a
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, planID, userID uuid.UUID, priority int, scheduledFor time.Time) *domain.RegenerationJob {
	tb.Helper()
	j := &domain.RegenerationJob{
		ID:           uuid.New(),
		PlanID:       planID,
		UserID:       userID,
		JobType:      domain.JobTypePlanRegenerate,
		Status:       domain.JobStatusPending,
		Priority:     priority,
		MaxAttempts:  3,
		Payload:      datatypes.JSON([]byte(`{}`)),
		ScheduledFor: scheduledFor,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}
