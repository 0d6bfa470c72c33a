package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/planforge/planforge-backend/internal/data/repos/plans"
	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/planforge/planforge-backend/internal/pkg/errors"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

// regeneratePayload optionally overrides the plan's stored input fields.
type regeneratePayload struct {
	Topic         string  `json:"topic,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	SkillLevel    string  `json:"skill_level,omitempty"`
	LearningStyle string  `json:"learning_style,omitempty"`
	WeeklyHours   float64 `json:"weekly_hours,omitempty"`
	StartDate     *string `json:"start_date,omitempty"`
	DeadlineDate  *string `json:"deadline_date,omitempty"`
}

// SinkFactory builds the event sink for one plan's run. Queue runs have no
// attached client, so progress goes wherever the factory points it, typically
// the Redis relay.
type SinkFactory func(planID string) generation.EventSink

// RegenerateHandler re-runs plan generation for a queued job. The attempt
// outcome is the job result.
type RegenerateHandler struct {
	log      *logger.Logger
	orch     *generation.Orchestrator
	planRepo plans.PlanRepo
	sinkFor  SinkFactory
}

func NewRegenerateHandler(
	baseLog *logger.Logger,
	orch *generation.Orchestrator,
	planRepo plans.PlanRepo,
	sinkFor SinkFactory,
) *RegenerateHandler {
	if sinkFor == nil {
		sinkFor = func(string) generation.EventSink { return generation.NopSink() }
	}
	return &RegenerateHandler{
		log:      baseLog.With("handler", domain.JobTypePlanRegenerate),
		orch:     orch,
		planRepo: planRepo,
		sinkFor:  sinkFor,
	}
}

func (h *RegenerateHandler) Type() string { return domain.JobTypePlanRegenerate }

func (h *RegenerateHandler) Run(ctx context.Context, job *domain.RegenerationJob) (datatypes.JSON, error) {
	input, err := h.buildInput(ctx, job)
	if err != nil {
		return nil, err
	}

	res, err := h.orch.RunGenerationAttempt(ctx, generation.RunRequest{
		PlanID:       job.PlanID,
		UserID:       job.UserID,
		Input:        input,
		Regeneration: true,
		RequestID:    job.ID.String(),
	}, generation.RunOptions{Sink: h.sinkFor(job.PlanID.String())})
	if err != nil {
		return nil, err
	}
	if res.Status != generation.RunStatusSuccess {
		return nil, fmt.Errorf("regeneration failed: %s", res.Classification)
	}

	result, _ := json.Marshal(map[string]any{
		"attempt_id":    res.Attempt.ID,
		"modules_count": res.Output.ModulesCount(),
		"tasks_count":   res.Output.TasksCount(),
	})
	return datatypes.JSON(result), nil
}

// buildInput starts from the plan's stored fields and applies any payload
// overrides, so a bare `{}` payload regenerates with the original input.
func (h *RegenerateHandler) buildInput(ctx context.Context, job *domain.RegenerationJob) (generation.RawGenerationInput, error) {
	var input generation.RawGenerationInput

	rows, err := h.planRepo.GetByIDs(dbctx.New(ctx, nil), []uuid.UUID{job.PlanID})
	if err != nil {
		return input, err
	}
	if len(rows) == 0 {
		return input, fmt.Errorf("plan %s: %w", job.PlanID, pkgerrors.ErrNotFound)
	}
	plan := rows[0]
	input = generation.RawGenerationInput{
		Topic:         plan.Topic,
		Notes:         plan.Notes,
		SkillLevel:    plan.SkillLevel,
		LearningStyle: plan.LearningStyle,
		WeeklyHours:   plan.WeeklyHours,
		StartDate:     plan.StartDate,
		DeadlineDate:  plan.DeadlineDate,
	}

	if len(job.Payload) > 0 {
		var p regeneratePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return input, fmt.Errorf("invalid job payload: %w", err)
		}
		if p.Topic != "" {
			input.Topic = p.Topic
		}
		if p.Notes != "" {
			input.Notes = p.Notes
		}
		if p.SkillLevel != "" {
			input.SkillLevel = p.SkillLevel
		}
		if p.LearningStyle != "" {
			input.LearningStyle = p.LearningStyle
		}
		if p.WeeklyHours > 0 {
			input.WeeklyHours = p.WeeklyHours
		}
		if p.StartDate != nil {
			input.StartDate = p.StartDate
		}
		if p.DeadlineDate != nil {
			input.DeadlineDate = p.DeadlineDate
		}
	}
	return input, nil
}
