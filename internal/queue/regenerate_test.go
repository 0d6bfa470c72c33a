package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/events"
	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

type staticPlanRepo struct {
	plan *domain.LearningPlan
}

func (r *staticPlanRepo) Create(dbc dbctx.Context, plans []*domain.LearningPlan) ([]*domain.LearningPlan, error) {
	return plans, nil
}

func (r *staticPlanRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.LearningPlan, error) {
	for _, id := range ids {
		if r.plan != nil && id == r.plan.ID {
			return []*domain.LearningPlan{r.plan}, nil
		}
	}
	return nil, nil
}

func (r *staticPlanRepo) GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.LearningPlan, error) {
	if r.plan != nil && id == r.plan.ID {
		return r.plan, nil
	}
	return nil, nil
}

func (r *staticPlanRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

// grantLedger admits every reservation and finalizes in memory.
type grantLedger struct {
	finalized []generation.FinalizeRequest
}

func (l *grantLedger) Reserve(ctx context.Context, req generation.ReserveRequest) (*generation.AttemptReservation, *generation.AttemptRejection, error) {
	return &generation.AttemptReservation{
		AttemptID:     uuid.New(),
		PlanID:        req.PlanID,
		UserID:        req.UserID,
		AttemptNumber: 1,
		StartedAt:     time.Now(),
		Topic:         generation.SanitizedField{Value: req.Input.Topic},
		Notes:         generation.SanitizedField{Value: req.Input.Notes},
	}, nil, nil
}

func (l *grantLedger) RecordRejectedAttempt(ctx context.Context, req generation.ReserveRequest, rejection *generation.AttemptRejection, classification generation.Classification) (*domain.GenerationAttempt, error) {
	return nil, nil
}

func (l *grantLedger) Finalize(ctx context.Context, req generation.FinalizeRequest) (*domain.GenerationAttempt, error) {
	l.finalized = append(l.finalized, req)
	attempt := &domain.GenerationAttempt{ID: req.AttemptID, PlanID: req.PlanID}
	if req.Success {
		attempt.Status = domain.AttemptStatusSuccess
	} else {
		attempt.Status = domain.AttemptStatusFailure
	}
	return attempt, nil
}

type memSink struct {
	events []events.Event
}

func (s *memSink) Emit(e events.Event) error {
	s.events = append(s.events, e)
	return nil
}

func regenerateOrchestrator(t *testing.T, ledger generation.ReservationLedger) *generation.Orchestrator {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return generation.NewOrchestrator(log, ledger, generation.NewMockProvider(), generation.TimeoutConfig{
		Base:               2 * time.Second,
		Extension:          2 * time.Second,
		ExtensionThreshold: 1800 * time.Millisecond,
	})
}

func TestRegenerateHandlerEmitsToPlanSink(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	plan := &domain.LearningPlan{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Topic:         "Go",
		SkillLevel:    "beginner",
		LearningStyle: "mixed",
		WeeklyHours:   5,
	}
	ledger := &grantLedger{}
	sink := &memSink{}
	var sinkPlanID string
	h := NewRegenerateHandler(log, regenerateOrchestrator(t, ledger), &staticPlanRepo{plan: plan},
		func(planID string) generation.EventSink {
			sinkPlanID = planID
			return sink
		})

	job := testJob(domain.JobTypePlanRegenerate)
	job.PlanID = plan.ID
	job.UserID = plan.UserID

	result, err := h.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result) == 0 {
		t.Fatal("empty job result")
	}
	if sinkPlanID != plan.ID.String() {
		t.Fatalf("sink built for plan %q, want %q", sinkPlanID, plan.ID)
	}
	if len(sink.events) == 0 {
		t.Fatal("no events reached the sink")
	}
	if sink.events[0].Type != events.TypePlanStart {
		t.Fatalf("first event %s, want plan_start", sink.events[0].Type)
	}
	if last := sink.events[len(sink.events)-1].Type; last != events.TypeComplete {
		t.Fatalf("terminal event %s, want complete", last)
	}
	if len(ledger.finalized) != 1 || !ledger.finalized[0].Success {
		t.Fatalf("finalize calls: %+v", ledger.finalized)
	}
}

func TestRegenerateHandlerNilSinkFactory(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	plan := &domain.LearningPlan{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Topic:         "SQL",
		SkillLevel:    "intermediate",
		LearningStyle: "reading",
		WeeklyHours:   3,
	}
	h := NewRegenerateHandler(log, regenerateOrchestrator(t, &grantLedger{}), &staticPlanRepo{plan: plan}, nil)

	job := testJob(domain.JobTypePlanRegenerate)
	job.PlanID = plan.ID
	job.UserID = plan.UserID

	if _, err := h.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
