package generation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/events"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

// Run statuses.
const (
	RunStatusSuccess = "success"
	RunStatusFailure = "failure"
)

// EventSink receives streaming events in emission order. Sinks must not
// reorder; a sink error is logged and does not abort the attempt.
type EventSink interface {
	Emit(e events.Event) error
}

type nopSink struct{}

func (nopSink) Emit(events.Event) error { return nil }

// NopSink discards events, for detached callers that only need the result.
func NopSink() EventSink { return nopSink{} }

// InputCollector captures the exact provider input for assertions and audit.
// It replaces ambient global capture state: callers inject it per run.
type InputCollector interface {
	Capture(input GenerationInput)
}

type RunRequest struct {
	PlanID       uuid.UUID
	UserID       uuid.UUID
	Input        RawGenerationInput
	Regeneration bool
	RequestID    string
}

// RunOptions are test seams and per-run overrides: a pre-obtained
// reservation skips admission, an injected provider skips the factory.
type RunOptions struct {
	Reservation *AttemptReservation
	Provider    Provider
	Sink        EventSink
	Collector   InputCollector
}

type RunResult struct {
	Status         string
	Attempt        *domain.GenerationAttempt
	Classification Classification
	Output         *PlanOutput
}

// Orchestrator runs one generation attempt end to end: reserve, invoke the
// provider under an adaptive deadline, stream events, classify the outcome,
// finalize the ledger. It never retries; one call, one terminal attempt.
type Orchestrator struct {
	log      *logger.Logger
	ledger   ReservationLedger
	provider Provider
	timeouts TimeoutConfig
}

func NewOrchestrator(baseLog *logger.Logger, ledger ReservationLedger, provider Provider, timeouts TimeoutConfig) *Orchestrator {
	return &Orchestrator{
		log:      baseLog.With("service", "GenerationOrchestrator"),
		ledger:   ledger,
		provider: provider,
		timeouts: timeouts,
	}
}

func (o *Orchestrator) RunGenerationAttempt(ctx context.Context, req RunRequest, opts RunOptions) (RunResult, error) {
	sink := opts.Sink
	if sink == nil {
		sink = NopSink()
	}

	reservation := opts.Reservation
	if reservation == nil {
		reserveReq := ReserveRequest{
			PlanID:       req.PlanID,
			UserID:       req.UserID,
			Input:        req.Input,
			Regeneration: req.Regeneration,
		}
		res, rejection, err := o.ledger.Reserve(ctx, reserveReq)
		if err != nil {
			return RunResult{}, err
		}
		if rejection != nil {
			return o.failRejected(ctx, req, reserveReq, rejection, sink)
		}
		reservation = res
	}

	started := reservation.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	input := GenerationInput{
		Topic:         reservation.Topic.Value,
		SkillLevel:    req.Input.SkillLevel,
		LearningStyle: req.Input.LearningStyle,
		WeeklyHours:   req.Input.WeeklyHours,
		StartDate:     req.Input.StartDate,
		DeadlineDate:  req.Input.DeadlineDate,
		Notes:         reservation.Notes.Value,
	}
	if opts.Collector != nil {
		opts.Collector.Capture(input)
	}

	o.emit(sink, events.NewPlanStart(events.PlanStartData{
		PlanID:        req.PlanID.String(),
		Topic:         input.Topic,
		SkillLevel:    input.SkillLevel,
		LearningStyle: input.LearningStyle,
		WeeklyHours:   input.WeeklyHours,
		StartDate:     input.StartDate,
		DeadlineDate:  input.DeadlineDate,
		Origin:        domain.PlanOriginAI,
	}))

	timeout := NewAdaptiveTimeout(o.timeouts)
	defer timeout.Cancel()

	provCtx, cancelProvider := context.WithCancel(ctx)
	defer cancelProvider()
	go func() {
		select {
		case <-timeout.Done():
			cancelProvider()
		case <-provCtx.Done():
		}
	}()

	provider := opts.Provider
	if provider == nil {
		provider = o.provider
	}

	output := &PlanOutput{}
	first := true
	genErr := provider.Generate(provCtx, input, func(frag ModuleFragment) error {
		if first {
			timeout.NotifyFirstModule()
			first = false
		}
		output.Modules = append(output.Modules, frag)

		var desc *string
		if frag.Description != "" {
			d := frag.Description
			desc = &d
		}
		o.emit(sink, events.NewModuleSummary(events.ModuleSummaryData{
			PlanID:           req.PlanID.String(),
			Index:            frag.Index,
			Title:            frag.Title,
			Description:      desc,
			EstimatedMinutes: frag.EstimatedMinutes,
			TasksCount:       len(frag.Tasks),
		}))
		progress := events.ProgressData{
			PlanID:        req.PlanID.String(),
			ModulesParsed: len(output.Modules),
		}
		if frag.ModulesTotalHint > 0 {
			hint := frag.ModulesTotalHint
			progress.ModulesTotalHint = &hint
		}
		o.emit(sink, events.NewProgress(progress))
		return nil
	})

	durationMs := time.Since(started).Milliseconds()

	switch {
	case genErr == nil:
		if vErr := output.Validate(); vErr != nil {
			return o.fail(ctx, req, reservation, output, durationMs,
				ClassificationInvalidOutput, "generation_invalid_output", vErr.Error(), sink)
		}
		finalizeCtx, cancelFinalize := detachedFinalizeContext(ctx)
		defer cancelFinalize()
		attempt, err := o.ledger.Finalize(finalizeCtx, FinalizeRequest{
			AttemptID:    reservation.AttemptID,
			PlanID:       req.PlanID,
			Success:      true,
			DurationMs:   durationMs,
			Output:       output,
			Regeneration: req.Regeneration,
		})
		if err != nil {
			return RunResult{}, err
		}
		o.emit(sink, events.NewComplete(events.CompleteData{
			PlanID:       req.PlanID.String(),
			ModulesCount: output.ModulesCount(),
			TasksCount:   output.TasksCount(),
			DurationMs:   durationMs,
		}))
		return RunResult{Status: RunStatusSuccess, Attempt: attempt, Output: output}, nil

	case timeout.TimedOut():
		return o.fail(ctx, req, reservation, output, durationMs,
			ClassificationTimeout, "generation_timeout", "generation deadline exceeded", sink)

	case ctx.Err() != nil:
		return o.cancel(ctx, req, reservation, output, durationMs, sink)

	default:
		classification := ClassifyProviderError(genErr)
		return o.fail(ctx, req, reservation, output, durationMs,
			classification, "generation_failed", genErr.Error(), sink)
	}
}

func (o *Orchestrator) failRejected(ctx context.Context, req RunRequest, reserveReq ReserveRequest, rejection *AttemptRejection, sink EventSink) (RunResult, error) {
	classification := ClassifyRejection(rejection.Reason)
	attempt, err := o.ledger.RecordRejectedAttempt(ctx, reserveReq, rejection, classification)
	if err != nil {
		o.log.Warn("failed to record rejected attempt",
			"plan_id", req.PlanID, "reason", rejection.Reason, "error", err)
	}
	planID := req.PlanID.String()
	o.emit(sink, events.NewError(events.ErrorData{
		PlanID:         &planID,
		Code:           "reservation_rejected",
		Message:        "generation not admitted: " + string(rejection.Reason),
		Classification: string(classification),
		Retryable:      classification.Retryable(),
		RequestID:      req.RequestID,
	}))
	return RunResult{Status: RunStatusFailure, Attempt: attempt, Classification: classification}, nil
}

func (o *Orchestrator) fail(ctx context.Context, req RunRequest, reservation *AttemptReservation, output *PlanOutput, durationMs int64, classification Classification, code, message string, sink EventSink) (RunResult, error) {
	finalizeCtx, cancel := detachedFinalizeContext(ctx)
	defer cancel()
	attempt, err := o.ledger.Finalize(finalizeCtx, FinalizeRequest{
		AttemptID:      reservation.AttemptID,
		PlanID:         req.PlanID,
		Success:        false,
		Classification: classification,
		DurationMs:     durationMs,
		Output:         output,
		Regeneration:   req.Regeneration,
	})
	if err != nil {
		return RunResult{}, err
	}
	planID := req.PlanID.String()
	o.emit(sink, events.NewError(events.ErrorData{
		PlanID:         &planID,
		Code:           code,
		Message:        message,
		Classification: string(classification),
		Retryable:      classification.Retryable(),
		RequestID:      req.RequestID,
	}))
	return RunResult{Status: RunStatusFailure, Attempt: attempt, Classification: classification}, nil
}

// detachedFinalizeContext severs the caller's cancellation so the terminal
// write always lands: a client disconnect racing the outcome must never leave
// an attempt row in_progress.
func detachedFinalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func (o *Orchestrator) cancel(ctx context.Context, req RunRequest, reservation *AttemptReservation, output *PlanOutput, durationMs int64, sink EventSink) (RunResult, error) {
	finalizeCtx, cancel := detachedFinalizeContext(ctx)
	defer cancel()
	attempt, err := o.ledger.Finalize(finalizeCtx, FinalizeRequest{
		AttemptID:      reservation.AttemptID,
		PlanID:         req.PlanID,
		Success:        false,
		Classification: ClassificationCancelled,
		DurationMs:     durationMs,
		Output:         output,
		Regeneration:   req.Regeneration,
	})
	if err != nil {
		return RunResult{}, err
	}
	o.emit(sink, events.NewCancelled(req.PlanID.String(), "generation cancelled by caller", req.RequestID))
	return RunResult{Status: RunStatusFailure, Attempt: attempt, Classification: ClassificationCancelled}, nil
}

func (o *Orchestrator) emit(sink EventSink, e events.Event) {
	if err := sink.Emit(e); err != nil {
		o.log.Warn("event sink emit failed", "event_type", e.Type, "error", err)
	}
}
