package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/data/repos/plans"
	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

const (
	// DefaultAttemptCap bounds generation attempts per plan when the
	// configured cap is unusable.
	DefaultAttemptCap = 3

	MaxTopicLength = 300
	MaxNotesLength = 2000
)

// RawGenerationInput is the caller-supplied, unsanitized request payload.
type RawGenerationInput struct {
	Topic         string
	Notes         string
	SkillLevel    string
	LearningStyle string
	WeeklyHours   float64
	StartDate     *string
	DeadlineDate  *string
	Document      *DocumentProvenance
}

// DocumentProvenance records where document-derived input came from.
type DocumentProvenance struct {
	ExtractionHash string `json:"extraction_hash"`
	Digest         string `json:"digest"`
}

// SanitizedField is a length-capped input field with its truncation audit.
type SanitizedField struct {
	Value          string
	Truncated      bool
	OriginalLength int
}

// AttemptReservation is the admission decision that lets one attempt begin.
type AttemptReservation struct {
	AttemptID     uuid.UUID
	PlanID        uuid.UUID
	UserID        uuid.UUID
	AttemptNumber int
	StartedAt     time.Time
	Topic         SanitizedField
	Notes         SanitizedField
	InputHash     string
	Document      *DocumentProvenance
}

// AttemptRejection is final for the request; no attempt row is created by the
// reservation itself.
type AttemptRejection struct {
	Reason     RejectionReason
	RetryAfter time.Duration
}

// RatePolicy is an external request-rate signal consulted during reservation.
type RatePolicy interface {
	Check(ctx context.Context, userID uuid.UUID) (retryAfter time.Duration, limited bool)
}

type ReserveRequest struct {
	PlanID       uuid.UUID
	UserID       uuid.UUID
	Input        RawGenerationInput
	Regeneration bool
}

type FinalizeRequest struct {
	AttemptID      uuid.UUID
	PlanID         uuid.UUID
	Success        bool
	Classification Classification
	DurationMs     int64
	Output         *PlanOutput
	Regeneration   bool
}

// ReservationLedger gates attempt admission and records terminal outcomes.
type ReservationLedger interface {
	Reserve(ctx context.Context, req ReserveRequest) (*AttemptReservation, *AttemptRejection, error)
	RecordRejectedAttempt(ctx context.Context, req ReserveRequest, rejection *AttemptRejection, classification Classification) (*domain.GenerationAttempt, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*domain.GenerationAttempt, error)
}

type Ledger struct {
	db          *gorm.DB
	log         *logger.Logger
	planRepo    plans.PlanRepo
	attemptRepo plans.GenerationAttemptRepo
	contentRepo plans.PlanContentRepo
	rate        RatePolicy
	attemptCap  int
}

func NewLedger(
	db *gorm.DB,
	baseLog *logger.Logger,
	planRepo plans.PlanRepo,
	attemptRepo plans.GenerationAttemptRepo,
	contentRepo plans.PlanContentRepo,
	rate RatePolicy,
	attemptCap int,
) *Ledger {
	if attemptCap < 1 {
		attemptCap = DefaultAttemptCap
	}
	return &Ledger{
		db:          db,
		log:         baseLog.With("service", "ReservationLedger"),
		planRepo:    planRepo,
		attemptRepo: attemptRepo,
		contentRepo: contentRepo,
		rate:        rate,
		attemptCap:  attemptCap,
	}
}

// Reserve runs the admission checks inside one transaction holding a row lock
// on the plan, so two concurrent requests for the same plan serialize here.
// A write failure after the checks passed fails closed as an in_progress
// rejection: the lock makes that race unreachable, and a residual race is
// operationally the same as "another attempt is already running".
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (*AttemptReservation, *AttemptRejection, error) {
	var (
		reservation *AttemptReservation
		rejection   *AttemptRejection
		decided     bool
	)

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx, tx)

		plan, err := l.planRepo.GetForUpdate(dbc, req.PlanID)
		if err != nil {
			return err
		}
		if plan == nil || plan.UserID != req.UserID {
			rejection = &AttemptRejection{Reason: RejectionInvalidStatus}
			return nil
		}
		if !req.Regeneration && plan.GenerationStatus == domain.PlanStatusReady {
			rejection = &AttemptRejection{Reason: RejectionInvalidStatus}
			return nil
		}

		inProgress, err := l.attemptRepo.HasInProgressForPlan(dbc, req.PlanID)
		if err != nil {
			return err
		}
		if inProgress {
			rejection = &AttemptRejection{Reason: RejectionInProgress}
			return nil
		}

		if plan.AttemptCount >= l.attemptCap {
			rejection = &AttemptRejection{Reason: RejectionCapped}
			return nil
		}

		if l.rate != nil {
			if retryAfter, limited := l.rate.Check(ctx, req.UserID); limited {
				rejection = &AttemptRejection{Reason: RejectionRateLimited, RetryAfter: retryAfter}
				return nil
			}
		}
		decided = true

		latest, err := l.attemptRepo.GetLatestForPlan(dbc, req.PlanID)
		if err != nil {
			return err
		}
		attemptNumber := 1
		if latest != nil {
			attemptNumber = latest.AttemptNumber + 1
		}

		now := time.Now()
		topic := sanitizeField(req.Input.Topic, MaxTopicLength)
		notes := sanitizeField(req.Input.Notes, MaxNotesLength)
		hash := hashInput(topic.Value, req.Input)

		attempt := &domain.GenerationAttempt{
			ID:             uuid.New(),
			PlanID:         req.PlanID,
			UserID:         req.UserID,
			AttemptNumber:  attemptNumber,
			Status:         domain.AttemptStatusInProgress,
			TopicTruncated: topic.Truncated,
			NotesTruncated: notes.Truncated,
			InputHash:      hash,
			Metadata:       attemptMetadata(req, topic, notes),
			StartedAt:      now,
		}
		if _, err := l.attemptRepo.Create(dbc, []*domain.GenerationAttempt{attempt}); err != nil {
			return err
		}
		if err := l.planRepo.UpdateFields(dbc, req.PlanID, map[string]interface{}{
			"generation_status": domain.PlanStatusGenerating,
			"attempt_count":     plan.AttemptCount + 1,
		}); err != nil {
			return err
		}

		reservation = &AttemptReservation{
			AttemptID:     attempt.ID,
			PlanID:        req.PlanID,
			UserID:        req.UserID,
			AttemptNumber: attemptNumber,
			StartedAt:     now,
			Topic:         topic,
			Notes:         notes,
			InputHash:     hash,
			Document:      req.Input.Document,
		}
		return nil
	})
	if err != nil {
		if decided {
			l.log.Warn("reservation write failed after admission, failing closed",
				"plan_id", req.PlanID, "error", err)
			return nil, &AttemptRejection{Reason: RejectionInProgress}, nil
		}
		return nil, nil, err
	}
	return reservation, rejection, nil
}

// RecordRejectedAttempt persists an audit row for a rejected request. The
// row is terminal from birth and does not consume the plan's attempt cap, but
// it does take the next attempt number so per-plan numbering stays gapless.
func (l *Ledger) RecordRejectedAttempt(ctx context.Context, req ReserveRequest, rejection *AttemptRejection, classification Classification) (*domain.GenerationAttempt, error) {
	var attempt *domain.GenerationAttempt
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx, tx)

		plan, err := l.planRepo.GetForUpdate(dbc, req.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return nil
		}

		latest, err := l.attemptRepo.GetLatestForPlan(dbc, req.PlanID)
		if err != nil {
			return err
		}
		attemptNumber := 1
		if latest != nil {
			attemptNumber = latest.AttemptNumber + 1
		}

		topic := sanitizeField(req.Input.Topic, MaxTopicLength)
		notes := sanitizeField(req.Input.Notes, MaxNotesLength)
		cls := string(classification)
		attempt = &domain.GenerationAttempt{
			ID:                    uuid.New(),
			PlanID:                req.PlanID,
			UserID:                req.UserID,
			AttemptNumber:         attemptNumber,
			Status:                domain.AttemptStatusFailure,
			FailureClassification: &cls,
			TopicTruncated:        topic.Truncated,
			NotesTruncated:        notes.Truncated,
			InputHash:             hashInput(topic.Value, req.Input),
			Metadata:              rejectionMetadata(rejection),
			StartedAt:             time.Now(),
		}
		_, err = l.attemptRepo.Create(dbc, []*domain.GenerationAttempt{attempt})
		return err
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// Finalize moves an in_progress attempt to its terminal status and updates
// the owning plan's generation status in the same transaction. The attempt
// update is conditional on the row still being in_progress, so a second call
// is a no-op and success rows stay immutable.
func (l *Ledger) Finalize(ctx context.Context, req FinalizeRequest) (*domain.GenerationAttempt, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx, tx)

		updates := map[string]interface{}{
			"duration_ms":   req.DurationMs,
			"modules_count": req.Output.ModulesCount(),
			"tasks_count":   req.Output.TasksCount(),
		}
		if req.Success {
			updates["status"] = domain.AttemptStatusSuccess
		} else {
			updates["status"] = domain.AttemptStatusFailure
			updates["failure_classification"] = string(req.Classification)
		}
		applied, err := l.attemptRepo.FinalizeIfInProgress(dbc, req.AttemptID, updates)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		if !req.Success {
			return l.planRepo.UpdateFields(dbc, req.PlanID, map[string]interface{}{
				"generation_status": domain.PlanStatusFailed,
			})
		}

		if req.Regeneration {
			if err := l.contentRepo.SoftDeleteForPlan(dbc, req.PlanID); err != nil {
				return err
			}
		}
		if err := l.persistOutput(dbc, req.PlanID, req.Output); err != nil {
			return err
		}
		return l.planRepo.UpdateFields(dbc, req.PlanID, map[string]interface{}{
			"generation_status": domain.PlanStatusReady,
		})
	})
	if err != nil {
		return nil, err
	}

	rows, err := l.attemptRepo.GetByIDs(dbctx.New(ctx, nil), []uuid.UUID{req.AttemptID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (l *Ledger) persistOutput(dbc dbctx.Context, planID uuid.UUID, output *PlanOutput) error {
	if output == nil {
		return nil
	}
	for pos, frag := range output.Modules {
		module := &domain.PlanModule{
			ID:               uuid.New(),
			PlanID:           planID,
			Position:         pos,
			Title:            frag.Title,
			Description:      frag.Description,
			EstimatedMinutes: frag.EstimatedMinutes,
		}
		if _, err := l.contentRepo.CreateModules(dbc, []*domain.PlanModule{module}); err != nil {
			return err
		}
		tasks := make([]*domain.PlanTask, 0, len(frag.Tasks))
		for tpos, t := range frag.Tasks {
			tasks = append(tasks, &domain.PlanTask{
				ID:               uuid.New(),
				ModuleID:         module.ID,
				Position:         tpos,
				Title:            t.Title,
				Description:      t.Description,
				EstimatedMinutes: t.EstimatedMinutes,
			})
		}
		if _, err := l.contentRepo.CreateTasks(dbc, tasks); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeField(raw string, max int) SanitizedField {
	s := strings.TrimSpace(raw)
	field := SanitizedField{Value: s, OriginalLength: len([]rune(s))}
	runes := []rune(s)
	if len(runes) > max {
		field.Value = string(runes[:max])
		field.Truncated = true
	}
	return field
}

// hashInput computes a stable digest over the sanitized, semantically
// relevant input fields, for dedup and audit.
func hashInput(topic string, input RawGenerationInput) string {
	canonical, _ := json.Marshal(struct {
		Topic         string  `json:"topic"`
		SkillLevel    string  `json:"skill_level"`
		LearningStyle string  `json:"learning_style"`
		WeeklyHours   float64 `json:"weekly_hours"`
		StartDate     *string `json:"start_date"`
		DeadlineDate  *string `json:"deadline_date"`
	}{
		Topic:         topic,
		SkillLevel:    input.SkillLevel,
		LearningStyle: input.LearningStyle,
		WeeklyHours:   input.WeeklyHours,
		StartDate:     input.StartDate,
		DeadlineDate:  input.DeadlineDate,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func attemptMetadata(req ReserveRequest, topic, notes SanitizedField) datatypes.JSON {
	meta := map[string]any{
		"regeneration":          req.Regeneration,
		"topic_original_length": topic.OriginalLength,
		"notes_original_length": notes.OriginalLength,
	}
	if req.Input.Document != nil {
		meta["document"] = req.Input.Document
	}
	raw, _ := json.Marshal(meta)
	return datatypes.JSON(raw)
}

func rejectionMetadata(rejection *AttemptRejection) datatypes.JSON {
	meta := map[string]any{}
	if rejection != nil {
		meta["rejection_reason"] = string(rejection.Reason)
		if rejection.RetryAfter > 0 {
			meta["retry_after_ms"] = rejection.RetryAfter.Milliseconds()
		}
	}
	raw, _ := json.Marshal(meta)
	return datatypes.JSON(raw)
}
