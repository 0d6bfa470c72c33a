package plans

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

type GenerationAttemptRepo interface {
	Create(dbc dbctx.Context, attempts []*domain.GenerationAttempt) ([]*domain.GenerationAttempt, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.GenerationAttempt, error)
	GetLatestForPlan(dbc dbctx.Context, planID uuid.UUID) (*domain.GenerationAttempt, error)
	HasInProgressForPlan(dbc dbctx.Context, planID uuid.UUID) (bool, error)
	CountInProgress(dbc dbctx.Context, planID uuid.UUID) (int64, error)
	// FinalizeIfInProgress applies updates only while the attempt is still
	// in_progress. Returns false when the row was already terminal, which keeps
	// success rows immutable and terminal transitions exactly-once.
	FinalizeIfInProgress(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
}

type generationAttemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationAttemptRepo(db *gorm.DB, baseLog *logger.Logger) GenerationAttemptRepo {
	return &generationAttemptRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationAttemptRepo"),
	}
}

func (r *generationAttemptRepo) Create(dbc dbctx.Context, attempts []*domain.GenerationAttempt) ([]*domain.GenerationAttempt, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(attempts) == 0 {
		return []*domain.GenerationAttempt{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *generationAttemptRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.GenerationAttempt, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.GenerationAttempt
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationAttemptRepo) GetLatestForPlan(dbc dbctx.Context, planID uuid.UUID) (*domain.GenerationAttempt, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if planID == uuid.Nil {
		return nil, nil
	}
	var attempt domain.GenerationAttempt
	err := transaction.WithContext(dbc.Ctx).
		Where("plan_id = ?", planID).
		Order("attempt_number DESC").
		Limit(1).
		Find(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == uuid.Nil {
		return nil, nil
	}
	return &attempt, nil
}

func (r *generationAttemptRepo) HasInProgressForPlan(dbc dbctx.Context, planID uuid.UUID) (bool, error) {
	n, err := r.CountInProgress(dbc, planID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *generationAttemptRepo) CountInProgress(dbc dbctx.Context, planID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if planID == uuid.Nil {
		return 0, nil
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&domain.GenerationAttempt{}).
		Where("plan_id = ? AND status = ?", planID, domain.AttemptStatusInProgress).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *generationAttemptRepo) FinalizeIfInProgress(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&domain.GenerationAttempt{}).
		Where("id = ? AND status = ?", id, domain.AttemptStatusInProgress).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
