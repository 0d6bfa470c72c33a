package plans

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

type PlanRepo interface {
	Create(dbc dbctx.Context, plans []*domain.LearningPlan) ([]*domain.LearningPlan, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.LearningPlan, error)
	// GetForUpdate loads one plan row under a FOR UPDATE lock. Callers must be
	// inside a transaction; the lock serializes reservation decisions per plan.
	GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.LearningPlan, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{
		db:  db,
		log: baseLog.With("repo", "PlanRepo"),
	}
}

func (r *planRepo) Create(dbc dbctx.Context, plans []*domain.LearningPlan) ([]*domain.LearningPlan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(plans) == 0 {
		return []*domain.LearningPlan{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *planRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.LearningPlan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.LearningPlan
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

func (r *planRepo) GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.LearningPlan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var plan domain.LearningPlan
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == uuid.Nil {
		return nil, nil
	}
	return &plan, nil
}

func (r *planRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.LearningPlan{}).
		Where("id = ?", id).
		Updates(updates).Error
}
