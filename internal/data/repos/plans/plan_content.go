package plans

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

// PlanContentRepo persists the structured output of a successful attempt.
type PlanContentRepo interface {
	CreateModules(dbc dbctx.Context, modules []*domain.PlanModule) ([]*domain.PlanModule, error)
	CreateTasks(dbc dbctx.Context, tasks []*domain.PlanTask) ([]*domain.PlanTask, error)
	GetModulesForPlan(dbc dbctx.Context, planID uuid.UUID) ([]*domain.PlanModule, error)
	// SoftDeleteForPlan clears a plan's previous modules and tasks ahead of a
	// regeneration write.
	SoftDeleteForPlan(dbc dbctx.Context, planID uuid.UUID) error
}

type planContentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanContentRepo(db *gorm.DB, baseLog *logger.Logger) PlanContentRepo {
	return &planContentRepo{
		db:  db,
		log: baseLog.With("repo", "PlanContentRepo"),
	}
}

func (r *planContentRepo) CreateModules(dbc dbctx.Context, modules []*domain.PlanModule) ([]*domain.PlanModule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(modules) == 0 {
		return []*domain.PlanModule{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

func (r *planContentRepo) CreateTasks(dbc dbctx.Context, tasks []*domain.PlanTask) ([]*domain.PlanTask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*domain.PlanTask{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *planContentRepo) GetModulesForPlan(dbc dbctx.Context, planID uuid.UUID) ([]*domain.PlanModule, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.PlanModule
	if planID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("plan_id = ?", planID).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *planContentRepo) SoftDeleteForPlan(dbc dbctx.Context, planID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if planID == uuid.Nil {
		return nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("module_id IN (?)", transaction.Model(&domain.PlanModule{}).Select("id").Where("plan_id = ?", planID)).
		Delete(&domain.PlanTask{}).Error; err != nil {
		return err
	}
	return transaction.WithContext(dbc.Ctx).
		Where("plan_id = ?", planID).
		Delete(&domain.PlanModule{}).Error
}
