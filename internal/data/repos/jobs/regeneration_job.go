package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

type RegenerationJobRepo interface {
	Create(dbc dbctx.Context, jobs []*domain.RegenerationJob) ([]*domain.RegenerationJob, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.RegenerationJob, error)
	// ClaimDue atomically claims up to max pending jobs whose scheduled_for has
	// passed, transitioning each claimed row to running before returning it.
	// Two concurrent drains can never claim the same job: candidate rows are
	// locked with SKIP LOCKED and the status flip is conditional on the row
	// still being pending.
	ClaimDue(dbc dbctx.Context, now time.Time, max int) ([]*domain.RegenerationJob, error)
	MarkSucceeded(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, errMsg string, completedAt time.Time) error
}

type regenerationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRegenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) RegenerationJobRepo {
	return &regenerationJobRepo{
		db:  db,
		log: baseLog.With("repo", "RegenerationJobRepo"),
	}
}

func (r *regenerationJobRepo) Create(dbc dbctx.Context, jobs []*domain.RegenerationJob) ([]*domain.RegenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*domain.RegenerationJob{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *regenerationJobRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.RegenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.RegenerationJob
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

func (r *regenerationJobRepo) ClaimDue(dbc dbctx.Context, now time.Time, max int) ([]*domain.RegenerationJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if max <= 0 {
		return []*domain.RegenerationJob{}, nil
	}
	var claimed []*domain.RegenerationJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var candidates []*domain.RegenerationJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_for <= ?", domain.JobStatusPending, now).
			Order("priority DESC, scheduled_for ASC").
			Limit(max)
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}
		for _, job := range candidates {
			res := txx.Model(&domain.RegenerationJob{}).
				Where("id = ? AND status = ?", job.ID, domain.JobStatusPending).
				Updates(map[string]interface{}{
					"status":        domain.JobStatusRunning,
					"attempt_count": gorm.Expr("attempt_count + 1"),
					"started_at":    now,
					"updated_at":    now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = domain.JobStatusRunning
			job.AttemptCount++
			startedAt := now
			job.StartedAt = &startedAt
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *regenerationJobRepo) MarkSucceeded(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error {
	return r.markTerminal(dbc, id, map[string]interface{}{
		"status":       domain.JobStatusSucceeded,
		"result":       result,
		"completed_at": completedAt,
		"updated_at":   completedAt,
	})
}

func (r *regenerationJobRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	return r.markTerminal(dbc, id, map[string]interface{}{
		"status":       domain.JobStatusFailed,
		"error":        errMsg,
		"completed_at": completedAt,
		"updated_at":   completedAt,
	})
}

func (r *regenerationJobRepo) markTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&domain.RegenerationJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusRunning).
		Updates(updates).Error
}
