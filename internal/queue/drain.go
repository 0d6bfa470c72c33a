package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/planforge/planforge-backend/internal/data/repos/jobs"
	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

// JobStore is the queue's view of regeneration job persistence.
type JobStore interface {
	ClaimDue(ctx context.Context, now time.Time, max int) ([]*domain.RegenerationJob, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error
}

type gormJobStore struct {
	repo jobs.RegenerationJobRepo
}

func NewGormJobStore(repo jobs.RegenerationJobRepo) JobStore {
	return &gormJobStore{repo: repo}
}

func (s *gormJobStore) ClaimDue(ctx context.Context, now time.Time, max int) ([]*domain.RegenerationJob, error) {
	return s.repo.ClaimDue(dbctx.New(ctx, nil), now, max)
}

func (s *gormJobStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error {
	return s.repo.MarkSucceeded(dbctx.New(ctx, nil), id, result, completedAt)
}

func (s *gormJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	return s.repo.MarkFailed(dbctx.New(ctx, nil), id, errMsg, completedAt)
}

type DrainResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Drainer runs one bounded pass over due regeneration jobs. It is invoked on
// demand rather than on a ticker, so each call claims at most maxJobs rows and
// returns; overlapping calls are safe because claiming skips locked rows.
type Drainer struct {
	log      *logger.Logger
	store    JobStore
	registry *Registry
	now      func() time.Time
}

func NewDrainer(baseLog *logger.Logger, store JobStore, registry *Registry) *Drainer {
	return &Drainer{
		log:      baseLog.With("component", "RegenerationDrainer"),
		store:    store,
		registry: registry,
		now:      time.Now,
	}
}

func (d *Drainer) Drain(ctx context.Context, maxJobs int) (DrainResult, error) {
	var result DrainResult
	if maxJobs <= 0 {
		return result, nil
	}

	claimed, err := d.store.ClaimDue(ctx, d.now(), maxJobs)
	if err != nil {
		return result, err
	}
	result.Claimed = len(claimed)

	for _, job := range claimed {
		if ctx.Err() != nil {
			// Claimed but unprocessed jobs go back to failed so they surface;
			// a stale-running sweep is not part of this pass.
			d.failJob(job, "drain cancelled before dispatch")
			result.Failed++
			continue
		}
		if d.runOne(ctx, job) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// runOne dispatches a single job, converting handler panics into failures so
// one bad payload cannot abort the rest of the pass.
func (d *Drainer) runOne(ctx context.Context, job *domain.RegenerationJob) (ok bool) {
	h, found := d.registry.Get(job.JobType)
	if !found {
		d.log.Warn("no handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		d.failJob(job, "no handler registered for job_type="+job.JobType)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
			d.failJob(job, "handler panic")
			ok = false
		}
	}()

	result, err := h.Run(ctx, job)
	if err != nil {
		d.log.Warn("job failed", "job_id", job.ID, "job_type", job.JobType, "error", err)
		d.failJob(job, err.Error())
		return false
	}
	if err := d.store.MarkSucceeded(context.WithoutCancel(ctx), job.ID, result, d.now()); err != nil {
		d.log.Error("failed to mark job succeeded", "job_id", job.ID, "error", err)
		return false
	}
	return true
}

func (d *Drainer) failJob(job *domain.RegenerationJob, msg string) {
	// Terminal bookkeeping uses a fresh context so a cancelled drain still
	// records the outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.store.MarkFailed(ctx, job.ID, msg, d.now()); err != nil {
		d.log.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}
