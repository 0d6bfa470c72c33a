package generation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/data/repos/plans"
	"github.com/planforge/planforge-backend/internal/data/repos/testutil"
	"github.com/planforge/planforge-backend/internal/domain"
)

func TestSanitizeField(t *testing.T) {
	cases := []struct {
		name          string
		raw           string
		max           int
		wantValue     string
		wantTruncated bool
		wantOriginal  int
	}{
		{"plain", "Learn Go", 300, "Learn Go", false, 8},
		{"trims whitespace", "  Learn Go \n", 300, "Learn Go", false, 8},
		{"truncates", "abcdefgh", 5, "abcde", true, 8},
		{"exact length kept", "abcde", 5, "abcde", false, 5},
		{"multibyte rune boundary", "日本語の勉強", 4, "日本語の", true, 6},
		{"empty", "   ", 300, "", false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sanitizeField(tc.raw, tc.max)
			if got.Value != tc.wantValue || got.Truncated != tc.wantTruncated || got.OriginalLength != tc.wantOriginal {
				t.Fatalf("sanitizeField(%q, %d) = %+v", tc.raw, tc.max, got)
			}
		})
	}
}

func TestHashInputStable(t *testing.T) {
	start := "2030-01-01"
	input := RawGenerationInput{
		Topic:         "Go",
		SkillLevel:    "beginner",
		LearningStyle: "mixed",
		WeeklyHours:   5,
		StartDate:     &start,
	}
	a := hashInput("Go", input)
	b := hashInput("Go", input)
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("hash not lowercase hex sha256: %s", a)
	}

	// Notes are excluded from the digest on purpose.
	withNotes := input
	withNotes.Notes = "focus on generics"
	if hashInput("Go", withNotes) != a {
		t.Fatal("notes changed the hash")
	}

	other := input
	other.WeeklyHours = 6
	if hashInput("Go", other) == a {
		t.Fatal("weekly hours did not change the hash")
	}
}

type stubRate struct {
	limited    bool
	retryAfter time.Duration
}

func (s stubRate) Check(ctx context.Context, userID uuid.UUID) (time.Duration, bool) {
	return s.retryAfter, s.limited
}

func newTestLedger(tb testing.TB, db *gorm.DB, rate RatePolicy, attemptCap int) *Ledger {
	tb.Helper()
	log := testutil.Logger(tb)
	return NewLedger(
		db,
		log,
		plans.NewPlanRepo(db, log),
		plans.NewGenerationAttemptRepo(db, log),
		plans.NewPlanContentRepo(db, log),
		rate,
		attemptCap,
	)
}

// ledger tests commit real rows; remove everything hanging off the plan.
func cleanupPlan(tb testing.TB, db *gorm.DB, planID uuid.UUID) {
	tb.Helper()
	tb.Cleanup(func() {
		db.Exec(`DELETE FROM plan_task WHERE module_id IN (SELECT id FROM plan_module WHERE plan_id = ?)`, planID)
		db.Exec(`DELETE FROM plan_module WHERE plan_id = ?`, planID)
		db.Exec(`DELETE FROM generation_attempt WHERE plan_id = ?`, planID)
		db.Exec(`DELETE FROM learning_plan WHERE id = ?`, planID)
	})
}

func countAttempts(tb testing.TB, db *gorm.DB, planID uuid.UUID) int64 {
	tb.Helper()
	var n int64
	if err := db.Model(&domain.GenerationAttempt{}).Where("plan_id = ?", planID).Count(&n).Error; err != nil {
		tb.Fatalf("count attempts: %v", err)
	}
	return n
}

func fetchPlan(tb testing.TB, db *gorm.DB, planID uuid.UUID) *domain.LearningPlan {
	tb.Helper()
	var p domain.LearningPlan
	if err := db.First(&p, "id = ?", planID).Error; err != nil {
		tb.Fatalf("fetch plan: %v", err)
	}
	return &p
}

func TestLedgerReserveAndFinalizeSuccess(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusPending)
	cleanupPlan(t, db, plan.ID)

	ledger := newTestLedger(t, db, nil, 3)
	req := ReserveRequest{
		PlanID: plan.ID,
		UserID: userID,
		Input:  RawGenerationInput{Topic: " Go ", SkillLevel: "beginner", LearningStyle: "mixed", WeeklyHours: 5},
	}

	reservation, rejection, err := ledger.Reserve(ctx, req)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if rejection != nil {
		t.Fatalf("unexpected rejection: %+v", rejection)
	}
	if reservation.AttemptNumber != 1 || reservation.Topic.Value != "Go" {
		t.Fatalf("reservation: %+v", reservation)
	}

	got := fetchPlan(t, db, plan.ID)
	if got.GenerationStatus != domain.PlanStatusGenerating || got.AttemptCount != 1 {
		t.Fatalf("plan after reserve: status=%s attempts=%d", got.GenerationStatus, got.AttemptCount)
	}

	output := &PlanOutput{Modules: []ModuleFragment{
		{Index: 0, Title: "Basics", EstimatedMinutes: 60,
			Tasks: []TaskFragment{{Title: "Tour of Go", EstimatedMinutes: 60}}},
	}}
	attempt, err := ledger.Finalize(ctx, FinalizeRequest{
		AttemptID:  reservation.AttemptID,
		PlanID:     plan.ID,
		Success:    true,
		DurationMs: 1200,
		Output:     output,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if attempt.Status != domain.AttemptStatusSuccess || attempt.ModulesCount != 1 || attempt.TasksCount != 1 {
		t.Fatalf("finalized attempt: %+v", attempt)
	}

	got = fetchPlan(t, db, plan.ID)
	if got.GenerationStatus != domain.PlanStatusReady {
		t.Fatalf("plan not ready after success: %s", got.GenerationStatus)
	}
	var modules int64
	if err := db.Model(&domain.PlanModule{}).Where("plan_id = ?", plan.ID).Count(&modules).Error; err != nil {
		t.Fatalf("count modules: %v", err)
	}
	if modules != 1 {
		t.Fatalf("persisted modules: %d", modules)
	}
}

func TestLedgerReserveRejections(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()

	t.Run("in progress attempt", func(t *testing.T) {
		userID := uuid.New()
		plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusGenerating)
		cleanupPlan(t, db, plan.ID)
		testutil.SeedAttempt(t, ctx, db, plan.ID, userID, 1, domain.AttemptStatusInProgress)

		ledger := newTestLedger(t, db, nil, 3)
		before := countAttempts(t, db, plan.ID)
		_, rejection, err := ledger.Reserve(ctx, ReserveRequest{PlanID: plan.ID, UserID: userID})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if rejection == nil || rejection.Reason != RejectionInProgress {
			t.Fatalf("rejection: %+v", rejection)
		}
		if after := countAttempts(t, db, plan.ID); after != before {
			t.Fatalf("rejection created attempt rows: %d -> %d", before, after)
		}
	})

	t.Run("attempt cap reached", func(t *testing.T) {
		userID := uuid.New()
		plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusFailed)
		cleanupPlan(t, db, plan.ID)
		if err := db.Model(&domain.LearningPlan{}).Where("id = ?", plan.ID).
			Update("attempt_count", 3).Error; err != nil {
			t.Fatalf("set attempt_count: %v", err)
		}

		ledger := newTestLedger(t, db, nil, 3)
		_, rejection, err := ledger.Reserve(ctx, ReserveRequest{PlanID: plan.ID, UserID: userID})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if rejection == nil || rejection.Reason != RejectionCapped {
			t.Fatalf("rejection: %+v", rejection)
		}
	})

	t.Run("wrong owner", func(t *testing.T) {
		plan := testutil.SeedPlan(t, ctx, db, uuid.New(), domain.PlanStatusPending)
		cleanupPlan(t, db, plan.ID)

		ledger := newTestLedger(t, db, nil, 3)
		_, rejection, err := ledger.Reserve(ctx, ReserveRequest{PlanID: plan.ID, UserID: uuid.New()})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if rejection == nil || rejection.Reason != RejectionInvalidStatus {
			t.Fatalf("rejection: %+v", rejection)
		}
	})

	t.Run("ready plan without regeneration", func(t *testing.T) {
		userID := uuid.New()
		plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusReady)
		cleanupPlan(t, db, plan.ID)

		ledger := newTestLedger(t, db, nil, 3)
		_, rejection, err := ledger.Reserve(ctx, ReserveRequest{PlanID: plan.ID, UserID: userID})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if rejection == nil || rejection.Reason != RejectionInvalidStatus {
			t.Fatalf("rejection: %+v", rejection)
		}
	})

	t.Run("ready plan with regeneration admitted", func(t *testing.T) {
		userID := uuid.New()
		plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusReady)
		cleanupPlan(t, db, plan.ID)

		ledger := newTestLedger(t, db, nil, 3)
		reservation, rejection, err := ledger.Reserve(ctx, ReserveRequest{
			PlanID: plan.ID, UserID: userID, Regeneration: true,
		})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if rejection != nil || reservation == nil {
			t.Fatalf("regeneration not admitted: rejection=%+v", rejection)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		userID := uuid.New()
		plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusPending)
		cleanupPlan(t, db, plan.ID)

		ledger := newTestLedger(t, db, stubRate{limited: true, retryAfter: 30 * time.Second}, 3)
		_, rejection, err := ledger.Reserve(ctx, ReserveRequest{PlanID: plan.ID, UserID: userID})
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if rejection == nil || rejection.Reason != RejectionRateLimited || rejection.RetryAfter != 30*time.Second {
			t.Fatalf("rejection: %+v", rejection)
		}
	})
}

func TestLedgerRecordRejectedAttempt(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusGenerating)
	cleanupPlan(t, db, plan.ID)
	testutil.SeedAttempt(t, ctx, db, plan.ID, userID, 1, domain.AttemptStatusInProgress)

	ledger := newTestLedger(t, db, nil, 3)
	attempt, err := ledger.RecordRejectedAttempt(ctx,
		ReserveRequest{PlanID: plan.ID, UserID: userID},
		&AttemptRejection{Reason: RejectionInProgress},
		ClassificationRateLimit,
	)
	if err != nil {
		t.Fatalf("RecordRejectedAttempt: %v", err)
	}
	if attempt.AttemptNumber != 2 {
		t.Fatalf("attempt number %d, want gapless 2", attempt.AttemptNumber)
	}
	if attempt.Status != domain.AttemptStatusFailure || *attempt.FailureClassification != string(ClassificationRateLimit) {
		t.Fatalf("audit row: %+v", attempt)
	}

	// Audit rows do not consume the cap.
	got := fetchPlan(t, db, plan.ID)
	if got.AttemptCount != 0 {
		t.Fatalf("attempt_count moved to %d on rejection audit", got.AttemptCount)
	}
}

func TestLedgerFinalizeIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusPending)
	cleanupPlan(t, db, plan.ID)

	ledger := newTestLedger(t, db, nil, 3)
	reservation, _, err := ledger.Reserve(ctx, ReserveRequest{
		PlanID: plan.ID, UserID: userID,
		Input: RawGenerationInput{Topic: "Go", SkillLevel: "beginner", LearningStyle: "mixed", WeeklyHours: 5},
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	first, err := ledger.Finalize(ctx, FinalizeRequest{
		AttemptID: reservation.AttemptID, PlanID: plan.ID,
		Success: false, Classification: ClassificationTimeout, DurationMs: 500,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if first.Status != domain.AttemptStatusFailure {
		t.Fatalf("first finalize: %+v", first)
	}

	// Second finalize must not flip an already-terminal row.
	second, err := ledger.Finalize(ctx, FinalizeRequest{
		AttemptID: reservation.AttemptID, PlanID: plan.ID,
		Success: true, DurationMs: 999,
		Output: &PlanOutput{Modules: []ModuleFragment{{Title: "x", Tasks: []TaskFragment{{Title: "y"}}}}},
	})
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if second.Status != domain.AttemptStatusFailure || second.DurationMs != 500 {
		t.Fatalf("terminal row mutated: %+v", second)
	}
	if got := fetchPlan(t, db, plan.ID); got.GenerationStatus != domain.PlanStatusFailed {
		t.Fatalf("plan status %s after no-op finalize", got.GenerationStatus)
	}
}

func TestLedgerConcurrentReserveSerializes(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	userID := uuid.New()
	plan := testutil.SeedPlan(t, ctx, db, userID, domain.PlanStatusPending)
	cleanupPlan(t, db, plan.ID)

	ledger := newTestLedger(t, db, nil, 3)
	req := ReserveRequest{
		PlanID: plan.ID, UserID: userID,
		Input: RawGenerationInput{Topic: "Go", SkillLevel: "beginner", LearningStyle: "mixed", WeeklyHours: 5},
	}

	const n = 4
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		admitted    int
		rejected    int
		reserveErrs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservation, rejection, err := ledger.Reserve(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				reserveErrs = append(reserveErrs, err)
			case reservation != nil:
				admitted++
			case rejection != nil:
				rejected++
			}
		}()
	}
	wg.Wait()

	if len(reserveErrs) > 0 {
		t.Fatalf("reserve errors: %v", reserveErrs)
	}
	if admitted != 1 || rejected != n-1 {
		t.Fatalf("admitted=%d rejected=%d, want exactly one admission", admitted, rejected)
	}
	if got := fetchPlan(t, db, plan.ID); got.AttemptCount != 1 {
		t.Fatalf("attempt_count=%d after concurrent reserve", got.AttemptCount)
	}
	if countAttempts(t, db, plan.ID) != 1 {
		t.Fatal("more than one in_progress row created")
	}
}
