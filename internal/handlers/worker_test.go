package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/planforge/planforge-backend/internal/domain"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
	"github.com/planforge/planforge-backend/internal/queue"
)

type staticJobStore struct {
	due []*domain.RegenerationJob
}

func (s *staticJobStore) ClaimDue(ctx context.Context, now time.Time, max int) ([]*domain.RegenerationJob, error) {
	if max > len(s.due) {
		max = len(s.due)
	}
	claimed := s.due[:max]
	s.due = s.due[max:]
	return claimed, nil
}

func (s *staticJobStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error {
	return nil
}

func (s *staticJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	return nil
}

type noopHandler struct{}

func (noopHandler) Type() string { return domain.JobTypePlanRegenerate }

func (noopHandler) Run(ctx context.Context, job *domain.RegenerationJob) (datatypes.JSON, error) {
	return datatypes.JSON([]byte(`{}`)), nil
}

func newWorkerRouter(t *testing.T, token string, queueEnabled bool, jobs int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	store := &staticJobStore{}
	for i := 0; i < jobs; i++ {
		store.due = append(store.due, &domain.RegenerationJob{
			ID:      uuid.New(),
			JobType: domain.JobTypePlanRegenerate,
			Status:  domain.JobStatusRunning,
		})
	}
	reg := queue.NewRegistry()
	if err := reg.Register(noopHandler{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	drainer := queue.NewDrainer(log, store, reg)

	h := NewWorkerHandler(log, drainer, token, queueEnabled, 10)
	router := gin.New()
	router.POST("/internal/worker/drain-regeneration", h.DrainRegeneration)
	return router
}

func drainRequest(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/worker/drain-regeneration", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestDrainRegenerationAuth(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing token", nil, http.StatusUnauthorized},
		{"wrong bearer", map[string]string{"Authorization": "Bearer wrong"}, http.StatusUnauthorized},
		{"wrong worker header", map[string]string{"X-Worker-Token": "wrong"}, http.StatusUnauthorized},
		{"valid bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"valid worker header", map[string]string{"X-Worker-Token": "s3cret"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newWorkerRouter(t, "s3cret", true, 0)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, drainRequest(tc.headers))
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d (body=%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestDrainRegenerationQueueDisabled(t *testing.T) {
	router := newWorkerRouter(t, "s3cret", false, 0)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, drainRequest(map[string]string{"X-Worker-Token": "s3cret"}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
}

func TestDrainRegenerationEmptyTokenPermitsLocalUse(t *testing.T) {
	// An unset secret is permissive; production startup refuses to run
	// without one, so this only ever reaches local deployments.
	router := newWorkerRouter(t, "", true, 0)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, drainRequest(nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
}

func TestDrainRegenerationReturnsCounts(t *testing.T) {
	router := newWorkerRouter(t, "s3cret", true, 3)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, drainRequest(map[string]string{"X-Worker-Token": "s3cret"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d (body=%s)", rec.Code, rec.Body.String())
	}
	var result queue.DrainResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Claimed != 3 || result.Succeeded != 3 || result.Failed != 0 {
		t.Fatalf("result: %+v", result)
	}
}
