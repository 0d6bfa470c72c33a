package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/clients/redis"
	"github.com/planforge/planforge-backend/internal/data/repos/plans"
	"github.com/planforge/planforge-backend/internal/events"
	"github.com/planforge/planforge-backend/internal/generation"
	"github.com/planforge/planforge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/planforge/planforge-backend/internal/pkg/errors"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
)

type generateRequest struct {
	UserID        string  `json:"user_id" binding:"required"`
	Topic         string  `json:"topic" binding:"required"`
	Notes         string  `json:"notes"`
	SkillLevel    string  `json:"skill_level" binding:"required"`
	LearningStyle string  `json:"learning_style" binding:"required"`
	WeeklyHours   float64 `json:"weekly_hours"`
	StartDate     *string `json:"start_date"`
	DeadlineDate  *string `json:"deadline_date"`
	Regeneration  bool    `json:"regeneration"`
}

type GenerationHandler struct {
	log         *logger.Logger
	orch        *generation.Orchestrator
	attemptRepo plans.GenerationAttemptRepo
	bus         redis.EventBus
}

func NewGenerationHandler(
	baseLog *logger.Logger,
	orch *generation.Orchestrator,
	attemptRepo plans.GenerationAttemptRepo,
	bus redis.EventBus,
) *GenerationHandler {
	return &GenerationHandler{
		log:         baseLog.With("handler", "GenerationHandler"),
		orch:        orch,
		attemptRepo: attemptRepo,
		bus:         bus,
	}
}

// sseSink writes each event as one SSE frame and flushes immediately, so the
// client sees module summaries as they arrive rather than at stream end.
type sseSink struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Emit(e events.Event) error {
	frame, err := events.FormatFrame(e)
	if err != nil {
		return err
	}
	if _, err := s.w.WriteString(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// POST /api/plans/:id/generate
func (h *GenerationHandler) Generate(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_plan_id", fmt.Errorf("invalid plan id: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("invalid user id: %w", pkgerrors.ErrInvalidArgument))
		return
	}
	if !events.ValidSkillLevel(req.SkillLevel) {
		RespondError(c, http.StatusBadRequest, "invalid_skill_level", fmt.Errorf("unknown skill level %q", req.SkillLevel))
		return
	}
	if !events.ValidLearningStyle(req.LearningStyle) {
		RespondError(c, http.StatusBadRequest, "invalid_learning_style", fmt.Errorf("unknown learning style %q", req.LearningStyle))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", fmt.Errorf("response writer does not support streaming"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var sink generation.EventSink = &sseSink{w: c.Writer, flusher: flusher}
	if h.bus != nil {
		direct := sink
		sink = redis.NewBusSink(h.log, h.bus, planID.String(), direct.Emit)
	}

	// Terminal outcome travels in the stream itself; the HTTP status is
	// already committed as 200 by the time the attempt resolves.
	_, err = h.orch.RunGenerationAttempt(c.Request.Context(), generation.RunRequest{
		PlanID: planID,
		UserID: userID,
		Input: generation.RawGenerationInput{
			Topic:         req.Topic,
			Notes:         req.Notes,
			SkillLevel:    req.SkillLevel,
			LearningStyle: req.LearningStyle,
			WeeklyHours:   req.WeeklyHours,
			StartDate:     req.StartDate,
			DeadlineDate:  req.DeadlineDate,
		},
		Regeneration: req.Regeneration,
		RequestID:    requestID,
	}, generation.RunOptions{Sink: sink})
	if err != nil {
		h.log.Error("generation attempt errored", "plan_id", planID, "request_id", requestID, "error", err)
		errCode := "internal_error"
		msg := "internal error"
		frame, fErr := events.FormatFrame(events.NewError(events.ErrorData{
			Code:           errCode,
			Message:        msg,
			Classification: string(generation.ClassificationUnknown),
			Retryable:      true,
			RequestID:      requestID,
		}))
		if fErr == nil {
			_, _ = c.Writer.WriteString(frame)
			flusher.Flush()
		}
	}
}

// GET /api/plans/:id/generation
func (h *GenerationHandler) GetLatestForPlan(c *gin.Context) {
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_plan_id", fmt.Errorf("invalid plan id: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	attempt, err := h.attemptRepo.GetLatestForPlan(dbctx.New(c.Request.Context(), nil), planID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "attempt_lookup_failed", err)
		return
	}

	// attempt can be nil if no attempt exists yet
	RespondOK(c, gin.H{"attempt": attempt})
}
