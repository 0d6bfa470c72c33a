package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/planforge/planforge-backend/internal/pkg/errors"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
	"github.com/planforge/planforge-backend/internal/queue"
)

type WorkerHandler struct {
	log          *logger.Logger
	drainer      *queue.Drainer
	token        string
	queueEnabled bool
	maxJobs      int
}

func NewWorkerHandler(
	baseLog *logger.Logger,
	drainer *queue.Drainer,
	token string,
	queueEnabled bool,
	maxJobs int,
) *WorkerHandler {
	return &WorkerHandler{
		log:          baseLog.With("handler", "WorkerHandler"),
		drainer:      drainer,
		token:        token,
		queueEnabled: queueEnabled,
		maxJobs:      maxJobs,
	}
}

// POST /internal/worker/drain-regeneration
func (h *WorkerHandler) DrainRegeneration(c *gin.Context) {
	if !h.queueEnabled {
		RespondError(c, http.StatusServiceUnavailable, "queue_disabled", pkgerrors.ErrQueueDisabled)
		return
	}
	if !h.authorized(c) {
		RespondError(c, http.StatusUnauthorized, "unauthorized", pkgerrors.ErrUnauthorized)
		return
	}

	result, err := h.drainer.Drain(c.Request.Context(), h.maxJobs)
	if err != nil {
		h.log.Error("drain pass failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "drain_failed", err)
		return
	}
	RespondOK(c, result)
}

// authorized compares the presented worker token in constant time. Both the
// Authorization bearer form and the X-Worker-Token header are accepted.
// An unset token is permissive; startup refuses to run production without one.
func (h *WorkerHandler) authorized(c *gin.Context) bool {
	if h.token == "" {
		return true
	}
	presented := strings.TrimSpace(c.GetHeader("X-Worker-Token"))
	if presented == "" {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			presented = strings.TrimSpace(authHeader[7:])
		}
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}
