package generation

import (
	"errors"
	"net/http"
	"strings"
)

// Classification is the closed-set tag explaining why an attempt failed. It
// drives the caller-facing retry affordance.
type Classification string

const (
	ClassificationAttemptCap    Classification = "attempt_cap"
	ClassificationRateLimit     Classification = "rate_limit"
	ClassificationInvalidState  Classification = "invalid_state"
	ClassificationTimeout       Classification = "timeout"
	ClassificationCancelled     Classification = "cancelled"
	ClassificationInvalidOutput Classification = "invalid_output"
	ClassificationProviderQuota Classification = "provider_quota"
	ClassificationProviderAuth  Classification = "provider_auth"
	ClassificationUnknown       Classification = "unknown"
)

// AllClassifications enumerates the closed set; tests assert the retry table
// is total over it so a new classification cannot be silently dropped.
var AllClassifications = []Classification{
	ClassificationAttemptCap,
	ClassificationRateLimit,
	ClassificationInvalidState,
	ClassificationTimeout,
	ClassificationCancelled,
	ClassificationInvalidOutput,
	ClassificationProviderQuota,
	ClassificationProviderAuth,
	ClassificationUnknown,
}

var retryableByClassification = map[Classification]bool{
	ClassificationAttemptCap:    false,
	ClassificationRateLimit:     true,
	ClassificationInvalidState:  false,
	ClassificationTimeout:       true,
	ClassificationCancelled:     true,
	ClassificationInvalidOutput: false,
	ClassificationProviderQuota: true,
	ClassificationProviderAuth:  false,
	ClassificationUnknown:       true,
}

func (c Classification) Retryable() bool {
	return retryableByClassification[c]
}

// RejectionReason is the closed set of reservation rejection reasons.
type RejectionReason string

const (
	RejectionCapped        RejectionReason = "capped"
	RejectionInProgress    RejectionReason = "in_progress"
	RejectionInvalidStatus RejectionReason = "invalid_status"
	RejectionRateLimited   RejectionReason = "rate_limited"
)

// rejectionClassification is the reviewed rejection-to-classification table.
// in_progress maps to rate_limit because "another attempt is already running"
// is operationally a throttle on the caller, not a terminal plan state.
var rejectionClassification = map[RejectionReason]Classification{
	RejectionCapped:        ClassificationAttemptCap,
	RejectionInProgress:    ClassificationRateLimit,
	RejectionInvalidStatus: ClassificationInvalidState,
	RejectionRateLimited:   ClassificationRateLimit,
}

func ClassifyRejection(reason RejectionReason) Classification {
	if c, ok := rejectionClassification[reason]; ok {
		return c
	}
	return ClassificationUnknown
}

// ClassifyProviderError inspects a provider fault's shape. Timeout and caller
// cancellation are decided by the orchestrator from its own signals before
// this is consulted.
func ClassifyProviderError(err error) Classification {
	if err == nil {
		return ClassificationUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassificationProviderAuth
		case http.StatusPaymentRequired, http.StatusTooManyRequests:
			return ClassificationProviderQuota
		}
		code := strings.ToLower(pe.Code)
		if strings.Contains(code, "quota") || strings.Contains(code, "billing") {
			return ClassificationProviderQuota
		}
		if strings.Contains(code, "api_key") || strings.Contains(code, "auth") {
			return ClassificationProviderAuth
		}
	}
	return ClassificationUnknown
}
