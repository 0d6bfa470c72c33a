package generation

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryTableIsTotal(t *testing.T) {
	for _, c := range AllClassifications {
		if _, ok := retryableByClassification[c]; !ok {
			t.Fatalf("classification %q missing from retry table", c)
		}
	}
	if len(retryableByClassification) != len(AllClassifications) {
		t.Fatalf("retry table has %d entries, want %d", len(retryableByClassification), len(AllClassifications))
	}
}

func TestRetryPolicy(t *testing.T) {
	cases := []struct {
		c    Classification
		want bool
	}{
		{ClassificationAttemptCap, false},
		{ClassificationRateLimit, true},
		{ClassificationInvalidState, false},
		{ClassificationTimeout, true},
		{ClassificationCancelled, true},
		{ClassificationInvalidOutput, false},
		{ClassificationProviderQuota, true},
		{ClassificationProviderAuth, false},
		{ClassificationUnknown, true},
	}
	for _, tc := range cases {
		if got := tc.c.Retryable(); got != tc.want {
			t.Fatalf("Retryable(%s)=%v want %v", tc.c, got, tc.want)
		}
	}
}

func TestClassifyRejection(t *testing.T) {
	cases := []struct {
		reason RejectionReason
		want   Classification
	}{
		{RejectionCapped, ClassificationAttemptCap},
		{RejectionInProgress, ClassificationRateLimit},
		{RejectionInvalidStatus, ClassificationInvalidState},
		{RejectionRateLimited, ClassificationRateLimit},
		{RejectionReason("bogus"), ClassificationUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyRejection(tc.reason); got != tc.want {
			t.Fatalf("ClassifyRejection(%s)=%s want %s", tc.reason, got, tc.want)
		}
	}
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Classification
	}{
		{"unauthorized", &ProviderError{StatusCode: 401}, ClassificationProviderAuth},
		{"forbidden", &ProviderError{StatusCode: 403}, ClassificationProviderAuth},
		{"payment required", &ProviderError{StatusCode: 402}, ClassificationProviderQuota},
		{"too many requests", &ProviderError{StatusCode: 429}, ClassificationProviderQuota},
		{"quota code", &ProviderError{StatusCode: 400, Code: "insufficient_quota"}, ClassificationProviderQuota},
		{"billing code", &ProviderError{StatusCode: 400, Code: "billing_hard_limit_reached"}, ClassificationProviderQuota},
		{"api key code", &ProviderError{StatusCode: 400, Code: "invalid_api_key"}, ClassificationProviderAuth},
		{"wrapped", fmt.Errorf("call upstream: %w", &ProviderError{StatusCode: 401}), ClassificationProviderAuth},
		{"server error", &ProviderError{StatusCode: 500}, ClassificationUnknown},
		{"plain error", errors.New("connection reset"), ClassificationUnknown},
		{"nil", nil, ClassificationUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyProviderError(tc.err); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}
