package generation

import (
	"context"
	"fmt"
)

// GenerationInput is the normalized, sanitized input handed to a provider.
type GenerationInput struct {
	Topic         string
	SkillLevel    string
	LearningStyle string
	WeeklyHours   float64
	StartDate     *string
	DeadlineDate  *string
	Notes         string
}

type TaskFragment struct {
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	EstimatedMinutes int    `json:"estimatedMinutes"`
}

// ModuleFragment is one partial plan unit as produced by a provider stream.
type ModuleFragment struct {
	Index            int            `json:"index"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	EstimatedMinutes int            `json:"estimatedMinutes"`
	Tasks            []TaskFragment `json:"tasks"`
	// ModulesTotalHint is the provider's declared module count, 0 when unknown.
	ModulesTotalHint int `json:"modulesTotalHint,omitempty"`
}

// Provider is the swappable generation backend: one call, one stream of
// module fragments delivered through onFragment in arrival order. A returned
// error from onFragment stops the stream. Cancellation flows through ctx and
// must be observed promptly.
type Provider interface {
	Generate(ctx context.Context, input GenerationInput, onFragment func(ModuleFragment) error) error
}

// ProviderError carries an upstream fault's shape for classification.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: status=%d message=%s", e.StatusCode, e.Message)
}

func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// PlanOutput is the assembled result of a completed provider stream.
type PlanOutput struct {
	Modules []ModuleFragment
}

func (o *PlanOutput) ModulesCount() int {
	if o == nil {
		return 0
	}
	return len(o.Modules)
}

func (o *PlanOutput) TasksCount() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, m := range o.Modules {
		n += len(m.Tasks)
	}
	return n
}

// Validate checks the assembled output against the plan schema: modules
// non-empty, each with at least one task, all time estimates non-negative.
func (o *PlanOutput) Validate() error {
	if o == nil || len(o.Modules) == 0 {
		return fmt.Errorf("plan has no modules")
	}
	for i, m := range o.Modules {
		if len(m.Tasks) == 0 {
			return fmt.Errorf("module %d has no tasks", i)
		}
		if m.EstimatedMinutes < 0 {
			return fmt.Errorf("module %d has negative estimated minutes", i)
		}
		for j, task := range m.Tasks {
			if task.EstimatedMinutes < 0 {
				return fmt.Errorf("module %d task %d has negative estimated minutes", i, j)
			}
		}
	}
	return nil
}
