package generation

import (
	"context"
	"fmt"
	"time"
)

// MockProvider streams a small deterministic plan derived from the input. It
// backs PROVIDER=mock deployments and tests that do not want a live upstream.
type MockProvider struct {
	Modules int
	Delay   time.Duration
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Modules: 3}
}

func (p *MockProvider) Generate(ctx context.Context, input GenerationInput, onFragment func(ModuleFragment) error) error {
	total := p.Modules
	if total <= 0 {
		total = 3
	}
	for i := 0; i < total; i++ {
		if p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		frag := ModuleFragment{
			Index:            i,
			Title:            fmt.Sprintf("%s: part %d", input.Topic, i+1),
			Description:      fmt.Sprintf("A %s-level unit on %s.", input.SkillLevel, input.Topic),
			EstimatedMinutes: 60,
			ModulesTotalHint: total,
			Tasks: []TaskFragment{
				{Title: fmt.Sprintf("Study %s basics %d", input.Topic, i+1), EstimatedMinutes: 30},
				{Title: fmt.Sprintf("Practice %s exercise %d", input.Topic, i+1), EstimatedMinutes: 30},
			},
		}
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	return nil
}
