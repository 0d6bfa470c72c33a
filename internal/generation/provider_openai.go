package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/planforge/planforge-backend/internal/clients/openai"
	"github.com/planforge/planforge-backend/internal/pkg/logger"
	"github.com/planforge/planforge-backend/internal/utils"
)

const planSystemPrompt = `You are a learning-plan designer. Produce a study plan as NDJSON: emit exactly one JSON object per line, one line per module, in module order, with no surrounding text or markdown. Each line has this shape:
{"index":0,"title":"...","description":"...","estimated_minutes":120,"modules_total":4,"tasks":[{"title":"...","description":"...","estimated_minutes":30}]}
Every module must contain at least one task. estimated_minutes values are positive integers. modules_total is the total number of modules in the plan and must be the same on every line.`

// moduleLine is one NDJSON line of model output.
type moduleLine struct {
	Index            int    `json:"index"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	ModulesTotal     int    `json:"modules_total"`
	Tasks            []struct {
		Title            string `json:"title"`
		Description      string `json:"description"`
		EstimatedMinutes int    `json:"estimated_minutes"`
	} `json:"tasks"`
}

// OpenAIProvider streams plan modules from the Responses API. The model emits
// one module per NDJSON line; fragments are surfaced as soon as a full line
// arrives, so the first module lands well before the stream completes.
// OPENAI_STREAMING=false switches to a single schema-constrained request,
// for deployments behind proxies that buffer or reject SSE responses.
type OpenAIProvider struct {
	log       *logger.Logger
	client    openai.Client
	streaming bool
}

func NewOpenAIProvider(baseLog *logger.Logger, client openai.Client) *OpenAIProvider {
	log := baseLog.With("provider", "openai")
	return &OpenAIProvider{
		log:       log,
		client:    client,
		streaming: utils.GetEnvAsBool("OPENAI_STREAMING", true, log),
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, input GenerationInput, onFragment func(ModuleFragment) error) error {
	if !p.streaming {
		return p.generateDocument(ctx, input, onFragment)
	}
	return p.generateStream(ctx, input, onFragment)
}

func (p *OpenAIProvider) generateStream(ctx context.Context, input GenerationInput, onFragment func(ModuleFragment) error) error {
	var (
		buf         strings.Builder
		fragErr     error
		parsedLines int
	)

	emitLine := func(line string) {
		if fragErr != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		var m moduleLine
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			// Partial or garbled line; output validation catches a plan that
			// ends up empty or short.
			p.log.Warn("skipping unparseable module line", "error", err)
			return
		}
		frag := ModuleFragment{
			Index:            m.Index,
			Title:            m.Title,
			Description:      m.Description,
			EstimatedMinutes: m.EstimatedMinutes,
			ModulesTotalHint: m.ModulesTotal,
		}
		for _, t := range m.Tasks {
			frag.Tasks = append(frag.Tasks, TaskFragment{
				Title:            t.Title,
				Description:      t.Description,
				EstimatedMinutes: t.EstimatedMinutes,
			})
		}
		parsedLines++
		fragErr = onFragment(frag)
	}

	_, err := p.client.StreamText(ctx, planSystemPrompt, userPrompt(input), func(delta string) {
		buf.WriteString(delta)
		for {
			s := buf.String()
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return
			}
			line := s[:nl]
			buf.Reset()
			buf.WriteString(s[nl+1:])
			emitLine(line)
		}
	})
	if fragErr != nil {
		return fragErr
	}
	if err != nil {
		return providerErrorFrom(err)
	}
	emitLine(buf.String())
	if fragErr != nil {
		return fragErr
	}

	p.log.Debug("stream complete", "modules", parsedLines)
	return nil
}

const planSchemaName = "learning_plan"

func planJSONSchema() map[string]any {
	task := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":             map[string]any{"type": "string"},
			"description":       map[string]any{"type": "string"},
			"estimated_minutes": map[string]any{"type": "integer"},
		},
		"required":             []string{"title", "description", "estimated_minutes"},
		"additionalProperties": false,
	}
	module := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"index":             map[string]any{"type": "integer"},
			"title":             map[string]any{"type": "string"},
			"description":       map[string]any{"type": "string"},
			"estimated_minutes": map[string]any{"type": "integer"},
			"tasks":             map[string]any{"type": "array", "items": task},
		},
		"required":             []string{"index", "title", "description", "estimated_minutes", "tasks"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"modules": map[string]any{"type": "array", "items": module},
		},
		"required":             []string{"modules"},
		"additionalProperties": false,
	}
}

const planDocumentPrompt = `You are a learning-plan designer. Produce a study plan as a single JSON document with a "modules" array, modules in order. Every module must contain at least one task. estimated_minutes values are positive integers.`

// generateDocument fetches the whole plan in one schema-constrained request
// and replays it as ordered fragments. No early progress: the adaptive
// deadline never extends in this mode.
func (p *OpenAIProvider) generateDocument(ctx context.Context, input GenerationInput, onFragment func(ModuleFragment) error) error {
	obj, err := p.client.GenerateJSON(ctx, planDocumentPrompt, userPrompt(input), planSchemaName, planJSONSchema())
	if err != nil {
		return providerErrorFrom(err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var doc struct {
		Modules []moduleLine `json:"modules"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("malformed plan document: %w", err)
	}

	for _, m := range doc.Modules {
		frag := ModuleFragment{
			Index:            m.Index,
			Title:            m.Title,
			Description:      m.Description,
			EstimatedMinutes: m.EstimatedMinutes,
			ModulesTotalHint: len(doc.Modules),
		}
		for _, t := range m.Tasks {
			frag.Tasks = append(frag.Tasks, TaskFragment{
				Title:            t.Title,
				Description:      t.Description,
				EstimatedMinutes: t.EstimatedMinutes,
			})
		}
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	p.log.Debug("document complete", "modules", len(doc.Modules))
	return nil
}

// providerErrorFrom maps API transport failures onto ProviderError so the
// outcome classifier can distinguish auth and quota faults.
func providerErrorFrom(err error) error {
	var httpErr *openai.HTTPError
	if errors.As(err, &httpErr) {
		return &ProviderError{
			StatusCode: httpErr.StatusCode,
			Code:       httpErr.ErrorCode(),
			Message:    httpErr.Error(),
		}
	}
	return err
}

func userPrompt(input GenerationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", input.Topic)
	fmt.Fprintf(&b, "Skill level: %s\n", input.SkillLevel)
	fmt.Fprintf(&b, "Learning style: %s\n", input.LearningStyle)
	fmt.Fprintf(&b, "Weekly hours available: %g\n", input.WeeklyHours)
	if input.StartDate != nil {
		fmt.Fprintf(&b, "Start date: %s\n", *input.StartDate)
	}
	if input.DeadlineDate != nil {
		fmt.Fprintf(&b, "Deadline: %s\n", *input.DeadlineDate)
	}
	if strings.TrimSpace(input.Notes) != "" {
		fmt.Fprintf(&b, "Learner notes: %s\n", input.Notes)
	}
	return b.String()
}
