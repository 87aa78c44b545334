package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/oem-crawler/internal/llm"
)

// maxLLMTextWindow bounds the normalised DOM text handed to the LLM (spec
// §4.5: "a bounded text window (normalised DOM text, ≤ ~30 KiB)").
const maxLLMTextWindow = 30 * 1024

// Router is the narrow slice of *llm.Router the extraction strategy needs,
// so tests can inject a stub without building a real Router.
type Router interface {
	Execute(ctx context.Context, task llm.Task, req llm.CallRequest) (llm.Response, error)
}

// LLMStrategy is the last rung of the fallback ladder: it asks the LLM
// Router to turn normalised page text into strict JSON matching the
// requested fields (spec §4.5 "LLM extraction"). Confidence is 0.70 on a
// clean parse, 0 on a parse failure. At most one retry, handled inside the
// router itself (primary model gets its own retry per spec §4.6).
type LLMStrategy struct {
	Router Router
}

func (LLMStrategy) Label() string { return "llm_extraction" }

func (s LLMStrategy) Extract(ctx context.Context, in Input) (Result, error) {
	if s.Router == nil {
		return Result{}, errNoLLMRouter
	}
	text := in.RenderedHTML
	if len(text) > maxLLMTextWindow {
		text = text[:maxLLMTextWindow]
	}
	if text == "" {
		return Result{}, errNoLLMInput
	}

	resp, err := s.Router.Execute(ctx, llm.TaskLLMExtraction, llm.CallRequest{
		SystemPrompt: extractionSystemPrompt(in.Config, in.PageStructureHint),
		UserPrompt:   text,
		RequireJSON:  true,
	})
	if err != nil {
		return Result{Confidence: 0}, fmt.Errorf("llm extraction call: %w", err)
	}

	fields, err := parseLLMFields(resp.Content)
	if err != nil {
		return Result{Confidence: 0}, nil
	}

	return Result{Entities: []Entity{fieldsToEntity(in.Config.EntityKind, fields)}, Confidence: 0.70}, nil
}

var (
	errNoLLMRouter = newStrategyError("no LLM router configured")
	errNoLLMInput  = newStrategyError("no rendered text available for LLM extraction")
)

func extractionSystemPrompt(cfg PageConfig, structureHint string) string {
	var fields []string
	for field := range cfg.Selectors {
		fields = append(fields, field)
	}
	for _, f := range cfg.RequiredFields {
		fields = append(fields, f)
	}
	prompt := "Extract the following fields as a flat JSON object of string values, with no extra keys: " + strings.Join(fields, ", ")
	if structureHint != "" {
		prompt += ". Page structure note: " + structureHint
	}
	return prompt
}

func parseLLMFields(content string) (map[string]string, error) {
	if !json.Valid([]byte(content)) {
		return nil, errors.New("LLM response was not valid JSON")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[k] = fmt.Sprintf("%v", v)
	}
	return fields, nil
}
