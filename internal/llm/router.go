package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// ModelRef names a (provider, model) pair a task can be routed to.
type ModelRef struct {
	Provider string
	Model    string
}

// Route is a task's primary and fallback ModelRef.
type Route struct {
	Primary  ModelRef
	Fallback ModelRef
}

// Routes is the static task -> (primary, fallback) routing table (spec
// §4.6). html_normalisation and diff_classification are cheap, high-volume
// tasks routed to small fast models; llm_extraction and change_summary need
// more care; design_vision requires a vision-capable model on both sides.
var Routes = map[Task]Route{
	TaskHTMLNormalisation: {
		Primary:  ModelRef{Provider: ProviderOpenRouter, Model: "meta-llama/llama-3.1-8b-instruct"},
		Fallback: ModelRef{Provider: ProviderOllama, Model: "llama3.1"},
	},
	TaskLLMExtraction: {
		Primary:  ModelRef{Provider: ProviderOpenRouter, Model: "meta-llama/llama-3.1-70b-instruct"},
		Fallback: ModelRef{Provider: ProviderAnthropic, Model: "claude-3-haiku-20240307"},
	},
	TaskDiffClassification: {
		Primary:  ModelRef{Provider: ProviderOpenRouter, Model: "meta-llama/llama-3.1-8b-instruct"},
		Fallback: ModelRef{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
	},
	TaskChangeSummary: {
		Primary:  ModelRef{Provider: ProviderAnthropic, Model: "claude-3-haiku-20240307"},
		Fallback: ModelRef{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
	},
	TaskDesignVision: {
		Primary:  ModelRef{Provider: ProviderOpenRouter, Model: "google/gemini-2.0-flash-001"},
		Fallback: ModelRef{Provider: ProviderAnthropic, Model: "claude-3-5-sonnet-20241022"},
	},
	TaskContentGeneration: {
		Primary:  ModelRef{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
		Fallback: ModelRef{Provider: ProviderAnthropic, Model: "claude-3-haiku-20240307"},
	},
}

// LogStore is the narrow persistence contract the router needs for
// AIInferenceLog rows; the SQL implementation lives in internal/repository.
type LogStore interface {
	Append(ctx context.Context, entry models.AIInferenceLog) error
}

// CallRequest is a caller's input to Execute: the prompt plus whatever the
// task needs, independent of which model ends up serving it.
type CallRequest struct {
	SystemPrompt string
	UserPrompt   string
	RequireJSON  bool
	ImageURLs    []string
}

// Router routes a Task to a model, calls it via Transport, retries and
// falls back per spec §4.6, and emits one AIInferenceLog row per attempt.
// A Router is safe for concurrent use: the only shared mutable state is the
// spend tracker (atomic counters) and the accounting channel, which a single
// goroutine drains into the log store (spec §4.6 "Concurrency contract").
type Router struct {
	registry  *Registry
	transport Transport
	apiKeys   map[string]string // provider -> API key
	spend     *SpendTracker
	logger    *slog.Logger

	accounting *accountingSink
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Registry     *Registry
	Transport    Transport
	APIKeys      map[string]string
	SpendCapsUSD map[string]float64 // model -> monthly cap
	LogStore     LogStore
	Logger       *slog.Logger
}

// NewRouter builds a Router and starts its accounting consumer goroutine.
// Callers must call Close to flush the remaining log entries on shutdown.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Router{
		registry:   cfg.Registry,
		transport:  cfg.Transport,
		apiKeys:    cfg.APIKeys,
		spend:      NewSpendTracker(cfg.SpendCapsUSD),
		logger:     cfg.Logger,
		accounting: newAccountingSink(cfg.LogStore, cfg.Logger),
	}
	return r
}

// Close stops the accounting consumer, flushing whatever remains in the
// channel within the grace window (spec §4.6, §9).
func (r *Router) Close(ctx context.Context, grace time.Duration) {
	r.accounting.close(ctx, grace)
}

// Execute runs task against the routing table, retrying the primary model
// once, then falling back to the fallback model for one more attempt (spec
// §4.6). Each attempt emits exactly one AIInferenceLog row (spec §8 property
// 5), so a caller sees at most three rows for one Execute call.
func (r *Router) Execute(ctx context.Context, task Task, req CallRequest) (Response, error) {
	route, ok := Routes[task]
	if !ok {
		return Response{}, &CallError{Err: ErrProviderError}
	}

	// Primary gets one retry, then the fallback gets a single attempt
	// (spec §4.6). A slot skipped for a spend cap is not called and emits
	// no AIInferenceLog row; only slots actually attempted log a row.
	attempts := []struct {
		ref        ModelRef
		isFallback bool
	}{
		{route.Primary, false},
		{route.Primary, false},
		{route.Fallback, true},
	}

	sawEligibleCandidate := false
	for _, a := range attempts {
		if r.spend.OverCap(a.ref.Model) {
			continue
		}
		sawEligibleCandidate = true

		resp, err := r.call(ctx, task, a.ref, a.isFallback, req)
		if err == nil {
			return resp, nil
		}
	}

	if !sawEligibleCandidate {
		return Response{}, &CallError{Err: ErrSpendCapExhausted}
	}
	return Response{}, &CallError{Err: ErrLLMFailure, Provider: route.Fallback.Provider, Model: route.Fallback.Model}
}

func (r *Router) call(ctx context.Context, task Task, ref ModelRef, isFallback bool, req CallRequest) (Response, error) {
	cfg, ok := r.registry.GetProviderAPIConfig(ref.Provider)
	if !ok {
		return Response{}, &CallError{Err: ErrProviderError, Provider: ref.Provider, Model: ref.Model}
	}

	start := time.Now()
	resp, callErr := r.transport.Call(ctx, cfg, r.apiKeys[ref.Provider], Request{
		Provider:     ref.Provider,
		Model:        ref.Model,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		ImageURLs:    req.ImageURLs,
		RequireJSON:  req.RequireJSON,
	})
	latency := time.Since(start)

	cost := EstimateCost(ref.Model, resp.PromptTokens, resp.CompletionTokens)
	r.spend.Add(ref.Model, cost)

	entry := models.AIInferenceLog{
		ID:           ulid.Make().String(),
		Provider:     ref.Provider,
		Model:        ref.Model,
		TaskType:     string(task),
		InputTokens:  resp.PromptTokens,
		OutputTokens: resp.CompletionTokens,
		CostUSD:      cost,
		LatencyMS:    latency.Milliseconds(),
		WasFallback:  isFallback,
		PromptHash:   hashString(req.SystemPrompt + "\x00" + req.UserPrompt),
		CreatedAt:    time.Now(),
	}
	if callErr != nil {
		entry.Status = "failure"
		entry.ErrorMessage = callErr.Error()
	} else {
		entry.Status = "success"
		entry.ResponseHash = hashString(resp.Content)
	}
	r.accounting.submit(entry)

	return resp, callErr
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
