package llm

// ModelPrice is the per-token price for a model, expressed per million
// tokens in USD, matching how every provider publishes its rate card.
type ModelPrice struct {
	PromptPricePer1M     float64
	CompletionPricePer1M float64
}

// prices is the static price table the router costs every call against
// (spec §4.6 "computed cost from a per-model price table"). Real deployments
// would refresh this from each provider's published pricing; the crawler
// hand-maintains it since the model set per task is small and changes
// rarely.
var prices = map[string]ModelPrice{
	"meta-llama/llama-3.1-8b-instruct":  {PromptPricePer1M: 0.05, CompletionPricePer1M: 0.08},
	"meta-llama/llama-3.1-70b-instruct": {PromptPricePer1M: 0.35, CompletionPricePer1M: 0.40},
	"google/gemini-2.0-flash-001":       {PromptPricePer1M: 0.10, CompletionPricePer1M: 0.40},
	"claude-3-5-sonnet-20241022":        {PromptPricePer1M: 3.00, CompletionPricePer1M: 15.00},
	"claude-3-haiku-20240307":           {PromptPricePer1M: 0.25, CompletionPricePer1M: 1.25},
	"gpt-4o-mini":                       {PromptPricePer1M: 0.15, CompletionPricePer1M: 0.60},
	"gpt-4o":                            {PromptPricePer1M: 2.50, CompletionPricePer1M: 10.00},
	"llama3.1":                          {PromptPricePer1M: 0, CompletionPricePer1M: 0},
}

// PriceFor returns the known price for model, or ok=false if unpriced.
func PriceFor(model string) (ModelPrice, bool) {
	p, ok := prices[model]
	return p, ok
}

// EstimateCost computes the USD cost of a call from its token counts and the
// model's price table entry. Unpriced models cost 0 — the router treats an
// unpriced model as a configuration gap to be caught in review, not a reason
// to fail the call.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := PriceFor(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)*p.PromptPricePer1M/1_000_000 + float64(completionTokens)*p.CompletionPricePer1M/1_000_000
}
