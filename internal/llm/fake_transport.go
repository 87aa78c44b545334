package llm

import "context"

// FakeTransport is a deterministic Transport double for tests: it returns
// canned content for a model without making a network call (spec §9). Set
// FailModels to make specific (provider, model) pairs return an error —
// tests use this to exercise the router's retry-then-fallback path (spec
// §4.6, property S6).
type FakeTransport struct {
	// Responses maps model -> canned response content (usually JSON).
	Responses map[string]string
	// FailModels lists models whose call always fails with Err (or
	// ErrInvalidResponse if Err is nil).
	FailModels map[string]error
	// Calls records every call made, in order, for assertions.
	Calls []Request
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Responses:  map[string]string{},
		FailModels: map[string]error{},
	}
}

func (f *FakeTransport) Call(_ context.Context, _ ProviderAPIConfig, _ string, req Request) (Response, error) {
	f.Calls = append(f.Calls, req)

	if err, fail := f.FailModels[req.Model]; fail {
		if err == nil {
			err = ErrInvalidResponse
		}
		return Response{}, &CallError{Err: err, Provider: req.Provider, Model: req.Model, Retryable: true}
	}

	content, ok := f.Responses[req.Model]
	if !ok {
		return Response{}, &CallError{Err: ErrInvalidResponse, Provider: req.Provider, Model: req.Model}
	}
	return Response{Content: content, PromptTokens: len(req.UserPrompt) / 4, CompletionTokens: len(content) / 4}, nil
}
