package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is one chat-completion call, already resolved to a concrete
// provider and model by the router.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	UserPrompt   string
	ImageURLs    []string // non-empty only for TaskDesignVision
	RequireJSON  bool
}

// Response is a successful chat-completion result plus the token counts
// needed for accounting.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Transport performs a single chat-completion call. Production code uses
// HTTPTransport; tests inject a FakeTransport so the router's retry/fallback
// and accounting logic can be exercised without a network or an API key
// (spec §9: "the LLM Router accepts an injectable transport").
type Transport interface {
	Call(ctx context.Context, cfg ProviderAPIConfig, apiKey string, req Request) (Response, error)
}

// HTTPTransport calls real provider endpoints over net/http, translating
// Request into each APIFormat's wire shape.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport with a bounded per-call timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Call(ctx context.Context, cfg ProviderAPIConfig, apiKey string, req Request) (Response, error) {
	var body []byte
	var err error
	switch cfg.APIFormat {
	case APIFormatAnthropic:
		body, err = encodeAnthropicRequest(req)
	default: // OpenAI-compatible (OpenAI, OpenRouter) and Ollama's /api/chat both take messages arrays
		body, err = encodeOpenAIRequest(req)
	}
	if err != nil {
		return Response{}, &CallError{Err: err, Provider: req.Provider, Model: req.Model}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+cfg.ChatEndpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, &CallError{Err: err, Provider: req.Provider, Model: req.Model}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch cfg.AuthType {
	case AuthTypeBearer:
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	case AuthTypeAPIKey:
		httpReq.Header.Set(cfg.AuthHeader, apiKey)
	}
	for k, v := range cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, ClassifyError(err, req.Provider, req.Model, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, ClassifyError(err, req.Provider, req.Model, 0)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, ClassifyError(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)), req.Provider, req.Model, resp.StatusCode)
	}

	switch cfg.APIFormat {
	case APIFormatAnthropic:
		return decodeAnthropicResponse(respBody, req)
	default:
		return decodeOpenAIResponse(respBody, req)
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func encodeOpenAIRequest(req Request) ([]byte, error) {
	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt})

	body := openAIChatRequest{Model: req.Model, Messages: messages}
	if req.RequireJSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return json.Marshal(body)
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func decodeOpenAIResponse(body []byte, req Request) (Response, error) {
	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, &CallError{Err: ErrInvalidResponse, Provider: req.Provider, Model: req.Model}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &CallError{Err: ErrInvalidResponse, Provider: req.Provider, Model: req.Model}
	}
	return Response{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

func encodeAnthropicRequest(req Request) ([]byte, error) {
	body := anthropicRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
		MaxTokens: 4096,
	}
	return json.Marshal(body)
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func decodeAnthropicResponse(body []byte, req Request) (Response, error) {
	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, &CallError{Err: ErrInvalidResponse, Provider: req.Provider, Model: req.Model}
	}
	if len(parsed.Content) == 0 {
		return Response{}, &CallError{Err: ErrInvalidResponse, Provider: req.Provider, Model: req.Model}
	}
	return Response{
		Content:          parsed.Content[0].Text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}
