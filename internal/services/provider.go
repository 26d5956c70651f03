package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SerOes/instaai-sub001/internal/metrics"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ConversationTurn is one prior exchange handed to the provider as context.
// Role is "sender" for inbound participant messages and "assistant" for
// replies this engine produced.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions carries per-call provider parameters. Model selection is
// a capability of the call, not branching logic at call sites.
type GenerateOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// TextProvider is the pluggable text-generation collaborator. The concrete
// LLM vendor is irrelevant to the engine; failures surface as ProviderError.
type TextProvider interface {
	Generate(ctx context.Context, systemInstruction string, turns []ConversationTurn, opts GenerateOptions) (string, error)
	Status(ctx context.Context) map[string]interface{}
}

// OpenAIProvider talks to an OpenAI-compatible chat-completions endpoint.
// A nil breaker disables circuit breaking; every call goes out.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	breaker *CircuitBreaker
	logger  *logrus.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAIProvider(apiKey, baseURL, model string, timeout time.Duration, breaker *CircuitBreaker, logger *logrus.Logger) *OpenAIProvider {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		logger:  logger,
	}
}

// Generate performs a single chat-completion call. The conversation turns
// are passed oldest first; roles are mapped onto the wire roles "user" and
// "assistant".
func (p *OpenAIProvider) Generate(ctx context.Context, systemInstruction string, turns []ConversationTurn, opts GenerateOptions) (string, error) {
	tracer := otel.Tracer("instaai/provider")
	model := opts.Model
	if model == "" {
		model = p.model
	}
	ctx, span := tracer.Start(ctx, "OpenAIProvider.Generate")
	span.SetAttributes(attribute.String("model", model))
	defer span.End()

	if p.apiKey == "" {
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("no API key configured")}
	}
	if p.breaker != nil && !p.breaker.Allow() {
		metrics.IncProviderFailure()
		span.SetStatus(codes.Error, "circuit breaker open")
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("circuit breaker open")}
	}

	messages := make([]chatMessage, 0, len(turns)+1)
	if systemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemInstruction})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: t.Content})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure()
		span.SetStatus(codes.Error, err.Error())
		return "", &ProviderError{Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("read response: %w", err)}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		p.recordFailure()
		span.SetStatus(codes.Error, err.Error())
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if cr.Error != nil {
		p.recordFailure()
		span.SetStatus(codes.Error, cr.Error.Message)
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("API error: %s", cr.Error.Message)}
	}
	if len(cr.Choices) == 0 {
		p.recordFailure()
		span.SetStatus(codes.Error, "no response choices")
		return "", &ProviderError{Provider: "openai", Err: fmt.Errorf("empty response")}
	}

	if p.breaker != nil {
		p.breaker.OnSuccess()
	}
	return cr.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) recordFailure() {
	if p.breaker != nil {
		p.breaker.OnFailure()
	}
	metrics.IncProviderFailure()
}

func (p *OpenAIProvider) Status(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"type":       "openai",
		"model":      p.model,
		"configured": p.apiKey != "",
	}
	if p.breaker != nil {
		status["circuit_breaker"] = p.breaker.Stats()
	} else {
		status["circuit_breaker"] = "disabled"
	}
	return status
}

// ResetBreaker reopens the provider after an operator intervention.
func (p *OpenAIProvider) ResetBreaker() {
	if p.breaker != nil {
		p.breaker.Reset()
	}
}

var _ TextProvider = (*OpenAIProvider)(nil)
