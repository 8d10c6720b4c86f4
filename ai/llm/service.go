// Package llm provides the chat-model service used for disentanglement
// and datetime extraction, speaking the OpenAI-compatible protocol.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Service is the chat-model service interface.
type Service interface {
	// Chat performs a synchronous chat completion and returns the content.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStructured performs a chat completion constrained to a JSON
	// schema and returns the raw JSON document. Structured calls run at
	// temperature 0 so classification decisions are reproducible.
	ChatStructured(ctx context.Context, messages []Message, schemaName string, schema *JSONSchema) (string, error)
}

// Config represents LLM service configuration.
type Config struct {
	Provider  string // ollama, openai, deepseek, siliconflow, or any OpenAI-compatible endpoint
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int // default: 1024
	Timeout   int // request timeout in seconds (default: 30)
}

type service struct {
	client    *openai.Client
	model     string
	provider  string
	maxTokens int
	timeout   time.Duration
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	return &service{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		provider:  cfg.Provider,
		maxTokens: maxTokens,
		timeout:   time.Duration(timeout) * time.Second,
	}, nil
}

// newHTTPClient builds an HTTP client with connection pooling suitable for
// concurrent calls from multiple pipeline stages.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages:  convertMessages(messages),
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("llm_chat_failed", "model", s.model, "error", err,
			"latency_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("LLM chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *service) ChatStructured(ctx context.Context, messages []Message, schemaName string, schema *JSONSchema) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		// go-openai drops a plain 0 through its omitempty tag; the
		// smallest non-zero float is its convention for a true zero.
		Temperature: math.SmallestNonzeroFloat32,
		Messages:    convertMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Strict: true,
				Schema: schema,
			},
		},
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		slog.Error("llm_structured_failed", "model", s.model, "schema", schemaName,
			"error", err, "latency_ms", latency.Milliseconds())
		return "", fmt.Errorf("LLM structured chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from LLM")
	}

	slog.Debug("llm_structured_success", "model", s.model, "schema", schemaName,
		"latency_ms", latency.Milliseconds())
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: openai.ChatMessageRoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleUser, Content: content}
}
