package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

// DefaultChatModel is used when no model is configured.
const DefaultChatModel = openai.GPT4o

// LLM implements llm.Model with chat completions.
type LLM struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewLLM creates a chat completion backend.
func NewLLM(cfg Config) *LLM {
	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	return &LLM{
		client: newClient(cfg),
		model:  model,
		logger: slog.Default().With(slog.String("component", "openai-llm"), slog.String("model", model)),
	}
}

// Chat performs a chat completion over the full message history.
func (o *LLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content}
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("chat completion: no choices returned")
	}

	choice := resp.Choices[0]
	o.logger.Debug("chat completion",
		slog.Int("messages", len(req.Messages)),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Duration("latency", time.Since(start)))

	return llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Capabilities returns the model's capabilities.
func (o *LLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Model:              o.model,
		SupportsSystemRole: true,
		MaxContextTokens:   128000,
	}
}
