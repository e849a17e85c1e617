// Package fake provides a canned language model for tests and offline runs.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

// Model cycles through a fixed list of responses and records every request.
type Model struct {
	responses []string
	// Err, when set, is returned by Chat.
	Err error

	mu       sync.Mutex
	requests []llm.ChatRequest
}

// NewFakeLLM creates a fake model with predefined responses.
func NewFakeLLM(responses ...string) *Model {
	if len(responses) == 0 {
		responses = []string{
			"Switching to LED bulbs is one of the quickest ways to cut lighting costs.",
			"A smart thermostat can trim heating and cooling use by around ten percent.",
		}
	}
	return &Model{responses: responses}
}

// Chat returns the next canned response.
func (m *Model) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()

	if m.Err != nil {
		return llm.ChatResponse{}, m.Err
	}

	response := m.responses[(n-1)%len(m.responses)]
	return llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: response},
		TokensUsed:   len(strings.Fields(response)) + 10,
		FinishReason: "stop",
	}, nil
}

// Requests returns a copy of every request received so far.
func (m *Model) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Capabilities returns the fake capabilities.
func (m *Model) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Model:              "fake",
		SupportsSystemRole: true,
		MaxContextTokens:   4096,
	}
}
