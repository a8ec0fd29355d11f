package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// funcPinger adapts a Ping method value into a named Pinger.
type funcPinger struct {
	name string
	ping func(ctx context.Context) error
}

// NewPinger returns a Pinger named name that calls ping. Dependencies such as
// rag.QdrantIndex, cache.Service and store.SQLiteStore expose a Ping method
// and are registered through this adapter.
func NewPinger(name string, ping func(ctx context.Context) error) Pinger {
	return &funcPinger{name: name, ping: ping}
}

// Name returns the dependency label used in readiness responses.
func (p *funcPinger) Name() string { return p.name }

// Ping runs the wrapped probe.
func (p *funcPinger) Ping(ctx context.Context) error { return p.ping(ctx) }

// LLMPinger probes a chat model by sending a minimal generate request.
// It consumes tokens on every probe, so `ragcore serve` registers it only
// when --probe-llm is set.
type LLMPinger struct {
	// model is the chat model to probe.
	model model.BaseChatModel
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
func NewLLMPinger(m model.BaseChatModel, name string) *LLMPinger {
	return &LLMPinger{model: m, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping sends a single "ping" message and expects a non-nil response.
func (p *LLMPinger) Ping(ctx context.Context) error {
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}
