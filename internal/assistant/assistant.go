// Package assistant is the chat layer over the retrieval engine. Each turn
// replays recent session history, optionally injects a budgeted context window
// assembled from the caller's documents, and streams the chat model's answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragcore-go/internal/budget"
	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
	"github.com/54b3r/ragcore-go/internal/rag"
	"github.com/54b3r/ragcore-go/internal/store"
)

// systemPrompt is injected at the head of every conversation.
const systemPrompt = `You are a helpful assistant that answers questions using the user's own
documents when they are relevant.

When a "Relevant documents" section is present, prefer it over prior
knowledge and cite the document title you relied on. If the documents do
not contain the answer, say so plainly and then answer from general
knowledge, making clear which parts are not grounded in the documents.

Keep answers concise. Use markdown lists or code blocks only when they make
the answer easier to read.`

// ContextBuilder assembles retrieval context for a query. *rag.Engine
// satisfies it.
type ContextBuilder interface {
	AssembleContext(ctx context.Context, query, owner string, maxLength int) (rag.Context, error)
}

// Config holds the dependencies of an Assistant.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Context builds the retrieval context window. May be nil, in which case
	// every turn is answered without documents.
	Context ContextBuilder

	// ContextLength is the character budget passed to AssembleContext.
	// Defaults to rag.DefaultContextLength if zero.
	ContextLength int

	// History is the optional conversation store used to persist and replay
	// prior turns. If nil, each turn is stateless.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// replay. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the full input.
	// History is trimmed oldest-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Assistant answers chat turns.
type Assistant struct {
	chatModel        model.BaseChatModel
	contextBuilder   ContextBuilder
	contextLength    int
	history          store.ConversationStore
	historyDepth     int
	maxContextTokens int
}

// Request is one chat turn.
type Request struct {
	// Session keys the conversation history.
	Session string `json:"session"`
	// Owner scopes retrieval to one principal's documents.
	Owner string `json:"owner"`
	// Message is the user's message.
	Message string `json:"message"`
	// UseRAG enables retrieval context for this turn.
	UseRAG bool `json:"use_rag"`
}

// Reply is the outcome of a chat turn.
type Reply struct {
	// Text is the full assistant response.
	Text string `json:"text"`
	// Sources lists the ids of documents injected as context, in rank order.
	Sources []string `json:"sources,omitempty"`
	// ContextError is set when retrieval failed and the turn was answered
	// without documents.
	ContextError string `json:"context_error,omitempty"`
}

// New constructs an Assistant from cfg.
func New(cfg *Config) (*Assistant, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("assistant: ChatModel must not be nil")
	}

	length := cfg.ContextLength
	if length <= 0 {
		length = rag.DefaultContextLength
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Assistant{
		chatModel:        cfg.ChatModel,
		contextBuilder:   cfg.Context,
		contextLength:    length,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Chat answers req, streaming response chunks to w as they arrive. w may be
// nil. Both turns are persisted to the history store when one is configured;
// persistence failures are logged and do not fail the turn.
func (a *Assistant) Chat(ctx context.Context, req Request, w io.Writer) (*Reply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errs.New(errs.CodeRequestInvalid, "assistant: message is required")
	}
	if req.UseRAG && req.Owner == "" {
		return nil, errs.New(errs.CodeRequestInvalid, "assistant: owner is required when use_rag is set")
	}
	if w == nil {
		w = io.Discard
	}
	log := logging.FromContext(ctx)

	reply := &Reply{}
	messages := a.buildMessages(ctx, req, reply)

	sr, err := a.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeGenerationFailure, "assistant: stream failed")
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeGenerationFailure, "assistant: stream receive")
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("assistant: write error: %w", err)
		}
	}
	reply.Text = buf.String()

	if a.history != nil && req.Session != "" {
		if err := a.history.Append(ctx, req.Session, store.RoleUser, req.Message); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
		if err := a.history.Append(ctx, req.Session, store.RoleAssistant, reply.Text); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}
	return reply, nil
}

// buildMessages returns [system, ...history, context?, user]. History is
// trimmed oldest-first so the estimate fits maxContextTokens.
func (a *Assistant) buildMessages(ctx context.Context, req Request, reply *Reply) []*schema.Message {
	log := logging.FromContext(ctx)

	var historyMsgs []*schema.Message
	if a.history != nil && req.Session != "" {
		prior, err := a.history.Recent(ctx, req.Session, a.historyDepth*2)
		if err != nil {
			log.Warn("history: failed to load prior messages", slog.Any("error", err))
		}
		for _, m := range prior {
			switch m.Role {
			case store.RoleUser:
				historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
			case store.RoleAssistant:
				historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
			}
		}
	}

	fixed := []*schema.Message{schema.SystemMessage(systemPrompt)}
	user := schema.UserMessage(req.Message)

	// Retrieved context never crowds out the system prompt or the question.
	length := budget.ContextChars(a.maxContextTokens, a.contextLength, fixed[0], user)
	if req.UseRAG && a.contextBuilder != nil && length > 0 {
		rc, err := a.contextBuilder.AssembleContext(ctx, req.Message, req.Owner, length)
		switch {
		case err != nil:
			log.Warn("rag: context assembly failed, continuing without documents",
				slog.String("owner", req.Owner),
				slog.String("stage", string(errs.StageOf(err))),
				slog.Any("error", err),
			)
			reply.ContextError = err.Error()
		case rc.Text != "":
			fixed = append(fixed, schema.SystemMessage(contextMessage(rc.Text)))
			for _, d := range rc.Included {
				reply.Sources = append(reply.Sources, d.ID)
			}
		}
	}

	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(append(fixed, user), historyMsgs, a.maxContextTokens) //nolint:gocritic // fixed is rebuilt below
	if dropped := before - len(historyMsgs); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(fixed)+len(historyMsgs)+1)
	out = append(out, fixed[0])
	out = append(out, historyMsgs...)
	out = append(out, fixed[1:]...)
	out = append(out, user)
	return out
}

// contextMessage frames assembled document blocks for the model.
func contextMessage(text string) string {
	return "## Relevant documents\n\n" +
		"The following excerpts come from the user's documents and are ranked by relevance.\n\n" +
		text
}
