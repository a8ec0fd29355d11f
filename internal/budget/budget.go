// Package budget estimates prompt size for the assistant and decides how much
// history and retrieved context fit into the model's input window.
//
// Backends tokenize differently, so sizes use a character heuristic of about
// 4 characters per token. The estimate errs high so model overhead still fits.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// messageOverhead approximates the per-message framing most chat APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input budget. It fits 8k-context
	// models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Any non-empty string counts as
// at least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated token count of msgs, including
// per-message overhead and the role name.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// ContextChars returns how many characters of retrieved context fit once the
// reserved messages are accounted for, capped at limit. The framing of the
// context message itself is charged as one message overhead. The result is
// never negative.
func ContextChars(maxTokens, limit int, reserved ...*schema.Message) int {
	free := maxTokens - EstimateMessages(reserved) - messageOverhead - Estimate(string(schema.System))
	if free <= 0 {
		return 0
	}
	chars := free * charsPerToken
	if limit > 0 && chars > limit {
		return limit
	}
	return chars
}

// TrimHistory drops the oldest history messages until fixed plus history
// fits within maxTokens. fixed is never trimmed. A retained history never
// starts with an assistant reply whose question was dropped.
//
// If fixed alone exceeds the budget the result is empty; callers decide
// whether that deserves a warning.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	remaining := maxTokens - EstimateMessages(fixed)
	cost := EstimateMessages(history)
	for len(history) > 0 && cost > remaining {
		cost -= EstimateMessages(history[:1])
		history = history[1:]
	}
	for len(history) > 0 && history[0].Role == schema.Assistant {
		history = history[1:]
	}
	return history
}
