// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Each implementation talks to a
// different backend (Hugging Face Inference, OpenAI, Azure OpenAI, Ollama) via
// plain HTTP and returns exactly one vector of the configured dimension.
package embedder

import (
	"fmt"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// Prefix modes accepted by EMBEDDING_PREFIX_MODE.
const (
	// PrefixModeE5 prepends "passage: " or "query: " to the input text, as
	// asymmetric E5-family models expect.
	PrefixModeE5 = "e5"
	// PrefixModeNone sends the text unchanged.
	PrefixModeNone = "none"
)

// applyPrefix returns text with the mode prefix when enabled.
func applyPrefix(text string, mode rag.Mode, enabled bool) string {
	if !enabled {
		return text
	}
	return string(mode) + ": " + text
}

// MeanPool averages token vectors across the token axis.
func MeanPool(tokens [][]float32) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("mean pool: no token vectors")
	}
	width := len(tokens[0])
	if width == 0 {
		return nil, fmt.Errorf("mean pool: empty token vector")
	}
	sum := make([]float64, width)
	for i, tok := range tokens {
		if len(tok) != width {
			return nil, fmt.Errorf("mean pool: token %d has width %d, want %d", i, len(tok), width)
		}
		for j, v := range tok {
			sum[j] += float64(v)
		}
	}
	out := make([]float32, width)
	n := float64(len(tokens))
	for j, s := range sum {
		out[j] = float32(s / n)
	}
	return out, nil
}

// checkDimension rejects vectors whose length differs from the declared one.
func checkDimension(provider string, vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return errs.Errorf(errs.CodeEmbeddingResponseInvalid,
			"%s embedder: vector has %d dimensions, configured %d", provider, len(vec), want)
	}
	if len(vec) == 0 {
		return errs.Errorf(errs.CodeEmbeddingResponseInvalid, "%s embedder: empty vector", provider)
	}
	return nil
}
