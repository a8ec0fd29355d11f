package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// HuggingFaceEmbedder implements rag.Embedder using the Hugging Face
// Inference API feature-extraction task. Token-level output is mean-pooled.
// It is safe for concurrent use.
type HuggingFaceEmbedder struct {
	// endpoint is the inference API base URL.
	endpoint string
	// token is the Hugging Face access token sent as a Bearer credential.
	token string
	// model is the repository id (e.g. "intfloat/multilingual-e5-large").
	model string
	// dimensions is the expected vector length.
	dimensions int
	// prefix enables "passage: "/"query: " input prefixes.
	prefix bool
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// HuggingFaceConfig holds the settings for constructing a HuggingFaceEmbedder.
type HuggingFaceConfig struct {
	// Endpoint is the API base URL (default: https://api-inference.huggingface.co).
	Endpoint string
	// Token is the Hugging Face access token.
	Token string
	// Model is the model repository id.
	Model string
	// Dimensions is the vector length the model produces.
	Dimensions int
	// Prefix enables E5-style mode prefixes.
	Prefix bool
}

// NewHuggingFaceEmbedder constructs a HuggingFaceEmbedder from the given config.
func NewHuggingFaceEmbedder(cfg *HuggingFaceConfig) *HuggingFaceEmbedder {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultHuggingFaceEndpoint
	}
	return &HuggingFaceEmbedder{
		endpoint:   endpoint,
		token:      cfg.Token,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		prefix:     cfg.Prefix,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimension returns the configured vector length.
func (e *HuggingFaceEmbedder) Dimension() int { return e.dimensions }

type hfRequest struct {
	Inputs  []string  `json:"inputs"`
	Options hfOptions `json:"options"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfError struct {
	Error string `json:"error"`
}

// Embed encodes text in the given mode and returns one pooled vector.
func (e *HuggingFaceEmbedder) Embed(ctx context.Context, text string, mode rag.Mode) ([]float32, error) {
	payload, err := json.Marshal(hfRequest{
		Inputs:  []string{applyPrefix(text, mode, e.prefix)},
		Options: hfOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: marshal request: %w", err)
	}

	url := e.endpoint + "/models/" + e.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbeddingProviderFailure, "huggingface embedder: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbeddingProviderFailure, "huggingface embedder: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var apiErr hfError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, errs.Errorf(errs.CodeEmbeddingProviderFailure, "huggingface embedder: %s", msg)
	}

	vec, err := decodeFeatures(body)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEmbeddingResponseInvalid, "huggingface embedder: decode response")
	}
	if err := checkDimension("huggingface", vec, e.dimensions); err != nil {
		return nil, err
	}
	return vec, nil
}

// decodeFeatures accepts the shapes feature-extraction returns for a single
// input: pooled [D], batched [[D]], token-level [T][D] or batched token-level
// [[T][D]]. Token axes are mean-pooled.
func decodeFeatures(body []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}

	// [[D]] with one input and [T][D] share a shape; pooling a single row
	// is the identity, so both take this branch.
	var matrix [][]float32
	if err := json.Unmarshal(body, &matrix); err == nil {
		return MeanPool(matrix)
	}

	var batched [][][]float32
	if err := json.Unmarshal(body, &batched); err != nil {
		return nil, fmt.Errorf("unrecognised feature shape: %w", err)
	}
	if len(batched) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	return MeanPool(batched[0])
}
