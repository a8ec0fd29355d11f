package embedder

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/ragcore-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultHuggingFaceModel = "intfloat/multilingual-e5-large"
	defaultOllamaModel      = "nomic-embed-text"
	defaultOpenAIModel      = "text-embedding-3-small"

	defaultHuggingFaceEndpoint = "https://api-inference.huggingface.co"

	// defaultHuggingFaceDimensions is the output dimension of multilingual-e5-large.
	defaultHuggingFaceDimensions = 1024
	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ: override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Backend returns the effective embedding backend name.
// EMBEDDING_PROVIDER wins; otherwise huggingface.
func Backend() string {
	return strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "huggingface"))
}

// DefaultDimensions returns the default embedding vector size for the given
// backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "huggingface":
		return defaultHuggingFaceDimensions
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// prefixEnabled resolves EMBEDDING_PREFIX_MODE. Hugging Face defaults to E5
// prefixes because its default model is an E5 model; other backends default
// to none.
func prefixEnabled(backend string) (bool, error) {
	switch mode := strings.ToLower(os.Getenv("EMBEDDING_PREFIX_MODE")); mode {
	case "":
		return backend == "huggingface", nil
	case PrefixModeE5:
		return true, nil
	case PrefixModeNone:
		return false, nil
	default:
		return false, fmt.Errorf("embedder: unknown EMBEDDING_PREFIX_MODE %q: valid values: e5, none", mode)
	}
}

// NewFromEnv constructs a rag.Embedder from environment variables.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: huggingface (default), ollama, openai or azure
//  2. Per-backend credentials fall back to the backend's conventional env vars
//     (HF_TOKEN, OLLAMA_HOST, OPENAI_API_KEY, AZURE_OPENAI_*)
//  3. EMBEDDING_MODEL: overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY: overrides the inherited API key
//  5. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS: overrides the default dimensions
//  7. EMBEDDING_PREFIX_MODE: e5 or none
func NewFromEnv() (rag.Embedder, error) {
	backend := Backend()
	dims := DefaultDimensions(backend)
	prefix, err := prefixEnabled(backend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case "huggingface":
		token := getEnv("EMBEDDING_API_KEY")
		if token == "" {
			token = getEnv("HF_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("embedder: huggingface requires HF_TOKEN or EMBEDDING_API_KEY")
		}
		return NewHuggingFaceEmbedder(&HuggingFaceConfig{
			Endpoint:   getEnvOrDefault("EMBEDDING_ENDPOINT", defaultHuggingFaceEndpoint),
			Token:      token,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultHuggingFaceModel),
			Dimensions: dims,
			Prefix:     prefix,
		}), nil

	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: dims,
			Prefix:     prefix,
		}), nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Prefix:     prefix,
		}), nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Prefix:     prefix,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q: valid values: huggingface, ollama, openai, azure", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
