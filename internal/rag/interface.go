// Package rag defines the retrieval core: the capability interfaces for
// embedding, vector indexing and document storage, and the Engine that
// composes them into ingestion, semantic search and bounded context assembly.
// Concrete implementations (Qdrant, SQLite, HTTP embedders) satisfy these
// interfaces so the engine never depends on a specific backend.
package rag

import (
	"context"
	"time"
)

// Mode selects the asymmetric embedding encoding.
type Mode string

const (
	// ModePassage is used when indexing documents.
	ModePassage Mode = "passage"
	// ModeQuery is used when embedding search text.
	ModeQuery Mode = "query"
)

// SourceKind enumerates where a Document came from.
type SourceKind string

const (
	SourceFile         SourceKind = "file"
	SourceExternalSync SourceKind = "external-sync"
	SourceURL          SourceKind = "url"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFile, SourceExternalSync, SourceURL:
		return true
	}
	return false
}

// Metric is the similarity metric of a vector index.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricEuclid Metric = "euclid"
)

// Document is one unit of ingested, searchable content. Its ID is assigned
// by the DocumentStore and doubles as the id of its vector.
type Document struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	SourceKind SourceKind `json:"source_kind"`
	SourceRef  string     `json:"source_ref"`
	Title      string     `json:"title,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewDocument carries the caller-supplied fields of a Document before the
// store assigns its id and timestamps.
type NewDocument struct {
	Owner      string
	SourceKind SourceKind
	SourceRef  string
	Title      string
	Content    string
}

// ScoredDocument pairs a Document with the similarity score the index
// returned for it.
type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}

// Match is one (id, score) pair returned by a vector query.
type Match struct {
	ID    string
	Score float32
}

// Embedder converts text into a fixed-length vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns a vector of length Dimension for text. Token-level
	// provider output is mean-pooled before it is returned.
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)

	// Dimension is the fixed vector length declared at startup.
	Dimension() int
}

// VectorIndex is the nearest-neighbour index. An adapter is bound to one
// named index at construction.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Name is the index (collection) this adapter is bound to.
	Name() string

	// EnsureIndex creates the index if it is absent and is a no-op otherwise.
	EnsureIndex(ctx context.Context, dimension int, metric Metric) error

	// Upsert stores vector under id, replacing any existing vector with that id.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error

	// Query returns up to topK matches in descending similarity order,
	// restricted to points whose metadata equals every filter pair.
	Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error)

	// Delete removes vectors by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// ListIDs returns every vector id in the index.
	ListIDs(ctx context.Context) ([]string, error)
}

// DocumentStore is the durable record of ingested text.
// Implementations must be safe to call from multiple goroutines.
type DocumentStore interface {
	// CreateDocument persists doc, assigning its id and timestamps.
	CreateDocument(ctx context.Context, doc NewDocument) (Document, error)

	// GetDocuments fetches many documents in a single lookup. Missing ids
	// are absent from the returned map rather than errors.
	GetDocuments(ctx context.Context, ids []string) (map[string]Document, error)

	// DeleteDocument removes a document. Deleting a missing id is not an error.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocumentIDs returns the ids of documents created before cutoff.
	ListDocumentIDs(ctx context.Context, createdBefore time.Time) ([]string, error)
}
