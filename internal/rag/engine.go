package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
)

const (
	// DefaultTenantKey is the metadata field that scopes vector queries.
	DefaultTenantKey = "owner"

	// DefaultTopK is used by Search when the caller passes topK <= 0.
	DefaultTopK = 5

	// ContextTopK is the fixed number of candidates considered by
	// AssembleContext regardless of the top-k used elsewhere.
	ContextTopK = 3

	// DefaultContextLength is the character budget used when callers have
	// no better figure.
	DefaultContextLength = 4000
)

// EngineConfig tunes an Engine.
type EngineConfig struct {
	// TenantKey is the metadata field used to filter every vector query.
	// Defaults to DefaultTenantKey.
	TenantKey string

	// Metric is the similarity metric used when the index is created.
	// Defaults to MetricCosine.
	Metric Metric

	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Engine orchestrates an Embedder, a VectorIndex and a DocumentStore.
// It holds no locks; concurrent calls are independent.
type Engine struct {
	embedder  Embedder
	index     VectorIndex
	store     DocumentStore
	tenantKey string
	metric    Metric
	now       func() time.Time
}

// NewEngine constructs an Engine from its three collaborators.
func NewEngine(embedder Embedder, index VectorIndex, store DocumentStore, cfg *EngineConfig) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	e := &Engine{
		embedder:  embedder,
		index:     index,
		store:     store,
		tenantKey: cfg.TenantKey,
		metric:    cfg.Metric,
		now:       cfg.Now,
	}
	if e.tenantKey == "" {
		e.tenantKey = DefaultTenantKey
	}
	if e.metric == "" {
		e.metric = MetricCosine
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Init ensures the vector index exists with the embedder's dimension.
// It is idempotent and safe to call from several processes at startup.
func (e *Engine) Init(ctx context.Context) error {
	return e.index.EnsureIndex(ctx, e.embedder.Dimension(), e.metric)
}

// TenantKey returns the metadata field used for owner scoping.
func (e *Engine) TenantKey() string { return e.tenantKey }

// IngestRequest carries the fields of a document to ingest.
type IngestRequest struct {
	Content    string     `json:"content"`
	Owner      string     `json:"owner"`
	SourceKind SourceKind `json:"source_kind"`
	SourceRef  string     `json:"source_ref"`
	Title      string     `json:"title,omitempty"`
}

// Ingest persists a Document, embeds it as a passage and indexes the vector
// under the Document's id.
//
// The two writes are not atomic. The Document is committed first, so a
// vector never exists without its Document. If embedding or indexing fails
// afterwards, Ingest returns the persisted Document together with an error
// whose stage is embed or index; the Document stays unindexed until
// Reconcile repairs it.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (Document, error) {
	if req.Owner == "" {
		return Document{}, errs.New(errs.CodeRequestInvalid, "rag: owner is required")
	}
	if !req.SourceKind.Valid() {
		return Document{}, errs.Errorf(errs.CodeRequestInvalid, "rag: unknown source kind %q", req.SourceKind)
	}
	if strings.TrimSpace(req.Content) == "" {
		return Document{}, errs.New(errs.CodeRequestInvalid, "rag: content is empty")
	}

	doc, err := e.store.CreateDocument(ctx, NewDocument{
		Owner:      req.Owner,
		SourceKind: req.SourceKind,
		SourceRef:  req.SourceRef,
		Title:      req.Title,
		Content:    req.Content,
	})
	if err != nil {
		return Document{}, errs.With(err, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StagePersist))
	}

	if err := e.indexDocument(ctx, doc); err != nil {
		logging.FromContext(ctx).Warn("rag: document persisted without vector",
			slog.String("document_id", doc.ID),
			slog.String("stage", string(errs.StageOf(err))),
			slog.Any("error", err),
		)
		return doc, err
	}
	return doc, nil
}

// indexDocument embeds doc and upserts its vector.
func (e *Engine) indexDocument(ctx context.Context, doc Document) error {
	vec, err := e.embedder.Embed(ctx, doc.Content, ModePassage)
	if err != nil {
		return errs.With(err, errs.CodeEmbeddingProviderFailure,
			errs.FieldStage(errs.StageEmbed), errs.FieldDocumentID(doc.ID))
	}
	metadata := map[string]any{
		e.tenantKey:   doc.Owner,
		"source_kind": string(doc.SourceKind),
		"title":       doc.Title,
	}
	if err := e.index.Upsert(ctx, doc.ID, vec, metadata); err != nil {
		return errs.With(err, errs.CodeIndexUnavailable,
			errs.FieldStage(errs.StageIndex), errs.FieldDocumentID(doc.ID))
	}
	return nil
}

// SearchResult is the ranked output of Search.
type SearchResult struct {
	// Documents are ordered by descending similarity.
	Documents []ScoredDocument `json:"documents"`
	// Dangling lists index hits that were dropped because no matching
	// Document was found for the owner. Non-empty means the result may be
	// shorter than requested.
	Dangling []string `json:"dangling,omitempty"`
}

// Search embeds queryText, queries the index scoped to owner and fetches the
// matching Documents in one batch, preserving index order.
func (e *Engine) Search(ctx context.Context, queryText, owner string, topK int) (SearchResult, error) {
	if owner == "" {
		return SearchResult{}, errs.New(errs.CodeRequestInvalid, "rag: owner is required for search")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := e.embedder.Embed(ctx, queryText, ModeQuery)
	if err != nil {
		return SearchResult{}, errs.With(err, errs.CodeEmbeddingProviderFailure, errs.FieldStage(errs.StageEmbed))
	}

	matches, err := e.index.Query(ctx, vec, topK, map[string]any{e.tenantKey: owner})
	if err != nil {
		return SearchResult{}, errs.With(err, errs.CodeIndexUnavailable, errs.FieldStage(errs.StageQuery))
	}
	if len(matches) == 0 {
		return SearchResult{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	docs, err := e.store.GetDocuments(ctx, ids)
	if err != nil {
		return SearchResult{}, errs.With(err, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StageFetch))
	}

	res := SearchResult{Documents: make([]ScoredDocument, 0, len(matches))}
	for _, m := range matches {
		doc, ok := docs[m.ID]
		// A Document owned by someone else means the index metadata is
		// stale; it is dropped like a missing one.
		if !ok || doc.Owner != owner {
			res.Dangling = append(res.Dangling, m.ID)
			continue
		}
		res.Documents = append(res.Documents, ScoredDocument{Document: doc, Score: m.Score})
	}
	if len(res.Dangling) > 0 {
		logging.FromContext(ctx).Debug("rag: skipped dangling vectors",
			slog.Int("count", len(res.Dangling)),
			slog.Any("ids", res.Dangling),
		)
	}
	return res, nil
}

// Context is the output of AssembleContext.
type Context struct {
	// Text is the concatenation of whole formatted blocks, never longer
	// than the requested budget in characters.
	Text string `json:"context"`
	// Included are the documents whose blocks made it into Text, in rank order.
	Included []ScoredDocument `json:"included"`
	// Candidates is the number of documents Search returned.
	Candidates int `json:"candidates"`
	// Truncated is true when at least one candidate was left out for budget.
	Truncated bool `json:"truncated"`
	// Dangling is forwarded from Search.
	Dangling []string `json:"dangling,omitempty"`
}

// FormatBlock renders one document the way it appears in a context window.
func FormatBlock(doc Document) string {
	return "Document: " + doc.Title + "\nContent: " + doc.Content + "\n\n"
}

// AssembleContext searches the top ContextTopK documents for owner and
// appends their blocks in rank order, stopping before the first block that
// would push the text past maxLength characters. Blocks are never cut.
func (e *Engine) AssembleContext(ctx context.Context, queryText, owner string, maxLength int) (Context, error) {
	res, err := e.Search(ctx, queryText, owner, ContextTopK)
	if err != nil {
		return Context{}, err
	}

	out := Context{Candidates: len(res.Documents), Dangling: res.Dangling}
	var (
		sb   strings.Builder
		used int
	)
	for _, d := range res.Documents {
		block := FormatBlock(d.Document)
		n := utf8.RuneCountInString(block)
		if used+n > maxLength {
			out.Truncated = true
			break
		}
		sb.WriteString(block)
		used += n
		out.Included = append(out.Included, d)
	}
	out.Text = sb.String()
	return out, nil
}

// Remove deletes a Document and then its vector. A failure between the two
// leaves a dangling vector, which Search skips and Reconcile removes.
func (e *Engine) Remove(ctx context.Context, owner, id string) error {
	docs, err := e.store.GetDocuments(ctx, []string{id})
	if err != nil {
		return errs.With(err, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StageFetch))
	}
	doc, ok := docs[id]
	if !ok || doc.Owner != owner {
		return errs.New(errs.CodeStoreDocumentNotFound, "rag: document not found", errs.FieldDocumentID(id))
	}
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return errs.With(err, errs.CodeStoreDatabaseFailure,
			errs.FieldStage(errs.StageDelete), errs.FieldDocumentID(id))
	}
	if err := e.index.Delete(ctx, []string{id}); err != nil {
		return errs.With(err, errs.CodeIndexUnavailable,
			errs.FieldStage(errs.StageIndex), errs.FieldDocumentID(id))
	}
	return nil
}
