package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// maxBatchParams keeps IN (...) lists well under SQLite's variable limit.
const maxBatchParams = 500

var _ rag.DocumentStore = (*SQLiteStore)(nil)

// CreateDocument inserts doc with a fresh UUID. The id is a UUID so it can be
// used directly as a Qdrant point id.
func (s *SQLiteStore) CreateDocument(ctx context.Context, nd rag.NewDocument) (rag.Document, error) {
	now := s.now().UTC()
	doc := rag.Document{
		ID:         uuid.NewString(),
		Owner:      nd.Owner,
		SourceKind: nd.SourceKind,
		SourceRef:  nd.SourceRef,
		Title:      nd.Title,
		Content:    nd.Content,
		CreatedAt:  now.Truncate(time.Millisecond),
		UpdatedAt:  now.Truncate(time.Millisecond),
	}

	const q = `INSERT INTO documents (id, owner, source_kind, source_ref, title, content, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.Owner, string(doc.SourceKind), doc.SourceRef, doc.Title, doc.Content,
		doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli())
	if err != nil {
		return rag.Document{}, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: create document")
	}
	return doc, nil
}

// GetDocuments fetches documents by id. Large id sets are split into several
// IN queries inside one read.
func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []string) (map[string]rag.Document, error) {
	out := make(map[string]rag.Document, len(ids))
	for start := 0; start < len(ids); start += maxBatchParams {
		end := min(start+maxBatchParams, len(ids))
		if err := s.getChunk(ctx, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) getChunk(ctx context.Context, ids []string, out map[string]rag.Document) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT id, owner, source_kind, source_ref, title, content, created_at, updated_at
FROM documents WHERE id IN (` + placeholders(len(ids)) + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: get documents")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d       rag.Document
			kind    string
			created int64
			updated int64
		)
		if err := rows.Scan(&d.ID, &d.Owner, &kind, &d.SourceRef, &d.Title, &d.Content, &created, &updated); err != nil {
			return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: get documents scan")
		}
		d.SourceKind = rag.SourceKind(kind)
		d.CreatedAt = time.UnixMilli(created).UTC()
		d.UpdatedAt = time.UnixMilli(updated).UTC()
		out[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: get documents rows")
	}
	return nil
}

// DeleteDocument removes a document by id.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: delete document", errs.FieldDocumentID(id))
	}
	return nil
}

// ListDocumentIDs returns ids of documents created strictly before cutoff,
// oldest first.
func (s *SQLiteStore) ListDocumentIDs(ctx context.Context, createdBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE created_at < ? ORDER BY created_at ASC, id ASC`,
		createdBefore.UnixMilli())
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: list documents")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: list documents scan")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "store: list documents rows")
	}
	return ids, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
