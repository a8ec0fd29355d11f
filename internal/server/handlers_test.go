package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/imagegen"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// ---------------------------------------------------------------------------
// POST /api/documents
// ---------------------------------------------------------------------------

func TestHandleIngest_Created(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{ingestDoc: rag.Document{ID: "doc-1"}}
	s := newTestServer(t, Deps{Retriever: r})

	w := do(t, s, http.MethodPost, "/api/documents", `{"owner":"alice","title":"Runbook","content":"restart the worker"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Indexed || resp.Document.ID != "doc-1" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Document.SourceKind != rag.SourceExternalSync {
		t.Errorf("source kind should default to external-sync, got %q", resp.Document.SourceKind)
	}
}

// TestHandleIngest_StoredButNotIndexed verifies that a persisted document
// whose vector failed is reported with 202 and indexed:false.
func TestHandleIngest_StoredButNotIndexed(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{
		ingestDoc: rag.Document{ID: "doc-2"},
		ingestErr: errs.New(errs.CodeIndexUnavailable, "qdrant down", errs.FieldStage(errs.StageIndex)),
	}
	s := newTestServer(t, Deps{Retriever: r})

	w := do(t, s, http.MethodPost, "/api/documents", `{"owner":"alice","content":"x"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Indexed || resp.Document.ID != "doc-2" || resp.Error == "" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandleIngest_InvalidInput(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/documents", `{"content":"no owner"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != string(errs.CodeRequestInvalid) {
		t.Errorf("code = %q", resp.Code)
	}
}

// ---------------------------------------------------------------------------
// DELETE /api/documents/{id}
// ---------------------------------------------------------------------------

func TestHandleRemove(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{}
	s := newTestServer(t, Deps{Retriever: r})

	if w := do(t, s, http.MethodDelete, "/api/documents/doc-7", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing owner: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodDelete, "/api/documents/doc-7?owner=alice", ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if len(r.removed) != 1 || r.removed[0] != "doc-7" || r.lastOwner != "alice" {
		t.Errorf("unexpected remove calls: %v owner=%q", r.removed, r.lastOwner)
	}
}

func TestHandleRemove_NotFound(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{err: errs.New(errs.CodeStoreDocumentNotFound, "document not found")}
	s := newTestServer(t, Deps{Retriever: r})

	if w := do(t, s, http.MethodDelete, "/api/documents/nope?owner=alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/search and /api/context
// ---------------------------------------------------------------------------

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{search: rag.SearchResult{
		Documents: []rag.ScoredDocument{{Document: rag.Document{ID: "a", Title: "A"}, Score: 0.9}},
		Dangling:  []string{"ghost"},
	}}
	s := newTestServer(t, Deps{Retriever: r})

	w := do(t, s, http.MethodPost, "/api/search", `{"query":"deploy","owner":"alice","top_k":7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res rag.SearchResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0].ID != "a" || len(res.Dangling) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if r.lastOwner != "alice" || r.lastTopK != 7 {
		t.Errorf("owner/topK not forwarded: %q %d", r.lastOwner, r.lastTopK)
	}
}

func TestHandleSearch_EmptyResultIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/search", `{"query":"q","owner":"alice"}`)
	if !strings.Contains(w.Body.String(), `"documents":[]`) {
		t.Errorf("expected empty documents array, got %s", w.Body.String())
	}
}

func TestHandleSearch_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"index", errs.New(errs.CodeIndexUnavailable, "down"), http.StatusServiceUnavailable},
		{"embedding", errs.New(errs.CodeEmbeddingProviderFailure, "timeout"), http.StatusBadGateway},
		{"store", errs.New(errs.CodeStoreDatabaseFailure, "locked"), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, Deps{Retriever: &fakeRetriever{err: tc.err}})
			if w := do(t, s, http.MethodPost, "/api/search", `{"query":"q","owner":"o"}`); w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestHandleContext_DefaultLength(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{context: rag.Context{Text: "Document: A\nContent: a\n\n", Candidates: 1}}
	s := newTestServer(t, Deps{Retriever: r})

	w := do(t, s, http.MethodPost, "/api/context", `{"query":"q","owner":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if r.lastLength != rag.DefaultContextLength {
		t.Errorf("max_length default = %d", r.lastLength)
	}
	var out rag.Context
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Text != "Document: A\nContent: a\n\n" {
		t.Errorf("context text = %q", out.Text)
	}

	do(t, s, http.MethodPost, "/api/context", `{"query":"q","owner":"alice","max_length":120}`)
	if r.lastLength != 120 {
		t.Errorf("explicit max_length not forwarded: %d", r.lastLength)
	}
}

func TestHandleContext_Validation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	for _, body := range []string{`{"owner":"a"}`, `{"query":"q","owner":"a","max_length":-1}`, `[`} {
		if w := do(t, s, http.MethodPost, "/api/context", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// POST /api/images and GET /images/
// ---------------------------------------------------------------------------

func TestHandleImages(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	img := &fakeImager{resp: imagegen.Response{Status: "success", ImageURL: "/images/x.png", CreatedAt: created}}
	s := newTestServer(t, Deps{Retriever: &fakeRetriever{}, Images: img})

	w := do(t, s, http.MethodPost, "/api/images", `{"prompt":"a lighthouse","style":"ink","aspect_ratio":"16:9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp imagegen.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ImageURL != "/images/x.png" || !resp.CreatedAt.Equal(created) {
		t.Errorf("unexpected response %+v", resp)
	}
	if img.last.Prompt != "a lighthouse" || img.last.Style != "ink" || img.last.AspectRatio != "16:9" {
		t.Errorf("request not forwarded: %+v", img.last)
	}
}

func TestHandleImages_Errors(t *testing.T) {
	t.Parallel()

	if w := do(t, newTestServer(t), http.MethodPost, "/api/images", `{"prompt":"p"}`); w.Code != http.StatusNotImplemented {
		t.Errorf("unconfigured: expected 501, got %d", w.Code)
	}

	img := &fakeImager{err: errs.New(errs.CodeRequestInvalid, "invalid aspect ratio")}
	s := newTestServer(t, Deps{Retriever: &fakeRetriever{}, Images: img})
	if w := do(t, s, http.MethodPost, "/api/images", `{"prompt":"p","aspect_ratio":"wide"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid: expected 400, got %d", w.Code)
	}
}

func TestImagesStaticRoute(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "abc.png"), []byte("PNGDATA"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	s, err := New(Deps{Retriever: &fakeRetriever{}}, &Config{
		ImageDir:        dir,
		APIKey:          "secret",
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.stopRL)

	w := do(t, s, http.MethodGet, "/images/abc.png", "")
	if w.Code != http.StatusOK || w.Body.String() != "PNGDATA" {
		t.Errorf("expected public image, got %d %q", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodGet, "/images/missing.png", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
