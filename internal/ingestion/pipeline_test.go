package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// recordingIngester captures every request and assigns sequential ids.
type recordingIngester struct {
	reqs   []rag.IngestRequest
	failAt int // 1-based call that returns an error; 0 never fails
}

func (r *recordingIngester) Ingest(_ context.Context, req rag.IngestRequest) (rag.Document, error) {
	r.reqs = append(r.reqs, req)
	doc := rag.Document{
		ID:         fmt.Sprintf("doc-%d", len(r.reqs)),
		Owner:      req.Owner,
		SourceKind: req.SourceKind,
		SourceRef:  req.SourceRef,
		Title:      req.Title,
		Content:    req.Content,
	}
	if r.failAt == len(r.reqs) {
		return doc, errs.New(errs.CodeIndexUnavailable, "index down")
	}
	return doc, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewPipeline_Defaults(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(nil, nil); err == nil {
		t.Fatal("expected error for nil ingester")
	}

	p, err := NewPipeline(&recordingIngester{}, &Config{ChunkSize: 100, ChunkOverlap: 200})
	if err != nil {
		t.Fatal(err)
	}
	if p.cfg.ChunkOverlap != 10 {
		t.Errorf("overlap >= size should be clamped to size/10, got %d", p.cfg.ChunkOverlap)
	}
	if p.cfg.MaxBytes != DefaultMaxBytes {
		t.Errorf("MaxBytes default = %d", p.cfg.MaxBytes)
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{"disabled", 0, 0, "  whole text  ", []string{"whole text"}},
		{"fits", 10, 2, "short", []string{"short"}},
		{"empty", 10, 2, "   ", nil},
		{"overlapping", 4, 1, "abcdefghij", []string{"abcd", "defg", "ghij"}},
		{"runes", 2, 0, "héllo", []string{"hé", "ll", "o"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewPipeline(&recordingIngester{}, &Config{ChunkSize: tc.size, ChunkOverlap: tc.overlap})
			if err != nil {
				t.Fatal(err)
			}
			got := p.chunk(tc.text)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
				t.Errorf("chunk(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestIngest_FileWithChunks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "on-call.txt", strings.Repeat("a", 25))

	ing := &recordingIngester{}
	p, err := NewPipeline(ing, &Config{ChunkSize: 10})
	if err != nil {
		t.Fatal(err)
	}

	rep, err := p.Ingest(context.Background(), "alice", []Source{{Path: path}}, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Sources != 1 || len(rep.Documents) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	for i, r := range ing.reqs {
		if r.Owner != "alice" || r.SourceKind != rag.SourceFile || r.SourceRef != path {
			t.Errorf("req %d = %+v", i, r)
		}
		want := fmt.Sprintf("on call (part %d/3)", i+1)
		if r.Title != want {
			t.Errorf("req %d title = %q, want %q", i, r.Title, want)
		}
	}
}

func TestIngest_DirectoryWalk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "# Beta Notes\nbody")
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "image.png", "\x89PNG")
	writeFile(t, dir, ".git/config.txt", "hidden")
	writeFile(t, dir, "sub/c.html", "<html><body>gamma</body></html>")

	ing := &recordingIngester{}
	p, err := NewPipeline(ing, nil)
	if err != nil {
		t.Fatal(err)
	}

	var progress []string
	rep, err := p.Ingest(context.Background(), "bob", []Source{{Path: dir}}, func(m string) { progress = append(progress, m) })
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Sources != 3 {
		t.Fatalf("sources = %d, want 3", rep.Sources)
	}

	gotTitles := make([]string, len(ing.reqs))
	for i, r := range ing.reqs {
		gotTitles[i] = r.Title
	}
	want := []string{"a", "Beta Notes", "c"}
	if strings.Join(gotTitles, ",") != strings.Join(want, ",") {
		t.Errorf("titles = %q, want %q", gotTitles, want)
	}
	if ing.reqs[2].Content != "gamma" {
		t.Errorf("html content = %q", ing.reqs[2].Content)
	}
	if len(progress) == 0 {
		t.Error("expected progress callbacks")
	}
}

func TestIngest_URL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		switch r.URL.Path {
		case "/guides/escalation":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><head><title>Escalation Policy</title></head><body><p>Call twice.</p></body></html>")
		case "/raw/notes.txt":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "plain notes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ing := &recordingIngester{}
	p, err := NewPipeline(ing, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Ingest(context.Background(), "carol", []Source{
		{URL: srv.URL + "/guides/escalation"},
		{URL: srv.URL + "/raw/notes.txt", Title: "Custom"},
		{URL: srv.URL + "/raw/ops-log.txt"},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "unexpected status 404") {
		t.Fatalf("expected 404 error for third source, got %v", err)
	}

	if len(ing.reqs) != 2 {
		t.Fatalf("want 2 ingested, got %d", len(ing.reqs))
	}
	if r := ing.reqs[0]; r.Title != "Escalation Policy" || r.Content != "Call twice." || r.SourceKind != rag.SourceURL {
		t.Errorf("first = %+v", r)
	}
	if r := ing.reqs[1]; r.Title != "Custom" || r.Content != "plain notes" {
		t.Errorf("second = %+v", r)
	}
}

func TestIngest_StopsOnIngestErrorButReportsDocument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.txt", strings.Repeat("x", 30))

	ing := &recordingIngester{failAt: 2}
	p, err := NewPipeline(ing, &Config{ChunkSize: 10})
	if err != nil {
		t.Fatal(err)
	}

	rep, err := p.Ingest(context.Background(), "dave", []Source{{Path: path}}, nil)
	if !errs.IsIndexUnavailable(err) {
		t.Fatalf("expected index error, got %v", err)
	}
	if len(rep.Documents) != 2 {
		t.Errorf("want the failed document in the report, got %d docs", len(rep.Documents))
	}
	if len(ing.reqs) != 2 {
		t.Errorf("pipeline should stop after the failure, got %d calls", len(ing.reqs))
	}
}

func TestIngest_InvalidSources(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	bin := writeFile(t, dir, "slides.pptx", "PK")

	p, err := NewPipeline(&recordingIngester{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, src := range []Source{
		{},
		{Path: bin},
		{Path: filepath.Join(dir, "missing.txt")},
		{Path: bin, URL: "http://example.com"},
	} {
		_, err := p.Ingest(context.Background(), "erin", []Source{src}, nil)
		if !errs.IsInvalidInput(err) {
			t.Errorf("source %+v: expected invalid input, got %v", src, err)
		}
	}
}

func TestIngest_EmptyFileIsSkipped(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "empty.md", "   \n")

	ing := &recordingIngester{}
	p, err := NewPipeline(ing, nil)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := p.Ingest(context.Background(), "frank", []Source{{Path: path}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Sources != 1 || len(ing.reqs) != 0 {
		t.Errorf("empty file should be read but not ingested: %+v calls=%d", rep, len(ing.reqs))
	}
}

func TestIngest_OversizedSourceIsRejectedNotCut(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// 20 bytes of two-byte runes; a 7-byte cut would split a rune.
	big := writeFile(t, dir, "accents.txt", strings.Repeat("é", 10))
	exact := writeFile(t, dir, "exact.txt", strings.Repeat("é", 3)+"a")

	ing := &recordingIngester{}
	p, err := NewPipeline(ing, &Config{MaxBytes: 7})
	if err != nil {
		t.Fatal(err)
	}

	rep, err := p.Ingest(context.Background(), "dana", []Source{{Path: big}}, nil)
	if err == nil || !errs.IsInvalidInput(err) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds 7 bytes") {
		t.Errorf("error = %q", err.Error())
	}
	if len(ing.reqs) != 0 || len(rep.Documents) != 0 {
		t.Fatalf("oversized file must not be ingested, got %d requests", len(ing.reqs))
	}

	if _, err := p.Ingest(context.Background(), "dana", []Source{{Path: exact}}, nil); err != nil {
		t.Fatalf("file at the limit: %v", err)
	}
	if len(ing.reqs) != 1 || ing.reqs[0].Content != "éééa" {
		t.Errorf("reqs = %+v", ing.reqs)
	}
}

func TestIngest_OversizedPageIsRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("ü", 32))
	}))
	defer srv.Close()

	ing := &recordingIngester{}
	p, err := NewPipeline(ing, &Config{MaxBytes: 33})
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Ingest(context.Background(), "dana", []Source{{URL: srv.URL + "/long.txt"}}, nil)
	if err == nil || !errs.IsInvalidInput(err) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if len(ing.reqs) != 0 {
		t.Errorf("oversized page must not be ingested")
	}
}
