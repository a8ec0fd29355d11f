// Package ingestion feeds local files and web pages into the retrieval engine.
// Each source is read or fetched, reduced to plain text, optionally split
// into overlapping chunks, and ingested as one Document per chunk. It is
// invoked by the `ragcore ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// DefaultMaxBytes is the largest file or page accepted. Larger sources are
// rejected rather than cut short.
const DefaultMaxBytes = 10 << 20

// textExtensions are the file types read as text. Binary office formats are
// not supported.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".csv":      true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
	".rst":      true,
}

// Ingester stores and indexes one document. *rag.Engine satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (rag.Document, error)
}

// Source describes one thing to ingest. Exactly one of Path or URL is set.
type Source struct {
	// Path is a local file or directory. Directories are walked recursively
	// and every file with a text extension is ingested.
	Path string

	// URL is an HTTP(S) page to fetch.
	URL string

	// Title overrides the inferred title.
	Title string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document. Zero
	// ingests each source as a single document.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int

	// MaxBytes is the largest file or page accepted. Defaults to DefaultMaxBytes.
	MaxBytes int64

	// HTTPTimeout is the timeout for each fetch request. Defaults to 30s.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Report summarises a pipeline run.
type Report struct {
	// Documents are the documents created, in ingestion order. A document
	// whose indexing failed is still listed and its error is returned.
	Documents []rag.Document
	// Sources is the number of files and pages read.
	Sources int
}

// Pipeline orchestrates the read, chunk and ingest flow for a set of sources.
type Pipeline struct {
	ingester   Ingester
	cfg        *Config
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(ingester Ingester, cfg *Config) (*Pipeline, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingestion: ingester must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize < 0 {
		cfg.ChunkSize = 0
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkSize > 0 && cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ragcore/1.0 (document ingestion)"
	}

	return &Pipeline{
		ingester: ingester,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// Ingest reads every source and ingests its chunks for owner. It stops at
// the first error; the report covers everything ingested up to that point.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, owner string, sources []Source, progress func(msg string)) (Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	var rep Report

	for _, src := range sources {
		switch {
		case src.URL != "" && src.Path != "":
			return rep, errs.New(errs.CodeRequestInvalid, "ingestion: source must set exactly one of path or url")
		case src.URL != "":
			progress(fmt.Sprintf("fetching %s", src.URL))
			body, contentType, err := p.fetch(ctx, src.URL)
			if err != nil {
				return rep, fmt.Errorf("ingestion: fetch failed for %s: %w", src.URL, err)
			}
			text, title := extract(body, contentType)
			if src.Title != "" {
				title = src.Title
			}
			if title == "" {
				title = TitleFromURL(src.URL)
			}
			if err := p.ingestText(ctx, &rep, owner, rag.SourceURL, src.URL, title, text, progress); err != nil {
				return rep, err
			}
		case src.Path != "":
			files, err := listFiles(src.Path)
			if err != nil {
				return rep, err
			}
			for _, path := range files {
				progress(fmt.Sprintf("reading %s", path))
				body, err := p.readFile(path)
				if err != nil {
					return rep, err
				}
				text, title := extract(body, contentTypeForPath(path))
				if src.Title != "" {
					title = src.Title
				}
				if title == "" {
					title = TitleFromPath(path)
				}
				if err := p.ingestText(ctx, &rep, owner, rag.SourceFile, path, title, text, progress); err != nil {
					return rep, err
				}
			}
		default:
			return rep, errs.New(errs.CodeRequestInvalid, "ingestion: source must set path or url")
		}
	}
	return rep, nil
}

// ingestText chunks text and ingests each chunk as its own document.
func (p *Pipeline) ingestText(ctx context.Context, rep *Report, owner string, kind rag.SourceKind, ref, title, text string, progress func(string)) error {
	rep.Sources++
	chunks := p.chunk(text)
	if len(chunks) == 0 {
		progress(fmt.Sprintf("skipped %s: no text content", ref))
		return nil
	}

	for i, c := range chunks {
		t := title
		if len(chunks) > 1 {
			t = fmt.Sprintf("%s (part %d/%d)", title, i+1, len(chunks))
		}
		doc, err := p.ingester.Ingest(ctx, rag.IngestRequest{
			Content:    c,
			Owner:      owner,
			SourceKind: kind,
			SourceRef:  ref,
			Title:      t,
		})
		if doc.ID != "" {
			rep.Documents = append(rep.Documents, doc)
		}
		if err != nil {
			return fmt.Errorf("ingestion: ingest failed for %s: %w", ref, err)
		}
	}

	progress(fmt.Sprintf("ingested %d documents from %s", len(chunks), ref))
	return nil
}

// fetch retrieves the body and content type of a URL.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errs.Wrap(err, errs.CodeRequestInvalid, "creating request")
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html, text/plain, text/markdown")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := p.readAll(resp.Body, url)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// readFile reads all of path, refusing files over cfg.MaxBytes.
func (p *Pipeline) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()
	return p.readAll(f, path)
}

// readAll reads r to the end. A source longer than cfg.MaxBytes is an error;
// it is never stored partially.
func (p *Pipeline) readAll(r io.Reader, name string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, p.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", name, err)
	}
	if int64(len(body)) > p.cfg.MaxBytes {
		return nil, errs.Errorf(errs.CodeRequestInvalid, "ingestion: %s exceeds %d bytes", name, p.cfg.MaxBytes)
	}
	return body, nil
}

// listFiles returns path itself for a file, or every text file below it
// for a directory, in lexical order.
func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeRequestInvalid, "ingestion: stat "+path)
	}
	if !info.IsDir() {
		if !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil, errs.Errorf(errs.CodeRequestInvalid, "ingestion: unsupported file type %q", filepath.Ext(path))
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if textExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", path, err)
	}
	return files, nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
// Chunks are cut on rune boundaries.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}
	size := p.cfg.ChunkSize
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	overlap := p.cfg.ChunkOverlap
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
