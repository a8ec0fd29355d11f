package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/imagegen"
	"github.com/54b3r/ragcore-go/internal/logging"
	"github.com/54b3r/ragcore-go/internal/rag"
)

// route registers h under pattern and records request metrics labelled
// with name.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, s.instrument(name, h))
}

// instrument records request count and latency for one logical handler.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}

// handleIngest handles POST /api/documents. A document that was stored but
// could not be indexed is reported with 202 Accepted and indexed:false.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SourceKind == "" {
		req.SourceKind = rag.SourceExternalSync
	}

	doc, err := s.retriever.Ingest(r.Context(), rag.IngestRequest{
		Content:    req.Content,
		Owner:      req.Owner,
		SourceKind: req.SourceKind,
		SourceRef:  req.SourceRef,
		Title:      req.Title,
	})
	if err != nil {
		if doc.ID == "" {
			writeErr(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Warn("document stored but not indexed",
			slog.String("document_id", doc.ID),
			slog.String("stage", string(errs.StageOf(err))),
			slog.Any("error", err),
		)
		s.metrics.documentsIngestedTotal.WithLabelValues(string(doc.SourceKind), "false").Inc()
		writeJSON(w, r, http.StatusAccepted, ingestResponse{Document: doc, Error: err.Error()})
		return
	}
	s.metrics.documentsIngestedTotal.WithLabelValues(string(doc.SourceKind), "true").Inc()
	writeJSON(w, r, http.StatusCreated, ingestResponse{Document: doc, Indexed: true})
}

// handleRemove handles DELETE /api/documents/{id}?owner=...
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("owner query parameter is required"))
		return
	}
	if err := s.retriever.Remove(r.Context(), owner, id); err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.documentsRemovedTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("query is required"))
		return
	}
	res, err := s.retriever.Search(r.Context(), req.Query, req.Owner, req.TopK)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.danglingHitsTotal.Add(float64(len(res.Dangling)))
	if res.Documents == nil {
		res.Documents = []rag.ScoredDocument{}
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleContext handles POST /api/context.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("query is required"))
		return
	}
	if req.MaxLength < 0 {
		writeError(w, r, http.StatusBadRequest, errors.New("max_length must not be negative"))
		return
	}
	if req.MaxLength == 0 {
		req.MaxLength = s.cfg.ContextLength
	}
	out, err := s.retriever.AssembleContext(r.Context(), req.Query, req.Owner, req.MaxLength)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.danglingHitsTotal.Add(float64(len(out.Dangling)))
	writeJSON(w, r, http.StatusOK, out)
}

// handleImages handles POST /api/images.
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, r, http.StatusNotImplemented, errors.New("image generation is not configured"))
		return
	}
	var req imagegen.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.images.Generate(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	origin := "generated"
	if resp.FromCache {
		origin = "cache"
	}
	s.metrics.imagesServedTotal.WithLabelValues(origin).Inc()
	writeJSON(w, r, http.StatusOK, resp)
}

// decodeJSON reads a size-limited JSON body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeErr maps a core error onto its HTTP status and code.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, errs.HTTPStatus(err), err)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := logging.FromContext(r.Context())
	code := string(errs.CodeOf(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.String("code", code), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.String("code", code), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error(), Code: code})
}
