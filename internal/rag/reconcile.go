package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/logging"
)

// DefaultReconcileGrace skips documents young enough to still be mid-ingest.
const DefaultReconcileGrace = 5 * time.Minute

// ReconcileOptions controls a Reconcile pass.
type ReconcileOptions struct {
	// Grace excludes documents created within this window from the
	// missing-vector check. Zero means DefaultReconcileGrace; negative
	// disables the window.
	Grace time.Duration

	// Repair re-embeds documents without vectors and deletes vectors
	// without documents. When false the pass only reports.
	Repair bool
}

// ReconcileReport describes the divergence between store and index.
type ReconcileReport struct {
	// MissingVectors are document ids with no vector in the index.
	MissingVectors []string `json:"missing_vectors"`
	// OrphanVectors are vector ids with no backing document.
	OrphanVectors []string `json:"orphan_vectors"`
	// Reindexed counts documents whose vector was rebuilt.
	Reindexed int `json:"reindexed"`
	// Deleted counts orphan vectors removed.
	Deleted int `json:"deleted"`
}

// Consistent reports whether the pass found no divergence.
func (r ReconcileReport) Consistent() bool {
	return len(r.MissingVectors) == 0 && len(r.OrphanVectors) == 0
}

// Reconcile lists documents lacking a vector and vectors lacking a document,
// optionally repairing both. Repair keeps going past individual failures and
// returns them joined.
func (e *Engine) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	grace := opts.Grace
	if grace == 0 {
		grace = DefaultReconcileGrace
	}
	if grace < 0 {
		grace = 0
	}

	docIDs, err := e.store.ListDocumentIDs(ctx, e.now().Add(-grace))
	if err != nil {
		return ReconcileReport{}, errs.With(err, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StageFetch))
	}
	vecIDs, err := e.index.ListIDs(ctx)
	if err != nil {
		return ReconcileReport{}, errs.With(err, errs.CodeIndexUnavailable, errs.FieldStage(errs.StageQuery))
	}

	var report ReconcileReport
	vecSet := make(map[string]struct{}, len(vecIDs))
	for _, id := range vecIDs {
		vecSet[id] = struct{}{}
	}
	for _, id := range docIDs {
		if _, ok := vecSet[id]; !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}

	// Orphans are judged against every document, not only those past the
	// grace window, so a fresh document's vector is never reported.
	if len(vecIDs) > 0 {
		existing, err := e.store.GetDocuments(ctx, vecIDs)
		if err != nil {
			return ReconcileReport{}, errs.With(err, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StageFetch))
		}
		for _, id := range vecIDs {
			if _, ok := existing[id]; !ok {
				report.OrphanVectors = append(report.OrphanVectors, id)
			}
		}
	}

	log := logging.FromContext(ctx)
	log.Info("rag: reconcile scan complete",
		slog.Int("documents", len(docIDs)),
		slog.Int("vectors", len(vecIDs)),
		slog.Int("missing_vectors", len(report.MissingVectors)),
		slog.Int("orphan_vectors", len(report.OrphanVectors)),
	)
	if !opts.Repair || report.Consistent() {
		return report, nil
	}

	var failures []error
	if len(report.OrphanVectors) > 0 {
		if err := e.index.Delete(ctx, report.OrphanVectors); err != nil {
			failures = append(failures, errs.With(err, errs.CodeIndexUnavailable, errs.FieldStage(errs.StageDelete)))
		} else {
			report.Deleted = len(report.OrphanVectors)
		}
	}

	if len(report.MissingVectors) > 0 {
		docs, err := e.store.GetDocuments(ctx, report.MissingVectors)
		if err != nil {
			failures = append(failures, errs.With(err, errs.CodeStoreDatabaseFailure, errs.FieldStage(errs.StageFetch)))
		}
		for _, id := range report.MissingVectors {
			doc, ok := docs[id]
			if !ok {
				// Deleted between the scan and the repair.
				continue
			}
			if err := e.indexDocument(ctx, doc); err != nil {
				log.Warn("rag: reindex failed", slog.String("document_id", id), slog.Any("error", err))
				failures = append(failures, err)
				continue
			}
			report.Reindexed++
		}
	}

	if len(failures) > 0 {
		return report, errs.Join(errs.CodeIndexUnavailable, failures...)
	}
	return report, nil
}
