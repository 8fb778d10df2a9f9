package handlers

import (
	"context"
	"net/http"

	"github.com/pagekeep/pagekeep/internal/models"
	"github.com/pagekeep/pagekeep/internal/ocr"
)

// DocumentReader is the slice of the document service the OCR endpoints
// need.
type DocumentReader interface {
	GetByID(ctx context.Context, id int64) (*models.Document, error)
}

// OCRHandler exposes the run lifecycle of one document: start, poll, cancel,
// retry the failed pages, or dismiss a failure.
type OCRHandler struct {
	orch *ocr.Orchestrator
	docs DocumentReader
}

func NewOCRHandler(orch *ocr.Orchestrator, docs DocumentReader) *OCRHandler {
	return &OCRHandler{orch: orch, docs: docs}
}

type ocrStatus struct {
	DocumentID  int64    `json:"document_id"`
	Processing  bool     `json:"processing"`
	Progress    *float64 `json:"progress,omitempty"`
	FailedPages []int    `json:"failed_pages,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
}

func (h *OCRHandler) status(id int64) ocrStatus {
	st := ocrStatus{DocumentID: id, Processing: h.orch.IsProcessing(id)}
	if p, ok := h.orch.Progress(id); ok {
		st.Progress = &p
	}
	if pages, ok := h.orch.FailedPages(id); ok {
		st.FailedPages = pages
	}
	if msg, ok := h.orch.LastError(id); ok {
		st.LastError = msg
	}
	return st
}

// Start kicks off a full OCR run. Starting an already-running document is
// not an error; the response reflects the active run either way. Documents
// not flagged needs_ocr are rejected unless force=true, which re-runs OCR
// on a document whose flag was cleared by a marginal earlier run.
func (h *OCRHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocumentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}

	if !doc.NeedsOCR && r.URL.Query().Get("force") != "true" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "document does not need OCR; pass force=true to re-run"})
		return
	}

	h.orch.Start(id)
	writeJSON(w, http.StatusAccepted, h.status(id))
}

func (h *OCRHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocumentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	writeJSON(w, http.StatusOK, h.status(id))
}

// Cancel requests cooperative cancellation; the run stops at the next page
// boundary, so the status may show processing for a short while after.
func (h *OCRHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocumentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	h.orch.Cancel(id)
	writeJSON(w, http.StatusAccepted, h.status(id))
}

// Retry re-runs OCR on exactly the pages that failed last time.
func (h *OCRHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocumentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	if h.orch.IsProcessing(id) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already active"})
		return
	}
	if _, ok := h.orch.FailedPages(id); !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no failed pages to retry"})
		return
	}

	h.orch.RetryFailed(id)
	writeJSON(w, http.StatusAccepted, h.status(id))
}

// ClearError acknowledges a failed run without retrying it.
func (h *OCRHandler) ClearError(w http.ResponseWriter, r *http.Request) {
	id, err := parseDocumentID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return
	}

	h.orch.ClearError(id)
	writeJSON(w, http.StatusOK, h.status(id))
}
