package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pagekeep/pagekeep/internal/classify"
	"github.com/pagekeep/pagekeep/internal/document"
	"github.com/pagekeep/pagekeep/internal/extract"
	"github.com/pagekeep/pagekeep/internal/models"
	"github.com/pagekeep/pagekeep/internal/pdf"
	"github.com/pagekeep/pagekeep/internal/queue"
	"github.com/pagekeep/pagekeep/internal/textstore"
)

// IngestWorker processes freshly uploaded documents: it records the page
// count, classifies the document, and for text-bearing documents extracts
// and persists the native text. Scanned documents are flagged for OCR which
// runs on demand through the orchestrator.
type IngestWorker struct {
	docs       *document.Service
	store      *textstore.Store
	classifier classify.Classifier
	batchSize  int
}

func NewIngestWorker(docs *document.Service, store *textstore.Store, classifier classify.Classifier, batchSize int) *IngestWorker {
	return &IngestWorker{
		docs:       docs,
		store:      store,
		classifier: classifier,
		batchSize:  batchSize,
	}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	id := payload.DocumentID
	slog.Info("ingesting document", "document_id", id, "task_id", payload.TaskID)

	if err := w.docs.UpdateStatus(ctx, id, models.DocStatusProcessing); err != nil {
		return fmt.Errorf("update status to processing: %w", err)
	}

	doc, err := w.docs.GetByID(ctx, id)
	if err != nil {
		w.docs.UpdateStatus(ctx, id, models.DocStatusFailed)
		return fmt.Errorf("get document: %w", err)
	}

	handle, err := pdf.Open(doc.FilePath)
	if err != nil {
		w.docs.UpdateStatus(ctx, id, models.DocStatusFailed)
		return fmt.Errorf("open document: %w", err)
	}
	defer handle.Close()

	if err := w.docs.SetPageCount(ctx, id, handle.PageCount()); err != nil {
		slog.Warn("failed to record page count", "document_id", id, "error", err)
	}

	if w.classifier.IsScanned(handle) {
		if err := w.docs.SetNeedsOCR(ctx, id, true); err != nil {
			w.docs.UpdateStatus(ctx, id, models.DocStatusFailed)
			return fmt.Errorf("flag for OCR: %w", err)
		}
		if err := w.docs.UpdateStatus(ctx, id, models.DocStatusReady); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		slog.Info("document flagged for OCR", "document_id", id, "pages", handle.PageCount())
		return nil
	}

	pages, err := extract.All(ctx, handle, w.batchSize, func(processed, total int) {
		slog.Debug("extracting text", "document_id", id, "processed", processed, "total", total)
	})
	if err != nil {
		w.docs.UpdateStatus(ctx, id, models.DocStatusFailed)
		return fmt.Errorf("extract text: %w", err)
	}

	if err := w.store.StoreText(ctx, id, pages); err != nil {
		w.docs.UpdateStatus(ctx, id, models.DocStatusFailed)
		return fmt.Errorf("store page text: %w", err)
	}

	if err := w.docs.UpdateStatus(ctx, id, models.DocStatusReady); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	slog.Info("document ingested",
		"document_id", id,
		"pages", handle.PageCount(),
		"pages_with_text", len(pages),
	)
	return nil
}
