// Package document is the library layer: it owns document rows and the
// stored files behind them. The OCR core only reads documents and flips
// their needs_ocr flag through this service.
package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagekeep/pagekeep/internal/models"
	"github.com/pagekeep/pagekeep/internal/queue"
	"github.com/pagekeep/pagekeep/internal/storage"
)

type Service struct {
	db    *pgxpool.Pool
	files *storage.Store
	queue *queue.Client
}

func NewService(db *pgxpool.Pool, files *storage.Store, qc *queue.Client) *Service {
	return &Service{db: db, files: files, queue: qc}
}

type CreateRequest struct {
	Title string
	Data  io.Reader
}

// Create stores the uploaded file, inserts the document row and enqueues the
// ingestion task that classifies the document and extracts its text.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Document, error) {
	path, err := s.files.Save(uuid.New().String()+".pdf", req.Data)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	var doc models.Document
	err = s.db.QueryRow(ctx,
		`INSERT INTO documents (title, file_path, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, title, file_path, page_count, needs_ocr, status, created_at`,
		req.Title, path, models.DocStatusPending,
	).Scan(&doc.ID, &doc.Title, &doc.FilePath, &doc.PageCount, &doc.NeedsOCR, &doc.Status, &doc.CreatedAt)
	if err != nil {
		_ = s.files.Remove(path)
		return nil, fmt.Errorf("insert document: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.EnqueueDocumentIngest(queue.DocumentIngestPayload{
			DocumentID: doc.ID,
			TaskID:     uuid.New().String(),
		}); err != nil {
			slog.Error("failed to enqueue ingest", "document_id", doc.ID, "error", err)
		}
	}

	return &doc, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRow(ctx,
		`SELECT id, title, file_path, page_count, needs_ocr, status, created_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.Title, &doc.FilePath, &doc.PageCount, &doc.NeedsOCR, &doc.Status, &doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, title, file_path, page_count, needs_ocr, status, created_at
		 FROM documents ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.FilePath, &d.PageCount, &d.NeedsOCR, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Delete removes the document row (page text follows via cascade) and the
// stored file.
func (s *Service) Delete(ctx context.Context, id int64) error {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if doc.FilePath != "" {
		if err := s.files.Remove(doc.FilePath); err != nil {
			slog.Warn("failed to remove document file", "document_id", id, "error", err)
		}
	}
	return nil
}

func (s *Service) SetNeedsOCR(ctx context.Context, id int64, needs bool) error {
	_, err := s.db.Exec(ctx, `UPDATE documents SET needs_ocr = $1 WHERE id = $2`, needs, id)
	if err != nil {
		return fmt.Errorf("set needs_ocr: %w", err)
	}
	return nil
}

func (s *Service) SetPageCount(ctx context.Context, id int64, pages int) error {
	_, err := s.db.Exec(ctx, `UPDATE documents SET page_count = $1 WHERE id = $2`, pages, id)
	if err != nil {
		return fmt.Errorf("set page_count: %w", err)
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.Exec(ctx, `UPDATE documents SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}
