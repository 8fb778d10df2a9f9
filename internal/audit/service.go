// Package audit keeps a persisted history of finished OCR runs so operators
// can see what ran, when, and how many pages failed.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagekeep/pagekeep/internal/models"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type RunRecord struct {
	DocumentID  int64
	Kind        string
	PagesTotal  int
	PagesFailed int
	Error       string
	StartedAt   time.Time
}

func (s *Service) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ocr_runs (document_id, kind, pages_total, pages_failed, error, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.DocumentID, rec.Kind, rec.PagesTotal, rec.PagesFailed, rec.Error, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ocr run: %w", err)
	}
	return nil
}

type RunQuery struct {
	DocumentID *int64
	Limit      int
	Offset     int
}

func (s *Service) ListRuns(ctx context.Context, q RunQuery) ([]models.OCRRun, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, document_id, kind, pages_total, pages_failed, error, started_at, finished_at
	          FROM ocr_runs`
	args := []interface{}{}
	argIdx := 1

	if q.DocumentID != nil {
		query += fmt.Sprintf(" WHERE document_id = $%d", argIdx)
		args = append(args, *q.DocumentID)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY finished_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ocr runs: %w", err)
	}
	defer rows.Close()

	var runs []models.OCRRun
	for rows.Next() {
		var r models.OCRRun
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Kind, &r.PagesTotal, &r.PagesFailed, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan ocr run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}
