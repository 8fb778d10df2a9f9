// Package textstore persists per-page text and serves relevance-ranked
// full-text search over it. The tsvector index is kept in sync by a trigger
// inside the database, so a single row insert is always searchable.
package textstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagekeep/pagekeep/internal/models"
)

// maxGlobalHits bounds a global search result set.
const maxGlobalHits = 100

// headlineOpts renders matched terms wrapped in <b></b> with a short context
// window around each match.
const headlineOpts = `StartSel=<b>, StopSel=</b>, MaxWords=10, MinWords=4, MaxFragments=2, FragmentDelimiter=" … "`

// snippetWindow is the page length above which a snippet is a truncated view
// and gets ellipsis markers.
const snippetWindow = 120

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// StoreText writes all pages in one transaction, reusing a single statement
// across the batch. A no-op for empty input.
func (s *Store) StoreText(ctx context.Context, documentID int64, pages []models.PageText) error {
	if len(pages) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin page text tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, p := range pages {
		b.Queue(
			`INSERT INTO page_text (document_id, page_number, text) VALUES ($1, $2, $3)`,
			documentID, p.PageNumber, p.Text,
		)
	}

	br := tx.SendBatch(ctx, b)
	for range pages {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert page text: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close page text batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit page text: %w", err)
	}
	return nil
}

// DeleteDocumentText clears all page text of one document, for callers that
// re-index a document from scratch.
func (s *Store) DeleteDocumentText(ctx context.Context, documentID int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM page_text WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete page text: %w", err)
	}
	return nil
}

// SearchGlobal matches the query across all documents and returns up to 100
// hits ordered best-first. Rank is negated ts_rank so that lower means more
// relevant. An empty query yields an empty result, not an error.
func (s *Store) SearchGlobal(ctx context.Context, query string) ([]models.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT document_id, page_number,
		       ts_headline('simple', text, plainto_tsquery('simple', $1), $2),
		       -ts_rank(tsv, plainto_tsquery('simple', $1)) AS rank,
		       char_length(text)
		FROM page_text
		WHERE tsv @@ plainto_tsquery('simple', $1)
		ORDER BY rank
		LIMIT $3`,
		query, headlineOpts, maxGlobalHits,
	)
	if err != nil {
		return nil, fmt.Errorf("global search: %w", err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var h models.SearchHit
		var textLen int
		if err := rows.Scan(&h.DocumentID, &h.PageNumber, &h.Snippet, &h.Rank, &textLen); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		h.Snippet = markTruncation(h.Snippet, textLen)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, nil
}

// SearchWithinDocument matches the query inside one document, ordered by
// ascending page number for sequential browsing. The total is counted
// separately so pagination never materializes the full result set.
func (s *Store) SearchWithinDocument(ctx context.Context, documentID int64, query string, limit, offset int) (int, []models.PageHit, error) {
	if strings.TrimSpace(query) == "" {
		return 0, nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM page_text
		WHERE document_id = $1 AND tsv @@ plainto_tsquery('simple', $2)`,
		documentID, query,
	).Scan(&total)
	if err != nil {
		return 0, nil, fmt.Errorf("count document search: %w", err)
	}
	if total == 0 {
		return 0, nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT page_number,
		       ts_headline('simple', text, plainto_tsquery('simple', $2), $3),
		       char_length(text)
		FROM page_text
		WHERE document_id = $1 AND tsv @@ plainto_tsquery('simple', $2)
		ORDER BY page_number
		LIMIT $4 OFFSET $5`,
		documentID, query, headlineOpts, limit, offset,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("document search: %w", err)
	}
	defer rows.Close()

	var hits []models.PageHit
	for rows.Next() {
		var h models.PageHit
		var textLen int
		if err := rows.Scan(&h.PageNumber, &h.Snippet, &textLen); err != nil {
			return 0, nil, fmt.Errorf("scan page hit: %w", err)
		}
		h.Snippet = markTruncation(h.Snippet, textLen)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate page hits: %w", err)
	}
	return total, hits, nil
}

// markTruncation appends ellipsis markers when the snippet is a window into
// a longer page rather than the whole page.
func markTruncation(snippet string, textLen int) string {
	if textLen <= snippetWindow {
		return snippet
	}
	return "…" + snippet + "…"
}
