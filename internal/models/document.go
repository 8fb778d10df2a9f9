package models

import "time"

// Document is one entry in the library. The core only reads documents and
// flips the NeedsOCR flag; creation and deletion belong to the library layer.
type Document struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	FilePath  string    `json:"file_path,omitempty"`
	PageCount int       `json:"page_count"`
	NeedsOCR  bool      `json:"needs_ocr"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusReady      = "ready"
	DocStatusFailed     = "failed"
)

// PageText is the text of a single page, keyed by zero-based page number.
// One row per page that yielded non-empty text.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// SearchHit is one result of a global search. Rank is a relevance score
// where lower means more relevant, so ascending order reads best-first.
type SearchHit struct {
	DocumentID int64   `json:"document_id"`
	PageNumber int     `json:"page_number"`
	Snippet    string  `json:"snippet"`
	Rank       float64 `json:"rank"`
}

// PageHit is one result of a search scoped to a single document. Results are
// ordered by page number for sequential browsing, so no rank is carried.
type PageHit struct {
	PageNumber int    `json:"page_number"`
	Snippet    string `json:"snippet"`
}

// OCRRun is a finished run recorded for history. Cancelled runs are not
// recorded; they are neither success nor failure.
type OCRRun struct {
	ID          int64     `json:"id"`
	DocumentID  int64     `json:"document_id"`
	Kind        string    `json:"kind"`
	PagesTotal  int       `json:"pages_total"`
	PagesFailed int       `json:"pages_failed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

const (
	RunKindFull  = "full"
	RunKindRetry = "retry"
)
