// Package ocr owns the lifecycle of OCR runs: at most one active run per
// document, live progress, per-page failure tracking, cooperative
// cancellation, and retry of exactly the pages that failed.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pagekeep/pagekeep/internal/models"
)

// Document is one open document handle, used for a single run and closed on
// every exit path.
type Document interface {
	PageCount() int
	PageImage(page int) ([]byte, error)
	Close() error
}

// Opener acquires a document handle from its stored file path.
type Opener interface {
	Open(path string) (Document, error)
}

// OpenerFunc adapts a plain open function to the Opener interface.
type OpenerFunc func(path string) (Document, error)

func (f OpenerFunc) Open(path string) (Document, error) { return f(path) }

// Recognizer turns a page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, languages []string) (string, error)
}

// TextSink persists the recognized pages of a completed run in one batch.
type TextSink interface {
	StoreText(ctx context.Context, documentID int64, pages []models.PageText) error
}

// Library is the slice of the document service the orchestrator needs: it
// reads documents and clears their needs_ocr flag, nothing else.
type Library interface {
	GetByID(ctx context.Context, id int64) (*models.Document, error)
	SetNeedsOCR(ctx context.Context, id int64, needs bool) error
}

// RunSummary describes one finished run for history recording.
type RunSummary struct {
	DocumentID  int64
	Kind        string
	PagesTotal  int
	PagesFailed int
	Error       string
	StartedAt   time.Time
}

// RecordFunc receives a summary after every run that ends in completion or a
// fatal error. Cancelled runs are not recorded.
type RecordFunc func(ctx context.Context, sum RunSummary) error

// runState tracks one document's run. failedPages and lastError outlive the
// run that produced them, until a retry succeeds or the caller clears them.
type runState struct {
	active      bool
	progress    float64
	failedPages []int
	lastError   string
	cancel      context.CancelFunc
}

type Orchestrator struct {
	mu   sync.Mutex
	runs map[int64]*runState

	opener     Opener
	recognizer Recognizer
	sink       TextSink
	library    Library
	languages  []string
	record     RecordFunc
}

type Option func(*Orchestrator)

func WithLanguages(languages []string) Option {
	return func(o *Orchestrator) { o.languages = languages }
}

func WithRunRecorder(record RecordFunc) Option {
	return func(o *Orchestrator) { o.record = record }
}

func NewOrchestrator(opener Opener, recognizer Recognizer, sink TextSink, library Library, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runs:       make(map[int64]*runState),
		opener:     opener,
		recognizer: recognizer,
		sink:       sink,
		library:    library,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins an OCR run over all pages of the document and returns
// immediately; progress and failures are observed through the accessors.
// Calling Start while a run is active for the same document is a no-op.
func (o *Orchestrator) Start(documentID int64) {
	o.mu.Lock()
	st := o.stateLocked(documentID)
	if st.active {
		o.mu.Unlock()
		return
	}
	ctx := o.beginLocked(st)
	o.mu.Unlock()

	go o.run(ctx, documentID, nil, models.RunKindFull)
}

// Cancel signals the cooperative cancellation check inside the run loop.
// No-op when no run is active. Cancellation is checked at page boundaries,
// so the worst-case latency is one page's recognition time.
func (o *Orchestrator) Cancel(documentID int64) {
	o.mu.Lock()
	var cancel context.CancelFunc
	if st := o.runs[documentID]; st != nil && st.active {
		cancel = st.cancel
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// RetryFailed starts a run scoped to exactly the pages that failed last
// time. No-op when nothing failed or a run is already active. Pages that
// fail again replace the failed set; pages that succeed leave it.
func (o *Orchestrator) RetryFailed(documentID int64) {
	o.mu.Lock()
	st := o.runs[documentID]
	if st == nil || st.active || len(st.failedPages) == 0 {
		o.mu.Unlock()
		return
	}
	pages := append([]int(nil), st.failedPages...)
	ctx := o.beginLocked(st)
	o.mu.Unlock()

	go o.run(ctx, documentID, pages, models.RunKindRetry)
}

// IsProcessing reports whether a run is active for the document.
func (o *Orchestrator) IsProcessing(documentID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	return st != nil && st.active
}

// Progress returns the fraction of pages attempted by the active run, or
// false when no run is active.
func (o *Orchestrator) Progress(documentID int64) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	if st == nil || !st.active {
		return 0, false
	}
	return st.progress, true
}

// FailedPages returns the pages that failed in the last completed run, in
// increasing order, or false when there are none.
func (o *Orchestrator) FailedPages(documentID int64) ([]int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	if st == nil || len(st.failedPages) == 0 {
		return nil, false
	}
	return append([]int(nil), st.failedPages...), true
}

// LastError returns the error summary of the last run, or false when the
// last run completed cleanly.
func (o *Orchestrator) LastError(documentID int64) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	if st == nil || st.lastError == "" {
		return "", false
	}
	return st.lastError, true
}

// ClearError acknowledges the failure state without retrying: the document
// returns to idle with no failed pages and no error. No-op mid-run.
func (o *Orchestrator) ClearError(documentID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	if st == nil || st.active {
		return
	}
	delete(o.runs, documentID)
}

func (o *Orchestrator) stateLocked(documentID int64) *runState {
	st := o.runs[documentID]
	if st == nil {
		st = &runState{}
		o.runs[documentID] = st
	}
	return st
}

// beginLocked marks the run active. Failure state from a prior run is
// deliberately left in place: a cancelled run must preserve it, and a
// completed run replaces it wholesale.
func (o *Orchestrator) beginLocked(st *runState) context.Context {
	st.active = true
	st.progress = 0
	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	return ctx
}

// run executes one OCR run. When only is nil the whole document is
// processed; otherwise exactly those page indices, in the given order.
func (o *Orchestrator) run(ctx context.Context, documentID int64, only []int, kind string) {
	startedAt := time.Now()

	doc, err := o.library.GetByID(ctx, documentID)
	if err != nil {
		o.finishFatal(documentID, kind, startedAt, fmt.Sprintf("load document: %v", err))
		return
	}

	handle, err := o.opener.Open(doc.FilePath)
	if err != nil {
		o.finishFatal(documentID, kind, startedAt, fmt.Sprintf("open document: %v", err))
		return
	}
	defer handle.Close()

	pages := only
	if pages == nil {
		pages = make([]int, handle.PageCount())
		for i := range pages {
			pages[i] = i
		}
	}
	total := len(pages)

	// A document with no pages has nothing left to recognize; it is done.
	if total == 0 {
		if doc.NeedsOCR {
			if err := o.library.SetNeedsOCR(ctx, documentID, false); err != nil {
				slog.Warn("failed to clear needs_ocr", "document_id", documentID, "error", err)
			}
		}
		o.finish(documentID, nil, "")
		o.recordRun(RunSummary{DocumentID: documentID, Kind: kind, StartedAt: startedAt})
		return
	}

	var buffered []models.PageText
	var failed []int
	for attempted, page := range pages {
		// Cancellation is cooperative and page-granular. A cancelled run
		// persists nothing and leaves prior failure state untouched.
		if ctx.Err() != nil {
			o.finishCancelled(documentID)
			slog.Info("ocr run cancelled", "document_id", documentID, "pages_attempted", attempted)
			return
		}

		image, err := handle.PageImage(page)
		if err != nil {
			failed = append(failed, page)
			o.setProgress(documentID, float64(attempted+1)/float64(total))
			continue
		}

		text, err := o.recognizer.Recognize(ctx, image, o.languages)
		if err != nil {
			failed = append(failed, page)
		} else if t := strings.TrimSpace(text); t != "" {
			buffered = append(buffered, models.PageText{PageNumber: page, Text: t})
		}
		o.setProgress(documentID, float64(attempted+1)/float64(total))
	}

	// A cancel that lands during the final page's recognition has no next
	// page boundary to catch it. Check once more before committing, so a
	// cancelled run never flushes buffered text or rewrites failure state.
	if ctx.Err() != nil {
		o.finishCancelled(documentID)
		slog.Info("ocr run cancelled", "document_id", documentID, "pages_attempted", total)
		return
	}

	var lastError string
	switch {
	case len(failed) == total:
		lastError = "OCR failed for all pages"
	case len(failed) > 0:
		lastError = fmt.Sprintf("OCR failed for %d of %d pages", len(failed), total)
	}

	persistFailed := false
	if len(buffered) > 0 {
		if err := o.sink.StoreText(ctx, documentID, buffered); err != nil {
			// Recognition worked but nothing landed; leave needs_ocr alone so
			// a later run re-attempts persistence.
			persistFailed = true
			lastError = fmt.Sprintf("persist page text: %v", err)
			slog.Error("failed to persist ocr text", "document_id", documentID, "error", err)
		}
	}

	// The flag is cleared only when the run yielded at least one page of
	// persisted text, so a run that produced nothing useful stays eligible
	// for future re-runs.
	if !persistFailed && len(buffered) > 0 && doc.NeedsOCR {
		if err := o.library.SetNeedsOCR(ctx, documentID, false); err != nil {
			slog.Warn("failed to clear needs_ocr", "document_id", documentID, "error", err)
		}
	}

	o.finish(documentID, failed, lastError)
	o.recordRun(RunSummary{
		DocumentID:  documentID,
		Kind:        kind,
		PagesTotal:  total,
		PagesFailed: len(failed),
		Error:       lastError,
		StartedAt:   startedAt,
	})

	slog.Info("ocr run finished",
		"document_id", documentID,
		"kind", kind,
		"pages", total,
		"failed", len(failed),
		"persisted", len(buffered),
	)
}

func (o *Orchestrator) setProgress(documentID int64, progress float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st := o.runs[documentID]; st != nil && st.active {
		st.progress = progress
	}
}

// finish ends the run and replaces the failure state with this run's
// outcome. A clean outcome returns the document to plain idle.
func (o *Orchestrator) finish(documentID int64, failed []int, lastError string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	if st == nil {
		return
	}
	st.active = false
	st.progress = 0
	st.cancel = nil
	st.failedPages = failed
	st.lastError = lastError
	if len(failed) == 0 && lastError == "" {
		delete(o.runs, documentID)
	}
}

// finishFatal ends the run after a run-level failure (the document could not
// be opened). Prior failed pages are kept for a future retry.
func (o *Orchestrator) finishFatal(documentID int64, kind string, startedAt time.Time, lastError string) {
	o.mu.Lock()
	st := o.runs[documentID]
	if st != nil {
		st.active = false
		st.progress = 0
		st.cancel = nil
		st.lastError = lastError
	}
	o.mu.Unlock()

	o.recordRun(RunSummary{DocumentID: documentID, Kind: kind, Error: lastError, StartedAt: startedAt})
	slog.Error("ocr run failed to start", "document_id", documentID, "error", lastError)
}

// finishCancelled ends the run without touching failedPages or lastError.
func (o *Orchestrator) finishCancelled(documentID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.runs[documentID]
	if st == nil {
		return
	}
	st.active = false
	st.progress = 0
	st.cancel = nil
	if len(st.failedPages) == 0 && st.lastError == "" {
		delete(o.runs, documentID)
	}
}

func (o *Orchestrator) recordRun(sum RunSummary) {
	if o.record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.record(ctx, sum); err != nil {
		slog.Warn("failed to record ocr run", "document_id", sum.DocumentID, "error", err)
	}
}
