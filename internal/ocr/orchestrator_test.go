package ocr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fakeHandle struct {
	pages    int
	imageErr map[int]error
}

func (h *fakeHandle) PageCount() int { return h.pages }

func (h *fakeHandle) PageImage(page int) ([]byte, error) {
	if err, ok := h.imageErr[page]; ok {
		return nil, err
	}
	return []byte("page-" + strconv.Itoa(page)), nil
}

func (h *fakeHandle) Close() error { return nil }

type fakeOpener struct {
	mu     sync.Mutex
	handle *fakeHandle
	err    error
	opens  int
}

func (o *fakeOpener) Open(path string) (Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.handle, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// fakeRecognizer maps page indices (parsed back out of the fake image
// bytes) to canned text or errors. When gate is set, every call blocks
// until the test sends on it or the run is cancelled; started, when set,
// receives each page index as its recognition begins.
type fakeRecognizer struct {
	mu      sync.Mutex
	text    map[int]string
	errAt   map[int]error
	gate    chan struct{}
	started chan int
}

func (r *fakeRecognizer) Recognize(ctx context.Context, image []byte, languages []string) (string, error) {
	page, _ := strconv.Atoi(strings.TrimPrefix(string(image), "page-"))

	if r.started != nil {
		r.started <- page
	}

	if r.gate != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-r.gate:
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.errAt[page]; ok {
		return "", err
	}
	return r.text[page], nil
}

func (r *fakeRecognizer) setPage(page int, text string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errAt[page] = err
	} else {
		delete(r.errAt, page)
		r.text[page] = text
	}
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{text: make(map[int]string), errAt: make(map[int]error)}
}

type fakeSink struct {
	mu    sync.Mutex
	calls [][]models.PageText
	err   error
}

func (s *fakeSink) StoreText(ctx context.Context, documentID int64, pages []models.PageText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, append([]models.PageText(nil), pages...))
	return nil
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSink) call(i int) []models.PageText {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

type fakeLibrary struct {
	mu  sync.Mutex
	doc models.Document
}

func (l *fakeLibrary) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := l.doc
	return &doc, nil
}

func (l *fakeLibrary) SetNeedsOCR(ctx context.Context, id int64, needs bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc.NeedsOCR = needs
	return nil
}

func (l *fakeLibrary) needsOCR() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.NeedsOCR
}

type fixture struct {
	orch   *Orchestrator
	opener *fakeOpener
	rec    *fakeRecognizer
	sink   *fakeSink
	lib    *fakeLibrary
}

func newFixture(pages int, opts ...Option) *fixture {
	f := &fixture{
		opener: &fakeOpener{handle: &fakeHandle{pages: pages}},
		rec:    newFakeRecognizer(),
		sink:   &fakeSink{},
		lib:    &fakeLibrary{doc: models.Document{ID: 1, FilePath: "doc.pdf", PageCount: pages, NeedsOCR: true}},
	}
	f.orch = NewOrchestrator(f.opener, f.rec, f.sink, f.lib, opts...)
	return f
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !f.orch.IsProcessing(1)
	}, waitFor, tick)
}

func TestZeroPageRunCompletesImmediately(t *testing.T) {
	f := newFixture(0)

	f.orch.Start(1)
	f.waitIdle(t)

	_, hasFailed := f.orch.FailedPages(1)
	assert.False(t, hasFailed)
	_, hasErr := f.orch.LastError(1)
	assert.False(t, hasErr)
	assert.False(t, f.lib.needsOCR())
	assert.Zero(t, f.sink.callCount())
}

func TestPartialFailure(t *testing.T) {
	f := newFixture(2)
	f.rec.setPage(0, "Hello", nil)
	f.rec.setPage(1, "", errors.New("recognition failed"))

	f.orch.Start(1)
	f.waitIdle(t)

	failed, ok := f.orch.FailedPages(1)
	require.True(t, ok)
	assert.Equal(t, []int{1}, failed)

	lastErr, ok := f.orch.LastError(1)
	require.True(t, ok)
	assert.Contains(t, lastErr, "1 of 2")

	require.Equal(t, 1, f.sink.callCount())
	assert.Equal(t, []models.PageText{{PageNumber: 0, Text: "Hello"}}, f.sink.call(0))

	// At least one page of text landed, so the document is no longer flagged.
	assert.False(t, f.lib.needsOCR())
}

func TestAllPagesFail(t *testing.T) {
	f := newFixture(3)
	for i := 0; i < 3; i++ {
		f.rec.setPage(i, "", errors.New("engine down"))
	}

	f.orch.Start(1)
	f.waitIdle(t)

	lastErr, ok := f.orch.LastError(1)
	require.True(t, ok)
	assert.Equal(t, "OCR failed for all pages", lastErr)

	failed, _ := f.orch.FailedPages(1)
	assert.Equal(t, []int{0, 1, 2}, failed)

	assert.Zero(t, f.sink.callCount())
	assert.True(t, f.lib.needsOCR(), "a run that produced nothing must not clear the flag")
}

func TestEmptyRecognitionIsNotFailure(t *testing.T) {
	f := newFixture(2)
	// Blank pages recognize to empty text: a success, but not useful output.

	f.orch.Start(1)
	f.waitIdle(t)

	_, hasFailed := f.orch.FailedPages(1)
	assert.False(t, hasFailed)
	_, hasErr := f.orch.LastError(1)
	assert.False(t, hasErr)
	assert.Zero(t, f.sink.callCount())
	assert.True(t, f.lib.needsOCR(), "no persisted text, flag stays for future runs")
}

func TestPageLoadFailureIsRecorded(t *testing.T) {
	f := newFixture(2)
	f.opener.handle.imageErr = map[int]error{0: errors.New("damaged page")}
	f.rec.setPage(1, "readable", nil)

	f.orch.Start(1)
	f.waitIdle(t)

	failed, ok := f.orch.FailedPages(1)
	require.True(t, ok)
	assert.Equal(t, []int{0}, failed)
	require.Equal(t, 1, f.sink.callCount())
	assert.Equal(t, 1, f.sink.call(0)[0].PageNumber)
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	f := newFixture(2)
	f.rec.gate = make(chan struct{})

	f.orch.Start(1)
	require.Eventually(t, func() bool { return f.orch.IsProcessing(1) }, waitFor, tick)

	// A second start while the run is in flight must not spawn another run.
	f.orch.Start(1)
	f.orch.Start(1)

	f.rec.gate <- struct{}{}
	f.rec.gate <- struct{}{}
	f.waitIdle(t)

	assert.Equal(t, 1, f.opener.openCount())
}

func TestProgressAdvancesWithinRun(t *testing.T) {
	f := newFixture(4)
	f.rec.gate = make(chan struct{})

	_, ok := f.orch.Progress(1)
	assert.False(t, ok, "no progress without an active run")

	f.orch.Start(1)

	f.rec.gate <- struct{}{}
	require.Eventually(t, func() bool {
		p, ok := f.orch.Progress(1)
		return ok && p >= 0.25
	}, waitFor, tick)

	f.rec.gate <- struct{}{}
	require.Eventually(t, func() bool {
		p, ok := f.orch.Progress(1)
		return ok && p >= 0.5
	}, waitFor, tick)

	f.rec.gate <- struct{}{}
	f.rec.gate <- struct{}{}
	f.waitIdle(t)

	_, ok = f.orch.Progress(1)
	assert.False(t, ok, "progress entry removed once the run ends")
}

func TestCancelPreservesPriorFailureState(t *testing.T) {
	f := newFixture(2)
	f.rec.setPage(0, "Hello", nil)
	f.rec.setPage(1, "", errors.New("recognition failed"))

	// First run establishes failure state: page 1 failed.
	f.orch.Start(1)
	f.waitIdle(t)
	priorFailed, _ := f.orch.FailedPages(1)
	require.Equal(t, []int{1}, priorFailed)
	priorErr, _ := f.orch.LastError(1)
	sinkCalls := f.sink.callCount()

	// Second run is cancelled mid-flight.
	f.rec.gate = make(chan struct{})
	f.orch.Start(1)
	require.Eventually(t, func() bool { return f.orch.IsProcessing(1) }, waitFor, tick)
	f.orch.Cancel(1)
	f.waitIdle(t)

	// Nothing persisted, nothing overwritten.
	assert.Equal(t, sinkCalls, f.sink.callCount())
	failed, _ := f.orch.FailedPages(1)
	assert.Equal(t, priorFailed, failed)
	lastErr, _ := f.orch.LastError(1)
	assert.Equal(t, priorErr, lastErr)
}

func TestCancelDuringFinalPage(t *testing.T) {
	f := newFixture(2)
	f.rec.setPage(0, "Hello", nil)
	f.rec.gate = make(chan struct{})
	f.rec.started = make(chan int, 2)

	f.orch.Start(1)

	// Let page 0 recognize, then cancel while page 1 is mid-recognition:
	// there is no further page boundary, so completion must still notice.
	require.Equal(t, 0, <-f.rec.started)
	f.rec.gate <- struct{}{}
	require.Equal(t, 1, <-f.rec.started)
	f.orch.Cancel(1)
	f.waitIdle(t)

	assert.Zero(t, f.sink.callCount(), "a cancelled run flushes no buffered text")
	_, ok := f.orch.FailedPages(1)
	assert.False(t, ok)
	_, ok = f.orch.LastError(1)
	assert.False(t, ok)
	assert.True(t, f.lib.needsOCR())
}

func TestCancelDuringFinalPagePreservesPriorFailureState(t *testing.T) {
	f := newFixture(2)
	f.rec.setPage(0, "Hello", nil)
	f.rec.setPage(1, "", errors.New("recognition failed"))

	f.orch.Start(1)
	f.waitIdle(t)
	priorFailed, _ := f.orch.FailedPages(1)
	require.Equal(t, []int{1}, priorFailed)
	priorErr, _ := f.orch.LastError(1)
	sinkCalls := f.sink.callCount()

	// Retry the failed page and cancel while it is mid-recognition.
	f.rec.setPage(1, "now readable", nil)
	f.rec.gate = make(chan struct{})
	f.rec.started = make(chan int, 1)
	f.orch.RetryFailed(1)
	require.Equal(t, 1, <-f.rec.started)
	f.orch.Cancel(1)
	f.waitIdle(t)

	assert.Equal(t, sinkCalls, f.sink.callCount())
	failed, _ := f.orch.FailedPages(1)
	assert.Equal(t, priorFailed, failed)
	lastErr, _ := f.orch.LastError(1)
	assert.Equal(t, priorErr, lastErr)
}

func TestCancelIsNoopWhenIdle(t *testing.T) {
	f := newFixture(2)
	f.orch.Cancel(1)
	assert.False(t, f.orch.IsProcessing(1))
}

func TestRetryConvergence(t *testing.T) {
	f := newFixture(10)
	for i := 0; i < 10; i++ {
		f.rec.setPage(i, fmt.Sprintf("text %d", i), nil)
	}
	f.rec.setPage(3, "", errors.New("blurry"))
	f.rec.setPage(7, "", errors.New("blurry"))

	f.orch.Start(1)
	f.waitIdle(t)
	failed, _ := f.orch.FailedPages(1)
	require.Equal(t, []int{3, 7}, failed)

	// Page 3 now recognizes; page 7 keeps failing.
	f.rec.setPage(3, "page three text", nil)
	f.orch.RetryFailed(1)
	f.waitIdle(t)

	failed, ok := f.orch.FailedPages(1)
	require.True(t, ok)
	assert.Equal(t, []int{7}, failed, "retry replaces the failed set")

	lastErr, _ := f.orch.LastError(1)
	assert.Contains(t, lastErr, "1 of 2")

	require.Equal(t, 2, f.sink.callCount())
	assert.Equal(t, []models.PageText{{PageNumber: 3, Text: "page three text"}}, f.sink.call(1))

	// Second retry clears everything.
	f.rec.setPage(7, "page seven text", nil)
	f.orch.RetryFailed(1)
	f.waitIdle(t)

	_, ok = f.orch.FailedPages(1)
	assert.False(t, ok)
	_, ok = f.orch.LastError(1)
	assert.False(t, ok)
	require.Equal(t, 3, f.sink.callCount())
}

func TestRetryIsNoopWithoutFailures(t *testing.T) {
	f := newFixture(2)
	f.rec.setPage(0, "a", nil)
	f.rec.setPage(1, "b", nil)

	f.orch.Start(1)
	f.waitIdle(t)
	opens := f.opener.openCount()

	f.orch.RetryFailed(1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, opens, f.opener.openCount())
}

func TestClearErrorReturnsToIdle(t *testing.T) {
	f := newFixture(1)
	f.rec.setPage(0, "", errors.New("engine down"))

	f.orch.Start(1)
	f.waitIdle(t)
	_, ok := f.orch.LastError(1)
	require.True(t, ok)

	f.orch.ClearError(1)

	_, ok = f.orch.LastError(1)
	assert.False(t, ok)
	_, ok = f.orch.FailedPages(1)
	assert.False(t, ok)
}

func TestFatalOpenFailure(t *testing.T) {
	f := newFixture(2)
	f.opener.err = errors.New("file is locked")

	f.orch.Start(1)
	f.waitIdle(t)

	lastErr, ok := f.orch.LastError(1)
	require.True(t, ok)
	assert.Contains(t, lastErr, "open document")
	assert.Zero(t, f.sink.callCount())
	assert.True(t, f.lib.needsOCR())
}

func TestPersistFailureKeepsFlag(t *testing.T) {
	f := newFixture(1)
	f.rec.setPage(0, "Hello", nil)
	f.sink.err = errors.New("disk full")

	f.orch.Start(1)
	f.waitIdle(t)

	lastErr, ok := f.orch.LastError(1)
	require.True(t, ok)
	assert.Contains(t, lastErr, "persist page text")
	assert.True(t, f.lib.needsOCR(), "flag untouched so a re-run can re-attempt persistence")
}

func TestRunsForDifferentDocumentsAreIndependent(t *testing.T) {
	f := newFixture(1)
	f.rec.setPage(0, "fine", nil)

	f.orch.Start(1)
	f.orch.Start(2)

	require.Eventually(t, func() bool {
		return !f.orch.IsProcessing(1) && !f.orch.IsProcessing(2)
	}, waitFor, tick)

	assert.Equal(t, 2, f.opener.openCount())
}

func TestRunRecorderReceivesSummary(t *testing.T) {
	var mu sync.Mutex
	var sums []RunSummary
	record := func(ctx context.Context, sum RunSummary) error {
		mu.Lock()
		defer mu.Unlock()
		sums = append(sums, sum)
		return nil
	}

	f := newFixture(2, WithRunRecorder(record))
	f.rec.setPage(0, "ok", nil)
	f.rec.setPage(1, "", errors.New("blurry"))

	f.orch.Start(1)
	f.waitIdle(t)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sums) == 1
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1), sums[0].DocumentID)
	assert.Equal(t, models.RunKindFull, sums[0].Kind)
	assert.Equal(t, 2, sums[0].PagesTotal)
	assert.Equal(t, 1, sums[0].PagesFailed)
}
