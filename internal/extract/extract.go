// Package extract walks every page of a text-bearing document and collects
// the native text layer, batching progress reports so long documents do not
// starve the host.
package extract

import (
	"context"
	"strings"

	"github.com/pagekeep/pagekeep/internal/models"
)

const DefaultBatchSize = 50

// PageReader is the slice of the page text source the extractor needs.
type PageReader interface {
	PageCount() int
	NativeText(page int) (string, error)
}

// ProgressFunc receives the number of pages processed so far and the total.
type ProgressFunc func(processed, total int)

// All walks page indices 0..PageCount and returns one entry per page with
// non-empty native text. Every batchSize pages, and unconditionally on the
// final page, onProgress is invoked and ctx is checked so the walk can be
// cancelled at batch boundaries. A single unreadable page is skipped, never
// aborts the walk. Safe to invoke concurrently for different documents; a
// single invocation is not re-entrant.
func All(ctx context.Context, doc PageReader, batchSize int, onProgress ProgressFunc) ([]models.PageText, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	total := doc.PageCount()
	var out []models.PageText

	for i := 0; i < total; i++ {
		text, err := doc.NativeText(i)
		if err != nil {
			text = ""
		}
		if strings.TrimSpace(text) != "" {
			out = append(out, models.PageText{PageNumber: i, Text: text})
		}

		if (i+1)%batchSize == 0 || i == total-1 {
			if onProgress != nil {
				onProgress(i+1, total)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}

	return out, nil
}
