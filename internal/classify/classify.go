// Package classify decides at ingestion time whether a document is a scan
// that needs OCR or already carries a usable text layer.
package classify

import "strings"

const (
	DefaultSamplePages  = 5
	DefaultMinTextChars = 16
)

// PageReader is the slice of the page text source the classifier needs.
type PageReader interface {
	PageCount() int
	NativeText(page int) (string, error)
}

type Classifier struct {
	// SamplePages is how many leading pages are inspected.
	SamplePages int
	// MinTextChars is the trimmed character count below which a page counts
	// as textless.
	MinTextChars int
}

// IsScanned reports whether the document looks like an image-only scan:
// every sampled page must be textless. Zero-page documents are never
// classified as scanned. This is a heuristic; a false negative just means
// the document is never queued for OCR, a false positive costs one
// unnecessary run.
func (c Classifier) IsScanned(doc PageReader) bool {
	sample := c.SamplePages
	if sample <= 0 {
		sample = DefaultSamplePages
	}
	minChars := c.MinTextChars
	if minChars <= 0 {
		minChars = DefaultMinTextChars
	}

	total := doc.PageCount()
	if total == 0 {
		return false
	}
	if sample > total {
		sample = total
	}

	for i := 0; i < sample; i++ {
		text, err := doc.NativeText(i)
		if err != nil {
			// An unreadable page cannot prove the document has text.
			continue
		}
		if len(strings.TrimSpace(text)) >= minChars {
			return false
		}
	}
	return true
}
