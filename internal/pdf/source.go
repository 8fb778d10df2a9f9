// Package pdf is the page text source: it opens a stored document and serves
// page count, native page text and page scan images to the classifier, the
// extractor and the OCR orchestrator.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Document is an open handle onto one PDF file. A handle serves a single
// extraction or OCR run and is not safe for concurrent use; concurrent runs
// on different documents each open their own handle.
type Document struct {
	path   string
	file   *os.File
	reader *lpdf.Reader
	pages  int
}

// Open acquires a handle on the document file. The caller owns the handle
// and must Close it on every exit path.
func Open(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat pdf: %w", err)
	}

	r, err := lpdf.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	return &Document{path: path, file: f, reader: r, pages: r.NumPage()}, nil
}

func (d *Document) PageCount() int { return d.pages }

// NativeText returns the extractable text layer of a zero-based page index.
// Pages without a text layer yield an empty string, not an error.
func (d *Document) NativeText(page int) (string, error) {
	if page < 0 || page >= d.pages {
		return "", fmt.Errorf("page %d out of range [0,%d)", page, d.pages)
	}

	p := d.reader.Page(page + 1)
	if p.V.IsNull() {
		return "", nil
	}

	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", page, err)
	}
	return text, nil
}

// PageImage returns the encoded bytes of the largest raster image on a
// zero-based page index. For scanned documents that is the full-page scan.
func (d *Document) PageImage(page int) ([]byte, error) {
	if page < 0 || page >= d.pages {
		return nil, fmt.Errorf("page %d out of range [0,%d)", page, d.pages)
	}

	outDir, err := os.MkdirTemp("", "pagekeep-img-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(d.path, outDir, []string{strconv.Itoa(page + 1)}, conf); err != nil {
		return nil, fmt.Errorf("extract page %d images: %w", page, err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read extracted images: %w", err)
	}

	var largest string
	var largestSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > largestSize {
			largest = e.Name()
			largestSize = info.Size()
		}
	}
	if largest == "" {
		return nil, fmt.Errorf("page %d has no image content", page)
	}

	data, err := os.ReadFile(filepath.Join(outDir, largest))
	if err != nil {
		return nil, fmt.Errorf("read page %d image: %w", page, err)
	}
	return data, nil
}

func (d *Document) Close() error {
	return d.file.Close()
}
