package pdfextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"rsc.io/pdf"

	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

// ErrMalformed wraps parse failures. A file the reader cannot walk will
// never parse on retry.
var ErrMalformed = errors.New("malformed pdf")

// Extractor pulls per-page text out of a PDF with rsc.io/pdf. Scanned
// documents without a text layer come back as empty pages; there is no
// OCR here.
type Extractor struct {
	log *logger.Logger
}

func New(log *logger.Logger) (*Extractor, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	return &Extractor{log: log.With("service", "PDFExtractor")}, nil
}

// ExtractPages returns one text per page, in page order. The underlying
// reader panics on malformed structures, so the whole parse is fenced.
func (e *Extractor) ExtractPages(ctx context.Context, data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, pageText(reader.Page(i)))
	}
	e.log.Debug("pdf extracted", "pages", total)
	return pages, nil
}

// pageText reassembles reading order from glyph-run coordinates: rows
// top to bottom, runs left to right within a row.
func pageText(page pdf.Page) string {
	if page.V.IsNull() {
		return ""
	}
	runs := page.Content().Text
	if len(runs) == 0 {
		return ""
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Y != runs[j].Y {
			return runs[i].Y > runs[j].Y
		}
		return runs[i].X < runs[j].X
	})

	var b strings.Builder
	lastY := runs[0].Y
	lastEnd := 0.0
	for i, r := range runs {
		switch {
		case i == 0:
		case r.Y != lastY:
			b.WriteByte('\n')
		case r.X-lastEnd > r.FontSize/4:
			b.WriteByte(' ')
		}
		b.WriteString(r.S)
		lastY = r.Y
		lastEnd = r.X + r.W
	}
	return strings.TrimSpace(b.String())
}
