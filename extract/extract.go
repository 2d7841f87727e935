package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	apperrors "graph-ingest/errors"
	"graph-ingest/source"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Document is the plain text of a retrieved binary.
type Document struct {
	Text  string
	Pages int
}

// NoDocument is returned when the upstream catalog has no binary attached.
var NoDocument = Document{}

// Found reports whether d came from an actual download.
func (d Document) Found() bool {
	return d != NoDocument
}

// Downloader retrieves a binary with a size cap. *source.Fetcher satisfies it.
type Downloader interface {
	GetBytes(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// pageSource is the part of a parsed PDF the extractor reads.
type pageSource interface {
	NumPage() int
	PageText(n int) (text string, ok bool, err error)
}

// Extractor downloads linked PDFs and converts them to text.
type Extractor struct {
	downloader Downloader
	maxBytes   int64
	logger     *zap.Logger

	open func(data []byte) (pageSource, error)
}

func NewExtractor(downloader Downloader, maxBytes int64, logger *zap.Logger) *Extractor {
	return &Extractor{
		downloader: downloader,
		maxBytes:   maxBytes,
		logger:     logger,
		open:       openPDF,
	}
}

// ExtractText returns NoDocument for an absent link. Download or parse
// failures are ErrExtraction.
func (e *Extractor) ExtractText(ctx context.Context, link source.DocumentLink) (Document, error) {
	if !link.Present() {
		return NoDocument, nil
	}

	data, err := e.downloader.GetBytes(ctx, link.Path(), e.maxBytes)
	if err != nil {
		return NoDocument, fmt.Errorf("%w: download %s: %w", apperrors.ErrExtraction, link.Path(), err)
	}

	doc, err := e.convert(data)
	if err != nil {
		return NoDocument, fmt.Errorf("%w: %s: %w", apperrors.ErrExtraction, link.Path(), err)
	}

	e.logger.Debug("PDF text extraction completed",
		zap.String("path", link.Path()),
		zap.Int("pages", doc.Pages),
		zap.Int("characters", len(doc.Text)))
	return doc, nil
}

// convert joins page texts in document order. The pdf package panics on
// some malformed inputs.
func (e *Extractor) convert(data []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	src, err := e.open(data)
	if err != nil {
		return NoDocument, fmt.Errorf("failed to open PDF: %w", err)
	}

	total := src.NumPage()
	texts := make([]string, 0, total)
	for pageNum := 1; pageNum <= total; pageNum++ {
		text, ok, err := src.PageText(pageNum)
		if !ok {
			e.logger.Debug("Skipping null page", zap.Int("page", pageNum))
			continue
		}
		if err != nil {
			return NoDocument, fmt.Errorf("page %d: %w", pageNum, err)
		}
		texts = append(texts, text)
	}
	return Document{Text: strings.Join(texts, "\n"), Pages: total}, nil
}

type pdfReader struct {
	r *pdf.Reader
}

func openPDF(data []byte) (pageSource, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return pdfReader{r: r}, nil
}

func (p pdfReader) NumPage() int { return p.r.NumPage() }

func (p pdfReader) PageText(n int) (string, bool, error) {
	page := p.r.Page(n)
	if page.V.IsNull() {
		return "", false, nil
	}
	text, err := page.GetPlainText(nil)
	return text, true, err
}
