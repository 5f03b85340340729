// ABOUTME: PDF text extraction for uploaded documents
// ABOUTME: Wraps github.com/ledongthuc/pdf and reports every failure as ErrExtraction

// Package extract turns uploaded PDF bytes into the plain text that grounds a
// conversation. Extraction is all-or-nothing: a document that yields no text is
// an error rather than an empty context.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction is returned when a PDF cannot be turned into text.
var ErrExtraction = errors.New("extraction error")

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// Extractor turns a document into plain text.
type Extractor interface {
	Extract(r io.ReaderAt, size int64) (string, error)
}

// PDF extracts text from PDF files.
type PDF struct{}

// NewPDF creates a PDF extractor.
func NewPDF() *PDF {
	return &PDF{}
}

// Extract reads all pages of the PDF and returns their plain text, trimmed.
func (p *PDF) Extract(r io.ReaderAt, size int64) (text string, err error) {
	if size <= 0 {
		return "", fmt.Errorf("%w: empty file", ErrExtraction)
	}

	header := make([]byte, len(pdfMagic))
	if _, err := r.ReadAt(header, 0); err != nil || !bytes.Equal(header, pdfMagic) {
		return "", fmt.Errorf("%w: not a PDF file", ErrExtraction)
	}

	// The parser panics on some malformed inputs
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("%w: malformed PDF: %v", ErrExtraction, rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: opening PDF: %w", ErrExtraction, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: reading text: %w", ErrExtraction, err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("%w: reading text: %w", ErrExtraction, err)
	}

	text = strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: no extractable text", ErrExtraction)
	}
	return text, nil
}

var _ Extractor = (*PDF)(nil)
