package parser

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/spyglass-search/spyglass-sub001/internal/queue"
)

// ParsePDF extracts plain text from a PDF document's bytes.
//
// SUPPLEMENTED: the teacher never parses PDFs; this is grounded on
// SPEC_FULL.md §11's domain-stack mapping of PDF ingestion to
// github.com/ledongthuc/pdf.
func ParsePDF(body []byte) (*queue.FetchResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, text); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	content := buf.String()
	if len(content) < minContentLength {
		return nil, errContentTooShort
	}

	return &queue.FetchResult{Content: content}, nil
}
