package parser

import (
	"fmt"
	"os"

	"github.com/nguyenthenguyen/docx"

	"github.com/spyglass-search/spyglass-sub001/internal/queue"
)

// ParseDOCX extracts plain text from a DOCX document's bytes.
//
// nguyenthenguyen/docx only opens from a path, so body is staged to a
// temp file for the duration of the read.
//
// SUPPLEMENTED: the teacher never parses office documents; grounded on
// SPEC_FULL.md §11's domain-stack mapping.
func ParseDOCX(body []byte) (*queue.FetchResult, error) {
	tmp, err := os.CreateTemp("", "spyglass-*.docx")
	if err != nil {
		return nil, fmt.Errorf("stage docx: %w", err)
	}

	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(body); err != nil {
		return nil, fmt.Errorf("write docx temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close docx temp file: %w", err)
	}

	r, err := docx.ReadDocxFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	if len(content) < minContentLength {
		return nil, errContentTooShort
	}

	return &queue.FetchResult{Content: content}, nil
}
