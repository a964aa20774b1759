package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/spyglass-search/spyglass-sub001/internal/queue"
)

// ParseXLSX flattens every sheet's rows into newline-delimited text.
//
// SUPPLEMENTED: the teacher never parses spreadsheets; grounded on
// SPEC_FULL.md §11's domain-stack mapping.
func ParseXLSX(body []byte) (*queue.FetchResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}

	content := b.String()
	if len(content) < minContentLength {
		return nil, errContentTooShort
	}

	return &queue.FetchResult{Content: content}, nil
}
