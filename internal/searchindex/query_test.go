package searchindex

import (
	"testing"
	"time"
)

func TestExplainMatchedDocument(t *testing.T) {
	idx, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer idx.Close()

	doc := &Document{
		ID:        "doc-1",
		Domain:    "example.com",
		URL:       "https://example.com/a",
		Title:     "Weeknotes about search engines",
		Content:   "this week I built a little search engine for my notes",
		Published: time.Now().UTC(),
	}

	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := idx.Explain("search engine", "doc-1")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}

	if !res.Matched {
		t.Fatal("expected doc-1 to match")
	}

	if res.Score <= 0 {
		t.Fatalf("expected a positive score, got %f", res.Score)
	}

	if res.Explanation == "" {
		t.Fatal("expected a non-empty explanation")
	}
}

func TestExplainUnmatchedDocument(t *testing.T) {
	idx, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer idx.Close()

	doc := &Document{
		ID:      "doc-1",
		Domain:  "example.com",
		URL:     "https://example.com/a",
		Title:   "Weeknotes",
		Content: "nothing relevant here",
	}

	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := idx.Explain("astrophysics", "doc-1")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}

	if res.Matched {
		t.Fatalf("expected no match, got score %f", res.Score)
	}
}
