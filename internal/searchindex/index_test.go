package searchindex

import (
	"testing"
	"time"
)

func TestUpsertAndSearch(t *testing.T) {
	idx, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer idx.Close()

	doc := &Document{
		ID:          "doc-1",
		Domain:      "example.com",
		URL:         "https://example.com/a",
		Title:       "Weeknotes about search engines",
		Description: "a short summary",
		Content:     "this week I built a little search engine for my notes and bookmarks",
		Tags:        []uint64{7},
		Published:   time.Now().UTC(),
	}

	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}

	if count != 1 {
		t.Fatalf("expected 1 document, got %d", count)
	}

	res, err := idx.Search("search engine")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(res.Hits) == 0 {
		t.Fatalf("expected at least one hit")
	}

	if res.Hits[0].DocID != "doc-1" {
		t.Fatalf("expected doc-1 to match, got %q", res.Hits[0].DocID)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	idx, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer idx.Close()

	doc := &Document{ID: "doc-1", Title: "first version", Content: "original content about gardening"}
	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc.Title = "second version"
	doc.Content = "rewritten content about astronomy"

	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}

	if count != 1 {
		t.Fatalf("expected upsert to replace, not duplicate, got %d docs", count)
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	idx, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer idx.Close()

	doc := &Document{ID: "doc-1", Title: "t", Content: "some content here for indexing"}
	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := idx.Delete("doc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}

	if count != 0 {
		t.Fatalf("expected 0 documents after delete, got %d", count)
	}
}

func TestSearchDiscardsNonPositiveScores(t *testing.T) {
	idx, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer idx.Close()

	doc := &Document{ID: "doc-1", Title: "unrelated", Content: "completely unrelated content about cooking"}
	if err := idx.Upsert(doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := idx.Search("zzzznonexistenttermzzzz")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(res.Hits) != 0 {
		t.Fatalf("expected no hits for a term absent from the corpus, got %d", len(res.Hits))
	}
}
