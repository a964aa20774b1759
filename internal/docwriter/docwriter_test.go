package docwriter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/queue"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

func newTestWriter(t *testing.T) (*Writer, *store.Store, *searchindex.Index) {
	t.Helper()

	logger := zerolog.Nop()

	s, err := store.New(context.Background(), ":memory:", &logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	idx, err := searchindex.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}

	t.Cleanup(func() { idx.Close() })

	return New(s, idx, &logger), s, idx
}

func TestWriteWebDocumentUpsertsTagsAndIndex(t *testing.T) {
	w, s, idx := newTestWriter(t)
	ctx := context.Background()

	task := &store.CrawlTask{
		URL:          "https://example.com/post",
		URLCanonical: urlnorm.Canonicalize("https://example.com/post"),
		Domain:       "example.com",
		Lens:         "rust-docs",
	}

	result := &queue.FetchResult{
		Title:       "A Post",
		Content:     "enough content to satisfy the minimum content length check here",
		Description: "a summary",
		PublishedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	if err := w.WriteWebDocument(ctx, task, result); err != nil {
		t.Fatalf("WriteWebDocument: %v", err)
	}

	docID := urlnorm.DocID(task.URLCanonical)

	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}

	if doc.Title != "A Post" {
		t.Fatalf("expected title to be persisted, got %q", doc.Title)
	}

	tags, err := s.TagsForDocument(ctx, docID)
	if err != nil {
		t.Fatalf("TagsForDocument: %v", err)
	}

	foundLens := false

	for _, tag := range tags {
		if tag.Label == "lens" && tag.Value == "rust-docs" {
			foundLens = true
		}
	}

	if !foundLens {
		t.Fatalf("expected lens tag to be attached, got %v", tags)
	}

	present, err := idx.Contains(docID)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if !present {
		t.Fatalf("expected document to be indexed")
	}

	jobs, err := s.ClaimEmbeddingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimEmbeddingJobs: %v", err)
	}

	if len(jobs) != 1 || jobs[0].DocumentID != docID {
		t.Fatalf("expected an embedding job for %s, got %v", docID, jobs)
	}
}

func TestReconcileReindexesMissingEntries(t *testing.T) {
	w, s, idx := newTestWriter(t)
	ctx := context.Background()

	doc := &store.Document{
		ID:           "doc-missing",
		Source:       "web",
		URL:          "https://example.com/x",
		URLCanonical: "https://example.com/x",
		Title:        "Missing from index",
		Content:      "content present in the store but not yet in the search index",
		Domain:       "example.com",
	}

	if err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	if err := w.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	present, err := idx.Contains("doc-missing")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}

	if !present {
		t.Fatalf("expected Reconcile to re-index the orphaned store row")
	}
}

func TestSetFavoritedSyncsStoreAndIndex(t *testing.T) {
	w, s, _ := newTestWriter(t)
	ctx := context.Background()

	task := &store.CrawlTask{
		URL:          "https://example.com/fav",
		URLCanonical: urlnorm.Canonicalize("https://example.com/fav"),
		Domain:       "example.com",
	}

	result := &queue.FetchResult{
		Title:   "Favorite me",
		Content: "enough content to satisfy the minimum content length check here",
	}

	if err := w.WriteWebDocument(ctx, task, result); err != nil {
		t.Fatalf("WriteWebDocument: %v", err)
	}

	docID := urlnorm.DocID(task.URLCanonical)

	if err := w.SetFavorited(ctx, docID, true); err != nil {
		t.Fatalf("SetFavorited(true): %v", err)
	}

	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}

	if !doc.Favorited {
		t.Fatalf("expected document to be favorited in the store")
	}

	tags, err := s.TagsForDocument(ctx, docID)
	if err != nil {
		t.Fatalf("TagsForDocument: %v", err)
	}

	foundFavoriteTag := false

	for _, tag := range tags {
		if tag.Label == "favorited" && tag.Value == "true" {
			foundFavoriteTag = true
		}
	}

	if !foundFavoriteTag {
		t.Fatalf("expected favorited tag to be attached, got %v", tags)
	}

	if err := w.SetFavorited(ctx, docID, false); err != nil {
		t.Fatalf("SetFavorited(false): %v", err)
	}

	tags, err = s.TagsForDocument(ctx, docID)
	if err != nil {
		t.Fatalf("TagsForDocument: %v", err)
	}

	for _, tag := range tags {
		if tag.Label == "favorited" {
			t.Fatalf("expected favorited tag to be detached, got %v", tags)
		}
	}
}
