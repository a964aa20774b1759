package query

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-search/spyglass-sub001/internal/embedding"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

func newTestEngine(t *testing.T, registry *embedding.Registry) (*Engine, *store.Store, *searchindex.Index) {
	t.Helper()

	logger := zerolog.Nop()

	s, err := store.New(context.Background(), ":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	idx, err := searchindex.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return New(s, idx, registry, &logger), s, idx
}

func seedDoc(t *testing.T, ctx context.Context, s *store.Store, idx *searchindex.Index, id, lens, content string) {
	t.Helper()

	doc := &store.Document{
		ID: id, Source: "web", URL: "https://example.com/" + id, URLCanonical: "https://example.com/" + id,
		Title: "doc " + id, Content: content, Domain: "example.com", OpenURL: "https://example.com/" + id,
	}
	require.NoError(t, s.UpsertDocument(ctx, doc))

	var tagIDs []uint64

	if lens != "" {
		tagID, err := s.EnsureTag(ctx, "lens", lens)
		require.NoError(t, err)
		require.NoError(t, s.AttachTag(ctx, id, "lens", lens))
		tagIDs = append(tagIDs, uint64(tagID))
	}

	require.NoError(t, idx.Upsert(&searchindex.Document{
		ID: id, Domain: doc.Domain, URL: doc.URL, Title: doc.Title, Content: doc.Content, Tags: tagIDs,
	}))
}

func TestSearchReturnsLexicalHits(t *testing.T) {
	ctx := context.Background()
	e, s, idx := newTestEngine(t, nil)

	seedDoc(t, ctx, s, idx, "doc-1", "", "rust ownership and borrowing explained")
	seedDoc(t, ctx, s, idx, "doc-2", "", "python list comprehensions")

	res, err := e.Search(ctx, Request{QueryString: "rust ownership"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	require.Equal(t, "doc-1", res.Hits[0].DocID)
	require.Equal(t, "https://example.com/doc-1", res.Hits[0].OpenURL)
}

func TestSearchLensFilterRestrictsResults(t *testing.T) {
	ctx := context.Background()
	e, s, idx := newTestEngine(t, nil)

	seedDoc(t, ctx, s, idx, "doc-1", "rust-docs", "rust ownership and borrowing explained")
	seedDoc(t, ctx, s, idx, "doc-2", "python-docs", "rust ownership is also mentioned here")

	res, err := e.Search(ctx, Request{QueryString: "rust ownership", LensFilters: []string{"rust-docs"}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.Equal(t, "doc-1", res.Hits[0].DocID)
}

func TestSearchUnknownLensFilterYieldsNoResults(t *testing.T) {
	ctx := context.Background()
	e, s, idx := newTestEngine(t, nil)

	seedDoc(t, ctx, s, idx, "doc-1", "", "rust ownership and borrowing explained")

	res, err := e.Search(ctx, Request{QueryString: "rust", LensFilters: []string{"never-installed"}})
	require.NoError(t, err)
	require.Empty(t, res.Hits)
}

func TestExplainReportsMatchAndLensFilter(t *testing.T) {
	ctx := context.Background()
	e, s, idx := newTestEngine(t, nil)

	seedDoc(t, ctx, s, idx, "doc-1", "rust-docs", "rust ownership and borrowing explained")

	result, err := e.Explain(ctx, Request{QueryString: "rust ownership"}, "doc-1")
	require.NoError(t, err)
	require.True(t, result.Matched)
	require.Positive(t, result.Score)

	result, err = e.Explain(ctx, Request{QueryString: "rust ownership", LensFilters: []string{"never-installed"}}, "doc-1")
	require.NoError(t, err)
	require.False(t, result.Matched)
}

func TestSearchWithVectorRerankDoesNotCrash(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	registry := embedding.NewRegistry(768, &logger)
	registry.Register(embedding.NewMockProviderWithDimensions(768), embedding.DefaultCircuitBreakerConfig())

	e, s, idx := newTestEngine(t, registry)

	seedDoc(t, ctx, s, idx, "doc-1", "", "rust ownership and borrowing explained")

	res, err := e.Search(ctx, Request{QueryString: "rust ownership"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
}
