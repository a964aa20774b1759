package embedding

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

const testVectorDimension = 768

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	logger := zerolog.Nop()

	s, err := store.New(context.Background(), ":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func newTestRegistry(logger *zerolog.Logger) *Registry {
	reg := NewRegistry(testVectorDimension, logger)
	reg.Register(NewMockProviderWithDimensions(testVectorDimension), DefaultCircuitBreakerConfig())

	return reg
}

func TestWorkerProcessesQueuedJob(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	s := newTestStore(t)

	doc := &store.Document{
		ID:           "doc-1",
		Source:       "web",
		URL:          "https://example.com/a",
		URLCanonical: "https://example.com/a",
		Title:        "A",
		Content:      "this is the document content to embed",
		Domain:       "example.com",
	}
	require.NoError(t, s.UpsertDocument(ctx, doc))
	require.NoError(t, s.EnqueueEmbedding(ctx, doc.ID))

	w := NewWorker(s, newTestRegistry(&logger), &logger)
	w.tick(ctx)

	jobs, err := s.ClaimEmbeddingJobs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, jobs, "completed job should be removed from the queue")

	matches, err := s.SearchVectors(ctx, make([]float32, testVectorDimension), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, doc.ID, matches[0].DocumentID)
}

func TestWorkerRespectsProcessingCap(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	s := newTestStore(t)

	for i := 0; i < maxProcessingJobs; i++ {
		id := "doc-" + string(rune('a'+i))
		require.NoError(t, s.UpsertDocument(ctx, &store.Document{
			ID: id, Source: "web", URL: "https://example.com/" + id, URLCanonical: "https://example.com/" + id,
			Content: "content", Domain: "example.com",
		}))
		require.NoError(t, s.EnqueueEmbedding(ctx, id))
	}

	for i := 0; i < maxProcessingJobs; i++ {
		job, err := s.ClaimOneEmbeddingJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
	}

	w := NewWorker(s, newTestRegistry(&logger), &logger)
	w.tick(ctx) // should no-op: already at the processing cap

	count, err := s.CountEmbeddingJobsByStatus(ctx, store.EmbedStatusProcessing)
	require.NoError(t, err)
	require.Equal(t, maxProcessingJobs, count)
}
