package lensmodel

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

type fakeEnqueuer struct {
	urls []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, rawURL, _ string, _ int) error {
	f.urls = append(f.urls, rawURL)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	logger := zerolog.Nop()

	s, err := store.New(context.Background(), ":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func seedTestDocument(t *testing.T, ctx context.Context, s *store.Store, id, rawURL string) {
	t.Helper()

	require.NoError(t, s.UpsertDocument(ctx, &store.Document{
		ID: id, Source: "web", URL: rawURL, URLCanonical: rawURL,
		Title: "doc", Content: "content", Domain: "doc.rust-lang.org", OpenURL: rawURL,
	}))
}

func waitForTags(t *testing.T, ctx context.Context, s *store.Store, label, value string, n int) []string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for {
		ids, err := s.DocumentIDsByTag(ctx, label, value)
		require.NoError(t, err)

		if len(ids) >= n || time.Now().After(deadline) {
			return ids
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerInstallRetagsMatchingDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedTestDocument(t, ctx, s, "doc-1", "https://doc.rust-lang.org/std/vec/")
	seedTestDocument(t, ctx, s, "doc-2", "https://example.com/unrelated")

	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	lens, err := Compile(m)
	require.NoError(t, err)

	logger := zerolog.Nop()
	enq := &fakeEnqueuer{}
	mgr := NewManager(s, enq, &logger)

	require.NoError(t, mgr.Install(ctx, "/lenses/rust-docs.lens", lens))

	ids := waitForTags(t, ctx, s, "lens", "rust-docs", 1)
	assert.Equal(t, []string{"doc-1"}, ids)

	rec, err := s.GetLens(ctx, "rust-docs")
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
}

func TestManagerInstallEnqueuesSeeds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	lens, err := Compile(m)
	require.NoError(t, err)

	logger := zerolog.Nop()
	enq := &fakeEnqueuer{}
	mgr := NewManager(s, enq, &logger)

	require.NoError(t, mgr.Install(ctx, "/lenses/rust-docs.lens", lens))

	deadline := time.Now().Add(2 * time.Second)
	for len(enq.urls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	assert.Contains(t, enq.urls, "https://doc.rust-lang.org/")
}

func TestManagerUninstallUntagsDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedTestDocument(t, ctx, s, "doc-1", "https://doc.rust-lang.org/std/vec/")

	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	lens, err := Compile(m)
	require.NoError(t, err)

	logger := zerolog.Nop()
	enq := &fakeEnqueuer{}
	mgr := NewManager(s, enq, &logger)

	require.NoError(t, mgr.Install(ctx, "/lenses/rust-docs.lens", lens))
	waitForTags(t, ctx, s, "lens", "rust-docs", 1)

	require.NoError(t, mgr.Uninstall(ctx, lens))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ids, err := s.DocumentIDsByTag(ctx, "lens", "rust-docs")
		require.NoError(t, err)

		if len(ids) == 0 {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	ids, err := s.DocumentIDsByTag(ctx, "lens", "rust-docs")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.GetLens(ctx, "rust-docs")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
