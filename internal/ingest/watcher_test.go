package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/parser"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

func newTestSource(t *testing.T, root string, cfg Config) (*Source, *store.Store, *searchindex.Index) {
	t.Helper()

	logger := zerolog.Nop()

	s, err := store.New(context.Background(), ":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	idx, err := searchindex.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	w := docwriter.New(s, idx, &logger)

	cfg.Root = root

	src, err := New(s, w, parser.NewDispatcher(nil, &logger), cfg, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	return src, s, idx
}

func TestScanIngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("hello world"), 0o644))

	src, s, idx := newTestSource(t, dir, Config{})

	ctx := context.Background()
	require.NoError(t, src.Scan(ctx))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	ledger, err := s.GetProcessedFile(ctx, filepath.Join(dir, "note.md"))
	require.NoError(t, err)
	assert.NotEmpty(t, ledger.DocumentID)
}

func TestScanSkipsExtensionsNotIncluded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.bin"), []byte("hello"), 0o644))

	src, _, idx := newTestSource(t, dir, Config{Extensions: []string{".md"}})

	ctx := context.Background()
	require.NoError(t, src.Scan(ctx))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestIngestSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src, s, _ := newTestSource(t, dir, Config{})

	ctx := context.Background()
	require.NoError(t, src.Scan(ctx))

	before, err := s.GetProcessedFile(ctx, path)
	require.NoError(t, err)

	// Re-ingesting the same unchanged content should not rewrite the
	// ledger entry's hash.
	src.ingest(ctx, path)

	after, err := s.GetProcessedFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, before.ContentHash, after.ContentHash)
}

func TestIngestReingestsChangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src, s, _ := newTestSource(t, dir, Config{})

	ctx := context.Background()
	require.NoError(t, src.Scan(ctx))

	before, err := s.GetProcessedFile(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("hello world, now longer"), 0o644))
	src.ingest(ctx, path)

	after, err := s.GetProcessedFile(ctx, path)
	require.NoError(t, err)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)
}

func TestRunIngestsNewlyCreatedFile(t *testing.T) {
	dir := t.TempDir()
	src, s, idx := newTestSource(t, dir, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Scan(ctx))
	go src.Run(ctx)

	path := filepath.Join(dir, "fresh.md")
	require.NoError(t, os.WriteFile(path, []byte("brand new"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.GetProcessedFile(ctx, path); err == nil {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	_, err := s.GetProcessedFile(ctx, path)
	require.NoError(t, err)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRemoveDeletesDocumentAndLedgerEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src, s, idx := newTestSource(t, dir, Config{})

	ctx := context.Background()
	require.NoError(t, src.Scan(ctx))

	ledger, err := s.GetProcessedFile(ctx, path)
	require.NoError(t, err)

	src.remove(ctx, path)

	_, err = s.GetProcessedFile(ctx, path)
	assert.ErrorIs(t, err, store.ErrNotFound)

	contains, err := idx.Contains(ledger.DocumentID)
	require.NoError(t, err)
	assert.False(t, contains)
}
