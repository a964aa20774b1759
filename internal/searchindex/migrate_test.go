package searchindex

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestOpenArchivesStaleSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index")

	idx, needsReindex, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if needsReindex {
		t.Fatalf("fresh index should not need a reindex")
	}

	if err := idx.Upsert(&Document{ID: "doc-1", Title: "t", Content: "some indexed content for the test"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := setSchemaVersion(idx.bleve, CurrentSchemaVersion-1); err != nil {
		t.Fatalf("force stale schema version: %v", err)
	}

	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2, needsReindex2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after schema bump: %v", err)
	}
	defer idx2.Close()

	if !needsReindex2 {
		t.Fatalf("expected stale schema to trigger a reindex")
	}

	count, err := idx2.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}

	if count != 0 {
		t.Fatalf("expected fresh index after migration to be empty, got %d docs", count)
	}

	archivePath := path + ".v" + strconv.Itoa(CurrentSchemaVersion-1) + ".bak"
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("expected archived index directory at %s: %v", archivePath, err)
	}
}
