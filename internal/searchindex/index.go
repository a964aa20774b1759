// Package searchindex wraps a Bleve inverted index with the spec's field
// schema, custom tokenizer pipeline, and schema-version migration.
//
// The teacher has no lexical index of its own (it runs against a hosted
// Solr cluster); the SearchOption functional-option shape of
// internal/core/solr/client.go is kept as the idiom for Query, reworked
// onto Bleve. Schema-archive-on-mismatch is a SUPPLEMENTED feature (see
// DESIGN.md / SPEC_FULL.md §12), grounded on original_source's
// migrate_search_schema.
package searchindex

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// CurrentSchemaVersion is bumped whenever the field schema or analyzer
// pipeline changes incompatibly with documents already on disk.
const CurrentSchemaVersion = 1

const schemaVersionKey = "_schema_version"

// Index is a thin wrapper over a bleve.Index carrying the Spyglass schema.
type Index struct {
	bleve bleve.Index
	path  string
}

// Open opens the index at path, creating it if absent. If an existing
// index's schema version doesn't match CurrentSchemaVersion, the old
// index directory is archived to "<path>.v<old>.bak" and a fresh index is
// created in its place; needsReindex reports this so the caller can
// re-populate it from the store (the index is not itself the source of
// truth — indexed_document rows are).
func Open(path string) (idx *Index, needsReindex bool, err error) {
	m, err := buildMapping()
	if err != nil {
		return nil, false, fmt.Errorf("build index mapping: %w", err)
	}

	b, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		b, err = bleve.New(path, m)
		if err != nil {
			return nil, false, fmt.Errorf("create index: %w", err)
		}

		if err := setSchemaVersion(b, CurrentSchemaVersion); err != nil {
			return nil, false, err
		}

		return &Index{bleve: b, path: path}, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("open index: %w", err)
	}

	version, verr := getSchemaVersion(b)
	if verr == nil && version == CurrentSchemaVersion {
		return &Index{bleve: b, path: path}, false, nil
	}

	b.Close()

	archivePath := fmt.Sprintf("%s.v%d.bak", path, version)

	os.RemoveAll(archivePath)

	if err := os.Rename(path, archivePath); err != nil {
		return nil, false, fmt.Errorf("archive stale index: %w", err)
	}

	fresh, err := bleve.New(path, m)
	if err != nil {
		return nil, false, fmt.Errorf("create index after migration: %w", err)
	}

	if err := setSchemaVersion(fresh, CurrentSchemaVersion); err != nil {
		return nil, false, err
	}

	return &Index{bleve: fresh, path: path}, true, nil
}

// OpenInMemory opens a transient, non-persisted index, for tests.
func OpenInMemory() (*Index, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	b, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create in-memory index: %w", err)
	}

	return &Index{bleve: b}, nil
}

func (i *Index) Close() error {
	return i.bleve.Close()
}

func getSchemaVersion(b bleve.Index) (int, error) {
	raw, err := b.GetInternal([]byte(schemaVersionKey))
	if err != nil {
		return 0, err
	}

	if raw == nil {
		return 0, nil
	}

	return strconv.Atoi(string(raw))
}

func setSchemaVersion(b bleve.Index, version int) error {
	if err := b.SetInternal([]byte(schemaVersionKey), []byte(strconv.Itoa(version))); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	return nil
}

// Document is the indexed representation of a store.Document, per
// spec.md §4.5's field list.
type Document struct {
	ID           string
	Domain       string
	URL          string
	Title        string
	Description  string
	Content      string
	Tags         []uint64
	Published    time.Time
	LastModified time.Time
}

type indexDoc struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Content      string    `json:"content"`
	Tags         []uint64  `json:"tags"`
	Published    time.Time `json:"published"`
	LastModified time.Time `json:"lastmodified"`
}

// Upsert deletes any existing document with the same id and indexes a
// fresh one, per spec.md §4.4 step 3.
func (i *Index) Upsert(doc *Document) error {
	// Deleting a nonexistent id is a no-op in bleve, so there's nothing
	// worth checking here before the re-index below.
	_ = i.bleve.Delete(doc.ID)

	d := indexDoc{
		ID:           doc.ID,
		Domain:       doc.Domain,
		URL:          doc.URL,
		Title:        doc.Title,
		Description:  doc.Description,
		Content:      doc.Content,
		Tags:         doc.Tags,
		Published:    doc.Published,
		LastModified: doc.LastModified,
	}

	if err := i.bleve.Index(doc.ID, d); err != nil {
		return fmt.Errorf("index document: %w", err)
	}

	return nil
}

// Delete removes a document from the index, if present.
func (i *Index) Delete(id string) error {
	if err := i.bleve.Delete(id); err != nil {
		return fmt.Errorf("delete from index: %w", err)
	}

	return nil
}

// DocCount reports how many documents the index currently holds, used by
// the startup reconciliation pass to decide whether a full reindex is
// needed.
func (i *Index) DocCount() (uint64, error) {
	return i.bleve.DocCount()
}

// Contains reports whether id has an index entry.
func (i *Index) Contains(id string) (bool, error) {
	doc, err := i.bleve.Document(id)
	if err != nil {
		return false, fmt.Errorf("lookup document: %w", err)
	}

	return doc != nil, nil
}

// allDocIDsPageSize bounds each search request Reconcile's reverse pass
// issues while paging through the whole index.
const allDocIDsPageSize = 1000

// AllDocIDs enumerates every document id currently in the index, paging
// through a match-all query rather than loading the whole index at once.
// Used by Reconcile's reverse pass to find index entries with no matching
// store row.
func (i *Index) AllDocIDs() ([]string, error) {
	var ids []string

	from := 0

	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), allDocIDsPageSize, from, false)
		req.Fields = nil

		result, err := i.bleve.Search(req)
		if err != nil {
			return nil, fmt.Errorf("search all doc ids: %w", err)
		}

		if len(result.Hits) == 0 {
			break
		}

		for _, hit := range result.Hits {
			ids = append(ids, hit.ID)
		}

		from += len(result.Hits)

		if uint64(from) >= result.Total {
			break
		}
	}

	return ids, nil
}
