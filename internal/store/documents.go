package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Document is a row of indexed_document.
type Document struct {
	ID           string
	Source       string
	URL          string
	URLCanonical string
	Title        string
	Content      string
	Description  string
	Domain       string
	Favorited    bool
	PublishedAt  *time.Time
	IndexedAt    time.Time
	UpdatedAt    time.Time
	OpenURL      string
}

// UpsertDocument inserts or fully replaces a document row by id.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) error {
	const q = `
INSERT INTO indexed_document
	(id, source, url, url_canonical, title, content, description, domain, favorited, published_at, indexed_at, updated_at, open_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	content = excluded.content,
	description = excluded.description,
	domain = excluded.domain,
	published_at = excluded.published_at,
	updated_at = excluded.updated_at,
	open_url = excluded.open_url
`
	now := time.Now().UTC()
	if d.IndexedAt.IsZero() {
		d.IndexedAt = now
	}

	d.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx, q,
		d.ID, d.Source, d.URL, d.URLCanonical, d.Title, d.Content, d.Description, d.Domain,
		boolToInt(d.Favorited), fromTimePtr(d.PublishedAt), d.IndexedAt, d.UpdatedAt, d.OpenURL,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	return nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `
SELECT id, source, url, url_canonical, title, content, description, domain, favorited, published_at, indexed_at, updated_at, open_url
FROM indexed_document WHERE id = ?`

	row := s.DB.QueryRowContext(ctx, q, id)

	return scanDocument(row)
}

// GetDocumentByURL fetches a document by its canonical URL.
func (s *Store) GetDocumentByURL(ctx context.Context, canonicalURL string) (*Document, error) {
	const q = `
SELECT id, source, url, url_canonical, title, content, description, domain, favorited, published_at, indexed_at, updated_at, open_url
FROM indexed_document WHERE url_canonical = ?`

	row := s.DB.QueryRowContext(ctx, q, canonicalURL)

	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var (
		d           Document
		favorited   int
		publishedAt sql.NullTime
	)

	err := row.Scan(&d.ID, &d.Source, &d.URL, &d.URLCanonical, &d.Title, &d.Content, &d.Description,
		&d.Domain, &favorited, &publishedAt, &d.IndexedAt, &d.UpdatedAt, &d.OpenURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	d.Favorited = favorited != 0
	d.PublishedAt = toTimePtr(publishedAt)

	return &d, nil
}

// SetFavorited updates the favorited flag for a document.
func (s *Store) SetFavorited(ctx context.Context, id string, favorited bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE indexed_document SET favorited = ?, updated_at = ? WHERE id = ?`,
		boolToInt(favorited), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set favorited: %w", err)
	}

	return nil
}

// DocumentIDs returns every document id in the store, for startup
// reconciliation against the search index.
func (s *Store) DocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM indexed_document`)
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteDocument removes a document and its dependent rows (tags,
// embedding queue entries, vec_to_indexed chunk mappings and
// processed_file entries via cascading foreign keys). The vec_documents
// embedding rows those mappings pointed at are not deleted.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM indexed_document WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	return nil
}
