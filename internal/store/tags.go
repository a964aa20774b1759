package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tag is a row of the tag table: a (label, value) pair, e.g.
// ("lens", "rust-docs") or ("source", "web").
type Tag struct {
	ID    int64
	Label string
	Value string
}

// EnsureTag returns the id of the (label, value) tag, inserting it if it
// doesn't already exist.
func (s *Store) EnsureTag(ctx context.Context, label, value string) (int64, error) {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tag (label, value) VALUES (?, ?) ON CONFLICT(label, value) DO NOTHING`, label, value)
	if err != nil {
		return 0, fmt.Errorf("ensure tag: %w", err)
	}

	var id int64

	err = s.DB.QueryRowContext(ctx, `SELECT id FROM tag WHERE label = ? AND value = ?`, label, value).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup tag: %w", err)
	}

	return id, nil
}

// FindTag looks up an existing (label, value) tag without creating one,
// for read paths like query filtering where a missing tag means "no
// matches" rather than "create it".
func (s *Store) FindTag(ctx context.Context, label, value string) (id int64, found bool, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id FROM tag WHERE label = ? AND value = ?`, label, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("find tag: %w", err)
	}

	return id, true, nil
}

// AttachTag associates a tag with a document, creating the tag if needed.
func (s *Store) AttachTag(ctx context.Context, documentID, label, value string) error {
	tagID, err := s.EnsureTag(ctx, label, value)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO document_tag (document_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, documentID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}

	return nil
}

// DetachTag removes a (label, value) tag from a document.
func (s *Store) DetachTag(ctx context.Context, documentID, label, value string) error {
	_, err := s.DB.ExecContext(ctx, `
DELETE FROM document_tag WHERE document_id = ? AND tag_id = (
	SELECT id FROM tag WHERE label = ? AND value = ?
)`, documentID, label, value)
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}

	return nil
}

// TagsForDocument returns every tag attached to a document.
func (s *Store) TagsForDocument(ctx context.Context, documentID string) ([]Tag, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.id, t.label, t.value
FROM tag t
JOIN document_tag dt ON dt.tag_id = t.id
WHERE dt.document_id = ?
ORDER BY t.label, t.value`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag

	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Label, &t.Value); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}

		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// DocumentIDsByTag returns every document id carrying the given
// (label, value) tag, used by the query engine for lens/tag filtering.
func (s *Store) DocumentIDsByTag(ctx context.Context, label, value string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT dt.document_id
FROM document_tag dt
JOIN tag t ON t.id = dt.tag_id
WHERE t.label = ? AND t.value = ?`, label, value)
	if err != nil {
		return nil, fmt.Errorf("query document ids by tag: %w", err)
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

// DocumentIDsByTagID returns every document id carrying the given tag id,
// for callers (internal/query's vector re-rank) that already resolved a
// tag to its id and don't need the (label, value) round trip.
func (s *Store) DocumentIDsByTagID(ctx context.Context, tagID uint64) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT document_id FROM document_tag WHERE tag_id = ?`, tagID)
	if err != nil {
		return nil, fmt.Errorf("query document ids by tag id: %w", err)
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
