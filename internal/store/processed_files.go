package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProcessedFile is a row of the processed_file ledger, used by the
// watched-folder ingestion source to avoid re-indexing unchanged files.
type ProcessedFile struct {
	Path        string
	DocumentID  string
	ContentHash string
	ModifiedAt  time.Time
	ProcessedAt time.Time
}

// UpsertProcessedFile records that path has been ingested as DocumentID
// with the given content hash and mtime.
func (s *Store) UpsertProcessedFile(ctx context.Context, f *ProcessedFile) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO processed_file (path, document_id, content_hash, modified_at, processed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	document_id = excluded.document_id,
	content_hash = excluded.content_hash,
	modified_at = excluded.modified_at,
	processed_at = excluded.processed_at
`, f.Path, f.DocumentID, f.ContentHash, f.ModifiedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert processed file: %w", err)
	}

	return nil
}

// GetProcessedFile fetches the ledger entry for path, if any.
func (s *Store) GetProcessedFile(ctx context.Context, path string) (*ProcessedFile, error) {
	var f ProcessedFile

	err := s.DB.QueryRowContext(ctx, `
SELECT path, document_id, content_hash, modified_at, processed_at FROM processed_file WHERE path = ?`, path).
		Scan(&f.Path, &f.DocumentID, &f.ContentHash, &f.ModifiedAt, &f.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get processed file: %w", err)
	}

	return &f, nil
}

// DeleteProcessedFile removes a ledger entry, e.g. when a watched file is
// deleted from disk.
func (s *Store) DeleteProcessedFile(ctx context.Context, path string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM processed_file WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete processed file: %w", err)
	}

	return nil
}
