package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LensRecord is a row of the lens table: the installed-lens bookkeeping
// that pairs with the on-disk manifest parsed by internal/lensmodel.
type LensRecord struct {
	Name         string    `json:"name"`
	ManifestPath string    `json:"manifest_path"`
	Author       string    `json:"author"`
	Description  string    `json:"description"`
	Version      string    `json:"version"`
	Enabled      bool      `json:"enabled"`
	InstalledAt  time.Time `json:"installed_at"`
}

// InstallLens records (or re-records) an installed lens.
func (s *Store) InstallLens(ctx context.Context, l *LensRecord) error {
	const q = `
INSERT INTO lens (name, manifest_path, author, description, version, enabled, installed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	manifest_path = excluded.manifest_path,
	author = excluded.author,
	description = excluded.description,
	version = excluded.version
`
	if l.InstalledAt.IsZero() {
		l.InstalledAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, q, l.Name, l.ManifestPath, l.Author, l.Description, l.Version,
		boolToInt(l.Enabled), l.InstalledAt)
	if err != nil {
		return fmt.Errorf("install lens: %w", err)
	}

	return nil
}

// SetLensEnabled toggles a lens on or off.
func (s *Store) SetLensEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE lens SET enabled = ? WHERE name = ?`, boolToInt(enabled), name)
	if err != nil {
		return fmt.Errorf("set lens enabled: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// UninstallLens removes a lens record.
func (s *Store) UninstallLens(ctx context.Context, name string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM lens WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("uninstall lens: %w", err)
	}

	return nil
}

// ListLenses returns every installed lens.
func (s *Store) ListLenses(ctx context.Context) ([]LensRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT name, manifest_path, author, description, version, enabled, installed_at
FROM lens ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list lenses: %w", err)
	}
	defer rows.Close()

	var out []LensRecord

	for rows.Next() {
		var l LensRecord

		var enabled int
		if err := rows.Scan(&l.Name, &l.ManifestPath, &l.Author, &l.Description, &l.Version, &enabled, &l.InstalledAt); err != nil {
			return nil, fmt.Errorf("scan lens: %w", err)
		}

		l.Enabled = enabled != 0
		out = append(out, l)
	}

	return out, rows.Err()
}

// GetLens fetches a single lens by name.
func (s *Store) GetLens(ctx context.Context, name string) (*LensRecord, error) {
	var l LensRecord

	var enabled int

	err := s.DB.QueryRowContext(ctx, `
SELECT name, manifest_path, author, description, version, enabled, installed_at
FROM lens WHERE name = ?`, name).
		Scan(&l.Name, &l.ManifestPath, &l.Author, &l.Description, &l.Version, &enabled, &l.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get lens: %w", err)
	}

	l.Enabled = enabled != 0

	return &l, nil
}
