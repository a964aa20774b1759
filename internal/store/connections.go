package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Connection is a row of the connection table: access/refresh tokens and
// scope bookkeeping for an authenticated external account.
type Connection struct {
	ID            string     `json:"id"`
	APIID         string     `json:"api_id"`
	Account       string     `json:"account"`
	AccessToken   string     `json:"-"`
	RefreshToken  string     `json:"-"`
	GrantedScopes string     `json:"granted_scopes"`
	GrantedAt     *time.Time `json:"granted_at,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	IsSyncing     bool       `json:"is_syncing"`
}

// UpsertConnection inserts or replaces a connection row.
func (s *Store) UpsertConnection(ctx context.Context, c *Connection) error {
	const q = `
INSERT INTO connection (id, api_id, account, access_token, refresh_token, granted_scopes, granted_at, last_synced_at, is_syncing)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(api_id, account) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	granted_scopes = excluded.granted_scopes,
	granted_at = excluded.granted_at
`
	_, err := s.DB.ExecContext(ctx, q, c.ID, c.APIID, c.Account, c.AccessToken, c.RefreshToken, c.GrantedScopes,
		fromTimePtr(c.GrantedAt), fromTimePtr(c.LastSyncedAt), boolToInt(c.IsSyncing))
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}

	return nil
}

// SetSyncing marks a connection's syncing state and, when finishing a
// sync, stamps last_synced_at.
func (s *Store) SetSyncing(ctx context.Context, id string, syncing bool) error {
	if syncing {
		_, err := s.DB.ExecContext(ctx, `UPDATE connection SET is_syncing = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("set syncing: %w", err)
		}

		return nil
	}

	_, err := s.DB.ExecContext(ctx,
		`UPDATE connection SET is_syncing = 0, last_synced_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear syncing: %w", err)
	}

	return nil
}

// GetConnection fetches a connection by (api_id, account).
func (s *Store) GetConnection(ctx context.Context, apiID, account string) (*Connection, error) {
	var (
		c            Connection
		grantedAt    sql.NullTime
		lastSyncedAt sql.NullTime
		isSyncing    int
	)

	err := s.DB.QueryRowContext(ctx, `
SELECT id, api_id, account, access_token, refresh_token, granted_scopes, granted_at, last_synced_at, is_syncing
FROM connection WHERE api_id = ? AND account = ?`, apiID, account).
		Scan(&c.ID, &c.APIID, &c.Account, &c.AccessToken, &c.RefreshToken, &c.GrantedScopes,
			&grantedAt, &lastSyncedAt, &isSyncing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	c.GrantedAt = toTimePtr(grantedAt)
	c.LastSyncedAt = toTimePtr(lastSyncedAt)
	c.IsSyncing = isSyncing != 0

	return &c, nil
}

// ListConnections returns every registered connection.
func (s *Store) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, api_id, account, access_token, refresh_token, granted_scopes, granted_at, last_synced_at, is_syncing
FROM connection ORDER BY api_id, account`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []Connection

	for rows.Next() {
		var (
			c            Connection
			grantedAt    sql.NullTime
			lastSyncedAt sql.NullTime
			isSyncing    int
		)

		if err := rows.Scan(&c.ID, &c.APIID, &c.Account, &c.AccessToken, &c.RefreshToken, &c.GrantedScopes,
			&grantedAt, &lastSyncedAt, &isSyncing); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}

		c.GrantedAt = toTimePtr(grantedAt)
		c.LastSyncedAt = toTimePtr(lastSyncedAt)
		c.IsSyncing = isSyncing != 0
		out = append(out, c)
	}

	return out, rows.Err()
}

// DeleteConnection revokes and removes a connection.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM connection WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}

	return nil
}
