package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Crawl task status values (closed enum, see spec CrawlTask status).
const (
	CrawlStatusQueued     = "Queued"
	CrawlStatusProcessing = "Processing"
	CrawlStatusCompleted  = "Completed"
	CrawlStatusFailed     = "Failed"
)

// Crawl task type values (closed enum, see spec CrawlTask crawl_type).
const (
	CrawlTypeNormal    = "Normal"
	CrawlTypeBootstrap = "Bootstrap"
	CrawlTypeApi       = "Api"
	CrawlTypeRecrawl   = "Recrawl"
)

// EnqueueSettings controls how Enqueue treats a URL that is already
// present in the queue, per spec.md's idempotent-enqueue invariant.
type EnqueueSettings struct {
	// ForceAllow bypasses lens/global allow-skip filtering (checked by
	// the caller before EnqueueCrawlURL is reached; kept here so the
	// whole contract travels together).
	ForceAllow bool

	// IsRecrawl resets an existing Completed row back to Queued instead
	// of leaving the duplicate enqueue a no-op.
	IsRecrawl bool

	// CrawlType records why this task exists (Normal, Bootstrap, Api,
	// Recrawl).
	CrawlType string

	// Tags are "label=value" pairs to attach to the resulting document,
	// stored alongside the task and applied by the writer.
	Tags []string
}

// CrawlTask is a row of crawl_queue.
type CrawlTask struct {
	ID            string
	URL           string
	URLCanonical  string
	Domain        string
	Lens          string
	Status        string
	Depth         int
	Retries       int
	LastError     string
	ClaimedAt     *time.Time
	ClaimedBy     string
	Version       int64
	CrawlType     string
	Tags          []string
	UpdatedAt     time.Time
	NextAttemptAt *time.Time
}

// EnqueueCrawlURL inserts a new Queued crawl task if url_canonical isn't
// already present. If it is present, the row is left alone unless
// settings.IsRecrawl and the row is Completed, in which case it is reset
// to Queued with its retry count cleared — the "is_recrawl" branch of
// spec.md's idempotent-enqueue invariant.
func (s *Store) EnqueueCrawlURL(ctx context.Context, id, url, canonicalURL, domain, lens string, depth int, settings EnqueueSettings) error {
	crawlType := settings.CrawlType
	if crawlType == "" {
		crawlType = CrawlTypeNormal
	}

	now := time.Now().UTC()
	isRecrawl := boolToInt(settings.IsRecrawl)

	_, err := s.DB.ExecContext(ctx, `
INSERT INTO crawl_queue (id, url, url_canonical, domain, lens, status, depth, crawl_type, tags, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url_canonical) DO UPDATE SET
    status          = CASE WHEN ? = 1 AND status = '`+CrawlStatusCompleted+`' THEN '`+CrawlStatusQueued+`' ELSE status END,
    retries         = CASE WHEN ? = 1 AND status = '`+CrawlStatusCompleted+`' THEN 0 ELSE retries END,
    last_error      = CASE WHEN ? = 1 AND status = '`+CrawlStatusCompleted+`' THEN '' ELSE last_error END,
    next_attempt_at = CASE WHEN ? = 1 AND status = '`+CrawlStatusCompleted+`' THEN NULL ELSE next_attempt_at END,
    updated_at      = CASE WHEN ? = 1 AND status = '`+CrawlStatusCompleted+`' THEN ? ELSE updated_at END
`, id, url, canonicalURL, domain, lens, CrawlStatusQueued, depth, crawlType, encodeTags(settings.Tags), now, now,
		isRecrawl, isRecrawl, isRecrawl, isRecrawl, isRecrawl, now)
	if err != nil {
		return fmt.Errorf("enqueue crawl url: %w", err)
	}

	return nil
}

// ListClaimable returns up to limit candidate rows (Queued and ready, or
// Processing but claimed past staleThreshold), ordered oldest-updated
// first so the scheduler's fairness pass sees the longest-waiting tasks
// first before applying per-domain caps.
func (s *Store) ListClaimable(ctx context.Context, limit int, staleThreshold time.Time) ([]CrawlTask, error) {
	now := time.Now().UTC()

	rows, err := s.DB.QueryContext(ctx, `
SELECT id, url, url_canonical, domain, lens, status, depth, retries, last_error, claimed_at, claimed_by, version,
       crawl_type, tags, updated_at, next_attempt_at
FROM crawl_queue
WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?) AND domain NOT IN (
           SELECT domain FROM domain_cooldown WHERE cooldown_until > ?
       ))
   OR (status = ? AND (claimed_at IS NULL OR claimed_at < ?))
ORDER BY updated_at ASC, id ASC
LIMIT ?
`, CrawlStatusQueued, now, now, CrawlStatusProcessing, staleThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list claimable tasks: %w", err)
	}
	defer rows.Close()

	var candidates []CrawlTask

	for rows.Next() {
		t, err := scanCrawlTask(rows)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, t)
	}

	return candidates, rows.Err()
}

// ClaimTask attempts to claim a single task via a version CAS, the same
// optimistic-locking shape as the teacher's Solr _version_ claim: if
// another worker claimed the row since it was listed, version no longer
// matches, RowsAffected is 0, and the claim fails without blocking.
func (s *Store) ClaimTask(ctx context.Context, id string, version int64, claimedBy string) (bool, error) {
	now := time.Now().UTC()

	res, err := s.DB.ExecContext(ctx, `
UPDATE crawl_queue
SET status = ?, claimed_at = ?, claimed_by = ?, updated_at = ?, version = version + 1
WHERE id = ? AND version = ?
`, CrawlStatusProcessing, now, claimedBy, now, id, version)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task %s rows affected: %w", id, err)
	}

	return n > 0, nil
}

func scanCrawlTask(rows *sql.Rows) (CrawlTask, error) {
	var (
		t             CrawlTask
		claimedAt     sql.NullTime
		nextAttemptAt sql.NullTime
		tags          string
	)

	if err := rows.Scan(&t.ID, &t.URL, &t.URLCanonical, &t.Domain, &t.Lens, &t.Status, &t.Depth,
		&t.Retries, &t.LastError, &claimedAt, &t.ClaimedBy, &t.Version,
		&t.CrawlType, &tags, &t.UpdatedAt, &nextAttemptAt); err != nil {
		return t, fmt.Errorf("scan crawl task: %w", err)
	}

	t.ClaimedAt = toTimePtr(claimedAt)
	t.NextAttemptAt = toTimePtr(nextAttemptAt)
	t.Tags = decodeTags(tags)

	return t, nil
}

// CompleteCrawlTask marks a task Completed.
func (s *Store) CompleteCrawlTask(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE crawl_queue SET status = ?, claimed_at = NULL, claimed_by = '', updated_at = ?, version = version + 1 WHERE id = ?`,
		CrawlStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete crawl task: %w", err)
	}

	return nil
}

// RetryCrawlTask resets a task to Queued with an incremented retry count,
// clears its claim, and schedules nextAttemptAt so the task isn't
// reclaimed before its exponential backoff delay elapses.
func (s *Store) RetryCrawlTask(ctx context.Context, id, errMsg string, retries int, nextAttemptAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE crawl_queue
SET status = ?, retries = ?, last_error = ?, claimed_at = NULL, claimed_by = '', updated_at = ?, next_attempt_at = ?, version = version + 1
WHERE id = ?
`, CrawlStatusQueued, retries, errMsg, time.Now().UTC(), nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("retry crawl task: %w", err)
	}

	return nil
}

// FailCrawlTask marks a task as a terminal Failed after retries are
// exhausted, a permanent (non-retryable) error, or a hard parse failure.
func (s *Store) FailCrawlTask(ctx context.Context, id, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE crawl_queue SET status = ?, last_error = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		CrawlStatusFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail crawl task: %w", err)
	}

	return nil
}

// CooldownDomain pushes every Queued row under domain out to at least
// until, used when a fetch gets a 429 with a Retry-After header so the
// whole domain backs off rather than just the one task.
func (s *Store) CooldownDomain(ctx context.Context, domain string, until time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO domain_cooldown (domain, cooldown_until) VALUES (?, ?)
ON CONFLICT(domain) DO UPDATE SET cooldown_until = excluded.cooldown_until
`, domain, until)
	if err != nil {
		return fmt.Errorf("cooldown domain: %w", err)
	}

	return nil
}

// GetCrawlTask fetches a single task by id, used to re-verify a claim is
// still held by this worker before doing expensive fetch/parse work.
func (s *Store) GetCrawlTask(ctx context.Context, id string) (*CrawlTask, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, url, url_canonical, domain, lens, status, depth, retries, last_error, claimed_at, claimed_by, version,
       crawl_type, tags, updated_at, next_attempt_at
FROM crawl_queue WHERE id = ?`, id)

	var (
		t             CrawlTask
		claimedAt     sql.NullTime
		nextAttemptAt sql.NullTime
		tags          string
	)

	err := row.Scan(&t.ID, &t.URL, &t.URLCanonical, &t.Domain, &t.Lens, &t.Status, &t.Depth,
		&t.Retries, &t.LastError, &claimedAt, &t.ClaimedBy, &t.Version,
		&t.CrawlType, &tags, &t.UpdatedAt, &nextAttemptAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get crawl task: %w", err)
	}

	t.ClaimedAt = toTimePtr(claimedAt)
	t.NextAttemptAt = toTimePtr(nextAttemptAt)
	t.Tags = decodeTags(tags)

	return &t, nil
}

// CrawlQueueStats returns the count of tasks in each status.
func (s *Store) CrawlQueueStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("crawl queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		CrawlStatusQueued:     0,
		CrawlStatusProcessing: 0,
		CrawlStatusCompleted:  0,
		CrawlStatusFailed:     0,
	}

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan crawl queue stats: %w", err)
		}

		stats[status] = count
	}

	return stats, rows.Err()
}

// DomainInflightCounts returns the current Processing-row count per
// domain, used by the scheduler's selection policy to enforce
// inflight_domain_limit without an in-memory counter that could drift
// from the store after a crash.
func (s *Store) DomainInflightCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT domain, COUNT(*) FROM crawl_queue WHERE status = ? GROUP BY domain`, CrawlStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("domain inflight counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			domain string
			count  int
		)

		if err := rows.Scan(&domain, &count); err != nil {
			return nil, fmt.Errorf("scan domain inflight counts: %w", err)
		}

		counts[domain] = count
	}

	return counts, rows.Err()
}

// RequeueDomain resets every crawl_queue row under domain that is not
// currently Processing back to Queued, clearing its claim and error
// state, so the scheduler picks the domain's pages up again on its next
// batch. Rows mid-fetch are left alone rather than yanked out from under
// the worker holding them. Returns the number of rows reset.
func (s *Store) RequeueDomain(ctx context.Context, domain string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE crawl_queue
SET status = ?, retries = 0, last_error = '', claimed_at = NULL, claimed_by = '', updated_at = ?, next_attempt_at = NULL, version = version + 1
WHERE domain = ? AND status != ?
`, CrawlStatusQueued, time.Now().UTC(), domain, CrawlStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("requeue domain: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue domain rows affected: %w", err)
	}

	return n, nil
}

// EnqueueBootstrap stages a URL in the bootstrap queue rather than
// directly in crawl_queue, so that installing a lens with thousands of
// seed URLs doesn't flood the scheduler in a single tick.
func (s *Store) EnqueueBootstrap(ctx context.Context, url, lens string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO bootstrap_queue (url, lens, created_at) VALUES (?, ?, ?)`,
		url, lens, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue bootstrap: %w", err)
	}

	return nil
}

// DrainBootstrap pops up to count rows from the bootstrap queue for the
// caller to promote into crawl_queue.
func (s *Store) DrainBootstrap(ctx context.Context, count int) ([]struct {
	ID   int64
	URL  string
	Lens string
}, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, url, lens FROM bootstrap_queue ORDER BY id LIMIT ?`, count)
	if err != nil {
		return nil, fmt.Errorf("drain bootstrap: %w", err)
	}
	defer rows.Close()

	var out []struct {
		ID   int64
		URL  string
		Lens string
	}

	for rows.Next() {
		var item struct {
			ID   int64
			URL  string
			Lens string
		}

		if err := rows.Scan(&item.ID, &item.URL, &item.Lens); err != nil {
			return nil, fmt.Errorf("scan bootstrap row: %w", err)
		}

		out = append(out, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, item := range out {
		if _, err := s.DB.ExecContext(ctx, `DELETE FROM bootstrap_queue WHERE id = ?`, item.ID); err != nil {
			return nil, fmt.Errorf("delete drained bootstrap row: %w", err)
		}
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func encodeTags(tags []string) string {
	return strings.Join(tags, "\x1f")
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}

	return strings.Split(raw, "\x1f")
}
