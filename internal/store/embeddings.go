package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Embedding queue status values.
const (
	EmbedStatusQueued     = "Queued"
	EmbedStatusProcessing = "Processing"
	EmbedStatusDone       = "Done"
	EmbedStatusError      = "Error"
)

// EmbeddingJob is a row of embedding_queue.
type EmbeddingJob struct {
	ID         int64
	DocumentID string
	Status     string
	Retries    int
	LastError  string
}

// EnqueueEmbedding stages a document for embedding after its content is
// written; per spec, a document's chunks are embedded asynchronously
// from indexing so the document writer never blocks on an embedding
// provider call.
func (s *Store) EnqueueEmbedding(ctx context.Context, documentID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO embedding_queue (document_id, status, created_at) VALUES (?, ?, ?)`,
		documentID, EmbedStatusQueued, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue embedding: %w", err)
	}

	return nil
}

// ClaimEmbeddingJobs returns up to count Queued jobs, oldest first. It is
// a plain SELECT: the jobs' status is left unchanged. The embedding
// worker claims jobs one at a time through ClaimOneEmbeddingJob.
func (s *Store) ClaimEmbeddingJobs(ctx context.Context, count int) ([]EmbeddingJob, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, document_id, status, retries, last_error FROM embedding_queue WHERE status = ? ORDER BY id LIMIT ?`,
		EmbedStatusQueued, count)
	if err != nil {
		return nil, fmt.Errorf("claim embedding jobs: %w", err)
	}
	defer rows.Close()

	var jobs []EmbeddingJob

	for rows.Next() {
		var j EmbeddingJob
		if err := rows.Scan(&j.ID, &j.DocumentID, &j.Status, &j.Retries, &j.LastError); err != nil {
			return nil, fmt.Errorf("scan embedding job: %w", err)
		}

		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

// CountEmbeddingJobsByStatus returns how many embedding_queue rows are
// currently in the given status, used by the worker to cap concurrent
// Processing jobs (spec.md §4.7).
func (s *Store) CountEmbeddingJobsByStatus(ctx context.Context, status string) (int, error) {
	var count int

	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_queue WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embedding jobs: %w", err)
	}

	return count, nil
}

// ClaimOneEmbeddingJob atomically transitions the oldest Queued job to
// Processing and returns it. Returns (nil, nil) if no job is queued.
func (s *Store) ClaimOneEmbeddingJob(ctx context.Context) (*EmbeddingJob, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim embedding job: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	var j EmbeddingJob

	err = tx.QueryRowContext(ctx,
		`SELECT id, document_id, status, retries, last_error FROM embedding_queue WHERE status = ? ORDER BY id LIMIT 1`,
		EmbedStatusQueued).Scan(&j.ID, &j.DocumentID, &j.Status, &j.Retries, &j.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("select queued embedding job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE embedding_queue SET status = ? WHERE id = ?`, EmbedStatusProcessing, j.ID); err != nil {
		return nil, fmt.Errorf("claim embedding job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim embedding job: %w", err)
	}

	j.Status = EmbedStatusProcessing

	return &j, nil
}

// CompleteEmbeddingJob deletes a finished embedding job.
func (s *Store) CompleteEmbeddingJob(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM embedding_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete embedding job: %w", err)
	}

	return nil
}

// FailEmbeddingJob increments the retry count and records the error;
// callers decide (per spec retry policy) when to stop retrying.
func (s *Store) FailEmbeddingJob(ctx context.Context, id int64, errMsg string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE embedding_queue SET retries = retries + 1, last_error = ? WHERE id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("fail embedding job: %w", err)
	}

	return nil
}

// RequeueEmbeddingJob sends a Processing job back to Queued for another
// attempt.
func (s *Store) RequeueEmbeddingJob(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE embedding_queue SET status = ? WHERE id = ?`, EmbedStatusQueued, id)
	if err != nil {
		return fmt.Errorf("requeue embedding job: %w", err)
	}

	return nil
}

// MarkEmbeddingJobFailed moves a job to its terminal Error status once
// the retry budget is exhausted.
func (s *Store) MarkEmbeddingJobFailed(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE embedding_queue SET status = ? WHERE id = ?`, EmbedStatusError, id)
	if err != nil {
		return fmt.Errorf("mark embedding job failed: %w", err)
	}

	return nil
}

// Chunk is one embedded segment of a document's content, with the byte
// offsets into the original content it was derived from.
type Chunk struct {
	Index       int
	StartOffset int
	EndOffset   int
	Embedding   []float32
}

// ReplaceVectors deletes any existing vector rows for documentID and
// inserts the given chunks, recording each chunk's byte-range offset in
// vec_to_indexed alongside the vec0 embedding row.
func (s *Store) ReplaceVectors(ctx context.Context, documentID, provider, model string, chunks []Chunk) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	existingRows, err := tx.QueryContext(ctx, `SELECT vec_rowid FROM vec_to_indexed WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("query existing vec rows: %w", err)
	}

	var staleRowIDs []int64

	for existingRows.Next() {
		var rowID int64
		if err := existingRows.Scan(&rowID); err != nil {
			existingRows.Close()
			return fmt.Errorf("scan existing vec rowid: %w", err)
		}

		staleRowIDs = append(staleRowIDs, rowID)
	}

	existingRows.Close()

	for _, rowID := range staleRowIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_documents WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("delete stale vec row: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_to_indexed WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete stale vec_to_indexed rows: %w", err)
	}

	for _, c := range chunks {
		blob, err := sqlite_vec.SerializeFloat32(c.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO vec_documents (embedding) VALUES (?)`, blob)
		if err != nil {
			return fmt.Errorf("insert vec row: %w", err)
		}

		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("vec row id: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO vec_to_indexed (vec_rowid, document_id, chunk_index, start_offset, end_offset, provider, model)
VALUES (?, ?, ?, ?, ?, ?, ?)`, rowID, documentID, c.Index, c.StartOffset, c.EndOffset, provider, model)
		if err != nil {
			return fmt.Errorf("insert vec_to_indexed row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector replace: %w", err)
	}

	return nil
}

// VectorMatch is a nearest-neighbor search hit.
type VectorMatch struct {
	DocumentID  string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	Distance    float64
}

// SearchVectors returns the topK nearest chunks to queryEmbedding.
func (s *Store) SearchVectors(ctx context.Context, queryEmbedding []float32, topK int) ([]VectorMatch, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT v.document_id, v.chunk_index, v.start_offset, v.end_offset, d.distance
FROM vec_documents d
JOIN vec_to_indexed v ON v.vec_rowid = d.rowid
WHERE d.embedding MATCH ? AND k = ?
ORDER BY d.distance
`, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch

	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.DocumentID, &m.ChunkIndex, &m.StartOffset, &m.EndOffset, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}

		matches = append(matches, m)
	}

	return matches, rows.Err()
}

var errDimensionMismatch = errors.New("store: vec_documents dimension mismatch")

// CheckVectorDimension verifies the existing vec_documents table was
// created with the expected embedding dimension. A mismatch means the
// target embedding model changed since the table was created; the caller
// must recreate vec_documents (outside goose, since its schema is
// parameterized by dimension) before resuming embedding.
func (s *Store) CheckVectorDimension(ctx context.Context, want int) error {
	var createSQL string

	err := s.DB.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE name = 'vec_documents'`).Scan(&createSQL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("check vector dimension: %w", err)
	}

	wantDecl := fmt.Sprintf("float[%d]", want)
	if !containsSubstring(createSQL, wantDecl) {
		return fmt.Errorf("%w: vec_documents not declared as %s (schema: %s)", errDimensionMismatch, wantDecl, createSQL)
	}

	return nil
}

func containsSubstring(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}

	return -1
}
