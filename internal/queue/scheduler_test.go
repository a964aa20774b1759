package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/ferrors"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

type stubFetcher struct {
	result *FetchResult
	err    error
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) (*FetchResult, error) {
	return f.result, f.err
}

type stubWriter struct {
	writes int
}

func (w *stubWriter) WriteWebDocument(_ context.Context, _ *store.CrawlTask, _ *FetchResult) error {
	w.writes++
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	logger := zerolog.Nop()

	s, err := store.New(context.Background(), ":memory:", &logger)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSchedulerEnqueueAndProcess(t *testing.T) {
	s := newTestStore(t)
	logger := zerolog.Nop()

	fetcher := &stubFetcher{result: &FetchResult{Title: "Example", Content: "hello world"}}
	writer := &stubWriter{}

	sched := New(s, fetcher, writer, Config{
		BatchSize:    10,
		MaxDepth:     2,
		ClaimTTL:     5 * time.Minute,
		RateLimitRPS: 100,
	}, &logger)

	ctx := context.Background()

	if err := sched.Enqueue(ctx, "https://example.com/a", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusQueued] != 1 {
		t.Fatalf("expected 1 queued task, got %d", stats[store.CrawlStatusQueued])
	}

	sched.processNextBatch(ctx)

	if writer.writes != 1 {
		t.Fatalf("expected 1 write, got %d", writer.writes)
	}

	stats, err = s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusCompleted] != 1 {
		t.Fatalf("expected 1 completed task, got %d", stats[store.CrawlStatusCompleted])
	}
}

func TestSchedulerEnqueueIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	logger := zerolog.Nop()

	sched := New(s, &stubFetcher{}, &stubWriter{}, Config{BatchSize: 10, RateLimitRPS: 100}, &logger)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := sched.Enqueue(ctx, "https://example.com/dup", "", 0); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	stats, err := s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusQueued] != 1 {
		t.Fatalf("expected enqueue to be idempotent, got %d queued", stats[store.CrawlStatusQueued])
	}
}

func TestSchedulerTransientErrorSchedulesBackoff(t *testing.T) {
	s := newTestStore(t)
	logger := zerolog.Nop()

	fetcher := &stubFetcher{err: ferrors.TransientFetch("https://example.com/a", 0, errors.New("dial timeout"))}
	sched := New(s, fetcher, &stubWriter{}, Config{BatchSize: 10, RateLimitRPS: 100, MaxRetries: 5}, &logger)

	ctx := context.Background()

	if err := sched.Enqueue(ctx, "https://example.com/a", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sched.processNextBatch(ctx)

	tasks, err := s.ListClaimable(ctx, 10, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListClaimable: %v", err)
	}

	if len(tasks) != 0 {
		t.Fatalf("expected the retried task to not be immediately claimable, got %d", len(tasks))
	}

	task, err := s.GetCrawlTask(ctx, urlnorm.DocID("https://example.com/a"))
	if err != nil {
		t.Fatalf("GetCrawlTask: %v", err)
	}

	if task.Status != store.CrawlStatusQueued {
		t.Fatalf("expected task to be re-queued, got status %s", task.Status)
	}

	if task.Retries != 1 {
		t.Fatalf("expected retries=1, got %d", task.Retries)
	}

	if task.NextAttemptAt == nil || !task.NextAttemptAt.After(time.Now().UTC()) {
		t.Fatalf("expected next_attempt_at scheduled in the future, got %v", task.NextAttemptAt)
	}
}

func TestSchedulerPermanentErrorFailsImmediately(t *testing.T) {
	s := newTestStore(t)
	logger := zerolog.Nop()

	fetcher := &stubFetcher{err: ferrors.PermanentFetch("https://example.com/gone", errors.New("404"))}
	sched := New(s, fetcher, &stubWriter{}, Config{BatchSize: 10, RateLimitRPS: 100}, &logger)

	ctx := context.Background()

	if err := sched.Enqueue(ctx, "https://example.com/gone", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sched.processNextBatch(ctx)

	stats, err := s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusFailed] != 1 {
		t.Fatalf("expected permanent error to fail immediately, got stats %v", stats)
	}
}

func TestSchedulerRateLimitCoolsDownDomain(t *testing.T) {
	s := newTestStore(t)
	logger := zerolog.Nop()

	fetcher := &stubFetcher{err: ferrors.RateLimited("https://slow.example.com/a", time.Minute, errors.New("429"))}
	sched := New(s, fetcher, &stubWriter{}, Config{BatchSize: 10, RateLimitRPS: 100}, &logger)

	ctx := context.Background()

	if err := sched.Enqueue(ctx, "https://slow.example.com/a", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sched.processNextBatch(ctx)

	counts, err := s.DomainInflightCounts(ctx)
	if err != nil {
		t.Fatalf("DomainInflightCounts: %v", err)
	}

	if len(counts) != 0 {
		t.Fatalf("expected no in-flight tasks after cooldown, got %v", counts)
	}

	claimable, err := s.ListClaimable(ctx, 10, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListClaimable: %v", err)
	}

	for _, task := range claimable {
		if task.Domain == "slow.example.com" {
			t.Fatalf("expected slow.example.com to be cooled down and excluded from claimable tasks")
		}
	}
}

func TestSchedulerRecrawlResetsCompletedTask(t *testing.T) {
	s := newTestStore(t)
	logger := zerolog.Nop()

	fetcher := &stubFetcher{result: &FetchResult{Title: "Example", Content: "hello world"}}
	sched := New(s, fetcher, &stubWriter{}, Config{BatchSize: 10, RateLimitRPS: 100}, &logger)

	ctx := context.Background()

	if err := sched.Enqueue(ctx, "https://example.com/b", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	sched.processNextBatch(ctx)

	stats, err := s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusCompleted] != 1 {
		t.Fatalf("expected task to complete before recrawl, got %v", stats)
	}

	// A plain re-enqueue of a Completed URL is a no-op.
	if err := sched.Enqueue(ctx, "https://example.com/b", "", 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err = s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusCompleted] != 1 || stats[store.CrawlStatusQueued] != 0 {
		t.Fatalf("expected plain re-enqueue of a completed url to be a no-op, got %v", stats)
	}

	if err := sched.Recrawl(ctx, "https://example.com/b", ""); err != nil {
		t.Fatalf("Recrawl: %v", err)
	}

	stats, err = s.CrawlQueueStats(ctx)
	if err != nil {
		t.Fatalf("CrawlQueueStats: %v", err)
	}

	if stats[store.CrawlStatusQueued] != 1 {
		t.Fatalf("expected recrawl to reset the completed task to queued, got %v", stats)
	}
}
