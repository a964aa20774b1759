// Package queue implements the crawl queue state machine and the
// scheduler that drains it: claiming tasks, dispatching them to a
// fetcher/parser/writer pipeline, and re-enqueueing discovered links.
//
// Grounded on internal/crawler/crawler.go's Run/seedQueue/maybeReseed/
// processNextBatch/processURL, with Solr's work-queue-over-HTTP replaced
// by internal/store's embedded SQLite crawl_queue and the optimistic
// _version_ claim replaced by a SQLite CAS (internal/store.ClaimTask).
// The concurrent worker pool is grounded on the blueprints-search
// crawler's errgroup-bounded worker loop (golang.org/x/sync/errgroup).
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spyglass-search/spyglass-sub001/internal/ferrors"
	"github.com/spyglass-search/spyglass-sub001/internal/lensmodel"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/observability"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/settings"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/worker"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

const (
	// defaultMaxRetries is spec.md §4.1's default max_retries before a
	// task is marked terminally Failed.
	defaultMaxRetries = 5

	maxErrorMsgLen  = 500
	claimMultiplier = 2

	reseedLowWaterMark = 1

	// Exponential backoff schedule for retried tasks: base 30s, doubling
	// per retry, capped at 1h, with +-20% jitter so a burst of tasks that
	// fail together doesn't all retry in lockstep.
	backoffBase   = 30 * time.Second
	backoffCap    = time.Hour
	backoffJitter = 0.2

	// defaultInflightDomainLimit mirrors rpcserver's userSettings default
	// when inflight_domain_limit has never been explicitly set.
	defaultInflightDomainLimit = 1

	defaultWorkerPoolSize = 4
)

// FetchResult is what a Fetcher produces for a single task.
type FetchResult struct {
	Title       string
	Content     string
	Description string
	Language    string
	PublishedAt time.Time

	// OpenURL is the final post-redirect URL, when it differs from the
	// task's original URL (e.g. an http->https redirect or canonical
	// domain move). Empty means it didn't change.
	OpenURL string

	// Links are same-page <a> links; only followed when they share the
	// source URL's domain.
	Links []string

	// DiscoveredLinks are entries found via structured discovery (RSS/Atom
	// feed items, sitemap <loc> entries) and are always followed
	// regardless of domain, per the feeds -> sitemaps -> links ordering.
	DiscoveredLinks []string
}

// Fetcher retrieves and extracts content for a URL. Implemented by
// internal/fetcher combined with internal/parser.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchResult, error)
}

// Writer persists extracted content into the store and search index.
// Implemented by internal/docwriter.
type Writer interface {
	WriteWebDocument(ctx context.Context, task *store.CrawlTask, result *FetchResult) error
}

// Scheduler is the sole consumer of the crawl queue.
type Scheduler struct {
	store    *store.Store
	fetcher  Fetcher
	writer   Writer
	limiter  *rate.Limiter
	logger   *zerolog.Logger
	cfg      Config
	workerID string
	seeds    []string
	lenses   map[string]*lensmodel.Lens

	lastReseed time.Time

	// paused gates processNextBatch; toggled via SetPaused (the
	// toggle_pause RPC method). Reseeding/bootstrap draining keep
	// running while paused, only fetch dispatch stops.
	paused atomic.Bool
}

// Config configures scheduler timing and limits.
type Config struct {
	BatchSize    int
	MaxDepth     int
	ClaimTTL     time.Duration
	RateLimitRPS float64
	TickInterval time.Duration
	ReseedCheck  time.Duration

	// MaxRetries caps how many times a transient failure is retried
	// before a task is marked terminally Failed. Zero means
	// defaultMaxRetries (spec.md §4.1's default of 5).
	MaxRetries int

	// WorkerPoolSize bounds how many tasks a single processNextBatch call
	// fetches concurrently. Zero means defaultWorkerPoolSize.
	WorkerPoolSize int
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}

	return defaultMaxRetries
}

func (c Config) workerPoolSize() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}

	return defaultWorkerPoolSize
}

// New constructs a Scheduler.
func New(s *store.Store, f Fetcher, w Writer, cfg Config, logger *zerolog.Logger) *Scheduler {
	workerID := os.Getenv("SPYGLASS_WORKER_ID")
	if workerID == "" {
		workerID = fmt.Sprintf("spyglass-%d", os.Getpid())
	}

	return &Scheduler{
		store:    s,
		fetcher:  f,
		writer:   w,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		logger:   logger,
		cfg:      cfg,
		workerID: workerID,
		lenses:   make(map[string]*lensmodel.Lens),
	}
}

// SeedURLs registers seed URLs to be enqueued on startup and whenever the
// queue runs dry.
func (s *Scheduler) SeedURLs(urls []string) { s.seeds = urls }

// RegisterLens makes a compiled lens available for LimitURLDepth/SkipURL
// enforcement when the scheduler discovers links under that lens.
func (s *Scheduler) RegisterLens(name string, lens *lensmodel.Lens) { s.lenses[name] = lens }

// UnregisterLens removes a lens's compiled rules, e.g. on uninstall. A
// lens not currently registered is a no-op.
func (s *Scheduler) UnregisterLens(name string) { delete(s.lenses, name) }

// SetPaused pauses or resumes crawl dispatch. While paused, processNextBatch
// claims nothing and returns immediately; already-claimed tasks in flight
// still complete.
func (s *Scheduler) SetPaused(paused bool) { s.paused.Store(paused) }

// Paused reports the current pause state.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Run runs the scheduler loop until ctx is canceled, using the teacher's
// ticker-worker idiom (internal/platform/worker.TickerLoop).
func (s *Scheduler) Run(ctx context.Context) error {
	return worker.TickerLoop(ctx, worker.TickerConfig{
		Name:   "crawl-scheduler",
		Logger: s.logger,
		OnStart: func(ctx context.Context) {
			s.seedQueue(ctx)
		},
		Tasks: []worker.TickerTask{
			{
				Name:     "process-batch",
				Interval: s.cfg.TickInterval,
				Run:      s.processNextBatch,
			},
			{
				Name:     "reseed",
				Interval: s.cfg.ReseedCheck,
				Run:      s.maybeReseed,
			},
		},
	})
}

func (s *Scheduler) seedQueue(ctx context.Context) {
	if len(s.seeds) == 0 {
		return
	}

	s.logger.Info().Int("count", len(s.seeds)).Msg("seeding crawl queue")

	for _, seedURL := range s.seeds {
		if err := s.Enqueue(ctx, seedURL, "", 0); err != nil {
			s.logger.Warn().Err(err).Str("url", seedURL).Msg("failed to enqueue seed url")
		}
	}

	s.lastReseed = time.Now()
}

func (s *Scheduler) maybeReseed(ctx context.Context) {
	stats, err := s.store.CrawlQueueStats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to check queue stats")
		return
	}

	for status, count := range stats {
		observability.CrawlQueueDepth.WithLabelValues(status).Set(float64(count))
	}

	if stats[store.CrawlStatusQueued] < reseedLowWaterMark {
		s.seedQueue(ctx)
	}

	s.drainBootstrap(ctx)
}

// drainBootstrap promotes a bounded number of staged bootstrap rows into
// crawl_queue per tick, so installing a lens with thousands of seed URLs
// doesn't flood the queue in one pass.
func (s *Scheduler) drainBootstrap(ctx context.Context) {
	const batchSize = 200

	items, err := s.store.DrainBootstrap(ctx, batchSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to drain bootstrap queue")
		return
	}

	for _, item := range items {
		if err := s.EnqueueWithSettings(ctx, item.URL, item.Lens, 0, store.EnqueueSettings{CrawlType: store.CrawlTypeBootstrap}); err != nil {
			s.logger.Debug().Err(err).Str("url", item.URL).Msg("failed to promote bootstrap url")
		}
	}
}

// Enqueue adds a URL to the crawl queue if it isn't already present,
// applying the named lens's SkipURL/LimitURLDepth rules if one is given.
// It is equivalent to EnqueueWithSettings with the zero EnqueueSettings
// (normal crawl type, no force-allow, no recrawl reset).
func (s *Scheduler) Enqueue(ctx context.Context, rawURL, lens string, depth int) error {
	return s.EnqueueWithSettings(ctx, rawURL, lens, depth, store.EnqueueSettings{})
}

// EnqueueWithSettings adds a URL to the crawl queue under the given
// EnqueueSettings{force_allow, is_recrawl, crawl_type, tags} contract
// (spec.md's idempotent-enqueue invariant): lens filtering is skipped
// when ForceAllow is set, and a duplicate of an already-Completed URL is
// reset back to Queued only when IsRecrawl is set — otherwise the
// duplicate enqueue is a no-op.
func (s *Scheduler) EnqueueWithSettings(ctx context.Context, rawURL, lens string, depth int, es store.EnqueueSettings) error {
	if !es.ForceAllow && lens != "" {
		if l, ok := s.lenses[lens]; ok && !l.Matches(rawURL, depth) {
			return nil
		}
	}

	canonical := urlnorm.Canonicalize(rawURL)
	id := urlnorm.DocID(rawURL)
	domain := urlnorm.Domain(rawURL)

	if err := s.store.EnqueueCrawlURL(ctx, id, rawURL, canonical, domain, lens, depth, es); err != nil {
		return fmt.Errorf("enqueue url: %w", err)
	}

	return nil
}

// BootstrapSeed stages a URL for rate-limited promotion into the crawl
// queue, used when a lens is installed with a large seed list.
func (s *Scheduler) BootstrapSeed(ctx context.Context, rawURL, lens string) error {
	if err := s.store.EnqueueBootstrap(ctx, rawURL, lens); err != nil {
		return fmt.Errorf("bootstrap seed: %w", err)
	}

	return nil
}

// Recrawl re-enqueues rawURL as an immediate Queued task regardless of
// its current status, satisfying the EnqueueSettings.is_recrawl branch
// directly (as opposed to RequeueDomain's bulk domain-level reset).
func (s *Scheduler) Recrawl(ctx context.Context, rawURL, lens string) error {
	return s.EnqueueWithSettings(ctx, rawURL, lens, 0, store.EnqueueSettings{
		ForceAllow: true,
		IsRecrawl:  true,
		CrawlType:  store.CrawlTypeRecrawl,
	})
}

func (s *Scheduler) processNextBatch(ctx context.Context) {
	if s.paused.Load() {
		return
	}

	tasks := s.claimBatch(ctx)
	if len(tasks) == 0 {
		return
	}

	s.logger.Debug().Int("count", len(tasks)).Msg("processing crawl batch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.workerPoolSize())

	for i := range tasks {
		task := &tasks[i]

		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return nil //nolint:nilerr // ctx canceled, not a task failure
			}

			s.processTask(gctx, task)

			return nil
		})
	}

	_ = g.Wait()
}

// claimBatch lists claimable candidates and claims up to BatchSize of
// them, applying spec.md §4.1's selection policy: prefer the task whose
// domain currently has the fewest in-flight fetches, then the
// longest-waiting task, with inflight_crawl_limit/inflight_domain_limit
// settings enforced as hard caps. Claims are attempted in policy order so
// a lost CAS race (another worker claimed first) simply falls through to
// the next candidate rather than stalling the batch.
func (s *Scheduler) claimBatch(ctx context.Context) []store.CrawlTask {
	globalCap, domainCap := s.inflightCaps(ctx)

	staleThreshold := time.Now().UTC().Add(-s.cfg.ClaimTTL)

	candidates, err := s.store.ListClaimable(ctx, s.cfg.BatchSize*claimMultiplier, staleThreshold)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list claimable crawl tasks")
		return nil
	}

	if len(candidates) == 0 {
		return nil
	}

	domainInflight, err := s.store.DomainInflightCounts(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load domain inflight counts, proceeding without domain caps")
		domainInflight = map[string]int{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := domainInflight[candidates[i].Domain], domainInflight[candidates[j].Domain]
		if ci != cj {
			return ci < cj
		}

		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
		}

		return candidates[i].ID < candidates[j].ID
	})

	globalInflight := 0
	for _, n := range domainInflight {
		globalInflight += n
	}

	var claimed []store.CrawlTask

	for _, t := range candidates {
		if len(claimed) >= s.cfg.BatchSize {
			break
		}

		if globalInflight >= globalCap || domainInflight[t.Domain] >= domainCap {
			continue
		}

		ok, err := s.store.ClaimTask(ctx, t.ID, t.Version, s.workerID)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", t.ID).Msg("failed to claim task")
			continue
		}

		if !ok {
			continue
		}

		t.Status = store.CrawlStatusProcessing
		claimed = append(claimed, t)
		domainInflight[t.Domain]++
		globalInflight++
	}

	return claimed
}

// inflightCaps reads inflight_crawl_limit/inflight_domain_limit from
// user settings, falling back to the same defaults rpcserver's
// userSettings view uses when neither has ever been set.
func (s *Scheduler) inflightCaps(ctx context.Context) (globalCap, domainCap int) {
	globalCap = s.cfg.BatchSize
	domainCap = defaultInflightDomainLimit

	all, err := s.store.AllSettings(ctx)
	if err != nil {
		return globalCap, domainCap
	}

	if v, err := strconv.Atoi(all[settings.InflightCrawlLimit]); err == nil && v > 0 {
		globalCap = v
	}

	if v, err := strconv.Atoi(all[settings.InflightDomainLimit]); err == nil && v > 0 {
		domainCap = v
	}

	return globalCap, domainCap
}

// processTask crawls a single claimed task. Panic recovery mirrors the
// teacher's processURL: malformed content must not take the scheduler
// down with it.
func (s *Scheduler) processTask(ctx context.Context, task *store.CrawlTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("url", task.URL).Msg("recovered from panic processing task")
		}
	}()

	current, err := s.store.GetCrawlTask(ctx, task.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to re-verify claim")
		return
	}

	if current.ClaimedBy != s.workerID {
		s.logger.Debug().Str("task_id", task.ID).Str("claimed_by", current.ClaimedBy).Msg("claim lost, skipping")
		return
	}

	observability.CrawlDomainInflight.WithLabelValues(task.Domain).Inc()
	defer observability.CrawlDomainInflight.WithLabelValues(task.Domain).Dec()

	start := time.Now()
	result, err := s.fetcher.Fetch(ctx, task.URL)

	fetchStatus := "ok"
	if err != nil {
		fetchStatus = "error"
	}

	observability.CrawlFetchDuration.WithLabelValues(task.Domain, fetchStatus).Observe(time.Since(start).Seconds())

	if err != nil {
		s.handleFetchError(ctx, task, err)
		return
	}

	if err := s.writer.WriteWebDocument(ctx, task, result); err != nil {
		s.logger.Warn().Err(err).Str("url", task.URL).Msg("failed to write document")
		return
	}

	if err := s.store.CompleteCrawlTask(ctx, task.ID); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to complete task")
	}

	if task.Depth < s.cfg.MaxDepth {
		for _, link := range result.DiscoveredLinks {
			if err := s.Enqueue(ctx, link, task.Lens, task.Depth+1); err != nil {
				s.logger.Debug().Err(err).Str("url", link).Msg("failed to enqueue discovered feed/sitemap entry")
			}
		}

		for _, link := range result.Links {
			if !urlnorm.SameDomain(task.URL, link) {
				continue
			}

			if err := s.Enqueue(ctx, link, task.Lens, task.Depth+1); err != nil {
				s.logger.Debug().Err(err).Str("url", link).Msg("failed to enqueue discovered link")
			}
		}
	}
}

func (s *Scheduler) handleFetchError(ctx context.Context, task *store.CrawlTask, fetchErr error) {
	errMsg := fetchErr.Error()
	if len(errMsg) > maxErrorMsgLen {
		errMsg = errMsg[:maxErrorMsgLen]
	}

	var rateLimitErr *ferrors.Error
	if errors.As(fetchErr, &rateLimitErr) && rateLimitErr.Kind == ferrors.KindRateLimited {
		until := time.Now().UTC().Add(rateLimitErr.RetryAfter)

		if err := s.store.CooldownDomain(ctx, task.Domain, until); err != nil {
			s.logger.Warn().Err(err).Str("domain", task.Domain).Msg("failed to set domain cooldown")
		}

		s.logger.Info().Str("domain", task.Domain).Dur("retry_after", rateLimitErr.RetryAfter).
			Msg("rate limited, cooling domain down")
	}

	var permanent bool

	var asErrorKind interface{ Retryable() bool }
	if errors.As(fetchErr, &asErrorKind) {
		permanent = !asErrorKind.Retryable()
	}

	newRetries := task.Retries + 1

	reason := "transient"
	if permanent {
		reason = "permanent"
	}

	observability.CrawlFetchErrors.WithLabelValues(task.Domain, reason).Inc()

	if permanent || newRetries >= s.cfg.maxRetries() {
		s.logger.Warn().Str("url", task.URL).Int("retries", newRetries).Str("error", errMsg).
			Msg("marking task as permanent error")

		if err := s.store.FailCrawlTask(ctx, task.ID, errMsg); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to mark task error")
		}

		return
	}

	delay := backoffDelay(newRetries)

	s.logger.Info().Str("url", task.URL).Int("retries", newRetries).Dur("backoff", delay).Msg("fetch failed, will retry later")

	if err := s.store.RetryCrawlTask(ctx, task.ID, errMsg, newRetries, time.Now().UTC().Add(delay)); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to update retry count")
	}
}

// backoffDelay computes the exponential backoff delay before a task's
// (retries)th retry attempt: base 30s doubled per retry, capped at 1h,
// with +-20% jitter so failures that hit many tasks at once don't all
// come back in lockstep.
func backoffDelay(retries int) time.Duration {
	delay := backoffBase << uint(retries-1) //nolint:gosec // retries is bounded by maxRetries
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	jitter := 1 + (rand.Float64()*2-1)*backoffJitter //nolint:gosec // jitter doesn't need crypto randomness

	return time.Duration(float64(delay) * jitter)
}
