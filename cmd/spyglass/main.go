// Command spyglass is the Spyglass daemon: it wires the crawl scheduler,
// watched-folder ingestion, embedding worker, plugin host, and localhost
// RPC surface together and runs them until terminated.
//
// Grounded on cmd/digest-bot/main.go's flag-parsing + config-load +
// signal-context + component-Run-in-goroutines shape.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/embedding"
	"github.com/spyglass-search/spyglass-sub001/internal/fetcher"
	"github.com/spyglass-search/spyglass-sub001/internal/ingest"
	"github.com/spyglass-search/spyglass-sub001/internal/lensmodel"
	"github.com/spyglass-search/spyglass-sub001/internal/parser"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/config"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/observability"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/settings"
	"github.com/spyglass-search/spyglass-sub001/internal/pluginhost"
	"github.com/spyglass-search/spyglass-sub001/internal/query"
	"github.com/spyglass-search/spyglass-sub001/internal/queue"
	"github.com/spyglass-search/spyglass-sub001/internal/rpcserver"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directory")
	}

	st, err := store.New(ctx, cfg.DBPath(), &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	idx, needsReindex, err := searchindex.Open(cfg.IndexDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open search index")
	}

	writer := docwriter.New(st, idx, &logger)

	if needsReindex {
		logger.Warn().Msg("search index schema changed, reconciling from store")
	}

	if err := writer.Reconcile(ctx); err != nil {
		logger.Error().Err(err).Msg("reconcile failed")
	}

	registry := newEmbeddingRegistry(cfg, &logger)
	queryEngine := query.New(st, idx, registry, &logger)

	dispatcher := parser.NewDispatcherFromConfig(cfg, &logger)

	robotsCache, err := fetcher.NewLRURobotsCache(cfg.RobotsCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create robots cache")
	}

	httpFetcher := fetcher.New(robotsCache, dispatcher, st, cfg.UserAgent, &logger)

	schedulerCfg, err := buildSchedulerConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse scheduler intervals")
	}

	scheduler := queue.New(st, httpFetcher, writer, schedulerCfg, &logger)

	if err := loadInstalledLenses(ctx, st, scheduler, &logger); err != nil {
		logger.Error().Err(err).Msg("failed to load installed lenses at startup")
	}

	lensManager := lensmodel.NewManager(st, scheduler, &logger)
	catalog := lensmodel.NewCatalog(cfg.LensCatalogDir(), &logger)

	fileWatcher, err := pluginhost.NewFileWatcher(nil, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create plugin file watcher")
	}

	pluginHandler := pluginhost.NewHandler(st, scheduler, writer, queryEngine, fileWatcher, cfg.PluginsDir(), &logger)
	host := pluginhost.New(pluginHandler, &logger)
	pluginHandler.SetHost(host)
	fileWatcher.SetHost(host)

	writer.SetDocumentNotifier(func(docID string) {
		host.NotifyDocumentsWritten(context.WithoutCancel(ctx), docID)
	})

	if err := loadInstalledPlugins(cfg.PluginsDir(), host, &logger); err != nil {
		logger.Error().Err(err).Msg("failed to load installed plugins at startup")
	}

	go fileWatcher.Run(ctx)
	defer fileWatcher.Close()

	embeddingWorker := embedding.NewWorker(st, registry, &logger)

	rpcHandler := rpcserver.NewHandler(rpcserver.Deps{
		Config:      cfg,
		Store:       st,
		Scheduler:   scheduler,
		QueryEngine: queryEngine,
		Writer:      writer,
		Catalog:     catalog,
		LensManager: lensManager,
	}, &logger)

	rpcSrv := rpcserver.NewServer(rpcHandler, cfg.RPCPort, &logger)

	go func() {
		if err := rpcSrv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("rpc server error")
		}
	}()

	healthSrv := observability.NewServer(st, cfg.HealthPort, &logger)

	go func() {
		if err := healthSrv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("health server error")
		}
	}()

	go embeddingWorker.Run(ctx)

	watchedFolders, err := loadWatchedFolders(ctx, st, writer, dispatcher, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start watched-folder ingestion")
	}

	for _, src := range watchedFolders {
		go src.Run(ctx)

		defer src.Close()
	}

	logger.Info().Msg("starting crawl scheduler")

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler stopped with error")
	}

	logger.Info().Msg("spyglass daemon stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func buildSchedulerConfig(cfg *config.Config) (queue.Config, error) {
	tick, err := time.ParseDuration(cfg.SchedulerTickInterval)
	if err != nil {
		return queue.Config{}, err
	}

	reseed, err := time.ParseDuration(cfg.ReseedCheckInterval)
	if err != nil {
		return queue.Config{}, err
	}

	return queue.Config{
		BatchSize:      cfg.CrawlBatchSize,
		MaxDepth:       cfg.CrawlDepth,
		ClaimTTL:       time.Duration(cfg.CrawlClaimTTLSeconds) * time.Second,
		RateLimitRPS:   cfg.CrawlRateLimitRPS,
		TickInterval:   tick,
		ReseedCheck:    reseed,
		WorkerPoolSize: cfg.CrawlWorkerPoolSize,
		MaxRetries:     cfg.CrawlMaxRetries,
	}, nil
}

// newEmbeddingRegistry wires every configured embedding provider
// (openai, google, cohere); the registry tries them in Priority() order
// (openai, cohere, google) as spec.md §4.7's fallback chain. It adds a
// mock provider when none are configured so semantic
// search still has something to rank against in dev/test.
func newEmbeddingRegistry(cfg *config.Config, logger *zerolog.Logger) *embedding.Registry {
	registry := embedding.NewRegistry(cfg.EmbeddingTargetDimensions, logger)

	circuitTimeout, err := time.ParseDuration(cfg.EmbeddingCircuitTimeout)
	if err != nil {
		circuitTimeout = time.Minute
	}

	breakerCfg := embedding.CircuitBreakerConfig{
		Threshold:  cfg.EmbeddingCircuitThreshold,
		ResetAfter: circuitTimeout,
	}

	registered := false

	if cfg.OpenAIAPIKey != "" {
		registry.Register(embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}), breakerCfg)

		registered = true
	}

	if cfg.GoogleAPIKey != "" {
		if p, err := embedding.NewGoogleProvider(context.Background(), embedding.GoogleConfig{
			APIKey: cfg.GoogleAPIKey,
			Model:  cfg.GoogleModel,
		}); err == nil {
			registry.Register(p, breakerCfg)

			registered = true
		} else {
			logger.Warn().Err(err).Msg("failed to construct google embedding provider")
		}
	}

	if cfg.CohereAPIKey != "" {
		registry.Register(embedding.NewCohereProvider(embedding.CohereConfig{
			APIKey: cfg.CohereAPIKey,
			Model:  cfg.CohereModel,
		}), breakerCfg)

		registered = true
	}

	if !registered {
		logger.Warn().Msg("no embedding provider api keys configured, falling back to mock provider")
		registry.Register(embedding.NewMockProviderWithDimensions(cfg.EmbeddingTargetDimensions), breakerCfg)
	}

	return registry
}

// loadInstalledLenses compiles every already-installed lens's manifest
// and registers it with the scheduler, so SkipURL/LimitURLDepth rules
// apply across a daemon restart, not just for the lifetime of the
// install_lens call that first registered it.
func loadInstalledLenses(ctx context.Context, st *store.Store, scheduler *queue.Scheduler, logger *zerolog.Logger) error {
	recs, err := st.ListLenses(ctx)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		data, err := os.ReadFile(rec.ManifestPath)
		if err != nil {
			logger.Warn().Err(err).Str("lens", rec.Name).Msg("failed to read lens manifest")
			continue
		}

		manifest, err := lensmodel.ParseManifest(data)
		if err != nil {
			logger.Warn().Err(err).Str("lens", rec.Name).Msg("failed to parse lens manifest")
			continue
		}

		lens, err := lensmodel.Compile(manifest)
		if err != nil {
			logger.Warn().Err(err).Str("lens", rec.Name).Msg("failed to compile lens")
			continue
		}

		scheduler.RegisterLens(rec.Name, lens)
	}

	return nil
}

// loadWatchedFolders constructs one ingest.Source per path recorded in
// the filesystem_watched_paths setting, per spec.md §4.8's filesystem
// connector. Each source runs its initial Scan synchronously before
// being handed to the caller to Run in the background, so the first
// search a user runs after enabling a folder already sees its contents.
func loadWatchedFolders(ctx context.Context, st *store.Store, writer *docwriter.Writer, dispatcher *parser.Dispatcher, logger *zerolog.Logger) ([]*ingest.Source, error) {
	enabled, err := st.GetSetting(ctx, settings.FilesystemEnabled)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if enabled != "true" {
		return nil, nil
	}

	pathsJSON, err := st.GetSetting(ctx, settings.FilesystemWatchedPaths)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	paths := decodeStringList(pathsJSON)

	extsJSON, err := st.GetSetting(ctx, settings.FilesystemSupportedExtensions)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	extensions := decodeStringList(extsJSON)

	sources := make([]*ingest.Source, 0, len(paths))

	for _, root := range paths {
		src, err := ingest.New(st, writer, dispatcher, ingest.Config{Root: root, Extensions: extensions}, logger)
		if err != nil {
			logger.Warn().Err(err).Str("path", root).Msg("failed to construct watched-folder source")
			continue
		}

		if err := src.Scan(ctx); err != nil {
			logger.Warn().Err(err).Str("path", root).Msg("initial scan of watched folder failed")
		}

		sources = append(sources, src)
	}

	return sources, nil
}

// loadInstalledPlugins registers every plugins/<name>/plugin.yaml found
// under pluginsDir with host, so a plugin's subscriptions and
// capabilities are active from the moment the daemon starts rather than
// only after its bundle is first installed this run.
func loadInstalledPlugins(pluginsDir string, host *pluginhost.Host, logger *zerolog.Logger) error {
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read plugins directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifestPath := filepath.Join(pluginsDir, entry.Name(), "plugin.yaml")

		plugin, err := pluginhost.LoadManifest(manifestPath)
		if err != nil {
			logger.Warn().Err(err).Str("plugin", entry.Name()).Msg("failed to load plugin manifest")
			continue
		}

		host.Register(plugin)
	}

	return nil
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}

	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}

	return out
}
