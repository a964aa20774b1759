package pluginhost

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/query"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

// Enqueuer is the crawl-queue admission surface a RequestHandler needs;
// internal/queue.Scheduler satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, rawURL, lens string, depth int) error
}

// Handler is the default RequestHandler, grounded on the store,
// docwriter and query engine already built for the crawl/search path —
// a plugin's upward requests reuse the exact same write/query paths the
// crawler and RPC surface use, rather than a separate code path.
type Handler struct {
	store       *store.Store
	enqueuer    Enqueuer
	writer      *docwriter.Writer
	queryEngine *query.Engine
	watcher     *FileWatcher
	logger      *zerolog.Logger

	// host is wired in after construction via SetHost, once the Host
	// exists (Host itself is constructed from a RequestHandler, so the
	// two can't be built in one step). It backs SubscribeForDocuments/
	// SubscribeForUpdates's subscription bookkeeping.
	host *Host

	// baseDir bounds ListDir/SyncFile/WalkAndEnqueue to a single root, so
	// a plugin capability never reaches outside the folders the operator
	// configured it to see.
	baseDir string
}

// NewHandler constructs a Handler. baseDir bounds filesystem-facing
// requests (ListDir, SyncFile, WalkAndEnqueue).
func NewHandler(
	s *store.Store,
	enqueuer Enqueuer,
	writer *docwriter.Writer,
	queryEngine *query.Engine,
	watcher *FileWatcher,
	baseDir string,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		store:       s,
		enqueuer:    enqueuer,
		writer:      writer,
		queryEngine: queryEngine,
		watcher:     watcher,
		baseDir:     baseDir,
		logger:      logger,
	}
}

// SetHost wires the Host this handler's requests should register plugin
// subscriptions against. Call once, after constructing both the Handler
// and the Host that wraps it.
func (h *Handler) SetHost(host *Host) {
	h.host = host
}

func (h *Handler) Enqueue(ctx context.Context, urls []string) error {
	for _, u := range urls {
		if err := h.enqueuer.Enqueue(ctx, u, "", 0); err != nil {
			return fmt.Errorf("enqueue %s: %w", u, err)
		}
	}

	return nil
}

func (h *Handler) DeleteDoc(ctx context.Context, rawURL string) error {
	docID := urlnorm.DocID(urlnorm.Canonicalize(rawURL))
	return h.writer.DeleteDocument(ctx, docID)
}

func (h *Handler) ListDir(_ context.Context, path string) ([]string, error) {
	resolved, err := h.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}

func (h *Handler) SubscribeForDocuments(_ context.Context, plugin, query string) error {
	if h.host != nil {
		h.host.Subscribe(plugin, query)
	}

	h.logger.Info().Str("plugin", plugin).Str("query", query).Msg("plugin subscribed for matching documents")

	return nil
}

func (h *Handler) SubscribeForUpdates(_ context.Context, plugin string) error {
	if h.host != nil {
		h.host.SubscribeUpdates(plugin)
	}

	h.logger.Info().Str("plugin", plugin).Msg("plugin subscribed for update notifications")

	return nil
}

// MatchesDocument implements DocumentMatcher: it reruns queryString
// against the query engine and reports whether docID is among the hits,
// so a plugin's SubscribeForDocuments saved search fires only for
// genuinely matching writes.
func (h *Handler) MatchesDocument(ctx context.Context, queryString, docID string) (bool, error) {
	res, err := h.queryEngine.Search(ctx, query.Request{QueryString: queryString, NumResults: modifyTagsMaxMatches})
	if err != nil {
		return false, fmt.Errorf("matches document: %w", err)
	}

	for _, hit := range res.Hits {
		if hit.DocID == docID {
			return true, nil
		}
	}

	return false, nil
}

func (h *Handler) WatchDirectory(_ context.Context, plugin, path string, recurse bool) error {
	resolved, err := h.resolvePath(path)
	if err != nil {
		return err
	}

	if h.watcher == nil {
		return fmt.Errorf("watch directory: no file watcher configured")
	}

	return h.watcher.Watch(resolved, recurse)
}

// sqliteReadOnlyPrefixes is the set of statement prefixes SqliteQuery
// permits; plugins get a read-only view of the store, never raw write
// access.
var sqliteReadOnlyPrefixes = []string{"select", "with", "explain", "pragma"}

func (h *Handler) SqliteQuery(ctx context.Context, rawQuery string) ([]map[string]any, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawQuery))

	allowed := false

	for _, prefix := range sqliteReadOnlyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			allowed = true
			break
		}
	}

	if !allowed {
		return nil, fmt.Errorf("sqlite query must be read-only (select/with/explain/pragma)")
	}

	rows, err := h.store.DB.QueryContext(ctx, rawQuery)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite query columns: %w", err)
	}

	var out []map[string]any

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlite query scan: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

func (h *Handler) SyncFile(_ context.Context, src, dst string) error {
	resolvedSrc, err := h.resolvePath(src)
	if err != nil {
		return err
	}

	resolvedDst, err := h.resolvePath(dst)
	if err != nil {
		return err
	}

	in, err := os.Open(resolvedSrc)
	if err != nil {
		return fmt.Errorf("sync file open: %w", err)
	}
	defer in.Close()

	out, err := os.Create(resolvedDst)
	if err != nil {
		return fmt.Errorf("sync file create: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("sync file copy: %w", err)
	}

	return nil
}

func (h *Handler) WalkAndEnqueue(ctx context.Context, path string, extensions []string) error {
	resolved, err := h.resolvePath(path)
	if err != nil {
		return err
	}

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	return filepath.WalkDir(resolved, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			h.logger.Warn().Err(err).Str("path", p).Msg("walk and enqueue: read failed")
			return nil
		}

		doc := &docwriter.LocalDocument{
			ID:      urlnorm.DocID("file://" + p),
			URL:     "file://" + p,
			Title:   filepath.Base(p),
			Content: string(content),
		}

		if err := h.writer.WriteLocalDocument(ctx, doc); err != nil {
			h.logger.Warn().Err(err).Str("path", p).Msg("walk and enqueue: write failed")
		}

		return nil
	})
}

func (h *Handler) AddDocument(ctx context.Context, docs []DocumentInput, tags []string) error {
	pairs := parseTagPairs(tags)

	for _, d := range docs {
		doc := &docwriter.LocalDocument{
			ID:      urlnorm.DocID(d.URL),
			URL:     d.URL,
			Title:   d.Title,
			Content: d.Content,
			Tags:    pairs,
		}

		if err := h.writer.WriteLocalDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", d.URL, err)
		}
	}

	return nil
}

func (h *Handler) ModifyTags(ctx context.Context, queryString string, add, remove []string) error {
	res, err := h.queryEngine.Search(ctx, query.Request{QueryString: queryString, NumResults: modifyTagsMaxMatches})
	if err != nil {
		return fmt.Errorf("modify tags: resolve matches: %w", err)
	}

	addPairs := parseTagPairs(add)
	removePairs := parseTagPairs(remove)

	for _, hit := range res.Hits {
		for _, pair := range addPairs {
			if err := h.store.AttachTag(ctx, hit.DocID, pair[0], pair[1]); err != nil {
				return fmt.Errorf("attach tag %s=%s to %s: %w", pair[0], pair[1], hit.DocID, err)
			}
		}

		for _, pair := range removePairs {
			if err := h.store.DetachTag(ctx, hit.DocID, pair[0], pair[1]); err != nil {
				return fmt.Errorf("detach tag %s=%s from %s: %w", pair[0], pair[1], hit.DocID, err)
			}
		}
	}

	return nil
}

// modifyTagsMaxMatches bounds how many documents a single ModifyTags
// request can touch, so a broad query can't silently retag the entire
// corpus in one plugin call.
const modifyTagsMaxMatches = 500

// parseTagPairs splits "label=value" strings into (label, value) pairs,
// skipping malformed entries rather than failing the whole request.
func parseTagPairs(tags []string) [][2]string {
	pairs := make([][2]string, 0, len(tags))

	for _, t := range tags {
		label, value, ok := strings.Cut(t, "=")
		if !ok {
			continue
		}

		pairs = append(pairs, [2]string{label, value})
	}

	return pairs
}

// resolvePath joins path onto baseDir and rejects any result that
// escapes it, so a plugin's filesystem capability can't walk outside the
// directory it was granted.
func (h *Handler) resolvePath(path string) (string, error) {
	if h.baseDir == "" {
		return path, nil
	}

	joined := filepath.Join(h.baseDir, path)

	rel, err := filepath.Rel(h.baseDir, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes plugin base directory", path)
	}

	return joined, nil
}
