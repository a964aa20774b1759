// Package fetcher retrieves a URL's content and turns it into the
// queue.FetchResult the scheduler writes to the store.
//
// Grounded on internal/crawler/extractor.go's JSON-LD -> feed -> OG ->
// readability -> raw-text fallback chain and internal/crawler/discovery.go's
// feed/sitemap discovery, combined with a robots.txt cache (SUPPLEMENTED,
// see DESIGN.md) so the crawler never fetches a path a site disallows.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/ferrors"
	"github.com/spyglass-search/spyglass-sub001/internal/parser"
	"github.com/spyglass-search/spyglass-sub001/internal/queue"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

const (
	fetchTimeout     = 30 * time.Second
	robotsTimeout    = 10 * time.Second
	maxRedirects     = 5
	maxBodySize      = 10 * 1024 * 1024 // 10MB
	headerUserAgent  = "User-Agent"
	headerAccept     = "Accept"
	headerAcceptLang = "Accept-Language"

	// defaultRetryAfter is used when a 429 response carries no
	// Retry-After header at all.
	defaultRetryAfter = 60 * time.Second
)

// ConnectionAdapter resolves content for an api:// scheme URL against an
// already-authenticated Connection. Concrete adapters (Gmail, Slack,
// Notion, ...) are registered by api id; none ship built in (see
// DESIGN.md — Connections are store/RPC bookkeeping only, not a real
// OAuth flow), so an unregistered api id is a permanent fetch error
// rather than a panic or a silent no-op.
type ConnectionAdapter interface {
	Fetch(ctx context.Context, account, path string, conn *store.Connection) (*queue.FetchResult, error)
}

// RobotsCache resolves and caches robots.txt rules per domain.
type RobotsCache interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Fetcher implements queue.Fetcher: fetch raw bytes over HTTP, honor
// robots.txt, dispatch to internal/parser for format-specific extraction,
// and probe for feeds/sitemaps per the teacher's discoverURLs ordering.
// It also dispatches file:// and api:// scheme URLs per spec.md §4.2's
// scheme table.
type Fetcher struct {
	httpClient  *http.Client
	feedParser  *gofeed.Parser
	robots      RobotsCache
	parsers     *parser.Dispatcher
	discovery   *Discovery
	connections *store.Store
	adapters    map[string]ConnectionAdapter
	userAgent   string
	logger      *zerolog.Logger
}

// New constructs a Fetcher. connections may be nil if api:// dispatch is
// never exercised (no Connections installed).
func New(robots RobotsCache, parsers *parser.Dispatcher, connections *store.Store, userAgent string, logger *zerolog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}

				return nil
			},
		},
		feedParser:  gofeed.NewParser(),
		robots:      robots,
		parsers:     parsers,
		discovery:   NewDiscovery(userAgent, logger),
		connections: connections,
		adapters:    make(map[string]ConnectionAdapter),
		userAgent:   userAgent,
		logger:      logger,
	}
}

// RegisterConnectionAdapter makes adapter available for api:// URLs whose
// <api_id> matches apiID.
func (f *Fetcher) RegisterConnectionAdapter(apiID string, adapter ConnectionAdapter) {
	f.adapters[apiID] = adapter
}

// Fetch retrieves rawURL and extracts its content, satisfying queue.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*queue.FetchResult, error) {
	switch scheme(rawURL) {
	case "file":
		return f.fetchFile(rawURL)
	case "api":
		return f.fetchAPI(ctx, rawURL)
	default:
		return f.fetchHTTP(ctx, rawURL)
	}
}

func scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Scheme)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*queue.FetchResult, error) {
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL, f.userAgent) {
		return nil, ferrors.PermanentFetch(rawURL, fmt.Errorf("disallowed by robots.txt"))
	}

	body, contentType, openURL, err := f.fetchBody(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if isFeedContentType(contentType) {
		items, perr := f.parseFeedBody(body)
		if perr == nil {
			result := feedResultToFetchResult(items)
			result.OpenURL = openURL

			return result, nil
		}

		f.logger.Debug().Err(perr).Str("url", rawURL).Msg("feed parse failed, falling back to raw text")
	}

	result, err := f.parsers.Parse(ctx, openURL, contentType, body)
	if err != nil {
		return nil, ferrors.Parse(rawURL, err)
	}

	result.OpenURL = openURL
	result.DiscoveredLinks = f.discoverEntries(ctx, rawURL)

	return result, nil
}

// fetchFile reads a local file and routes it to the same format-specific
// parsers the HTTP path uses, recording the file's modification time as
// the result's published time so a watched-folder recrawl has a
// last_modified to compare against.
func (f *Fetcher) fetchFile(rawURL string) (*queue.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ferrors.PermanentFetch(rawURL, err)
	}

	path := u.Path
	if path == "" {
		path = u.Opaque
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.PermanentFetch(rawURL, fmt.Errorf("read file: %w", err))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, ferrors.PermanentFetch(rawURL, fmt.Errorf("stat file: %w", err))
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))

	result, err := f.parsers.Parse(context.Background(), rawURL, contentType, content)
	if err != nil {
		return nil, ferrors.Parse(rawURL, err)
	}

	result.OpenURL = rawURL
	result.PublishedAt = info.ModTime()

	return result, nil
}

// fetchAPI dispatches an api://<api_id>@<account>/<path> URL to the
// registered ConnectionAdapter for <api_id>, resolving its stored
// credentials first.
func (f *Fetcher) fetchAPI(ctx context.Context, rawURL string) (*queue.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ferrors.PermanentFetch(rawURL, err)
	}

	apiID := u.User.Username()
	account := u.Host

	adapter, ok := f.adapters[apiID]
	if !ok {
		return nil, ferrors.PermanentFetch(rawURL, fmt.Errorf("no connection adapter registered for api %q", apiID))
	}

	if f.connections == nil {
		return nil, ferrors.PermanentFetch(rawURL, fmt.Errorf("no connection store configured"))
	}

	conn, err := f.connections.GetConnection(ctx, apiID, account)
	if err != nil {
		return nil, ferrors.PermanentFetch(rawURL, fmt.Errorf("lookup connection %s/%s: %w", apiID, account, err))
	}

	result, err := adapter.Fetch(ctx, account, u.Path, conn)
	if err != nil {
		return nil, ferrors.TransientFetch(rawURL, 0, err)
	}

	result.OpenURL = rawURL

	return result, nil
}

// discoverEntries probes rawURL's domain for feeds and sitemaps, in that
// order, and expands each into entry URLs. Per the teacher's
// discoverURLs: feeds first (most structured), then sitemaps, with plain
// page links handled separately by the caller.
func (f *Fetcher) discoverEntries(ctx context.Context, rawURL string) []string {
	feeds, sitemaps := f.discovery.DiscoverFeeds(ctx, rawURL)

	var entries []string

	for _, feedURL := range feeds {
		urls, err := f.discovery.FetchFeed(ctx, feedURL)
		if err != nil {
			f.logger.Debug().Err(err).Str("feed", feedURL).Msg("failed to fetch discovered feed")
			continue
		}

		entries = append(entries, urls...)
	}

	for _, sitemapURL := range sitemaps {
		urls, err := f.discovery.FetchSitemap(ctx, sitemapURL)
		if err != nil {
			f.logger.Debug().Err(err).Str("sitemap", sitemapURL).Msg("failed to fetch discovered sitemap")
			continue
		}

		entries = append(entries, urls...)
	}

	return entries
}

// fetchBody performs the HTTP GET and returns the body, its content type,
// and the final post-redirect URL (open_url), which differs from rawURL
// whenever the server issued one or more redirects.
func (f *Fetcher) fetchBody(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", ferrors.PermanentFetch(rawURL, err)
	}

	req.Header.Set(headerUserAgent, f.userAgent)
	req.Header.Set(headerAccept, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set(headerAcceptLang, "en-US,en;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", "", ferrors.TransientFetch(rawURL, 0, err)
	}
	defer resp.Body.Close()

	openURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		openURL = resp.Request.URL.String()
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", "", ferrors.RateLimited(rawURL, retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited"))
	}

	if resp.StatusCode >= 500 {
		return nil, "", "", ferrors.TransientFetch(rawURL, 0, fmt.Errorf("server error: %d", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", ferrors.PermanentFetch(rawURL, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", "", ferrors.TransientFetch(rawURL, 0, err)
	}

	return body, resp.Header.Get("Content-Type"), openURL, nil
}

// retryAfter parses an HTTP Retry-After header, which may be either a
// number of seconds or an HTTP-date, falling back to defaultRetryAfter
// when absent or unparseable.
func retryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}

	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs <= 0 {
			return defaultRetryAfter
		}

		return time.Duration(secs) * time.Second
	}

	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}

	return defaultRetryAfter
}

func (f *Fetcher) parseFeedBody(body []byte) ([]*gofeed.Item, error) {
	feed, err := f.feedParser.ParseString(string(body))
	if err != nil {
		return nil, err
	}

	return feed.Items, nil
}

func feedResultToFetchResult(items []*gofeed.Item) *queue.FetchResult {
	var links []string

	var b strings.Builder

	for _, item := range items {
		if item.Link != "" {
			links = append(links, item.Link)
		}

		b.WriteString(item.Title)
		b.WriteString("\n")
		b.WriteString(item.Description)
		b.WriteString("\n\n")
	}

	return &queue.FetchResult{
		Title:   "",
		Content: b.String(),
		Links:   links,
	}
}

func isFeedContentType(contentType string) bool {
	ct := strings.ToLower(contentType)

	return strings.Contains(ct, "application/rss") ||
		strings.Contains(ct, "application/atom") ||
		strings.Contains(ct, "application/xml") ||
		strings.Contains(ct, "text/xml")
}

// Domain extracts the lowercase host from a URL, used by the robots cache
// to key its per-domain entries.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Host)
}
