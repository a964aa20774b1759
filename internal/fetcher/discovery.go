package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const (
	discoveryTimeout = 15 * time.Second
	maxFeedEntries   = 50
	maxSitemapURLs   = 100
)

var feedPaths = []string{
	"/feed", "/feed.xml", "/rss", "/rss.xml", "/atom.xml", "/index.xml", "/feed/atom", "/feed/rss",
}

var sitemapPaths = []string{
	"/sitemap.xml", "/sitemap_index.xml", "/sitemap-index.xml", "/news-sitemap.xml",
}

// Discovery probes a domain's common feed/sitemap locations and expands
// them into entry URLs, so the scheduler can seed structured discovery
// ahead of raw link-following.
type Discovery struct {
	httpClient *http.Client
	feedParser *gofeed.Parser
	userAgent  string
	logger     *zerolog.Logger
}

// NewDiscovery constructs a Discovery.
func NewDiscovery(userAgent string, logger *zerolog.Logger) *Discovery {
	return &Discovery{
		httpClient: &http.Client{Timeout: discoveryTimeout},
		feedParser: gofeed.NewParser(),
		userAgent:  userAgent,
		logger:     logger,
	}
}

// DiscoverFeeds probes sourceURL's domain for feeds and sitemaps at their
// conventional paths.
func (d *Discovery) DiscoverFeeds(ctx context.Context, sourceURL string) (feeds, sitemaps []string) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return nil, nil
	}

	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)

	for _, p := range feedPaths {
		if d.headOK(ctx, base+p, true) {
			feeds = append(feeds, base+p)
		}
	}

	for _, p := range sitemapPaths {
		if d.headOK(ctx, base+p, false) {
			sitemaps = append(sitemaps, base+p)
		}
	}

	return feeds, sitemaps
}

func (d *Discovery) headOK(ctx context.Context, target string, requireFeedType bool) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}

	req.Header.Set(headerUserAgent, d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	if !requireFeedType {
		return true
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))

	return strings.Contains(ct, "xml") || strings.Contains(ct, "rss") || strings.Contains(ct, "atom")
}

// FetchFeed fetches and parses an RSS/Atom feed, returning up to
// maxFeedEntries entry URLs.
func (d *Discovery) FetchFeed(ctx context.Context, feedURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}

	req.Header.Set(headerUserAgent, d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch status %d", resp.StatusCode)
	}

	feed, err := d.feedParser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var urls []string

	for i, item := range feed.Items {
		if i >= maxFeedEntries {
			break
		}

		if item.Link != "" {
			urls = append(urls, item.Link)
		}
	}

	return urls, nil
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// FetchSitemap fetches a sitemap, following one level of sitemap-index
// nesting, and returns up to maxSitemapURLs entry URLs.
func (d *Discovery) FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	body, err := d.fetchBody(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var all []string

		for _, sm := range index.Sitemaps {
			if len(all) >= maxSitemapURLs {
				break
			}

			nested, err := d.fetchBody(ctx, sm.Loc)
			if err != nil {
				d.logger.Debug().Err(err).Str("sitemap", sm.Loc).Msg("failed to fetch nested sitemap")
				continue
			}

			var set sitemapURLSet
			if err := xml.Unmarshal(nested, &set); err != nil {
				d.logger.Debug().Err(err).Str("sitemap", sm.Loc).Msg("failed to parse nested sitemap")
				continue
			}

			for _, u := range set.URLs {
				if u.Loc != "" {
					all = append(all, u.Loc)
				}
			}
		}

		return capEntries(all, maxSitemapURLs), nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	var urls []string

	for _, u := range set.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}

	return capEntries(urls, maxSitemapURLs), nil
}

func (d *Discovery) fetchBody(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set(headerUserAgent, d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

func capEntries(urls []string, max int) []string {
	if len(urls) > max {
		return urls[:max]
	}

	return urls
}
