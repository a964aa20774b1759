package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"
)

// LRURobotsCache fetches and caches robots.txt per domain, so the crawler
// only requests a site's robots.txt once per cache lifetime rather than
// once per URL.
type LRURobotsCache struct {
	httpClient *http.Client
	cache      *lru.Cache[string, *robotstxt.RobotsData]
	mu         sync.Mutex
	inflight   map[string]chan struct{}
}

// NewLRURobotsCache constructs a robots.txt cache holding up to size entries.
func NewLRURobotsCache(size int) (*LRURobotsCache, error) {
	cache, err := lru.New[string, *robotstxt.RobotsData](size)
	if err != nil {
		return nil, err
	}

	return &LRURobotsCache{
		httpClient: &http.Client{Timeout: robotsTimeout},
		cache:      cache,
		inflight:   make(map[string]chan struct{}),
	}, nil
}

// Allowed reports whether userAgent may fetch rawURL per the domain's
// robots.txt. A fetch or parse failure fails open (allowed), matching the
// common crawler convention that a missing/broken robots.txt imposes no
// restriction.
func (c *LRURobotsCache) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	domain := strings.ToLower(parsed.Host)

	data := c.get(ctx, domain, parsed.Scheme)
	if data == nil {
		return true
	}

	group := data.FindGroup(userAgent)

	return group.Test(parsed.Path)
}

func (c *LRURobotsCache) get(ctx context.Context, domain, scheme string) *robotstxt.RobotsData {
	if data, ok := c.cache.Get(domain); ok {
		return data
	}

	c.mu.Lock()
	wait, pending := c.inflight[domain]

	if pending {
		c.mu.Unlock()
		<-wait

		data, _ := c.cache.Get(domain)

		return data
	}

	done := make(chan struct{})
	c.inflight[domain] = done
	c.mu.Unlock()

	data := c.fetch(ctx, domain, scheme)

	c.cache.Add(domain, data)

	c.mu.Lock()
	delete(c.inflight, domain)
	c.mu.Unlock()
	close(done)

	return data
}

func (c *LRURobotsCache) fetch(ctx context.Context, domain, scheme string) *robotstxt.RobotsData {
	if scheme == "" {
		scheme = "https"
	}

	robotsURL := scheme + "://" + domain + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}

	return data
}
