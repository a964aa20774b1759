package parser

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html"

	"github.com/spyglass-search/spyglass-sub001/internal/queue"
)

const minContentLength = 100

var errContentTooShort = &parseError{msg: "extracted content too short"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

// ParseHTML extracts title/content/description/published date/links from
// an HTML page.
//
// Grounded on internal/core/links/content_extractor.go's
// ExtractWebContent: JSON-LD -> OpenGraph/meta -> readability fallback
// chain, walked with golang.org/x/net/html rather than the sibling
// internal/crawler/extractor.go's hand-rolled string scanning. Feed
// metadata fallback (the teacher's third tier) is handled one layer up
// in internal/fetcher, since it requires a second network round trip
// this package has no business making.
func ParseHTML(rawURL string, body []byte) (*queue.FetchResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	meta := extractMeta(doc)
	ld := extractJSONLD(doc)

	var content string

	var buf bytes.Buffer

	if article.Node != nil {
		if rerr := article.RenderText(&buf); rerr == nil {
			content = buf.String()
		}
	}

	if content == "" {
		content = strings.TrimSpace(rawText(doc))
	}

	result := &queue.FetchResult{
		Title:       coalesce(ld.Title, article.Title(), meta.OGTitle, meta.Title),
		Content:     content,
		Description: coalesce(ld.Description, meta.OGDescription, meta.Description),
		Language:    detectLanguage(meta.Language, "", content),
		PublishedAt: coalesceTime(parseDate(ld.PublishedAt), parseDate(meta.PublishedTime), articlePublished(article)),
		Links:       extractLinks(doc, parsed),
	}

	if len(result.Content) < minContentLength {
		return nil, errContentTooShort
	}

	return result, nil
}

func articlePublished(article readability.Article) time.Time {
	t, err := article.PublishedTime()
	if err != nil {
		return time.Time{}
	}

	return t
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}

	return t
}

func coalesceTime(times ...time.Time) time.Time {
	for _, t := range times {
		if !t.IsZero() {
			return t
		}
	}

	return time.Time{}
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

// jsonLDArticle holds the structured-data fields ParseHTML cares about.
type jsonLDArticle struct {
	Title       string
	Description string
	PublishedAt string
}

func extractJSONLD(doc *html.Node) jsonLDArticle {
	var ld jsonLDArticle

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "script" {
			return
		}

		if !hasAttr(n, "type", "application/ld+json") {
			return
		}

		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			applyJSONLD(n.FirstChild.Data, &ld)
		}
	})

	return ld
}

func applyJSONLD(data string, ld *jsonLDArticle) {
	var v interface{}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return
	}

	visitJSONLD(v, ld)
}

func visitJSONLD(v interface{}, ld *jsonLDArticle) {
	switch m := v.(type) {
	case map[string]interface{}:
		if title, ok := m["headline"].(string); ok && ld.Title == "" {
			ld.Title = title
		}

		if desc, ok := m["description"].(string); ok && ld.Description == "" {
			ld.Description = desc
		}

		if date, ok := m["datePublished"].(string); ok && ld.PublishedAt == "" {
			ld.PublishedAt = date
		}

		if graph, ok := m["@graph"].([]interface{}); ok {
			for _, item := range graph {
				visitJSONLD(item, ld)
			}
		}
	case []interface{}:
		for _, item := range m {
			visitJSONLD(item, ld)
		}
	}
}

type pageMeta struct {
	Title           string
	Description     string
	OGTitle         string
	OGDescription   string
	PublishedTime   string
	Language        string
}

func extractMeta(doc *html.Node) pageMeta {
	var meta pageMeta

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}

		switch n.Data {
		case "html":
			if lang := attrValue(n, "lang"); lang != "" {
				meta.Language = lang
			}
		case "title":
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				meta.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		case "meta":
			applyMetaTag(n, &meta)
		}
	})

	return meta
}

func applyMetaTag(n *html.Node, meta *pageMeta) {
	name := attrValue(n, "name")
	if name == "" {
		name = attrValue(n, "property")
	}

	content := attrValue(n, "content")

	switch strings.ToLower(name) {
	case "description":
		meta.Description = content
	case "og:title":
		meta.OGTitle = content
	case "og:description":
		meta.OGDescription = content
	case "article:published_time":
		meta.PublishedTime = content
	case "og:locale":
		if meta.Language == "" {
			meta.Language = content
		}
	}
}

// extractLinks collects same-document <a href> targets resolved against
// base, for the scheduler's same-domain link-following.
func extractLinks(doc *html.Node, base *url.URL) []string {
	var links []string

	seen := make(map[string]struct{})

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}

		href := attrValue(n, "href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		s := resolved.String()
		if _, dup := seen[s]; dup {
			return
		}

		seen[s] = struct{}{}
		links = append(links, s)
	})

	return links
}

// rawText concatenates visible text nodes, skipping script/style content,
// as a last resort when readability finds no article node.
func rawText(doc *html.Node) string {
	var b strings.Builder

	walk(doc, func(n *html.Node) {
		if n.Type == html.TextNode && n.Parent != nil &&
			n.Parent.Data != "script" && n.Parent.Data != "style" {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
	})

	return b.String()
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func hasAttr(n *html.Node, key, val string) bool {
	for _, a := range n.Attr {
		if a.Key == key && a.Val == val {
			return true
		}
	}

	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}
