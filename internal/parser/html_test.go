package parser

import (
	"strings"
	"testing"
)

func TestParseHTMLExtractsJSONLDAndLinks(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{"headline":"Great Title","description":"A summary","datePublished":"2026-01-02T15:04:05Z"}</script>
<meta property="og:title" content="Fallback Title">
</head><body>
<article><p>` + strings.Repeat("This is enough body content to pass the minimum length check. ", 4) + `</p>
<a href="/relative-link">next</a>
<a href="https://other.example.com/x">external</a>
</article>
</body></html>`

	result, err := ParseHTML("https://example.com/article", []byte(html))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}

	if result.Title != "Great Title" {
		t.Fatalf("expected JSON-LD headline to win, got %q", result.Title)
	}

	if result.Description != "A summary" {
		t.Fatalf("expected JSON-LD description, got %q", result.Description)
	}

	if result.PublishedAt.IsZero() {
		t.Fatalf("expected published date to be parsed")
	}

	found := false

	for _, l := range result.Links {
		if l == "https://example.com/relative-link" {
			found = true
		}
	}

	if !found {
		t.Fatalf("expected relative link to resolve against base url, got %v", result.Links)
	}
}

func TestParseHTMLRejectsShortContent(t *testing.T) {
	html := `<html><body><p>too short</p></body></html>`

	if _, err := ParseHTML("https://example.com/stub", []byte(html)); err == nil {
		t.Fatalf("expected short content to be rejected")
	}
}

func TestDetectLanguage(t *testing.T) {
	if got := detectLanguage("en-US", "", ""); got != langEnglish {
		t.Fatalf("expected jsonLDLang to win, got %q", got)
	}

	if got := detectLanguage("", "", strings.Repeat("hello world ", 20)); got != langEnglish {
		t.Fatalf("expected content-based detection to find english, got %q", got)
	}
}
