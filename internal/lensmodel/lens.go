// Package lensmodel parses lens manifest files and compiles their rules
// into fast URL-matching predicates.
package lensmodel

import (
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuleKind is one of the three closed lens rule kinds.
type RuleKind string

// Rule kinds.
const (
	RuleSkipURL       RuleKind = "SkipURL"
	RuleLimitURLDepth RuleKind = "LimitURLDepth"
	RuleSanitizeUrls  RuleKind = "SanitizeUrls"
)

// Manifest is the on-disk lens manifest format (lenses/<name>.lens, YAML).
type Manifest struct {
	Name        string   `yaml:"name"`
	Author      string   `yaml:"author"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Domains     []string `yaml:"domains"`
	URLs        []string `yaml:"urls"`
	Rules       []Rule   `yaml:"rules"`

	// Tags are "label=value" pairs applied to every document the lens
	// matches, on top of the implicit (Lens, name) and (Category, c) tags.
	Tags       []string `yaml:"tags,omitempty"`
	Categories []string `yaml:"categories,omitempty"`
}

// Rule is a single lens rule entry as written in the manifest.
type Rule struct {
	Kind    RuleKind `yaml:"kind"`
	Pattern string   `yaml:"pattern,omitempty"`
	Depth   int      `yaml:"depth,omitempty"`
}

// ParseManifest parses lens manifest YAML bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse lens manifest: %w", err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("lens manifest missing required field: name")
	}

	return &m, nil
}

// regexCache compiles lens skip/sanitize patterns once and reuses them
// across every URL tested against the lens, rather than recompiling per
// call.
type regexCache struct {
	mu    sync.Mutex
	byPat map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{byPat: make(map[string]*regexp.Regexp)}
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if re, ok := c.byPat[pattern]; ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile lens pattern %q: %w", pattern, err)
	}

	c.byPat[pattern] = re

	return re, nil
}

// Lens is a compiled, ready-to-match lens.
type Lens struct {
	Manifest *Manifest

	domainPatterns   []*regexp.Regexp
	skipPatterns     []*regexp.Regexp
	sanitizePatterns []*regexp.Regexp
	maxDepth         int // 0 means unlimited
}

var sharedCache = newRegexCache()

// Compile compiles a parsed manifest's rules into a Lens ready to match
// URLs against.
func Compile(m *Manifest) (*Lens, error) {
	l := &Lens{Manifest: m}

	for _, d := range m.Domains {
		re, err := regexp.Compile(`(?i)(^|\.)` + regexp.QuoteMeta(d) + `$`)
		if err != nil {
			return nil, fmt.Errorf("compile lens domain %q: %w", d, err)
		}

		l.domainPatterns = append(l.domainPatterns, re)
	}

	for _, rule := range m.Rules {
		switch rule.Kind {
		case RuleSkipURL:
			re, err := sharedCache.compile(rule.Pattern)
			if err != nil {
				return nil, err
			}

			l.skipPatterns = append(l.skipPatterns, re)
		case RuleSanitizeUrls:
			re, err := sharedCache.compile(rule.Pattern)
			if err != nil {
				return nil, err
			}

			l.sanitizePatterns = append(l.sanitizePatterns, re)
		case RuleLimitURLDepth:
			if rule.Depth > 0 && (l.maxDepth == 0 || rule.Depth < l.maxDepth) {
				l.maxDepth = rule.Depth
			}
		default:
			return nil, fmt.Errorf("unknown lens rule kind: %q", rule.Kind)
		}
	}

	return l, nil
}

// Matches reports whether a URL is in scope for the lens: it must match
// at least one of the lens's domain/URL prefixes (if any are declared),
// must not match a SkipURL pattern, and must be within the lens's
// LimitURLDepth (if any).
func (l *Lens) Matches(rawURL string, depth int) bool {
	if l.maxDepth > 0 && depth > l.maxDepth {
		return false
	}

	for _, re := range l.skipPatterns {
		if re.MatchString(rawURL) {
			return false
		}
	}

	if len(l.Manifest.Domains) == 0 && len(l.Manifest.URLs) == 0 {
		return true
	}

	host := hostOf(rawURL)

	for _, re := range l.domainPatterns {
		if host != "" && re.MatchString(host) {
			return true
		}
	}

	for _, prefix := range l.Manifest.URLs {
		if hasPrefix(rawURL, prefix) {
			return true
		}
	}

	return false
}

// hostOf returns rawURL's hostname, without port, or "" if rawURL doesn't
// parse as an absolute URL.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Hostname()
}

// Sanitize strips query parameters matched by SanitizeUrls patterns from
// a URL's raw query string, returning the cleaned query string.
func (l *Lens) Sanitize(rawQuery string) string {
	cleaned := rawQuery
	for _, re := range l.sanitizePatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	return cleaned
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// TagSet returns spec.md §4.9's tag_set for this lens: `(Lens, name)`, one
// `(Category, c)` per declared category, and the manifest's own explicit
// "label=value" tags. Malformed tag entries (no "=") are skipped rather
// than failing the whole lens.
func (l *Lens) TagSet() [][2]string {
	pairs := make([][2]string, 0, 1+len(l.Manifest.Categories)+len(l.Manifest.Tags))

	pairs = append(pairs, [2]string{"lens", l.Manifest.Name})

	for _, c := range l.Manifest.Categories {
		pairs = append(pairs, [2]string{"category", c})
	}

	for _, t := range l.Manifest.Tags {
		label, value, ok := splitTag(t)
		if !ok {
			continue
		}

		pairs = append(pairs, [2]string{label, value})
	}

	return pairs
}

func splitTag(tag string) (label, value string, ok bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '=' {
			return tag[:i], tag[i+1:], true
		}
	}

	return "", "", false
}
