// Package urlnorm canonicalizes URLs and derives stable document identity
// from them.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	portHTTP  = ":80"
	portHTTPS = ":443"
)

// DocNamespace is the UUIDv5 namespace documents are derived under.
// Fixed so that the same canonical URL always yields the same document id
// across process restarts.
var DocNamespace = uuid.MustParse("6f7c7f1e-6b0e-4f0b-9b6b-6a1f6e9f0a11")

// Canonicalize normalizes a URL for consistent document identity:
// lowercases scheme and host, strips default ports, strips fragments
// (except SPA-style routing fragments, which are meaningful content),
// sorts query parameters, and removes a trailing slash from the path.
func Canonicalize(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Host = removeDefaultPort(parsed.Host, parsed.Scheme)

	if !isSPAFragment(parsed.Fragment) {
		parsed.Fragment = ""
	}

	if parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = sortQuery(parsed.RawQuery)
	}

	return parsed.String()
}

// isSPAFragment reports whether a fragment looks like client-side routing
// rather than an in-page anchor (e.g. "#/settings", "#!/page/2").
func isSPAFragment(fragment string) bool {
	return strings.HasPrefix(fragment, "/") || strings.HasPrefix(fragment, "!")
}

func removeDefaultPort(host, scheme string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, portHTTP)
	case "https":
		return strings.TrimSuffix(host, portHTTPS)
	default:
		return host
	}
}

func sortQuery(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, k := range keys {
		vals := values[k]
		sort.Strings(vals)

		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}

			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	return b.String()
}

// DocID derives the stable document identity (a UUIDv5) for a canonical
// web URL.
func DocID(rawURL string) string {
	canonical := Canonicalize(rawURL)
	return uuid.NewSHA1(DocNamespace, []byte(canonical)).String()
}

// ConnectionDocID derives a document identity for content reached through
// an authenticated connection (e.g. "gdrive://file/<id>") rather than a
// crawlable URL.
func ConnectionDocID(connectionKind, resourceID string) string {
	canonical := connectionKind + "://" + resourceID
	return uuid.NewSHA1(DocNamespace, []byte(canonical)).String()
}

// Domain extracts the normalized (www-stripped, lowercased) domain from a
// URL, or "" if the URL cannot be parsed.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return normalizeDomain(parsed.Host)
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(domain)
	domain = strings.TrimPrefix(domain, "www.")

	return domain
}

// SameDomain reports whether two URLs share a normalized domain.
func SameDomain(a, b string) bool {
	da, db := Domain(a), Domain(b)
	return da != "" && db != "" && da == db
}
