package urlnorm

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"HTTP://Example.com:80/foo/":        "http://example.com/foo",
		"https://example.com:443/bar":       "https://example.com/bar",
		"https://example.com/x#section":     "https://example.com/x",
		"https://example.com/x#/route/2":    "https://example.com/x#/route/2",
		"https://example.com/?b=2&a=1":      "https://example.com/?a=1&b=2",
	}

	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDocIDStable(t *testing.T) {
	a := DocID("https://example.com/post")
	b := DocID("HTTPS://EXAMPLE.com:443/post")

	if a != b {
		t.Errorf("expected equal doc ids for equivalent URLs, got %q vs %q", a, b)
	}
}

func TestDocIDDiffers(t *testing.T) {
	a := DocID("https://example.com/a")
	b := DocID("https://example.com/b")

	if a == b {
		t.Error("expected different doc ids for different URLs")
	}
}

func TestSameDomain(t *testing.T) {
	if !SameDomain("https://www.example.com/a", "https://example.com/b") {
		t.Error("expected www. prefix to be ignored")
	}

	if SameDomain("https://example.com/a", "https://other.com/b") {
		t.Error("expected different domains to not match")
	}
}
