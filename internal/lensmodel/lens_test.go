package lensmodel

import "testing"

const sampleManifest = `
name: rust-docs
author: spyglass
description: Rust documentation
version: "1"
domains:
  - doc.rust-lang.org
urls:
  - https://doc.rust-lang.org/
rules:
  - kind: SkipURL
    pattern: "/releases/"
  - kind: LimitURLDepth
    depth: 3
`

func TestParseAndCompile(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	lens, err := Compile(m)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if !lens.Matches("https://doc.rust-lang.org/std/vec/", 1) {
		t.Error("expected in-scope URL to match")
	}

	if lens.Matches("https://doc.rust-lang.org/releases/1.0", 1) {
		t.Error("expected skip-pattern URL to be excluded")
	}

	if lens.Matches("https://doc.rust-lang.org/std/vec/", 4) {
		t.Error("expected depth-limited URL to be excluded")
	}

	if lens.Matches("https://example.com/", 1) {
		t.Error("expected out-of-scope domain to not match")
	}
}

func TestMatchesDomainOnly(t *testing.T) {
	m := &Manifest{Name: "example", Domains: []string{"example.com"}}

	lens, err := Compile(m)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if !lens.Matches("https://example.com/a", 1) {
		t.Error("expected domain-only lens to match its bare domain")
	}

	if !lens.Matches("https://www.example.com/a", 1) {
		t.Error("expected domain-only lens to match a subdomain")
	}

	if lens.Matches("https://notexample.com/a", 1) {
		t.Error("expected domain-only lens to reject an unrelated domain")
	}
}

func TestParseManifestMissingName(t *testing.T) {
	_, err := ParseManifest([]byte("description: no name here"))
	if err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestTagSet(t *testing.T) {
	m := &Manifest{
		Name:       "rust-docs",
		Categories: []string{"programming", "reference"},
		Tags:       []string{"owner=me", "malformed", "type=documentation"},
	}

	lens, err := Compile(m)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	got := lens.TagSet()

	want := [][2]string{
		{"lens", "rust-docs"},
		{"category", "programming"},
		{"category", "reference"},
		{"owner", "me"},
		{"type", "documentation"},
	}

	if len(got) != len(want) {
		t.Fatalf("TagSet() = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TagSet()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
