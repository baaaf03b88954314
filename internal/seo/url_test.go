package seo

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host and strip trailing slash", "https://Example.com/a/", "https://example.com/a"},
		{"plain path unchanged", "https://example.com/a", "https://example.com/a"},
		{"root slash collapses to authority", "https://example.com/", "https://example.com"},
		{"bare authority unchanged", "https://example.com", "https://example.com"},
		{"fragment stripped", "https://example.com/page#section", "https://example.com/page"},
		{"query preserved", "https://example.com/search?q=Go&page=2", "https://example.com/search?q=Go&page=2"},
		{"path case preserved", "https://example.com/About/Team", "https://example.com/About/Team"},
		{"scheme lowercased", "HTTPS://example.com/a", "https://example.com/a"},
		{"only one trailing slash removed", "https://example.com/a//", "https://example.com/a/"},
		{"root with query keeps slash form", "https://example.com/?q=1", "https://example.com/?q=1"},
		{"bare authority with query matches slash form", "https://example.com?q=1", "https://example.com/?q=1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeURLEquivalences(t *testing.T) {
	t.Parallel()

	if NormalizeURL("https://Example.com/a/") != NormalizeURL("https://example.com/a") {
		t.Fatal("case/slash variants did not collapse")
	}
	if NormalizeURL("https://example.com/") != NormalizeURL("https://example.com") {
		t.Fatal("root slash variant did not collapse")
	}
}

func TestNormalizeURLUnparsableFallsBack(t *testing.T) {
	t.Parallel()

	// Control characters make url.Parse fail; fallback is a pure
	// lower-cased string, never a panic or error.
	in := "HTTP://bad\x7f URL"
	if got := NormalizeURL(in); got != "http://bad\x7f url" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		href string
		want string
	}{
		{"relative path", "https://example.com/blog/", "post-1", "https://example.com/blog/post-1"},
		{"absolute path", "https://example.com/blog/", "/about", "https://example.com/about"},
		{"absolute url", "https://example.com/", "https://other.com/x", "https://other.com/x"},
		{"mailto rejected", "https://example.com/", "mailto:x@example.com", ""},
		{"javascript rejected", "https://example.com/", "javascript:void(0)", ""},
		{"empty rejected", "https://example.com/", "   ", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ResolveURL(tt.base, tt.href); got != tt.want {
				t.Fatalf("ResolveURL(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.want)
			}
		})
	}
}

func TestHostname(t *testing.T) {
	t.Parallel()

	if got := Hostname("https://WWW.Example.com/page"); got != "example.com" {
		t.Fatalf("Hostname() = %q, want example.com", got)
	}
	if got := Hostname("https://example.com:8080/page"); got != "example.com" {
		t.Fatalf("Hostname() = %q, want example.com", got)
	}
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	if !SameHost("https://www.example.com/a", "https://example.com/b") {
		t.Fatal("www variant should match bare host")
	}
	if SameHost("https://example.com/a", "https://other.com/b") {
		t.Fatal("different hosts should not match")
	}
}
