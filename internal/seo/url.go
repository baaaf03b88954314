package seo

import (
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL so that different string forms of the
// same page collapse to one key. It strips the fragment, removes a single
// trailing slash (except for the root path), and lower-cases scheme and
// host. Query string and path case are preserved; query parameter order is
// deliberately not collapsed.
//
// On unparsable input it falls back to the lower-cased raw string. It never
// fails.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	// A bare authority normalizes the same as the explicit root path.
	switch {
	case u.Path == "/" && u.RawQuery == "":
		u.Path = ""
	case u.Path == "" && u.RawQuery != "":
		u.Path = "/"
	}

	return u.String()
}

// ResolveURL resolves href against base and returns the normalized absolute
// form, or "" when href cannot produce a crawlable URL.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := b.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return NormalizeURL(abs.String())
}

// Hostname returns the lower-cased hostname of rawURL without a leading
// "www.", the key used for Domain records. Empty on unparsable input.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SameHost reports whether a and b share the same bare hostname, ignoring a
// "www." prefix.
func SameHost(a, b string) bool {
	ha, hb := Hostname(a), Hostname(b)
	return ha != "" && ha == hb
}
