package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

const maxSitemapBytes = 10 << 20

// DiscoverSitemaps resolves the seed URL set for a site. It fetches every
// sitemap listed in the rule set (falling back to a /sitemap.xml probe when
// robots.txt lists none), expands sitemap indexes one level deep, caches
// the raw sitemap contents against the Domain record, and returns the
// contained page URLs in normalized form.
//
// Sitemap failures are not fatal: a site without a usable sitemap is
// crawled from its root by link discovery instead.
func (g *Gate) DiscoverSitemaps(ctx context.Context, rs *RuleSet, siteURL string) []string {
	host := seo.Hostname(siteURL)

	candidates := rs.SitemapURLs
	if len(candidates) == 0 {
		if base, err := url.Parse(siteURL); err == nil && base.Host != "" {
			scheme := base.Scheme
			if scheme == "" {
				scheme = "https"
			}
			candidates = []string{fmt.Sprintf("%s://%s/sitemap.xml", scheme, base.Host)}
		}
	}

	var pageURLs []string
	var cached []seo.Sitemap
	seen := make(map[string]struct{})

	for _, sitemapURL := range candidates {
		content, err := g.fetchSitemap(ctx, sitemapURL)
		if err != nil {
			g.logger.Debug("sitemap fetch failed",
				zap.String("url", sitemapURL), zap.Error(err))
			continue
		}
		cached = append(cached, seo.Sitemap{URL: sitemapURL, Content: content})

		children, pages := parseSitemap(content)
		collectPages(pages, seen, &pageURLs)

		// One level of sitemap-index recursion.
		for _, childURL := range children {
			childContent, err := g.fetchSitemap(ctx, childURL)
			if err != nil {
				g.logger.Debug("child sitemap fetch failed",
					zap.String("url", childURL), zap.Error(err))
				continue
			}
			cached = append(cached, seo.Sitemap{URL: childURL, Content: childContent})
			_, childPages := parseSitemap(childContent)
			collectPages(childPages, seen, &pageURLs)
		}
	}

	if g.store != nil && len(cached) > 0 {
		// On the skip-robots path Fetch never ran, so the Domain row may
		// not exist yet; start a fresh one rather than dropping the cache.
		domain, err := g.store.GetDomain(ctx, host)
		if err != nil {
			domain = seo.Domain{Host: host}
		}
		domain.Sitemaps = cached
		if err := g.store.UpsertDomain(ctx, domain); err != nil {
			g.logger.Warn("cache sitemaps", zap.String("host", host), zap.Error(err))
		}
	}
	return pageURLs
}

func collectPages(pages []string, seen map[string]struct{}, out *[]string) {
	for _, p := range pages {
		normalized := seo.NormalizeURL(p)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		*out = append(*out, normalized)
	}
}

func (g *Gate) fetchSitemap(ctx context.Context, sitemapURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return "", fmt.Errorf("new sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close sitemap body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return "", fmt.Errorf("read sitemap body: %w", err)
	}
	return string(body), nil
}

// parseSitemap returns child sitemap URLs (for index files) and page URLs
// (for leaf files). Malformed XML yields nothing rather than an error.
func parseSitemap(content string) (children, pages []string) {
	doc, err := xmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, nil
	}
	for _, node := range xmlquery.Find(doc, "//sitemapindex/sitemap/loc") {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			children = append(children, loc)
		}
	}
	for _, node := range xmlquery.Find(doc, "//urlset/url/loc") {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			pages = append(pages, loc)
		}
	}
	return children, pages
}
