// Package robots implements the robots.txt compliance gate.
//
// Fetching robots.txt is an external network call subject to failure.
// Failing open would be a policy violation; failing closed would strand
// every audit whose target has a slow robots endpoint. The gate therefore
// fails into an explicit approval state that a human resolves.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
)

const maxRobotsBytes = 1 << 20

// Policy answers per-URL allow/deny for one audit.
type Policy interface {
	// Allowed reports whether rawURL may be crawled. Longest matching
	// prefix wins; default allow when no rule matches.
	Allowed(rawURL string) bool
	// CrawlDelay is the robots-requested spacing between fetches, zero
	// when unspecified.
	CrawlDelay() time.Duration
}

// RuleSet is the parsed policy for one host.
type RuleSet struct {
	group      *robotstxt.Group
	crawlDelay time.Duration
	// SitemapURLs are the Sitemap directives listed in robots.txt.
	SitemapURLs []string
}

// Allowed implements Policy.
func (rs *RuleSet) Allowed(rawURL string) bool {
	if rs == nil || rs.group == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rs.group.Test(path)
}

// CrawlDelay implements Policy.
func (rs *RuleSet) CrawlDelay() time.Duration {
	if rs == nil {
		return 0
	}
	return rs.crawlDelay
}

type allowAll struct{}

func (allowAll) Allowed(string) bool       { return true }
func (allowAll) CrawlDelay() time.Duration { return 0 }

// AllowAll is the policy applied to audits approved past the robots gate.
func AllowAll() Policy { return allowAll{} }

// Config controls the gate's HTTP behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Gate fetches, parses and caches robots.txt per domain.
type Gate struct {
	client    *http.Client
	store     store.Store
	userAgent string
	logger    *zap.Logger
}

// NewGate builds a Gate. The store receives Domain cache writes.
func NewGate(cfg Config, st store.Store, logger *zap.Logger) *Gate {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "seo-crawler/1.0"
	}
	return &Gate{
		client:    &http.Client{Timeout: timeout},
		store:     st,
		userAgent: ua,
		logger:    logger,
	}
}

// Fetch obtains and parses robots.txt for the host of siteURL, caching the
// raw content against the Domain record. A transport failure or timeout
// returns *seo.ApprovalRequiredError, never a silent allow.
func (g *Gate) Fetch(ctx context.Context, siteURL string) (*RuleSet, error) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("parse site url %q: invalid host", siteURL)
	}
	host := seo.Hostname(siteURL)
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, u.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &seo.ApprovalRequiredError{Host: host, Cause: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, &seo.ApprovalRequiredError{Host: host, Cause: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &seo.ApprovalRequiredError{
			Host:  host,
			Cause: fmt.Errorf("robots.txt returned status %d", resp.StatusCode),
		}
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, &seo.ApprovalRequiredError{Host: host, Cause: err}
	}

	rs := &RuleSet{
		group:       data.FindGroup(g.userAgent),
		SitemapURLs: sitemapDirectives(string(body)),
	}
	if rs.group != nil {
		rs.crawlDelay = rs.group.CrawlDelay
	}

	if g.store != nil {
		domain := seo.Domain{
			Host:             host,
			RobotsTxtURL:     robotsURL,
			RobotsTxtContent: string(body),
			FetchedAt:        time.Now().UTC(),
		}
		if err := g.store.UpsertDomain(ctx, domain); err != nil {
			g.logger.Warn("cache robots content", zap.String("host", host), zap.Error(err))
		}
	}
	return rs, nil
}

// sitemapDirectives extracts Sitemap: lines regardless of user-agent group.
func sitemapDirectives(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		key, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "sitemap") {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			out = append(out, v)
		}
	}
	return out
}
