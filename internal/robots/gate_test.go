package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store/memory"
)

const testRobots = `User-agent: *
Disallow: /private
Crawl-delay: 2
Sitemap: https://example.com/sitemap.xml
`

func TestFetchParsesRules(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte(testRobots))
	}))
	defer srv.Close()

	st := memory.New()
	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, st, zap.NewNop())

	rs, err := g.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	require.False(t, rs.Allowed(srv.URL+"/private/page"))
	require.True(t, rs.Allowed(srv.URL+"/public/page"))
	require.Equal(t, 2*time.Second, rs.CrawlDelay())
	require.Equal(t, []string{"https://example.com/sitemap.xml"}, rs.SitemapURLs)

	// Raw content is cached against the Domain record.
	d, err := st.GetDomain(context.Background(), seo.Hostname(srv.URL))
	require.NoError(t, err)
	require.Equal(t, testRobots, d.RobotsTxtContent)
}

func TestFetchTimeoutRequiresApproval(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("User-agent: *\nAllow: /"))
	}))
	defer srv.Close()

	g := NewGate(Config{UserAgent: "seo-bot", Timeout: 50 * time.Millisecond}, memory.New(), zap.NewNop())

	_, err := g.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, seo.IsApprovalRequired(err), "timeout must gate on approval, not allow")
}

func TestFetchServerErrorRequiresApproval(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, memory.New(), zap.NewNop())

	_, err := g.Fetch(context.Background(), srv.URL)
	require.True(t, seo.IsApprovalRequired(err))
}

func TestFetchMissingRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, memory.New(), zap.NewNop())

	rs, err := g.Fetch(context.Background(), srv.URL)
	require.NoError(t, err, "a 404 means no restrictions, not approval")
	require.True(t, rs.Allowed(srv.URL+"/anything"))
}

func TestAllowAllPolicy(t *testing.T) {
	t.Parallel()

	p := AllowAll()
	require.True(t, p.Allowed("https://example.com/private/page"))
	require.Zero(t, p.CrawlDelay())
}

func TestSitemapDirectives(t *testing.T) {
	t.Parallel()

	content := "User-agent: *\n" +
		"Disallow: /x\n" +
		"sitemap: https://a.com/s1.xml\n" +
		"Sitemap: https://a.com/s2.xml # trailing comment\n" +
		"# Sitemap: https://a.com/ignored.xml\n"
	got := sitemapDirectives(content)
	require.Equal(t, []string{"https://a.com/s1.xml", "https://a.com/s2.xml"}, got)
}
