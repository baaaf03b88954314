package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store/memory"
)

const leafSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/</loc></url>
  <url><loc>https://example.com/about</loc></url>
  <url><loc>https://example.com/blog/post-1</loc></url>
</urlset>`

func TestParseSitemapLeaf(t *testing.T) {
	t.Parallel()

	children, pages := parseSitemap(leafSitemap)
	require.Empty(t, children)
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/blog/post-1",
	}, pages)
}

func TestParseSitemapIndex(t *testing.T) {
	t.Parallel()

	index := `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-pages.xml</loc></sitemap>
</sitemapindex>`
	children, pages := parseSitemap(index)
	require.Empty(t, pages)
	require.Equal(t, []string{
		"https://example.com/sitemap-posts.xml",
		"https://example.com/sitemap-pages.xml",
	}, children)
}

func TestParseSitemapMalformed(t *testing.T) {
	t.Parallel()

	children, pages := parseSitemap("this is not xml <<<")
	require.Empty(t, children)
	require.Empty(t, pages)
}

func TestDiscoverSitemapsExpandsIndexOneLevel(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<sitemapindex><sitemap><loc>%s/sitemap-child.xml</loc></sitemap></sitemapindex>`, srvURL)
	})
	mux.HandleFunc("/sitemap-child.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<urlset>
		  <url><loc>%s/a/</loc></url>
		  <url><loc>%s/b</loc></url>
		  <url><loc>%s/a</loc></url>
		</urlset>`, srvURL, srvURL, srvURL)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	st := memory.New()
	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, st, zap.NewNop())

	rs := &RuleSet{SitemapURLs: []string{srv.URL + "/sitemap.xml"}}
	pages := g.DiscoverSitemaps(context.Background(), rs, srv.URL)

	// /a/ and /a collapse to one normalized URL.
	require.Equal(t, []string{srv.URL + "/a", srv.URL + "/b"}, pages)
}

func TestDiscoverSitemapsProbeFallback(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<urlset><url><loc>https://example.com/only</loc></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, memory.New(), zap.NewNop())

	// robots.txt listed no sitemaps; the gate probes /sitemap.xml.
	pages := g.DiscoverSitemaps(context.Background(), &RuleSet{}, srv.URL)
	require.Equal(t, []string{"https://example.com/only"}, pages)
}

func TestDiscoverSitemapsCachesWithoutDomainRow(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<urlset><url><loc>https://example.com/cached</loc></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := memory.New()
	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, st, zap.NewNop())

	// No prior Fetch means no Domain row; the cache must be created anyway.
	pages := g.DiscoverSitemaps(context.Background(), &RuleSet{}, srv.URL)
	require.Len(t, pages, 1)

	domain, err := st.GetDomain(context.Background(), seo.Hostname(srv.URL))
	require.NoError(t, err)
	require.Len(t, domain.Sitemaps, 1)
	require.Contains(t, domain.Sitemaps[0].Content, "/cached")
}

func TestDiscoverSitemapsMissingIsNotFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGate(Config{UserAgent: "seo-bot", Timeout: time.Second}, memory.New(), zap.NewNop())

	pages := g.DiscoverSitemaps(context.Background(), &RuleSet{}, srv.URL)
	require.Empty(t, pages)
}
