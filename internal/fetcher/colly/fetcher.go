// Package collyfetcher implements seo.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// TextHasher digests normalized page text for content deduplication.
type TextHasher interface {
	HashText(text string) (string, error)
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	MaxRedirects int
}

// Fetcher implements seo.Fetcher using the Colly collector. Each Fetch
// clones the base collector so concurrent fetches never share callbacks.
type Fetcher struct {
	cfg           Config
	hasher        TextHasher
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, hasher TextHasher) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // admission is decided by the robots gate, not per request
	c.ParseHTTPErrorResponse = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		hasher:        hasher,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and extracts the page's SEO data.
//
// Non-2xx terminal responses are returned as a populated PageData with that
// status code and a nil error: a 404 is a finding, not a fetch failure.
// Transport-level failures return a *seo.NetworkError. A body that cannot
// be parsed returns the fetch-level fields plus a *seo.ParseError; callers
// persist what was extracted.
func (f *Fetcher) Fetch(ctx context.Context, req seo.FetchRequest) (seo.PageData, error) {
	var (
		result   seo.PageData
		fetchErr error
		body     []byte
	)
	start := time.Now()
	collector := f.buildCollector(req, start, &result, &body, &fetchErr)

	if err := f.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return seo.PageData{}, err
	}

	result.URL = req.URL
	if result.FinalURL == "" {
		result.FinalURL = req.URL
	}
	if !isHTML(result.ContentType) || len(body) == 0 {
		return result, nil
	}
	if err := extract(&result, body, f.hasher); err != nil {
		return result, &seo.ParseError{URL: req.URL, Cause: err}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	req seo.FetchRequest,
	start time.Time,
	result *seo.PageData,
	body *[]byte,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes
	}

	maxRedirects := f.cfg.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 10
	}
	collector.SetRedirectHandler(func(r *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		result.RedirectChain = append(result.RedirectChain, r.URL.String())
		return nil
	})

	collector.OnResponse(func(r *colly.Response) {
		result.FinalURL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		result.Duration = time.Since(start)
		*body = append([]byte(nil), r.Body...)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// Terminal HTTP error status that colly did not hand to
			// OnResponse. Still a recordable result.
			result.FinalURL = r.Request.URL.String()
			result.StatusCode = r.StatusCode
			result.ContentType = r.Headers.Get("Content-Type")
			result.Duration = time.Since(start)
			return
		}
		*fetchErr = &seo.NetworkError{URL: req.URL, Cause: err}
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &seo.NetworkError{URL: url, Cause: ctx.Err()}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &seo.NetworkError{URL: url, Cause: err}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
