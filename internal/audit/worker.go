package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/metrics"
	"github.com/calumnguyen/seo-crawler-sub001/internal/queue"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// Indexer records backlinks for the external links of a freshly crawled
// page.
type Indexer interface {
	IndexPage(ctx context.Context, result seo.CrawlResult) (int, error)
}

// Worker consumes crawl jobs and executes the fetch pipeline for one job
// at a time. Run several Workers over the same Manager to crawl
// concurrently.
type Worker struct {
	mgr     *Manager
	fetcher seo.Fetcher
	indexer Indexer
	logger  *zap.Logger
}

// NewWorker constructs a Worker. indexer may be nil to disable backlink
// indexing.
func NewWorker(mgr *Manager, fetcher seo.Fetcher, indexer Indexer, logger *zap.Logger) *Worker {
	return &Worker{
		mgr:     mgr,
		fetcher: fetcher,
		indexer: indexer,
		logger:  logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.mgr.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, job)
	}
}

// Process fetches one job's URL and applies its side effects.
//
// After the fetch and before any side effect the owning audit's status is
// re-read: pause and stop may have landed while the fetch was in flight,
// and a non-in_progress audit must not gain results or frontier. This is
// the concurrency contract that makes pause advisory for in-flight work.
func (w *Worker) Process(ctx context.Context, job queue.Job) {
	pd, err := w.fetcher.Fetch(ctx, seo.FetchRequest{
		AuditID: job.AuditID,
		URL:     job.URL,
		Depth:   job.Depth,
	})
	var parseErr *seo.ParseError
	if err != nil && !errors.As(err, &parseErr) {
		// Network failure. The queue decides whether it retries.
		if requeued := w.mgr.queue.Complete(job.ID, err); requeued {
			metrics.ObserveJob("retried")
		} else {
			metrics.ObserveJob("failed")
			w.mgr.log(ctx, job.AuditID, "giving up on "+job.URL+": "+err.Error())
		}
		return
	}
	if parseErr != nil {
		w.logger.Debug("partial extraction",
			zap.String("url", job.URL), zap.Error(parseErr))
	}

	audit, err := w.mgr.store.GetAudit(ctx, job.AuditID)
	if err != nil || audit.Status != seo.AuditStatusInProgress {
		w.mgr.queue.Complete(job.ID, nil)
		metrics.ObserveJob("discarded")
		w.logger.Debug("discarding fetch for inactive audit",
			zap.String("audit_id", job.AuditID),
			zap.String("url", job.URL))
		return
	}

	result, err := w.buildResult(job, pd)
	if err != nil {
		w.mgr.queue.Complete(job.ID, nil)
		w.logger.Error("build result", zap.String("url", job.URL), zap.Error(err))
		return
	}
	if err := w.mgr.store.CreateCrawlResult(ctx, result); err != nil {
		w.mgr.queue.Complete(job.ID, nil)
		w.logger.Error("persist result", zap.String("url", job.URL), zap.Error(err))
		return
	}
	w.mgr.tracker.Touch(job.AuditID, w.mgr.clock.Now())
	metrics.ObservePage(seo.Hostname(result.URL), result.StatusCode, pd.Duration)

	if w.indexer != nil {
		if n, err := w.indexer.IndexPage(ctx, result); err != nil {
			w.logger.Warn("index backlinks", zap.String("url", job.URL), zap.Error(err))
		} else if n > 0 {
			metrics.ObserveBacklinks(n)
			w.logger.Debug("backlinks indexed", zap.String("url", job.URL), zap.Int("count", n))
		}
	}

	var frontier []string
	for _, link := range result.Links {
		if link.IsExternal {
			continue
		}
		frontier = append(frontier, link.Href)
	}
	w.mgr.expandFrontier(ctx, audit, frontier, job.Depth+1)

	w.mgr.queue.Complete(job.ID, nil)
	metrics.ObserveJob("completed")
}

// buildResult turns the fetcher output into a persistable CrawlResult.
func (w *Worker) buildResult(job queue.Job, pd seo.PageData) (seo.CrawlResult, error) {
	id, err := w.mgr.ids.NewID()
	if err != nil {
		return seo.CrawlResult{}, err
	}
	result := seo.CrawlResult{
		ID:              id,
		AuditID:         job.AuditID,
		URL:             pd.URL,
		URLNormalized:   seo.NormalizeURL(pd.URL),
		FinalURL:        pd.FinalURL,
		RedirectChain:   pd.RedirectChain,
		StatusCode:      pd.StatusCode,
		Title:           pd.Title,
		MetaDescription: pd.MetaDescription,
		MetaKeywords:    pd.MetaKeywords,
		MetaRobots:      pd.MetaRobots,
		CanonicalURL:    pd.CanonicalURL,
		Language:        pd.Language,
		WordCount:       pd.WordCount,
		Completeness:    pd.Completeness,
		ContentHash:     pd.ContentHash,
		FetchedAt:       w.mgr.clock.Now(),
		DurationMs:      pd.Duration.Milliseconds(),
		Headings:        pd.Headings,
		Images:          pd.Images,
		OgTags:          pd.OgTags,
		StructuredData:  pd.StructuredData,
		Issues:          deriveIssues(pd),
	}
	for i, pl := range pd.Links {
		linkID, err := w.mgr.ids.NewID()
		if err != nil {
			return seo.CrawlResult{}, err
		}
		result.Links = append(result.Links, seo.Link{
			ID:            linkID,
			CrawlResultID: id,
			Href:          pl.Href,
			Text:          pl.Text,
			Rel:           pl.Rel,
			IsExternal:    pl.IsExternal,
			Position:      i,
		})
	}
	return result, nil
}

// deriveIssues flags the basic on-page findings. Only pages that returned
// HTML are judged; a PDF without a title is not an issue.
func deriveIssues(pd seo.PageData) []seo.Issue {
	if pd.StatusCode >= 400 {
		return []seo.Issue{{
			Code:     "http_error",
			Severity: "error",
			Message:  "page returned an error status",
		}}
	}
	if pd.ContentHash == "" {
		return nil
	}
	var issues []seo.Issue
	if pd.Title == "" {
		issues = append(issues, seo.Issue{Code: "missing_title", Severity: "error", Message: "page has no <title>"})
	}
	if pd.MetaDescription == "" {
		issues = append(issues, seo.Issue{Code: "missing_description", Severity: "warning", Message: "page has no meta description"})
	}
	hasH1 := false
	for _, h := range pd.Headings {
		if h.Level == 1 {
			hasH1 = true
			break
		}
	}
	if !hasH1 {
		issues = append(issues, seo.Issue{Code: "missing_h1", Severity: "warning", Message: "page has no H1 heading"})
	}
	for _, img := range pd.Images {
		if img.Alt == "" {
			issues = append(issues, seo.Issue{Code: "image_missing_alt", Severity: "notice", Message: "image without alt text: " + img.Src})
		}
	}
	return issues
}
