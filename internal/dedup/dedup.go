// Package dedup implements the content-hash deduplication pass. Pages whose
// normalized text hashed identically are the same content under different
// URLs; only the most recently crawled copy is kept.
package dedup

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
)

// Report summarizes one deduplication pass.
type Report struct {
	// Examined is the number of results considered.
	Examined int `json:"examined"`
	// Groups is the number of content-hash groups with more than one
	// member before the pass.
	Groups int `json:"groups"`
	// Removed is the total number of results deleted.
	Removed int `json:"removed"`
	// RemovedByHash maps each duplicated content hash to how many of its
	// members were deleted.
	RemovedByHash map[string]int `json:"removed_by_hash,omitempty"`
}

// Deduplicator runs on-demand content-hash passes over persisted results.
type Deduplicator struct {
	store  store.Store
	logger *zap.Logger
}

// New constructs a Deduplicator.
func New(st store.Store, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{store: st, logger: logger}
}

// Run deduplicates one audit's results. Re-running after a clean pass is a
// no-op. Results without a content hash (non-HTML, failed extraction) are
// never grouped.
func (d *Deduplicator) Run(ctx context.Context, auditID string) (Report, error) {
	results, err := d.store.ListCrawlResults(ctx, auditID)
	if err != nil {
		return Report{}, fmt.Errorf("list results: %w", err)
	}
	return d.dedupe(ctx, results)
}

// RunGlobal deduplicates across every audit in every lifecycle state.
// Cross-site false positives are the caller's risk; per-audit Run is the
// default.
func (d *Deduplicator) RunGlobal(ctx context.Context) (Report, error) {
	var pool []seo.CrawlResult
	for _, status := range []seo.AuditStatus{
		seo.AuditStatusPending,
		seo.AuditStatusPendingApproval,
		seo.AuditStatusInProgress,
		seo.AuditStatusPaused,
		seo.AuditStatusCompleted,
		seo.AuditStatusStopped,
		seo.AuditStatusFailed,
	} {
		audits, err := d.store.ListAuditsByStatus(ctx, status)
		if err != nil {
			return Report{}, fmt.Errorf("list %s audits: %w", status, err)
		}
		for _, a := range audits {
			results, err := d.store.ListCrawlResults(ctx, a.ID)
			if err != nil {
				return Report{}, fmt.Errorf("list results for %s: %w", a.ID, err)
			}
			pool = append(pool, results...)
		}
	}
	return d.dedupe(ctx, pool)
}

func (d *Deduplicator) dedupe(ctx context.Context, results []seo.CrawlResult) (Report, error) {
	report := Report{Examined: len(results)}

	groups := make(map[string][]seo.CrawlResult)
	for _, r := range results {
		if r.ContentHash == "" {
			continue
		}
		groups[r.ContentHash] = append(groups[r.ContentHash], r)
	}

	for hash, group := range groups {
		if len(group) < 2 {
			continue
		}
		report.Groups++

		// Most recently crawled wins; ID breaks FetchedAt ties so the
		// pass is deterministic.
		sort.Slice(group, func(i, j int) bool {
			if !group[i].FetchedAt.Equal(group[j].FetchedAt) {
				return group[i].FetchedAt.After(group[j].FetchedAt)
			}
			return group[i].ID > group[j].ID
		})

		for _, victim := range group[1:] {
			if err := d.store.DeleteCrawlResult(ctx, victim.ID); err != nil {
				return report, fmt.Errorf("delete result %s: %w", victim.ID, err)
			}
			report.Removed++
			if report.RemovedByHash == nil {
				report.RemovedByHash = make(map[string]int)
			}
			report.RemovedByHash[hash]++
			d.logger.Debug("duplicate removed",
				zap.String("result_id", victim.ID),
				zap.String("url", victim.URL),
				zap.String("kept", group[0].ID))
		}
	}
	return report, nil
}
