package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// ReadyTracker remembers, per audit, when crawl activity last changed. The
// completion sweep uses it to enforce the inactivity window: an audit with
// an empty queue is only provisionally done, late sitemap entries or slow
// in-flight fetches may still add pages.
type ReadyTracker interface {
	// Touch records crawl activity at now, restarting the quiet period.
	Touch(auditID string, now time.Time)
	// Observe records a sweep snapshot of the audit's page total. A
	// changed total restarts the quiet period.
	Observe(auditID string, total int, now time.Time)
	// QuietSince reports how long the audit has been inactive. Zero for
	// audits never observed.
	QuietSince(auditID string, now time.Time) time.Duration
	// Forget discards the audit's state.
	Forget(auditID string)
}

type trackerEntry struct {
	lastTotal  int
	lastChange time.Time
}

type memTracker struct {
	mu      sync.Mutex
	entries map[string]*trackerEntry
}

// NewReadyTracker returns the in-process ReadyTracker.
func NewReadyTracker() ReadyTracker {
	return &memTracker{entries: make(map[string]*trackerEntry)}
}

func (t *memTracker) Touch(auditID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[auditID]
	if !ok {
		e = &trackerEntry{lastTotal: -1}
		t.entries[auditID] = e
	}
	e.lastChange = now
}

func (t *memTracker) Observe(auditID string, total int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[auditID]
	if !ok {
		t.entries[auditID] = &trackerEntry{lastTotal: total, lastChange: now}
		return
	}
	if e.lastTotal != total {
		e.lastTotal = total
		e.lastChange = now
	}
}

func (t *memTracker) QuietSince(auditID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[auditID]
	if !ok {
		return 0
	}
	return now.Sub(e.lastChange)
}

func (t *memTracker) Forget(auditID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, auditID)
}

// CompletionSweep examines every in_progress audit, refreshes its progress
// snapshot and completes those whose queue has stayed empty and whose page
// count has stayed stable for the full completion window. Returns the IDs
// of audits completed by this sweep.
//
// An audit with any visible queued or active job is never completed, no
// matter how long it has been quiet.
func (m *Manager) CompletionSweep(ctx context.Context) ([]string, error) {
	audits, err := m.store.ListAuditsByStatus(ctx, seo.AuditStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list in_progress audits: %w", err)
	}
	now := m.clock.Now()

	var completed []string
	for _, audit := range audits {
		crawled, err := m.store.CountCrawlResults(ctx, audit.ID)
		if err != nil {
			m.logger.Error("sweep count results", zap.String("audit_id", audit.ID), zap.Error(err))
			continue
		}
		counts := m.queue.CountsFor(audit.ID)
		queued := counts.Waiting + counts.Delayed + counts.Active
		total := crawled + queued

		if err := m.store.UpdateAuditProgress(ctx, audit.ID, crawled, total); err != nil {
			m.logger.Error("sweep update progress", zap.String("audit_id", audit.ID), zap.Error(err))
			continue
		}
		m.tracker.Observe(audit.ID, total, now)

		if queued > 0 {
			continue
		}
		// An audit with no crawled pages has nothing to complete; it stays
		// in_progress until a page lands or an operator stops it.
		if crawled == 0 {
			continue
		}
		if m.tracker.QuietSince(audit.ID, now) < m.cfg.CompletionWindow {
			continue
		}

		m.mu.Lock()
		if err := m.store.UpdateAuditStatus(ctx, audit.ID, seo.AuditStatusCompleted, now); err != nil {
			m.mu.Unlock()
			m.logger.Error("sweep complete audit", zap.String("audit_id", audit.ID), zap.Error(err))
			continue
		}
		m.releaseLocked(ctx, audit.ID)
		m.mu.Unlock()

		m.logger.Info("audit completed",
			zap.String("audit_id", audit.ID),
			zap.Int("pages_crawled", crawled))
		completed = append(completed, audit.ID)
	}
	return completed, nil
}
