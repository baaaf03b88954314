// Package audit implements the audit lifecycle state machine and the crawl
// loop built on top of the job queue.
//
// Allowed transitions:
//
//	pending → pending_approval ⇄ in_progress ⇄ paused
//	in_progress → completed | failed | stopped
//	paused → stopped (automatic after the auto-stop timeout)
//	pending_approval → in_progress (on approve)
//
// completed and stopped are terminal. failed is not: a failed audit may
// still be stopped.
package audit

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/queue"
	"github.com/calumnguyen/seo-crawler-sub001/internal/robots"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
)

// Gate resolves the robots policy and seed URLs for a site.
type Gate interface {
	Fetch(ctx context.Context, siteURL string) (*robots.RuleSet, error)
	DiscoverSitemaps(ctx context.Context, rs *robots.RuleSet, siteURL string) []string
}

// Config controls crawl behavior.
type Config struct {
	// MaxDepth bounds link-following distance from the seeds.
	MaxDepth int
	// MaxPages bounds how many pages one audit may crawl; zero is unlimited.
	MaxPages int
	// CompletionWindow is how long an audit must sit with an empty queue
	// and a stable page count before it is declared complete.
	CompletionWindow time.Duration
	// AutoStopAfter is how long a paused audit may linger before it is
	// stopped automatically.
	AutoStopAfter time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxDepth == 0 {
		c.MaxDepth = 5
	}
	if c.CompletionWindow == 0 {
		c.CompletionWindow = 15 * time.Minute
	}
	if c.AutoStopAfter == 0 {
		c.AutoStopAfter = 14 * 24 * time.Hour
	}
}

// Manager owns audit state transitions and the per-audit crawl registries.
type Manager struct {
	cfg     Config
	store   store.Store
	queue   *queue.Queue
	gate    Gate
	clock   seo.Clock
	ids     seo.IDGenerator
	tracker ReadyTracker
	logger  *zap.Logger

	mu       sync.Mutex
	policies map[string]robots.Policy
	visited  map[string]*seo.VisitedSet
	seeds    map[string][]string

	// bootstraps lets tests wait for async seed resolution.
	bootstraps sync.WaitGroup
}

// NewManager constructs a Manager.
func NewManager(
	cfg Config,
	st store.Store,
	q *queue.Queue,
	gate Gate,
	clock seo.Clock,
	ids seo.IDGenerator,
	tracker ReadyTracker,
	logger *zap.Logger,
) *Manager {
	cfg.applyDefaults()
	if tracker == nil {
		tracker = NewReadyTracker()
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		queue:    q,
		gate:     gate,
		clock:    clock,
		ids:      ids,
		tracker:  tracker,
		logger:   logger,
		policies: make(map[string]robots.Policy),
		visited:  make(map[string]*seo.VisitedSet),
		seeds:    make(map[string][]string),
	}
}

// Get returns the audit with its progress counters recomputed: the stored
// pagesCrawled snapshot is never trusted over the result count.
func (m *Manager) Get(ctx context.Context, auditID string) (seo.Audit, error) {
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		return seo.Audit{}, err
	}
	crawled, err := m.store.CountCrawlResults(ctx, auditID)
	if err != nil {
		return seo.Audit{}, err
	}
	counts := m.queue.CountsFor(auditID)
	audit.PagesCrawled = crawled
	audit.PagesTotal = crawled + counts.Waiting + counts.Delayed + counts.Active
	return audit, nil
}

// QueueCounts reports the audit's visible queue population.
func (m *Manager) QueueCounts(ctx context.Context, auditID string) (queue.Counts, error) {
	if _, err := m.store.GetAudit(ctx, auditID); err != nil {
		return queue.Counts{}, err
	}
	return m.queue.CountsFor(auditID), nil
}

// StartOptions carries the caller's optional overrides for a fresh audit.
type StartOptions struct {
	// SeedURLs, when non-empty, replaces sitemap discovery as the initial
	// frontier. URLs on foreign hosts or with skipped extensions are still
	// filtered out.
	SeedURLs []string
	// SkipRobotsCheck starts the audit past the robots gate, as if it had
	// been approved up front.
	SkipRobotsCheck bool
}

// Start begins a pending audit. The status moves to in_progress before seed
// resolution, which continues asynchronously; a robots refusal later moves
// the audit to pending_approval. Starting an audit that already ran, or is
// running, is a conflict.
func (m *Manager) Start(ctx context.Context, auditID string, opts StartOptions) (seo.Audit, error) {
	m.mu.Lock()
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	if audit.Status != seo.AuditStatusPending {
		m.mu.Unlock()
		return seo.Audit{}, seo.Conflictf("audit %s is %s, only pending audits start", auditID, audit.Status)
	}
	if opts.SkipRobotsCheck {
		if err := m.store.SetAuditSkipRobots(ctx, auditID, true); err != nil {
			m.mu.Unlock()
			return seo.Audit{}, err
		}
	}
	now := m.clock.Now()
	if err := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusInProgress, now); err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	m.visited[auditID] = &seo.VisitedSet{}
	if len(opts.SeedURLs) > 0 {
		// Retained across a pending_approval detour so approval re-seeds
		// from the same list.
		m.seeds[auditID] = append([]string(nil), opts.SeedURLs...)
	}
	m.mu.Unlock()

	m.log(ctx, auditID, "audit started")
	m.spawnBootstrap(auditID)
	return m.store.GetAudit(ctx, auditID)
}

// Approve clears the robots gate for an audit waiting on approval. The
// skip-robots flag is persisted so a later resume does not re-block.
func (m *Manager) Approve(ctx context.Context, auditID string) (seo.Audit, error) {
	m.mu.Lock()
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	if audit.Status != seo.AuditStatusPendingApproval {
		m.mu.Unlock()
		return seo.Audit{}, seo.Conflictf("audit %s is %s, not pending_approval", auditID, audit.Status)
	}
	if err := m.store.SetAuditSkipRobots(ctx, auditID, true); err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	now := m.clock.Now()
	if err := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusInProgress, now); err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	if m.visited[auditID] == nil {
		m.visited[auditID] = &seo.VisitedSet{}
	}
	m.mu.Unlock()

	m.log(ctx, auditID, "robots check approved by operator")
	m.spawnBootstrap(auditID)
	return m.store.GetAudit(ctx, auditID)
}

// Pause drops the audit's queued work. In-flight fetches finish but their
// side effects are suppressed by the worker's status check.
func (m *Manager) Pause(ctx context.Context, auditID string) (seo.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		return seo.Audit{}, err
	}
	if audit.Status != seo.AuditStatusInProgress {
		return seo.Audit{}, seo.Conflictf("audit %s is %s, only in_progress audits pause", auditID, audit.Status)
	}
	dropped := m.queue.Pause(auditID)
	if err := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusPaused, m.clock.Now()); err != nil {
		return seo.Audit{}, err
	}
	m.log(ctx, auditID, fmt.Sprintf("audit paused, %d queued jobs dropped", dropped))
	return m.store.GetAudit(ctx, auditID)
}

// Resume re-derives the remaining frontier of a paused audit and
// re-enqueues it. Paused jobs were discarded, not retained.
func (m *Manager) Resume(ctx context.Context, auditID string) (seo.Audit, error) {
	m.mu.Lock()
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	if audit.Status != seo.AuditStatusPaused {
		m.mu.Unlock()
		return seo.Audit{}, seo.Conflictf("audit %s is %s, only paused audits resume", auditID, audit.Status)
	}
	if err := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusInProgress, m.clock.Now()); err != nil {
		m.mu.Unlock()
		return seo.Audit{}, err
	}
	m.mu.Unlock()

	m.log(ctx, auditID, "audit resumed")
	m.tracker.Forget(auditID)
	m.spawnResume(auditID)
	return m.store.GetAudit(ctx, auditID)
}

// Stop terminates the audit irreversibly and discards its diagnostic logs.
func (m *Manager) Stop(ctx context.Context, auditID string) (seo.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		return seo.Audit{}, err
	}
	if audit.Status.Terminal() {
		return seo.Audit{}, seo.Conflictf("audit %s is already %s", auditID, audit.Status)
	}
	if err := m.stopLocked(ctx, auditID); err != nil {
		return seo.Audit{}, err
	}
	return m.store.GetAudit(ctx, auditID)
}

// ForceStop is the administrative stop. It tolerates queue jobs whose audit
// no longer exists; with an empty auditID it drains the whole queue and
// stops every running or paused audit.
func (m *Manager) ForceStop(ctx context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if auditID != "" {
		audit, err := m.store.GetAudit(ctx, auditID)
		if err != nil {
			// The audit is gone; dropping its orphaned jobs is the point.
			m.queue.ForceStop(auditID)
			return nil
		}
		if audit.Status.Terminal() {
			m.queue.ForceStop(auditID)
			return nil
		}
		return m.stopLocked(ctx, auditID)
	}

	for _, status := range []seo.AuditStatus{seo.AuditStatusInProgress, seo.AuditStatusPaused, seo.AuditStatusPendingApproval} {
		audits, err := m.store.ListAuditsByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, a := range audits {
			if err := m.stopLocked(ctx, a.ID); err != nil {
				return err
			}
		}
	}
	m.queue.ForceStop("")
	return nil
}

// stopLocked performs the terminal transition. Caller holds m.mu.
func (m *Manager) stopLocked(ctx context.Context, auditID string) error {
	m.queue.Stop(auditID)
	if err := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusStopped, m.clock.Now()); err != nil {
		return err
	}
	m.releaseLocked(ctx, auditID)
	m.logger.Info("audit stopped", zap.String("audit_id", auditID))
	return nil
}

// releaseLocked discards per-audit registries and diagnostic logs once an
// audit reaches a terminal state. Caller holds m.mu.
func (m *Manager) releaseLocked(ctx context.Context, auditID string) {
	delete(m.policies, auditID)
	delete(m.visited, auditID)
	delete(m.seeds, auditID)
	m.tracker.Forget(auditID)
	if err := m.store.DeleteAuditLogs(ctx, auditID); err != nil {
		m.logger.Warn("discard audit logs", zap.String("audit_id", auditID), zap.Error(err))
	}
}

func (m *Manager) spawnBootstrap(auditID string) {
	m.bootstraps.Add(1)
	go func() {
		defer m.bootstraps.Done()
		m.bootstrap(context.Background(), auditID)
	}()
}

func (m *Manager) spawnResume(auditID string) {
	m.bootstraps.Add(1)
	go func() {
		defer m.bootstraps.Done()
		m.rebuildFrontier(context.Background(), auditID)
	}()
}

// WaitIdle blocks until in-flight seed resolution finishes.
func (m *Manager) WaitIdle() {
	m.bootstraps.Wait()
}

// bootstrap resolves robots and seeds for a freshly started audit.
func (m *Manager) bootstrap(ctx context.Context, auditID string) {
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil {
		m.logger.Error("bootstrap load audit", zap.String("audit_id", auditID), zap.Error(err))
		return
	}
	project, err := m.store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		m.logger.Error("bootstrap load project", zap.String("audit_id", auditID), zap.Error(err))
		return
	}

	policy, seeds, err := m.resolvePolicy(ctx, audit, project.RootURL)
	if err != nil {
		if seo.IsApprovalRequired(err) {
			if uerr := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusPendingApproval, m.clock.Now()); uerr != nil {
				m.logger.Error("transition to pending_approval", zap.String("audit_id", auditID), zap.Error(uerr))
				return
			}
			m.log(ctx, auditID, "robots.txt unreachable, waiting for operator approval")
			return
		}
		m.failAudit(ctx, auditID, err)
		return
	}

	m.mu.Lock()
	m.policies[auditID] = policy
	if explicit := m.seeds[auditID]; len(explicit) > 0 {
		seeds = explicit
	}
	m.mu.Unlock()

	if len(seeds) == 0 {
		seeds = []string{seo.NormalizeURL(project.RootURL)}
	}
	enqueued := m.expandFrontier(ctx, audit, seeds, 0)
	m.log(ctx, auditID, fmt.Sprintf("seeded %d of %d candidate urls", enqueued, len(seeds)))
}

// resolvePolicy fetches robots.txt unless the audit was approved past it,
// installing the crawl delay on the queue either way.
func (m *Manager) resolvePolicy(ctx context.Context, audit seo.Audit, rootURL string) (robots.Policy, []string, error) {
	host := seo.Hostname(rootURL)
	if audit.SkipRobotsCheck {
		m.queue.SetDomainDelay(host, 0)
		// Sitemaps are still worth probing even when robots is skipped.
		seeds := m.gate.DiscoverSitemaps(ctx, &robots.RuleSet{}, rootURL)
		return robots.AllowAll(), seeds, nil
	}
	rs, err := m.gate.Fetch(ctx, rootURL)
	if err != nil {
		return nil, nil, err
	}
	m.queue.SetDomainDelay(host, rs.CrawlDelay())
	seeds := m.gate.DiscoverSitemaps(ctx, rs, rootURL)
	return rs, seeds, nil
}

// rebuildFrontier re-derives uncrawled work for a resumed audit from the
// persisted link graph.
func (m *Manager) rebuildFrontier(ctx context.Context, auditID string) {
	audit, err := m.store.GetAudit(ctx, auditID)
	if err != nil || audit.Status != seo.AuditStatusInProgress {
		return
	}
	project, err := m.store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		m.logger.Error("resume load project", zap.String("audit_id", auditID), zap.Error(err))
		return
	}

	// The visited set and policy may be gone (process restart); rebuild
	// them from the store before expanding.
	results, err := m.store.ListCrawlResults(ctx, auditID)
	if err != nil {
		m.logger.Error("resume list results", zap.String("audit_id", auditID), zap.Error(err))
		return
	}
	m.mu.Lock()
	vs := m.visited[auditID]
	if vs == nil {
		vs = &seo.VisitedSet{}
		m.visited[auditID] = vs
	}
	hasPolicy := m.policies[auditID] != nil
	m.mu.Unlock()
	for _, r := range results {
		vs.MarkIfNew(r.URLNormalized)
	}
	if !hasPolicy {
		policy, _, err := m.resolvePolicy(ctx, audit, project.RootURL)
		if err != nil {
			if seo.IsApprovalRequired(err) {
				if uerr := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusPendingApproval, m.clock.Now()); uerr != nil {
					m.logger.Error("transition to pending_approval", zap.String("audit_id", auditID), zap.Error(uerr))
				}
				return
			}
			m.failAudit(ctx, auditID, err)
			return
		}
		m.mu.Lock()
		m.policies[auditID] = policy
		m.mu.Unlock()
	}

	var frontier []string
	for _, r := range results {
		for _, link := range r.Links {
			if link.IsExternal {
				continue
			}
			frontier = append(frontier, link.Href)
		}
	}
	if len(frontier) == 0 && len(results) == 0 {
		frontier = []string{seo.NormalizeURL(project.RootURL)}
	}
	enqueued := m.expandFrontier(ctx, audit, frontier, 1)
	m.log(ctx, auditID, fmt.Sprintf("resume re-enqueued %d urls", enqueued))
}

// skippedExtensions are link targets that are never HTML pages.
var skippedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".tar": {}, ".dmg": {}, ".exe": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".xml": {}, ".rss": {}, ".atom": {}, ".json": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

func crawlableURL(rawURL string) bool {
	ext := strings.ToLower(path.Ext(strings.SplitN(rawURL, "?", 2)[0]))
	if ext == "" {
		return true
	}
	_, skip := skippedExtensions[ext]
	return !skip
}

// expandFrontier enqueues the candidate URLs that pass the robots policy,
// the visited set and the crawlability heuristics. Priority equals depth so
// shallow pages are fetched first.
func (m *Manager) expandFrontier(ctx context.Context, audit seo.Audit, candidates []string, depth int) int {
	if depth > m.cfg.MaxDepth {
		return 0
	}
	m.mu.Lock()
	policy := m.policies[audit.ID]
	vs := m.visited[audit.ID]
	m.mu.Unlock()
	if vs == nil {
		return 0
	}
	if policy == nil {
		policy = robots.AllowAll()
	}

	enqueued := 0
	for _, candidate := range candidates {
		normalized := seo.NormalizeURL(candidate)
		if normalized == "" || !crawlableURL(normalized) {
			continue
		}
		if !policy.Allowed(normalized) {
			continue
		}
		if !vs.MarkIfNew(normalized) {
			continue
		}
		if m.cfg.MaxPages > 0 && vs.Len() > m.cfg.MaxPages {
			break
		}
		id, err := m.ids.NewID()
		if err != nil {
			m.logger.Error("generate job id", zap.Error(err))
			continue
		}
		job := queue.Job{
			ID:      id,
			AuditID: audit.ID,
			URL:     normalized,
			Depth:   depth,
		}
		if err := m.queue.Enqueue(ctx, job, queue.Options{Priority: depth}); err != nil {
			m.logger.Warn("enqueue", zap.String("url", normalized), zap.Error(err))
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		m.tracker.Touch(audit.ID, m.clock.Now())
	}
	return enqueued
}

func (m *Manager) failAudit(ctx context.Context, auditID string, cause error) {
	m.logger.Error("audit failed", zap.String("audit_id", auditID), zap.Error(cause))
	if err := m.store.UpdateAuditStatus(ctx, auditID, seo.AuditStatusFailed, m.clock.Now()); err != nil {
		m.logger.Error("transition to failed", zap.String("audit_id", auditID), zap.Error(err))
	}
	m.log(ctx, auditID, "audit failed: "+cause.Error())
}

func (m *Manager) log(ctx context.Context, auditID, message string) {
	entry := seo.AuditLogEntry{AuditID: auditID, At: m.clock.Now(), Message: message}
	if err := m.store.AppendAuditLog(ctx, entry); err != nil {
		m.logger.Warn("append audit log", zap.String("audit_id", auditID), zap.Error(err))
	}
}
