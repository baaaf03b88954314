// Package memory provides an in-memory store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
)

// Store is a mutex-guarded map-backed store.Store implementation.
type Store struct {
	mu        sync.RWMutex
	projects  map[string]seo.Project
	audits    map[string]seo.Audit
	results   map[string]seo.CrawlResult
	byURL     map[string]string // normalized URL -> result ID (latest wins)
	backlinks map[string]seo.Backlink // keyed by link ID
	domains   map[string]seo.Domain
	logs      map[string][]seo.AuditLogEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects:  make(map[string]seo.Project),
		audits:    make(map[string]seo.Audit),
		results:   make(map[string]seo.CrawlResult),
		byURL:     make(map[string]string),
		backlinks: make(map[string]seo.Backlink),
		domains:   make(map[string]seo.Domain),
		logs:      make(map[string][]seo.AuditLogEntry),
	}
}

var _ store.Store = (*Store)(nil)

// CreateProject stores a project.
func (s *Store) CreateProject(_ context.Context, p seo.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	return nil
}

// GetProject returns a project by ID.
func (s *Store) GetProject(_ context.Context, id string) (seo.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return seo.Project{}, fmt.Errorf("project %s: %w", id, seo.ErrNotFound)
	}
	return p, nil
}

// CreateAudit stores an audit.
func (s *Store) CreateAudit(_ context.Context, a seo.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[a.ID] = a
	return nil
}

// GetAudit returns an audit by ID.
func (s *Store) GetAudit(_ context.Context, id string) (seo.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[id]
	if !ok {
		return seo.Audit{}, fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	return a, nil
}

// ListAuditsByStatus returns audits with the given status, oldest first.
func (s *Store) ListAuditsByStatus(_ context.Context, status seo.AuditStatus) ([]seo.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []seo.Audit
	for _, a := range s.audits {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateAuditStatus writes a status transition and its timestamp.
func (s *Store) UpdateAuditStatus(_ context.Context, id string, status seo.AuditStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	a.Status = status
	switch status {
	case seo.AuditStatusInProgress:
		if a.StartedAt == nil {
			t := at
			a.StartedAt = &t
		}
	case seo.AuditStatusPaused:
		t := at
		a.PausedAt = &t
	case seo.AuditStatusCompleted:
		t := at
		a.CompletedAt = &t
	}
	s.audits[id] = a
	return nil
}

// SetAuditSkipRobots flips the per-audit robots bypass flag.
func (s *Store) SetAuditSkipRobots(_ context.Context, id string, skip bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	a.SkipRobotsCheck = skip
	s.audits[id] = a
	return nil
}

// UpdateAuditProgress snapshots derived counters on the audit row.
func (s *Store) UpdateAuditProgress(_ context.Context, id string, crawled, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	a.PagesCrawled = crawled
	a.PagesTotal = total
	s.audits[id] = a
	return nil
}

// CreateCrawlResult stores a result with its child collections.
func (s *Store) CreateCrawlResult(_ context.Context, r seo.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = r
	if r.URLNormalized != "" {
		s.byURL[r.URLNormalized] = r.ID
	}
	return nil
}

// GetCrawlResult returns a result by ID.
func (s *Store) GetCrawlResult(_ context.Context, id string) (seo.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return seo.CrawlResult{}, fmt.Errorf("crawl result %s: %w", id, seo.ErrNotFound)
	}
	return r, nil
}

// ListCrawlResults returns all results for an audit, oldest fetch first.
func (s *Store) ListCrawlResults(_ context.Context, auditID string) ([]seo.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []seo.CrawlResult
	for _, r := range s.results {
		if r.AuditID == auditID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	return out, nil
}

// CountCrawlResults counts persisted results for an audit.
func (s *Store) CountCrawlResults(_ context.Context, auditID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.results {
		if r.AuditID == auditID {
			n++
		}
	}
	return n, nil
}

// DeleteCrawlResult removes a result; children live on the struct so the
// cascade is implicit.
func (s *Store) DeleteCrawlResult(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return fmt.Errorf("crawl result %s: %w", id, seo.ErrNotFound)
	}
	delete(s.results, id)
	if cur, ok := s.byURL[r.URLNormalized]; ok && cur == id {
		delete(s.byURL, r.URLNormalized)
	}
	return nil
}

// FindResultByNormalizedURL looks a page up across all projects.
func (s *Store) FindResultByNormalizedURL(_ context.Context, normalizedURL string) (seo.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[normalizedURL]
	if !ok {
		return seo.CrawlResult{}, fmt.Errorf("page %s: %w", normalizedURL, seo.ErrNotFound)
	}
	r, ok := s.results[id]
	if !ok {
		return seo.CrawlResult{}, fmt.Errorf("page %s: %w", normalizedURL, seo.ErrNotFound)
	}
	return r, nil
}

// ListLinksByHost returns candidate links whose href mentions host.
func (s *Store) ListLinksByHost(_ context.Context, host string) ([]store.LinkRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host = strings.ToLower(host)
	var out []store.LinkRef
	for _, r := range s.results {
		audit, ok := s.audits[r.AuditID]
		projectID := ""
		if ok {
			projectID = audit.ProjectID
		}
		for _, l := range r.Links {
			if !strings.Contains(strings.ToLower(l.Href), host) {
				continue
			}
			out = append(out, store.LinkRef{
				Link:            l,
				SourceResultID:  r.ID,
				SourceURL:       r.URL,
				SourceAuditID:   r.AuditID,
				SourceProjectID: projectID,
				FetchedAt:       r.FetchedAt,
			})
		}
	}
	return out, nil
}

// UpsertBacklink creates or refreshes a backlink keyed by its link ID.
func (s *Store) UpsertBacklink(_ context.Context, b seo.Backlink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.backlinks[b.LinkID]; ok {
		existing.LastSeenAt = b.LastSeenAt
		existing.IsActive = b.IsActive
		existing.AnchorText = b.AnchorText
		existing.IsDofollow = b.IsDofollow
		existing.IsSponsored = b.IsSponsored
		existing.IsUgc = b.IsUgc
		s.backlinks[b.LinkID] = existing
		return nil
	}
	s.backlinks[b.LinkID] = b
	return nil
}

// GetBacklinkByLink returns the backlink row for a link, if any.
func (s *Store) GetBacklinkByLink(_ context.Context, linkID string) (seo.Backlink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backlinks[linkID]
	if !ok {
		return seo.Backlink{}, fmt.Errorf("backlink for link %s: %w", linkID, seo.ErrNotFound)
	}
	return b, nil
}

// UpsertDomain stores or refreshes a domain's robots/sitemap cache.
func (s *Store) UpsertDomain(_ context.Context, d seo.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[strings.ToLower(d.Host)] = d
	return nil
}

// GetDomain returns the cached robots/sitemap state for a host.
func (s *Store) GetDomain(_ context.Context, host string) (seo.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[strings.ToLower(host)]
	if !ok {
		return seo.Domain{}, fmt.Errorf("domain %s: %w", host, seo.ErrNotFound)
	}
	return d, nil
}

// AppendAuditLog records a diagnostic line.
func (s *Store) AppendAuditLog(_ context.Context, entry seo.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.AuditID] = append(s.logs[entry.AuditID], entry)
	return nil
}

// ListAuditLogs returns diagnostic lines for an audit in append order.
func (s *Store) ListAuditLogs(_ context.Context, auditID string) ([]seo.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.logs[auditID]
	out := make([]seo.AuditLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// DeleteAuditLogs discards an audit's diagnostic lines.
func (s *Store) DeleteAuditLogs(_ context.Context, auditID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, auditID)
	return nil
}
