// Package store defines the persistence interface for audit state.
// By using an interface, we decouple the crawl engine from a specific
// database implementation, allowing an in-memory store for tests and local
// development and Postgres in production.
package store

import (
	"context"
	"time"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// LinkRef is a Link joined with its source page, used by the backlink
// indexer to walk the cross-project link graph.
type LinkRef struct {
	Link            seo.Link
	SourceResultID  string
	SourceURL       string
	SourceAuditID   string
	SourceProjectID string
	FetchedAt       time.Time
}

// Store persists projects, audits, crawl results, links, backlinks, domain
// caches and diagnostic logs.
//
// Implementations must return seo.ErrNotFound (possibly wrapped) for lookups
// of missing entities. Deleting a CrawlResult cascades to its child
// headings, images, links and issues.
type Store interface {
	CreateProject(ctx context.Context, p seo.Project) error
	GetProject(ctx context.Context, id string) (seo.Project, error)

	CreateAudit(ctx context.Context, a seo.Audit) error
	GetAudit(ctx context.Context, id string) (seo.Audit, error)
	ListAuditsByStatus(ctx context.Context, status seo.AuditStatus) ([]seo.Audit, error)
	// UpdateAuditStatus writes the new status and stamps the matching
	// timestamp column (started/paused/completed) with at.
	UpdateAuditStatus(ctx context.Context, id string, status seo.AuditStatus, at time.Time) error
	SetAuditSkipRobots(ctx context.Context, id string, skip bool) error
	// UpdateAuditProgress snapshots the derived counters. Consumers must
	// treat CountCrawlResults as the source of truth for pages crawled.
	UpdateAuditProgress(ctx context.Context, id string, crawled, total int) error

	CreateCrawlResult(ctx context.Context, r seo.CrawlResult) error
	GetCrawlResult(ctx context.Context, id string) (seo.CrawlResult, error)
	ListCrawlResults(ctx context.Context, auditID string) ([]seo.CrawlResult, error)
	// CountCrawlResults is the single source of truth for pagesCrawled.
	CountCrawlResults(ctx context.Context, auditID string) (int, error)
	// DeleteCrawlResult removes the result and all child rows.
	DeleteCrawlResult(ctx context.Context, id string) error
	// FindResultByNormalizedURL looks a page up by its normalized URL
	// across all projects.
	FindResultByNormalizedURL(ctx context.Context, normalizedURL string) (seo.CrawlResult, error)

	// ListLinksByHost returns every link, in any project, whose href
	// mentions the given bare hostname. Callers normalize and filter the
	// candidates themselves.
	ListLinksByHost(ctx context.Context, host string) ([]LinkRef, error)

	UpsertBacklink(ctx context.Context, b seo.Backlink) error
	GetBacklinkByLink(ctx context.Context, linkID string) (seo.Backlink, error)

	UpsertDomain(ctx context.Context, d seo.Domain) error
	GetDomain(ctx context.Context, host string) (seo.Domain, error)

	AppendAuditLog(ctx context.Context, entry seo.AuditLogEntry) error
	ListAuditLogs(ctx context.Context, auditID string) ([]seo.AuditLogEntry, error)
	DeleteAuditLogs(ctx context.Context, auditID string) error
}
