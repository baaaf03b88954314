// Package postgres provides the Postgres-backed store implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
)

// DB is the subset of pgxpool.Pool used by the store. pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements store.Store on Postgres.
type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB constructs a Store from an existing pool (primarily for testing).
func NewWithDB(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// CreateProject inserts a project row.
func (s *Store) CreateProject(ctx context.Context, p seo.Project) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO projects (id, name, root_url, created_at) VALUES ($1,$2,$3,$4)`,
		p.ID, p.Name, p.RootURL, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (seo.Project, error) {
	var p seo.Project
	err := s.db.QueryRow(ctx,
		`SELECT id, name, root_url, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.RootURL, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return seo.Project{}, fmt.Errorf("project %s: %w", id, seo.ErrNotFound)
	}
	if err != nil {
		return seo.Project{}, fmt.Errorf("select project: %w", err)
	}
	return p, nil
}

// CreateAudit inserts an audit row.
func (s *Store) CreateAudit(ctx context.Context, a seo.Audit) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audits (id, project_id, status, pages_total, pages_crawled, skip_robots_check, started_at, paused_at, completed_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.ProjectID, string(a.Status), a.PagesTotal, a.PagesCrawled,
		a.SkipRobotsCheck, a.StartedAt, a.PausedAt, a.CompletedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

const auditColumns = `id, project_id, status, pages_total, pages_crawled, skip_robots_check, started_at, paused_at, completed_at, created_at`

func scanAudit(row pgx.Row) (seo.Audit, error) {
	var a seo.Audit
	var status string
	err := row.Scan(&a.ID, &a.ProjectID, &status, &a.PagesTotal, &a.PagesCrawled,
		&a.SkipRobotsCheck, &a.StartedAt, &a.PausedAt, &a.CompletedAt, &a.CreatedAt)
	if err != nil {
		return seo.Audit{}, err
	}
	a.Status = seo.AuditStatus(status)
	return a, nil
}

// GetAudit fetches an audit by ID.
func (s *Store) GetAudit(ctx context.Context, id string) (seo.Audit, error) {
	a, err := scanAudit(s.db.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return seo.Audit{}, fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	if err != nil {
		return seo.Audit{}, fmt.Errorf("select audit: %w", err)
	}
	return a, nil
}

// ListAuditsByStatus returns audits with the given status, oldest first.
func (s *Store) ListAuditsByStatus(ctx context.Context, status seo.AuditStatus) ([]seo.Audit, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("select audits: %w", err)
	}
	defer rows.Close()
	var out []seo.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return out, nil
}

// UpdateAuditStatus writes a status transition and stamps the matching
// timestamp column. started_at is written once and never overwritten.
func (s *Store) UpdateAuditStatus(ctx context.Context, id string, status seo.AuditStatus, at time.Time) error {
	var query string
	switch status {
	case seo.AuditStatusInProgress:
		query = `UPDATE audits SET status = $2, started_at = COALESCE(started_at, $3) WHERE id = $1`
	case seo.AuditStatusPaused:
		query = `UPDATE audits SET status = $2, paused_at = $3 WHERE id = $1`
	case seo.AuditStatusCompleted:
		query = `UPDATE audits SET status = $2, completed_at = $3 WHERE id = $1`
	default:
		query = `UPDATE audits SET status = $2 WHERE id = $1`
	}
	var tag pgconn.CommandTag
	var err error
	if status == seo.AuditStatusInProgress || status == seo.AuditStatusPaused || status == seo.AuditStatusCompleted {
		tag, err = s.db.Exec(ctx, query, id, string(status), at)
	} else {
		tag, err = s.db.Exec(ctx, query, id, string(status))
	}
	if err != nil {
		return fmt.Errorf("update audit status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	return nil
}

// SetAuditSkipRobots flips the per-audit robots bypass flag.
func (s *Store) SetAuditSkipRobots(ctx context.Context, id string, skip bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE audits SET skip_robots_check = $2 WHERE id = $1`, id, skip)
	if err != nil {
		return fmt.Errorf("update audit skip_robots_check: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	return nil
}

// UpdateAuditProgress snapshots the derived counters.
func (s *Store) UpdateAuditProgress(ctx context.Context, id string, crawled, total int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE audits SET pages_crawled = $2, pages_total = $3 WHERE id = $1`, id, crawled, total)
	if err != nil {
		return fmt.Errorf("update audit progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit %s: %w", id, seo.ErrNotFound)
	}
	return nil
}

// CreateCrawlResult inserts the result row plus one row per outbound link.
// Heading/image/OG/issue collections live in JSONB columns on the result.
func (s *Store) CreateCrawlResult(ctx context.Context, r seo.CrawlResult) error {
	headings, err := json.Marshal(r.Headings)
	if err != nil {
		return fmt.Errorf("marshal headings: %w", err)
	}
	images, err := json.Marshal(r.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	ogTags, err := json.Marshal(r.OgTags)
	if err != nil {
		return fmt.Errorf("marshal og tags: %w", err)
	}
	structured, err := json.Marshal(r.StructuredData)
	if err != nil {
		return fmt.Errorf("marshal structured data: %w", err)
	}
	issues, err := json.Marshal(r.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	redirects, err := json.Marshal(r.RedirectChain)
	if err != nil {
		return fmt.Errorf("marshal redirect chain: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO crawl_results (id, audit_id, url, url_normalized, final_url, redirect_chain, status_code,
		 title, meta_description, meta_keywords, meta_robots, canonical_url, language,
		 word_count, completeness, content_hash, fetched_at, duration_ms,
		 headings, images, og_tags, structured_data, issues)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		r.ID, r.AuditID, r.URL, r.URLNormalized, r.FinalURL, redirects, r.StatusCode,
		r.Title, r.MetaDescription, r.MetaKeywords, r.MetaRobots, r.CanonicalURL, r.Language,
		r.WordCount, r.Completeness, r.ContentHash, r.FetchedAt, r.DurationMs,
		headings, images, ogTags, structured, issues,
	)
	if err != nil {
		return fmt.Errorf("insert crawl result: %w", err)
	}

	for _, l := range r.Links {
		_, err := s.db.Exec(ctx,
			`INSERT INTO links (id, crawl_result_id, href, text, rel, is_external, position)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, r.ID, l.Href, l.Text, l.Rel, l.IsExternal, l.Position,
		)
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}
	return nil
}

const resultColumns = `id, audit_id, url, url_normalized, final_url, redirect_chain, status_code,
	title, meta_description, meta_keywords, meta_robots, canonical_url, language,
	word_count, completeness, content_hash, fetched_at, duration_ms,
	headings, images, og_tags, structured_data, issues`

func scanResult(row pgx.Row) (seo.CrawlResult, error) {
	var r seo.CrawlResult
	var redirects, headings, images, ogTags, structured, issues []byte
	err := row.Scan(&r.ID, &r.AuditID, &r.URL, &r.URLNormalized, &r.FinalURL, &redirects, &r.StatusCode,
		&r.Title, &r.MetaDescription, &r.MetaKeywords, &r.MetaRobots, &r.CanonicalURL, &r.Language,
		&r.WordCount, &r.Completeness, &r.ContentHash, &r.FetchedAt, &r.DurationMs,
		&headings, &images, &ogTags, &structured, &issues)
	if err != nil {
		return seo.CrawlResult{}, err
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{redirects, &r.RedirectChain},
		{headings, &r.Headings},
		{images, &r.Images},
		{ogTags, &r.OgTags},
		{structured, &r.StructuredData},
		{issues, &r.Issues},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return seo.CrawlResult{}, fmt.Errorf("unmarshal result column: %w", err)
		}
	}
	return r, nil
}

// GetCrawlResult fetches one result and its links.
func (s *Store) GetCrawlResult(ctx context.Context, id string) (seo.CrawlResult, error) {
	r, err := scanResult(s.db.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM crawl_results WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return seo.CrawlResult{}, fmt.Errorf("crawl result %s: %w", id, seo.ErrNotFound)
	}
	if err != nil {
		return seo.CrawlResult{}, fmt.Errorf("select crawl result: %w", err)
	}
	links, err := s.listLinks(ctx, id)
	if err != nil {
		return seo.CrawlResult{}, err
	}
	r.Links = links
	return r, nil
}

func (s *Store) listLinks(ctx context.Context, resultID string) ([]seo.Link, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, crawl_result_id, href, text, rel, is_external, position
		 FROM links WHERE crawl_result_id = $1 ORDER BY position`, resultID)
	if err != nil {
		return nil, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close()
	var out []seo.Link
	for rows.Next() {
		var l seo.Link
		if err := rows.Scan(&l.ID, &l.CrawlResultID, &l.Href, &l.Text, &l.Rel, &l.IsExternal, &l.Position); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// ListCrawlResults returns all results for an audit, oldest fetch first.
// Links are loaded per result; heavier callers should page by audit.
func (s *Store) ListCrawlResults(ctx context.Context, auditID string) ([]seo.CrawlResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+resultColumns+` FROM crawl_results WHERE audit_id = $1 ORDER BY fetched_at`, auditID)
	if err != nil {
		return nil, fmt.Errorf("select crawl results: %w", err)
	}
	defer rows.Close()
	var out []seo.CrawlResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl results: %w", err)
	}
	for i := range out {
		links, err := s.listLinks(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Links = links
	}
	return out, nil
}

// CountCrawlResults counts persisted results for an audit.
func (s *Store) CountCrawlResults(ctx context.Context, auditID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crawl_results WHERE audit_id = $1`, auditID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count crawl results: %w", err)
	}
	return n, nil
}

// DeleteCrawlResult removes a result; the links table cascades via its
// foreign key.
func (s *Store) DeleteCrawlResult(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM crawl_results WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete crawl result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl result %s: %w", id, seo.ErrNotFound)
	}
	return nil
}

// FindResultByNormalizedURL looks a page up across all projects. When the
// same URL was crawled by several audits the most recent fetch wins.
func (s *Store) FindResultByNormalizedURL(ctx context.Context, normalizedURL string) (seo.CrawlResult, error) {
	r, err := scanResult(s.db.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM crawl_results WHERE url_normalized = $1 ORDER BY fetched_at DESC LIMIT 1`,
		normalizedURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return seo.CrawlResult{}, fmt.Errorf("page %s: %w", normalizedURL, seo.ErrNotFound)
	}
	if err != nil {
		return seo.CrawlResult{}, fmt.Errorf("select crawl result by url: %w", err)
	}
	return r, nil
}

// ListLinksByHost returns candidate links whose href mentions host, joined
// with their source pages. Normalized matching happens in the caller.
func (s *Store) ListLinksByHost(ctx context.Context, host string) ([]store.LinkRef, error) {
	rows, err := s.db.Query(ctx,
		`SELECT l.id, l.crawl_result_id, l.href, l.text, l.rel, l.is_external, l.position,
		        r.id, r.url, r.audit_id, a.project_id, r.fetched_at
		 FROM links l
		 JOIN crawl_results r ON r.id = l.crawl_result_id
		 JOIN audits a ON a.id = r.audit_id
		 WHERE l.href ILIKE '%' || $1 || '%'`, host)
	if err != nil {
		return nil, fmt.Errorf("select links by host: %w", err)
	}
	defer rows.Close()
	var out []store.LinkRef
	for rows.Next() {
		var ref store.LinkRef
		if err := rows.Scan(&ref.Link.ID, &ref.Link.CrawlResultID, &ref.Link.Href, &ref.Link.Text,
			&ref.Link.Rel, &ref.Link.IsExternal, &ref.Link.Position,
			&ref.SourceResultID, &ref.SourceURL, &ref.SourceAuditID, &ref.SourceProjectID, &ref.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan link ref: %w", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link refs: %w", err)
	}
	return out, nil
}

// UpsertBacklink creates or refreshes a backlink keyed by its link ID.
// discovered_at is immutable after the first insert.
func (s *Store) UpsertBacklink(ctx context.Context, b seo.Backlink) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO backlinks (id, project_id, link_id, source_url, target_url, anchor_text,
		 is_dofollow, is_sponsored, is_ugc, discovered_via, discovered_at, last_seen_at, is_active)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (link_id) DO UPDATE SET
		 anchor_text = EXCLUDED.anchor_text,
		 is_dofollow = EXCLUDED.is_dofollow,
		 is_sponsored = EXCLUDED.is_sponsored,
		 is_ugc = EXCLUDED.is_ugc,
		 last_seen_at = EXCLUDED.last_seen_at,
		 is_active = EXCLUDED.is_active`,
		b.ID, b.ProjectID, b.LinkID, b.SourceURL, b.TargetURL, b.AnchorText,
		b.IsDofollow, b.IsSponsored, b.IsUgc, b.DiscoveredVia, b.DiscoveredAt, b.LastSeenAt, b.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert backlink: %w", err)
	}
	return nil
}

// GetBacklinkByLink returns the backlink row for a link, if any.
func (s *Store) GetBacklinkByLink(ctx context.Context, linkID string) (seo.Backlink, error) {
	var b seo.Backlink
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, link_id, source_url, target_url, anchor_text,
		 is_dofollow, is_sponsored, is_ugc, discovered_via, discovered_at, last_seen_at, is_active
		 FROM backlinks WHERE link_id = $1`, linkID,
	).Scan(&b.ID, &b.ProjectID, &b.LinkID, &b.SourceURL, &b.TargetURL, &b.AnchorText,
		&b.IsDofollow, &b.IsSponsored, &b.IsUgc, &b.DiscoveredVia, &b.DiscoveredAt, &b.LastSeenAt, &b.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return seo.Backlink{}, fmt.Errorf("backlink for link %s: %w", linkID, seo.ErrNotFound)
	}
	if err != nil {
		return seo.Backlink{}, fmt.Errorf("select backlink: %w", err)
	}
	return b, nil
}

// UpsertDomain stores or refreshes a domain's robots/sitemap cache.
func (s *Store) UpsertDomain(ctx context.Context, d seo.Domain) error {
	sitemaps, err := json.Marshal(d.Sitemaps)
	if err != nil {
		return fmt.Errorf("marshal sitemaps: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO domains (host, robots_txt_url, robots_txt_content, sitemaps, fetched_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (host) DO UPDATE SET
		 robots_txt_url = EXCLUDED.robots_txt_url,
		 robots_txt_content = EXCLUDED.robots_txt_content,
		 sitemaps = EXCLUDED.sitemaps,
		 fetched_at = EXCLUDED.fetched_at`,
		d.Host, d.RobotsTxtURL, d.RobotsTxtContent, sitemaps, d.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}

// GetDomain returns the cached robots/sitemap state for a host.
func (s *Store) GetDomain(ctx context.Context, host string) (seo.Domain, error) {
	var d seo.Domain
	var sitemaps []byte
	err := s.db.QueryRow(ctx,
		`SELECT host, robots_txt_url, robots_txt_content, sitemaps, fetched_at
		 FROM domains WHERE host = $1`, host,
	).Scan(&d.Host, &d.RobotsTxtURL, &d.RobotsTxtContent, &sitemaps, &d.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return seo.Domain{}, fmt.Errorf("domain %s: %w", host, seo.ErrNotFound)
	}
	if err != nil {
		return seo.Domain{}, fmt.Errorf("select domain: %w", err)
	}
	if len(sitemaps) > 0 {
		if err := json.Unmarshal(sitemaps, &d.Sitemaps); err != nil {
			return seo.Domain{}, fmt.Errorf("unmarshal sitemaps: %w", err)
		}
	}
	return d, nil
}

// AppendAuditLog records a diagnostic line.
func (s *Store) AppendAuditLog(ctx context.Context, entry seo.AuditLogEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_logs (audit_id, at, message) VALUES ($1,$2,$3)`,
		entry.AuditID, entry.At, entry.Message,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns diagnostic lines for an audit in append order.
func (s *Store) ListAuditLogs(ctx context.Context, auditID string) ([]seo.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT audit_id, at, message FROM audit_logs WHERE audit_id = $1 ORDER BY at`, auditID)
	if err != nil {
		return nil, fmt.Errorf("select audit logs: %w", err)
	}
	defer rows.Close()
	var out []seo.AuditLogEntry
	for rows.Next() {
		var e seo.AuditLogEntry
		if err := rows.Scan(&e.AuditID, &e.At, &e.Message); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

// DeleteAuditLogs discards an audit's diagnostic lines.
func (s *Store) DeleteAuditLogs(ctx context.Context, auditID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM audit_logs WHERE audit_id = $1`, auditID)
	if err != nil {
		return fmt.Errorf("delete audit logs: %w", err)
	}
	return nil
}
