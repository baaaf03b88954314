package postgres

import (
	"context"
	"fmt"
)

// Schema is the DDL this store expects. Applied by EnsureSchema on startup;
// cascade deletes on links mirror the store contract for crawl results.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	root_url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audits (
	id UUID PRIMARY KEY,
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	pages_total INT NOT NULL DEFAULT 0,
	pages_crawled INT NOT NULL DEFAULT 0,
	skip_robots_check BOOLEAN NOT NULL DEFAULT FALSE,
	started_at TIMESTAMPTZ,
	paused_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audits_status_idx ON audits(status);

CREATE TABLE IF NOT EXISTS crawl_results (
	id UUID PRIMARY KEY,
	audit_id UUID NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	url_normalized TEXT NOT NULL,
	final_url TEXT NOT NULL DEFAULT '',
	redirect_chain JSONB,
	status_code INT NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	meta_description TEXT NOT NULL DEFAULT '',
	meta_keywords TEXT NOT NULL DEFAULT '',
	meta_robots TEXT NOT NULL DEFAULT '',
	canonical_url TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	word_count INT NOT NULL DEFAULT 0,
	completeness INT NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	headings JSONB,
	images JSONB,
	og_tags JSONB,
	structured_data JSONB,
	issues JSONB
);
CREATE INDEX IF NOT EXISTS crawl_results_audit_idx ON crawl_results(audit_id);
CREATE INDEX IF NOT EXISTS crawl_results_url_idx ON crawl_results(url_normalized);
CREATE INDEX IF NOT EXISTS crawl_results_hash_idx ON crawl_results(audit_id, content_hash);

CREATE TABLE IF NOT EXISTS links (
	id UUID PRIMARY KEY,
	crawl_result_id UUID NOT NULL REFERENCES crawl_results(id) ON DELETE CASCADE,
	href TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	rel TEXT NOT NULL DEFAULT '',
	is_external BOOLEAN NOT NULL DEFAULT FALSE,
	position INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS links_result_idx ON links(crawl_result_id);

CREATE TABLE IF NOT EXISTS backlinks (
	id UUID PRIMARY KEY,
	project_id UUID NOT NULL,
	link_id UUID NOT NULL UNIQUE,
	source_url TEXT NOT NULL,
	target_url TEXT NOT NULL,
	anchor_text TEXT NOT NULL DEFAULT '',
	is_dofollow BOOLEAN NOT NULL DEFAULT TRUE,
	is_sponsored BOOLEAN NOT NULL DEFAULT FALSE,
	is_ugc BOOLEAN NOT NULL DEFAULT FALSE,
	discovered_via TEXT NOT NULL DEFAULT 'crawl',
	discovered_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS domains (
	host TEXT PRIMARY KEY,
	robots_txt_url TEXT NOT NULL DEFAULT '',
	robots_txt_content TEXT NOT NULL DEFAULT '',
	sitemaps JSONB,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	audit_id UUID NOT NULL,
	at TIMESTAMPTZ NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_logs_audit_idx ON audit_logs(audit_id);
`

// EnsureSchema applies the DDL. Every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
