// Package seo defines core types shared across subsystems.
package seo

import (
	"time"
)

// AuditStatus represents the lifecycle state of an audit.
type AuditStatus string

// Audit status values persisted in the store.
const (
	AuditStatusPending         AuditStatus = "pending"
	AuditStatusPendingApproval AuditStatus = "pending_approval"
	AuditStatusInProgress      AuditStatus = "in_progress"
	AuditStatusPaused          AuditStatus = "paused"
	AuditStatusCompleted       AuditStatus = "completed"
	AuditStatusStopped         AuditStatus = "stopped"
	AuditStatusFailed          AuditStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s AuditStatus) Terminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusStopped
}

// Project is a site registered for auditing.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootURL   string    `json:"root_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit is one crawl run over a project's site.
//
// PagesCrawled is recomputed from the store count whenever it is reported;
// the stored field is a snapshot, never an incrementally maintained counter.
type Audit struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id"`
	Status          AuditStatus `json:"status"`
	PagesTotal      int         `json:"pages_total"`
	PagesCrawled    int         `json:"pages_crawled"`
	SkipRobotsCheck bool        `json:"skip_robots_check"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	PausedAt        *time.Time  `json:"paused_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Heading is one H1/H2/H3 element in document order.
type Heading struct {
	Level    int    `json:"level"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// Image is one <img> element in document order.
type Image struct {
	Src      string `json:"src"`
	Alt      string `json:"alt"`
	Title    string `json:"title"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Position int    `json:"position"`
}

// Link is a directed edge from a crawled page to an href.
type Link struct {
	ID            string `json:"id"`
	CrawlResultID string `json:"crawl_result_id"`
	Href          string `json:"href"`
	Text          string `json:"text"`
	Rel           string `json:"rel"`
	IsExternal    bool   `json:"is_external"`
	Position      int    `json:"position"`
}

// OgTags holds the Open Graph tag set of a page.
type OgTags struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	URL         string `json:"url"`
	Type        string `json:"type"`
	SiteName    string `json:"site_name"`
}

// Issue is a per-page SEO finding attached to a crawl result.
type Issue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// CrawlResult is persisted for each fetched URL, including non-2xx
// responses: a 404 is a finding, not a crawler failure.
type CrawlResult struct {
	ID              string    `json:"id"`
	AuditID         string    `json:"audit_id"`
	URL             string    `json:"url"`
	URLNormalized   string    `json:"url_normalized"`
	FinalURL        string    `json:"final_url"`
	RedirectChain   []string  `json:"redirect_chain,omitempty"`
	StatusCode      int       `json:"status_code"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"meta_description"`
	MetaKeywords    string    `json:"meta_keywords"`
	MetaRobots      string    `json:"meta_robots"`
	CanonicalURL    string    `json:"canonical_url"`
	Language        string    `json:"language"`
	WordCount       int       `json:"word_count"`
	Completeness    int       `json:"completeness"`
	ContentHash     string    `json:"content_hash"`
	FetchedAt       time.Time `json:"fetched_at"`
	DurationMs      int64     `json:"duration_ms"`
	Headings        []Heading `json:"headings,omitempty"`
	Images          []Image   `json:"images,omitempty"`
	Links           []Link    `json:"links,omitempty"`
	OgTags          *OgTags   `json:"og_tags,omitempty"`
	StructuredData  []string  `json:"structured_data,omitempty"`
	Issues          []Issue   `json:"issues,omitempty"`
}

// Backlink discovery sources.
const (
	DiscoveredViaCrawl  = "crawl"
	DiscoveredViaGoogle = "google"
	DiscoveredViaBing   = "bing"
)

// Backlink qualifies a Link that targets a known page in some project.
// Backlinks are never deleted, only marked inactive when no longer observed.
type Backlink struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	LinkID        string    `json:"link_id"`
	SourceURL     string    `json:"source_url"`
	TargetURL     string    `json:"target_url"`
	AnchorText    string    `json:"anchor_text"`
	IsDofollow    bool      `json:"is_dofollow"`
	IsSponsored   bool      `json:"is_sponsored"`
	IsUgc         bool      `json:"is_ugc"`
	DiscoveredVia string    `json:"discovered_via"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	IsActive      bool      `json:"is_active"`
}

// Sitemap is one fetched sitemap file cached against a Domain.
type Sitemap struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Domain caches robots.txt and sitemap state per bare hostname (no "www.").
// Shared read-mostly across audits for the same host.
type Domain struct {
	Host             string    `json:"host"`
	RobotsTxtURL     string    `json:"robots_txt_url"`
	RobotsTxtContent string    `json:"robots_txt_content"`
	Sitemaps         []Sitemap `json:"sitemaps,omitempty"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// PageLink is an outbound link as extracted from a fetched page, before it
// is persisted as a Link row.
type PageLink struct {
	Href       string `json:"href"`
	Text       string `json:"text"`
	Rel        string `json:"rel"`
	IsExternal bool   `json:"is_external"`
}

// PageData is the structured result of fetching and extracting one URL.
type PageData struct {
	URL             string
	FinalURL        string
	RedirectChain   []string
	StatusCode      int
	ContentType     string
	Title           string
	MetaDescription string
	MetaKeywords    string
	MetaRobots      string
	CanonicalURL    string
	Language        string
	Headings        []Heading
	Images          []Image
	Links           []PageLink
	OgTags          *OgTags
	StructuredData  []string
	WordCount       int
	Completeness    int
	ContentHash     string
	Duration        time.Duration
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	AuditID string
	URL     string
	Depth   int
}

// AuditLogEntry is a diagnostic line recorded against an audit. Logs are
// discarded when the audit reaches a terminal state to bound storage.
type AuditLogEntry struct {
	AuditID string    `json:"audit_id"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}
