// Package backlink builds the cross-project backlink view: who, anywhere
// we have crawled, links to a given page.
package backlink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store"
)

// View is one entry of a page's backlink list: a distinct linking page
// with its qualifying metadata.
type View struct {
	SourceURL       string    `json:"source_url"`
	SourceProjectID string    `json:"source_project_id"`
	AnchorText      string    `json:"anchor_text"`
	IsDofollow      bool      `json:"is_dofollow"`
	IsSponsored     bool      `json:"is_sponsored"`
	IsUgc           bool      `json:"is_ugc"`
	DiscoveredVia   string    `json:"discovered_via"`
	DiscoveredAt    time.Time `json:"discovered_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	IsActive        bool      `json:"is_active"`
	SeenAt          time.Time `json:"seen_at"`
}

// Indexer records and queries backlinks.
type Indexer struct {
	store  store.Store
	ids    seo.IDGenerator
	clock  seo.Clock
	logger *zap.Logger
}

// New constructs an Indexer.
func New(st store.Store, ids seo.IDGenerator, clock seo.Clock, logger *zap.Logger) *Indexer {
	return &Indexer{store: st, ids: ids, clock: clock, logger: logger}
}

// relFlags derives link qualifiers from the rel attribute. A link without
// an explicit nofollow is a dofollow backlink until proven otherwise.
func relFlags(rel string) (dofollow, sponsored, ugc bool) {
	dofollow = true
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		switch token {
		case "nofollow":
			dofollow = false
		case "sponsored":
			sponsored = true
		case "ugc":
			ugc = true
		}
	}
	return dofollow, sponsored, ugc
}

// IndexPage upserts a Backlink for every external link of a freshly
// crawled page that targets a page already known in any project. Returns
// how many backlinks were recorded.
func (i *Indexer) IndexPage(ctx context.Context, result seo.CrawlResult) (int, error) {
	recorded := 0
	for _, link := range result.Links {
		if !link.IsExternal {
			continue
		}
		target := seo.NormalizeURL(link.Href)
		targetResult, err := i.store.FindResultByNormalizedURL(ctx, target)
		if errors.Is(err, seo.ErrNotFound) {
			continue
		}
		if err != nil {
			return recorded, fmt.Errorf("find target %s: %w", target, err)
		}
		targetAudit, err := i.store.GetAudit(ctx, targetResult.AuditID)
		if err != nil {
			return recorded, fmt.Errorf("load target audit: %w", err)
		}

		id, err := i.ids.NewID()
		if err != nil {
			return recorded, err
		}
		now := i.clock.Now()
		dofollow, sponsored, ugc := relFlags(link.Rel)
		backlink := seo.Backlink{
			ID:            id,
			ProjectID:     targetAudit.ProjectID,
			LinkID:        link.ID,
			SourceURL:     result.URL,
			TargetURL:     target,
			AnchorText:    link.Text,
			IsDofollow:    dofollow,
			IsSponsored:   sponsored,
			IsUgc:         ugc,
			DiscoveredVia: seo.DiscoveredViaCrawl,
			DiscoveredAt:  now,
			LastSeenAt:    now,
			IsActive:      true,
		}
		if err := i.store.UpsertBacklink(ctx, backlink); err != nil {
			return recorded, fmt.Errorf("upsert backlink for %s: %w", target, err)
		}
		recorded++
		i.logger.Debug("backlink recorded",
			zap.String("source", result.URL),
			zap.String("target", target))
	}
	return recorded, nil
}

// Backlinks returns the backlink view of a crawled page: every Link row in
// any project whose href normalizes to the page's URL, one entry per
// distinct linking page, the most recent link winning. Links without an
// explicit Backlink row count as unqualified dofollow backlinks.
func (i *Indexer) Backlinks(ctx context.Context, pageID string) ([]View, error) {
	page, err := i.store.GetCrawlResult(ctx, pageID)
	if err != nil {
		return nil, err
	}
	target := page.URLNormalized
	if target == "" {
		target = seo.NormalizeURL(page.URL)
	}

	candidates, err := i.store.ListLinksByHost(ctx, seo.Hostname(target))
	if err != nil {
		return nil, fmt.Errorf("list candidate links: %w", err)
	}

	// One entry per distinct linking page.
	bySource := make(map[string]View)
	for _, ref := range candidates {
		if seo.NormalizeURL(ref.Link.Href) != target {
			continue
		}
		if ref.SourceResultID == pageID {
			continue // a page is not its own backlink
		}
		view, err := i.buildView(ctx, ref)
		if err != nil {
			return nil, err
		}
		key := seo.NormalizeURL(ref.SourceURL)
		if prev, ok := bySource[key]; ok && !view.SeenAt.After(prev.SeenAt) {
			continue
		}
		bySource[key] = view
	}

	views := make([]View, 0, len(bySource))
	for _, v := range bySource {
		views = append(views, v)
	}
	sort.Slice(views, func(a, b int) bool {
		if !views[a].SeenAt.Equal(views[b].SeenAt) {
			return views[a].SeenAt.After(views[b].SeenAt)
		}
		return views[a].SourceURL < views[b].SourceURL
	})
	return views, nil
}

func (i *Indexer) buildView(ctx context.Context, ref store.LinkRef) (View, error) {
	view := View{
		SourceURL:       ref.SourceURL,
		SourceProjectID: ref.SourceProjectID,
		AnchorText:      ref.Link.Text,
		DiscoveredVia:   seo.DiscoveredViaCrawl,
		IsActive:        true,
		SeenAt:          ref.FetchedAt,
	}
	view.IsDofollow, view.IsSponsored, view.IsUgc = relFlags(ref.Link.Rel)

	stored, err := i.store.GetBacklinkByLink(ctx, ref.Link.ID)
	if errors.Is(err, seo.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return View{}, fmt.Errorf("load backlink for link %s: %w", ref.Link.ID, err)
	}
	view.AnchorText = stored.AnchorText
	view.IsDofollow = stored.IsDofollow
	view.IsSponsored = stored.IsSponsored
	view.IsUgc = stored.IsUgc
	view.DiscoveredVia = stored.DiscoveredVia
	view.DiscoveredAt = stored.DiscoveredAt
	view.LastSeenAt = stored.LastSeenAt
	view.IsActive = stored.IsActive
	return view, nil
}
