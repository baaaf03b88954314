// Package main hosts the audit service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, audit lifecycle, maintenance,
//     and backlink endpoints. Lifecycle requests are delegated to the audit.Manager, which
//     owns every status transition.
//   - Queue & workers: crawl jobs flow through a delayed priority queue with per-domain
//     pacing and are fanned out to a fixed worker pool sized by config.Crawler.Concurrency.
//     Context cancellation stops workers cleanly on shutdown.
//   - Fetch pipeline: workers fetch pages via the Colly-based fetcher, extract SEO signals
//     with goquery, persist crawl results, feed the backlink indexer, and expand the
//     frontier breadth-first up to the configured depth.
//   - Robots gate: internal/robots fetches and caches robots.txt per domain and discovers
//     sitemaps for frontier seeding. An unreachable robots.txt parks the audit in
//     pending_approval until a human approves it.
//   - Sweeps: robfig/cron drives the completion sweep (quiet-window detection), the paused
//     audit auto-stop sweep, and the queue janitor.
//   - Persistence: an empty db.dsn selects the in-memory store; otherwise pgx/v5 backs the
//     Postgres store and the schema is applied idempotently at startup.
//   - Configuration & plumbing: Viper populates config from file/env (SEOCRAWLER_ prefix);
//     zap provides structured logging; Prometheus metrics are exported via /metrics.
//
// Run locally: go run ./cmd/seocrawler -config config.yaml (or rely solely on env
// overrides). The process reacts to SIGINT/SIGTERM with a graceful drain.
package main
