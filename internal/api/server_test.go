package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/audit"
	"github.com/calumnguyen/seo-crawler-sub001/internal/backlink"
	"github.com/calumnguyen/seo-crawler-sub001/internal/clock/system"
	"github.com/calumnguyen/seo-crawler-sub001/internal/dedup"
	"github.com/calumnguyen/seo-crawler-sub001/internal/queue"
	"github.com/calumnguyen/seo-crawler-sub001/internal/robots"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store/memory"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StartAudit(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusPending)

	rec := env.do(http.MethodPost, "/v1/audits/"+a.ID+"/start", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), string(seo.AuditStatusInProgress))
	env.mgr.WaitIdle()
}

func TestServer_StartAudit_WithBody(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusPending)

	body := []byte(`{"seed_urls":["https://example.com/landing"],"skip_robots_check":true}`)
	rec := env.do(http.MethodPost, "/v1/audits/"+a.ID+"/start", body)

	require.Equal(t, http.StatusOK, rec.Code)
	env.mgr.WaitIdle()

	got, err := env.store.GetAudit(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, seo.AuditStatusInProgress, got.Status)
	require.True(t, got.SkipRobotsCheck)
}

func TestServer_StartAudit_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusPending)

	rec := env.do(http.MethodPost, "/v1/audits/"+a.ID+"/start", []byte("{invalid"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartAudit_Conflict(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusCompleted)

	rec := env.do(http.MethodPost, "/v1/audits/"+a.ID+"/start", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "error")
}

func TestServer_GetAudit_NotFound(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodGet, "/v1/audits/missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetAudit_ReturnsAudit(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusPending)

	rec := env.do(http.MethodGet, "/v1/audits/"+a.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Audit seo.Audit `json:"audit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, a.ID, body.Audit.ID)
	require.Equal(t, seo.AuditStatusPending, body.Audit.Status)
}

func TestServer_GetQueue(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusPending)

	rec := env.do(http.MethodGet, "/v1/audits/"+a.ID+"/queue", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "waiting")
}

func TestServer_PauseFromPending_Conflict(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusPending)

	rec := env.do(http.MethodPost, "/v1/audits/"+a.ID+"/pause", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ForceStop_All(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodPost, "/v1/audits/force-stop", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"scope":"all"`)
}

func TestServer_ForceStop_SingleAudit(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusInProgress)

	body := []byte(fmt.Sprintf(`{"audit_id":%q}`, a.ID))
	rec := env.do(http.MethodPost, "/v1/audits/force-stop", body)

	require.Equal(t, http.StatusOK, rec.Code)
	got, err := env.store.GetAudit(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, seo.AuditStatusStopped, got.Status)
}

func TestServer_ForceStop_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodPost, "/v1/audits/force-stop", []byte("{invalid"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CompletionSweep_Empty(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodPost, "/v1/maintenance/completion-sweep", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"completed":[]`)
}

func TestServer_AutoStopSweep_Empty(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodPost, "/v1/maintenance/auto-stop-sweep", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"stopped":[]`)
}

func TestServer_Dedup_Global(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodPost, "/v1/maintenance/dedup", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var report dedup.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Zero(t, report.Removed)
}

func TestServer_Dedup_RemovesDuplicates(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusInProgress)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, env.store.CreateCrawlResult(ctx, seo.CrawlResult{
			ID:            fmt.Sprintf("dup-%d", i),
			AuditID:       a.ID,
			URL:           fmt.Sprintf("https://example.com/copy-%d", i),
			URLNormalized: fmt.Sprintf("https://example.com/copy-%d", i),
			ContentHash:   "same-hash",
			FetchedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	body := []byte(fmt.Sprintf(`{"audit_id":%q}`, a.ID))
	rec := env.do(http.MethodPost, "/v1/maintenance/dedup", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var report dedup.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 1, report.Removed)
}

func TestServer_Backlinks_UnknownPage(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(http.MethodGet, "/v1/pages/missing/backlinks", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Backlinks_EmptyList(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	a := env.seedAudit(t, seo.AuditStatusInProgress)
	ctx := context.Background()
	require.NoError(t, env.store.CreateCrawlResult(ctx, seo.CrawlResult{
		ID:            "page-1",
		AuditID:       a.ID,
		URL:           "https://example.com/lonely",
		URLNormalized: "https://example.com/lonely",
		FetchedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))

	rec := env.do(http.MethodGet, "/v1/pages/page-1/backlinks", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"backlinks":[]`)
}

type serverEnv struct {
	store  *memory.Store
	mgr    *audit.Manager
	server *Server
	ids    *seqIDs
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	st := memory.New()
	clock := system.New()
	ids := &seqIDs{}
	q := queue.New(queue.Config{
		DefaultDomainDelay: time.Millisecond,
		PollInterval:       5 * time.Millisecond,
	}, clock, nil, zap.NewNop())
	t.Cleanup(q.Close)
	mgr := audit.NewManager(audit.Config{}, st, q, &allowAllGate{}, clock, ids, nil, zap.NewNop())
	backlinks := backlink.New(st, ids, clock, zap.NewNop())
	dd := dedup.New(st, zap.NewNop())
	server := NewServer(mgr, backlinks, dd, zap.NewNop())
	return &serverEnv{store: st, mgr: mgr, server: server, ids: ids}
}

func (e *serverEnv) do(method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *serverEnv) seedAudit(t *testing.T, status seo.AuditStatus) seo.Audit {
	t.Helper()
	ctx := context.Background()
	project := seo.Project{ID: "p1", Name: "Example", RootURL: "https://example.com", CreatedAt: time.Now().UTC()}
	if _, err := e.store.GetProject(ctx, project.ID); err != nil {
		require.NoError(t, e.store.CreateProject(ctx, project))
	}
	a := seo.Audit{
		ID:        fmt.Sprintf("audit-%s-%d", status, time.Now().UnixNano()),
		ProjectID: project.ID,
		Status:    seo.AuditStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateAudit(ctx, a))
	if status != seo.AuditStatusPending {
		require.NoError(t, e.store.UpdateAuditStatus(ctx, a.ID, status, time.Now().UTC()))
	}
	got, err := e.store.GetAudit(ctx, a.ID)
	require.NoError(t, err)
	return got
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("api-id-%04d", g.n), nil
}

type allowAllGate struct{}

func (allowAllGate) Fetch(context.Context, string) (*robots.RuleSet, error) {
	return &robots.RuleSet{}, nil
}

func (allowAllGate) DiscoverSitemaps(context.Context, *robots.RuleSet, string) []string {
	return nil
}
