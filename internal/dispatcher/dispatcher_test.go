package dispatcher

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/audit"
	clocksys "github.com/calumnguyen/seo-crawler-sub001/internal/clock/system"
	"github.com/calumnguyen/seo-crawler-sub001/internal/id/uuid"
	"github.com/calumnguyen/seo-crawler-sub001/internal/queue"
	"github.com/calumnguyen/seo-crawler-sub001/internal/robots"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
	"github.com/calumnguyen/seo-crawler-sub001/internal/store/memory"
)

type noopGate struct{}

func (noopGate) Fetch(context.Context, string) (*robots.RuleSet, error) {
	return &robots.RuleSet{}, nil
}

func (noopGate) DiscoverSitemaps(context.Context, *robots.RuleSet, string) []string { return nil }

type noopFetcher struct{}

func (noopFetcher) Fetch(_ context.Context, req seo.FetchRequest) (seo.PageData, error) {
	return seo.PageData{URL: req.URL, FinalURL: req.URL, StatusCode: 200}, nil
}

// TestDispatcherRunStopsOnCancel ensures workers start and shut down with
// the context.
func TestDispatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	clock := clocksys.New()
	q := queue.New(queue.Config{PollInterval: 5 * time.Millisecond}, clock, nil, zap.NewNop())
	mgr := audit.NewManager(audit.Config{}, memory.New(), q, noopGate{}, clock, uuid.NewGenerator(), nil, zap.NewNop())
	workers := []*audit.Worker{
		audit.NewWorker(mgr, noopFetcher{}, nil, zap.NewNop()),
		audit.NewWorker(mgr, noopFetcher{}, nil, zap.NewNop()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(workers).Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}
