package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(clock seo.Clock) *Queue {
	return New(Config{
		DefaultDomainDelay: time.Millisecond,
		PollInterval:       5 * time.Millisecond,
	}, clock, nil, zap.NewNop())
}

func mustEnqueue(t *testing.T, q *Queue, job Job, opts Options) {
	t.Helper()
	if err := q.Enqueue(context.Background(), job, opts); err != nil {
		t.Fatalf("enqueue %s: %v", job.ID, err)
	}
}

func TestDequeuePrefersLowerPriority(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "deep", AuditID: "a1", URL: "https://a.example/x/y/z", Depth: 3}, Options{Priority: 3})
	mustEnqueue(t, q, Job{ID: "shallow", AuditID: "a1", URL: "https://b.example/x", Depth: 1}, Options{Priority: 1})

	clock.Advance(time.Second)
	job, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job.ID != "shallow" {
		t.Fatalf("expected shallow page first, got %q", job.ID)
	}
}

func TestDequeueHonorsDelay(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "j1", AuditID: "a1", URL: "https://a.example/"}, Options{Delay: time.Minute})

	if _, ok := q.tryPop(); ok {
		t.Fatal("job dequeued before its delay elapsed")
	}
	clock.Advance(2 * time.Minute)
	job, ok := q.tryPop()
	if !ok || job.ID != "j1" {
		t.Fatalf("expected j1 after delay, got %+v ok=%v", job, ok)
	}
}

func TestPerDomainSpacing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	q.SetDomainDelay("slow.example", time.Minute)

	mustEnqueue(t, q, Job{ID: "s1", AuditID: "a1", URL: "https://slow.example/1"}, Options{})
	mustEnqueue(t, q, Job{ID: "s2", AuditID: "a1", URL: "https://slow.example/2"}, Options{})

	clock.Advance(time.Second)
	if _, ok := q.tryPop(); !ok {
		t.Fatal("first job for domain should be immediate")
	}
	if _, ok := q.tryPop(); ok {
		t.Fatal("second job must wait out the crawl delay")
	}
	clock.Advance(2 * time.Minute)
	job, ok := q.tryPop()
	if !ok || job.ID != "s2" {
		t.Fatalf("expected s2 after crawl delay, got %+v ok=%v", job, ok)
	}
}

func TestPauseDropsPendingOnly(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "w1", AuditID: "a1", URL: "https://a.example/1"}, Options{})
	mustEnqueue(t, q, Job{ID: "d1", AuditID: "a1", URL: "https://b.example/1"}, Options{Delay: time.Hour})
	mustEnqueue(t, q, Job{ID: "other", AuditID: "a2", URL: "https://c.example/1"}, Options{})

	clock.Advance(time.Second)
	active, ok := q.tryPop()
	if !ok {
		t.Fatal("expected an eligible job")
	}

	if dropped := q.Pause("a1"); dropped != 1 {
		t.Fatalf("dropped = %d, want 1 (active job is not touched)", dropped)
	}
	// The active job still completes normally.
	if requeued := q.Complete(active.ID, nil); requeued {
		t.Fatal("successful job must not requeue")
	}
	if q.PendingFor("a2") != true {
		t.Fatal("other audit's jobs must survive a pause")
	}
	if q.PendingFor("a1") {
		t.Fatal("paused audit should have no visible jobs left")
	}
}

func TestStopDropsActiveAndIgnoresLateComplete(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "j1", AuditID: "a1", URL: "https://a.example/1"}, Options{})
	clock.Advance(time.Second)
	job, ok := q.tryPop()
	if !ok {
		t.Fatal("expected job")
	}

	if dropped := q.Stop("a1"); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	// Late completion of a dropped job is a no-op, never a retry.
	if requeued := q.Complete(job.ID, errors.New("late")); requeued {
		t.Fatal("dropped job must not requeue")
	}
	if q.PendingFor("a1") {
		t.Fatal("stopped audit should be invisible")
	}
}

func TestForceStopDropsEverything(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "j1", AuditID: "gone-audit", URL: "https://a.example/1"}, Options{})
	mustEnqueue(t, q, Job{ID: "j2", AuditID: "a2", URL: "https://b.example/1"}, Options{})

	if dropped := q.ForceStop(""); dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
}

func TestRetryableFailureRequeuesWithBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "j1", AuditID: "a1", URL: "https://a.example/1"}, Options{})
	clock.Advance(time.Second)
	job, _ := q.tryPop()

	netErr := &seo.NetworkError{URL: job.URL, Cause: errors.New("connection refused")}
	if requeued := q.Complete(job.ID, netErr); !requeued {
		t.Fatal("network error must requeue")
	}
	if _, ok := q.tryPop(); ok {
		t.Fatal("retry must wait out its backoff")
	}
	clock.Advance(time.Minute)
	retried, ok := q.tryPop()
	if !ok || retried.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %+v ok=%v", retried, ok)
	}
}

func TestNonRetryableFailureFinishes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "j1", AuditID: "a1", URL: "https://a.example/1"}, Options{})
	clock.Advance(time.Second)
	job, _ := q.tryPop()

	parseErr := &seo.ParseError{URL: job.URL, Cause: errors.New("bad html")}
	if requeued := q.Complete(job.ID, parseErr); requeued {
		t.Fatal("parse errors are findings, not transients")
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()
	err := &seo.NetworkError{URL: "https://a.example", Cause: errors.New("timeout")}
	if !p.ShouldRetry(err, 0) || !p.ShouldRetry(err, 2) {
		t.Fatal("early attempts must retry")
	}
	if p.ShouldRetry(err, 3) {
		t.Fatal("attempt at the cap must not retry")
	}
	if p.ShouldRetry(context.Canceled, 0) {
		t.Fatal("cancellation must not retry")
	}
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		if d <= 0 {
			t.Fatalf("backoff(%d) = %v", attempt, d)
		}
		if d > p.maxDelay {
			t.Fatalf("backoff(%d) = %v exceeds cap %v", attempt, d, p.maxDelay)
		}
	}
}

func TestCountsFor(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "w1", AuditID: "a1", URL: "https://a.example/1"}, Options{})
	mustEnqueue(t, q, Job{ID: "d1", AuditID: "a1", URL: "https://b.example/1"}, Options{Delay: time.Hour})
	clock.Advance(time.Second)
	mustEnqueue(t, q, Job{ID: "w2", AuditID: "a1", URL: "https://c.example/1"}, Options{})
	if _, ok := q.tryPop(); !ok {
		t.Fatal("expected eligible job")
	}

	got := q.CountsFor("a1")
	want := Counts{Waiting: 1, Delayed: 1, Active: 1}
	if got != want {
		t.Fatalf("counts = %+v, want %+v", got, want)
	}
}

func TestDequeueBlocksUntilEligible(t *testing.T) {
	t.Parallel()

	q := New(Config{
		DefaultDomainDelay: time.Millisecond,
		PollInterval:       5 * time.Millisecond,
	}, realClock{}, nil, zap.NewNop())

	mustEnqueue(t, q, Job{ID: "j1", AuditID: "a1", URL: "https://a.example/1"}, Options{Delay: 30 * time.Millisecond})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job.ID != "j1" {
		t.Fatalf("job = %+v", job)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("dequeue returned after %v, before the delay elapsed", elapsed)
	}
}

func TestDequeueCanceled(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestJanitorPrunesOldFinishedJobs(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, Job{ID: "j1", AuditID: "a1", URL: "https://a.example/1"}, Options{})
	clock.Advance(time.Second)
	job, _ := q.tryPop()
	q.Complete(job.ID, nil)

	if removed := q.Janitor(time.Hour); removed != 0 {
		t.Fatalf("fresh record pruned: %d", removed)
	}
	clock.Advance(2 * time.Hour)
	if removed := q.Janitor(time.Hour); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
