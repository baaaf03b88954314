// Package queue implements the in-memory crawl job queue. Jobs are rate
// limited per domain, delayed, and prioritized; lower priority numbers are
// served sooner, which keeps shallow pages ahead of deep ones.
//
// No strict global ordering is promised. Priority plus per-domain delay give
// approximate breadth-first, rate-limited behavior, not a FIFO.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/calumnguyen/seo-crawler-sub001/internal/metrics"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// Job is one URL to fetch on behalf of an audit.
type Job struct {
	ID       string
	AuditID  string
	URL      string
	Depth    int
	Priority int
	Attempt  int

	EnqueuedAt time.Time
	ReadyAt    time.Time

	seq uint64
}

// Options control scheduling of an enqueued job.
type Options struct {
	// Delay postpones eligibility, on top of the per-domain rate limit.
	Delay time.Duration
	// Priority orders eligible jobs; lower runs sooner.
	Priority int
}

// Counts reports the visible queue population for one audit.
type Counts struct {
	Waiting int `json:"waiting"`
	Delayed int `json:"delayed"`
	Active  int `json:"active"`
}

// Config controls queue behavior.
type Config struct {
	// DefaultDomainDelay spaces requests to a domain that declares no
	// Crawl-delay of its own.
	DefaultDomainDelay time.Duration
	// PollInterval bounds how long a Dequeue waits before rechecking
	// for newly eligible jobs.
	PollInterval time.Duration
}

type finishedJob struct {
	auditID string
	failed  bool
	doneAt  time.Time
}

// Queue is a mutex-guarded delayed priority queue.
type Queue struct {
	cfg    Config
	clock  seo.Clock
	retry  *RetryPolicy
	logger *zap.Logger

	mu       sync.Mutex
	pending  []*Job
	active   map[string]*Job
	finished map[string]finishedJob
	limiters map[string]*rate.Limiter
	closed   bool
	nextSeq  uint64
}

// New constructs a Queue.
func New(cfg Config, clock seo.Clock, retry *RetryPolicy, logger *zap.Logger) *Queue {
	if cfg.DefaultDomainDelay == 0 {
		cfg.DefaultDomainDelay = time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if retry == nil {
		retry = NewRetryPolicy()
	}
	return &Queue{
		cfg:      cfg,
		clock:    clock,
		retry:    retry,
		logger:   logger,
		active:   make(map[string]*Job),
		finished: make(map[string]finishedJob),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetDomainDelay installs the crawl delay for a host, typically the
// robots.txt Crawl-delay. Replaces any previous limiter for the host.
func (q *Queue) SetDomainDelay(host string, delay time.Duration) {
	if delay <= 0 {
		delay = q.cfg.DefaultDomainDelay
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limiters[host] = rate.NewLimiter(rate.Every(delay), 1)
}

func (q *Queue) limiterLocked(host string) *rate.Limiter {
	lim, ok := q.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(q.cfg.DefaultDomainDelay), 1)
		q.limiters[host] = lim
	}
	return lim
}

// Enqueue schedules a job. The job becomes eligible after opts.Delay and
// after the owning domain's rate limiter grants a slot.
func (q *Queue) Enqueue(ctx context.Context, job Job, opts Options) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("enqueue %s: queue closed", job.ID)
	}

	readyAt := now.Add(opts.Delay)
	res := q.limiterLocked(seo.Hostname(job.URL)).ReserveN(now, 1)
	if res.OK() {
		if at := now.Add(res.DelayFrom(now)); at.After(readyAt) {
			readyAt = at
		}
	}

	job.Priority = opts.Priority
	job.EnqueuedAt = now
	job.ReadyAt = readyAt
	job.seq = q.nextSeq
	q.nextSeq++
	q.pending = append(q.pending, &job)
	metrics.SetQueueDepth(len(q.pending))
	return nil
}

// Dequeue blocks until a job is eligible or the context ends. The returned
// job is active until Complete is called for it.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if job, ok := q.tryPop(); ok {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// tryPop removes the best eligible job: lowest priority number, then
// earliest ReadyAt, then enqueue order.
func (q *Queue) tryPop() (Job, bool) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	best := -1
	for i, job := range q.pending {
		if job.ReadyAt.After(now) {
			continue
		}
		if best == -1 || jobLess(job, q.pending[best]) {
			best = i
		}
	}
	if best == -1 {
		return Job{}, false
	}
	job := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	q.active[job.ID] = job
	metrics.SetQueueDepth(len(q.pending))
	return *job, true
}

func jobLess(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ReadyAt.Equal(b.ReadyAt) {
		return a.ReadyAt.Before(b.ReadyAt)
	}
	return a.seq < b.seq
}

// Complete finishes an active job. A retryable failure re-enqueues the job
// with backoff until the retry policy gives up; the return value reports
// whether a retry was scheduled. Jobs already dropped by Stop are ignored.
func (q *Queue) Complete(jobID string, jobErr error) bool {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.active[jobID]
	if !ok {
		return false
	}
	delete(q.active, jobID)

	if jobErr != nil && q.retry.ShouldRetry(jobErr, job.Attempt) {
		job.Attempt++
		job.ReadyAt = now.Add(q.retry.Backoff(job.Attempt))
		job.seq = q.nextSeq
		q.nextSeq++
		q.pending = append(q.pending, job)
		metrics.SetQueueDepth(len(q.pending))
		if q.logger != nil {
			q.logger.Debug("job retry scheduled",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.Error(jobErr))
		}
		return true
	}

	q.finished[jobID] = finishedJob{
		auditID: job.AuditID,
		failed:  jobErr != nil,
		doneAt:  now,
	}
	return false
}

// Pause drops every waiting and delayed job of the audit. Active jobs run
// to completion; their side effects are suppressed by the worker's status
// check. Returns the number of jobs dropped.
func (q *Queue) Pause(auditID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropPendingLocked(auditID)
}

// Stop drops every visible job of the audit, including active ones: a
// Complete arriving for a dropped job is a no-op. Returns jobs dropped.
func (q *Queue) Stop(auditID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.dropPendingLocked(auditID)
	for id, job := range q.active {
		if job.AuditID == auditID {
			delete(q.active, id)
			dropped++
		}
	}
	return dropped
}

// ForceStop is the administrative variant of Stop. An empty auditID drops
// every job in the queue regardless of owner, tolerating jobs whose audit
// no longer exists.
func (q *Queue) ForceStop(auditID string) int {
	if auditID != "" {
		return q.Stop(auditID)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.pending) + len(q.active)
	q.pending = nil
	q.active = make(map[string]*Job)
	metrics.SetQueueDepth(0)
	return dropped
}

func (q *Queue) dropPendingLocked(auditID string) int {
	kept := q.pending[:0]
	dropped := 0
	for _, job := range q.pending {
		if job.AuditID == auditID {
			dropped++
			continue
		}
		kept = append(kept, job)
	}
	q.pending = kept
	metrics.SetQueueDepth(len(q.pending))
	return dropped
}

// CountsFor reports the audit's visible queue population. Delayed means not
// yet eligible; waiting means eligible but not picked up.
func (q *Queue) CountsFor(auditID string) Counts {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	var c Counts
	for _, job := range q.pending {
		if job.AuditID != auditID {
			continue
		}
		if job.ReadyAt.After(now) {
			c.Delayed++
		} else {
			c.Waiting++
		}
	}
	for _, job := range q.active {
		if job.AuditID == auditID {
			c.Active++
		}
	}
	return c
}

// PendingFor reports whether the audit has any visible job left.
func (q *Queue) PendingFor(auditID string) bool {
	c := q.CountsFor(auditID)
	return c.Waiting+c.Delayed+c.Active > 0
}

// Janitor prunes finished-job records older than olderThan. Returns the
// number of records removed.
func (q *Queue) Janitor(olderThan time.Duration) int {
	cutoff := q.clock.Now().Add(-olderThan)

	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, fj := range q.finished {
		if fj.doneAt.Before(cutoff) {
			delete(q.finished, id)
			removed++
		}
	}
	return removed
}

// Close rejects further enqueues. Pending jobs stay dequeueable so workers
// can drain on shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
