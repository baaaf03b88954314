// Package dispatcher manages worker fan-out over the crawl job queue.
package dispatcher

import (
	"context"
	"sync"

	"github.com/calumnguyen/seo-crawler-sub001/internal/audit"
)

// Dispatcher fans out queue work to a pool of crawl workers.
type Dispatcher struct {
	workers []*audit.Worker
}

// New creates a Dispatcher.
func New(workers []*audit.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until the context finishes and every
// worker has drained its in-flight job.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *audit.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
