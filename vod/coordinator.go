package vod

import (
	"context"
	"sync"
	"time"

	"github.com/fzxiao233/VodFetch/vod/interfaces"
	"github.com/fzxiao233/VodFetch/vod/ledger"
	"github.com/fzxiao233/VodFetch/vod/videoworker"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type Processor interface {
	Process(ctx context.Context, id string) error
}

type Report struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Coordinator runs identifiers through a Processor on a fixed size pool.
type Coordinator struct {
	Processor Processor
	Ledger    *ledger.Ledger
	Workers   int
	// JobContext is handed to started jobs. It outlives the dispatch
	// context so a shutdown lets in-flight jobs finish.
	JobContext context.Context

	mu       sync.Mutex
	report   Report
	failures *cache.Cache
}

func NewCoordinator(proc Processor, l *ledger.Ledger, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		Processor:  proc,
		Ledger:     l,
		Workers:    workers,
		JobContext: context.Background(),
		failures:   cache.New(time.Minute, 2*time.Minute),
	}
}

func (c *Coordinator) record(id string, err error) {
	c.mu.Lock()
	c.report.Attempted++
	if err == nil {
		c.report.Succeeded++
	} else {
		c.report.Failed++
	}
	c.mu.Unlock()

	logger := log.WithField("id", id)
	if err == nil {
		logger.Infof("Job succeeded: %s", id)
		if lerr := c.Ledger.MarkSucceeded(id); lerr != nil {
			logger.WithError(lerr).Error("Failed to update pending ledger")
		}
		return
	}
	logger.WithField("kind", interfaces.ErrorKind(err)).Errorf("Job failed: %v", err)
	if lerr := c.Ledger.MarkFailed(id); lerr != nil {
		logger.WithError(lerr).Error("Failed to update failed ledger")
	}

	c.failures.Set(id, err.Error(), cache.DefaultExpiration)
	c.failures.DeleteExpired()
	if c.failures.ItemCount() >= 5 {
		errs := make([]interface{}, 0, 10)
		for k, e := range c.failures.Items() {
			errs = append(errs, k+": "+e.Object.(string))
		}
		c.failures.Flush()
		log.WithField("errors", errs).Warnf("Too many failures in the last minute, check credentials or network")
	}
}

// Run truncates the failed ledger and processes ids. Cancelling
// dispatchCtx stops new jobs; started ones still record their outcome.
func (c *Coordinator) Run(dispatchCtx context.Context, ids []string) (Report, error) {
	if err := c.Ledger.Reset(); err != nil {
		return Report{}, err
	}
	c.mu.Lock()
	c.report = Report{}
	if c.failures == nil {
		c.failures = cache.New(time.Minute, 2*time.Minute)
	}
	c.mu.Unlock()
	jobCtx := c.JobContext
	if jobCtx == nil {
		jobCtx = context.Background()
	}

	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	for _, id := range ids {
		if dispatchCtx.Err() != nil {
			break
		}
		if err := sem.Acquire(dispatchCtx, 1); err != nil {
			break
		}
		id := id
		g.Go(func() error {
			defer sem.Release(1)
			err := videoworker.SafeProcess(jobCtx, c.Processor, id)
			c.record(id, err)
			return nil
		})
	}
	_ = g.Wait()

	if dispatchCtx.Err() != nil {
		log.Warnf("Dispatch stopped, %d identifiers left undispatched", len(ids)-c.snapshot().Attempted)
	}
	return c.snapshot(), nil
}

func (c *Coordinator) snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}
