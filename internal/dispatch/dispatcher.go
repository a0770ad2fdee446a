package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Job is a unit of asynchronous work. The error it returns (or any panic it
// raises) stays inside the job's failure boundary.
type Job func(ctx context.Context) error

type queued struct {
	job   Job
	onErr func(error)
}

// Dispatcher runs jobs off the caller's path. Jobs for the same user execute
// in submission order; jobs for different users run concurrently. A failing
// job never affects the dispatcher or other pending jobs.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[int64][]queued
	active  map[int64]bool
	ctx     context.Context
	wg      sync.WaitGroup
	logger  *logrus.Logger
}

// NewDispatcher creates a dispatcher whose jobs observe the given context
func NewDispatcher(ctx context.Context, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		pending: make(map[int64][]queued),
		active:  make(map[int64]bool),
		ctx:     ctx,
		logger:  logger,
	}
}

// Schedule enqueues a job for the user and returns immediately. onErr, when
// non-nil, receives the job's failure; it runs on the worker goroutine.
func (d *Dispatcher) Schedule(userID int64, job Job, onErr func(error)) {
	d.mu.Lock()
	d.pending[userID] = append(d.pending[userID], queued{job: job, onErr: onErr})
	if !d.active[userID] {
		d.active[userID] = true
		d.wg.Add(1)
		go d.drain(userID)
	}
	d.mu.Unlock()
}

// Wait blocks until every scheduled job has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// drain runs the user's queue to exhaustion, one job at a time
func (d *Dispatcher) drain(userID int64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.pending[userID]
		if len(queue) == 0 {
			delete(d.pending, userID)
			d.active[userID] = false
			d.mu.Unlock()
			return
		}
		next := queue[0]
		d.pending[userID] = queue[1:]
		d.mu.Unlock()

		d.run(userID, next)
	}
}

// run executes one job inside its failure boundary
func (d *Dispatcher) run(userID int64, q queued) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return q.job(d.ctx)
	}()

	if err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Error("Job failed")
		if q.onErr != nil {
			q.onErr(err)
		}
	}
}
