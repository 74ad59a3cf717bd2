package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
)

const (
	// DefaultWorkers is the pool size when none is configured
	DefaultWorkers = 4
	// DefaultQueueSize bounds how many jobs may wait for a worker
	DefaultQueueSize = 64
	// DefaultJobTimeout is the wall-clock budget for one job
	DefaultJobTimeout = 2 * time.Hour
	// maxAttempts is the total number of tries for transient failures
	maxAttempts = 3
	// retryBaseDelay seeds the exponential backoff between attempts
	retryBaseDelay = 2 * time.Second
)

// Job is one unit of background work. Exclusive jobs serialize per tenant so
// a tenant never has two mutating operations in flight.
type Job struct {
	ID        string
	OrgID     string
	Kind      string
	Timeout   time.Duration
	Exclusive bool

	// Run does the work. It is retried on transient failures, so it must be
	// safe to invoke more than once.
	Run func(ctx context.Context) error

	// Done, when set, receives the final error after all retries
	Done func(err error)
}

// Pool executes jobs on a fixed set of workers
type Pool struct {
	queue       chan Job
	workers     int
	jobTimeout  time.Duration
	logger      *logging.Logger
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
	tenantLocks *tenantLocks
}

// NewPool creates a worker pool. Zero values fall back to defaults.
func NewPool(workers, queueSize int, jobTimeout time.Duration, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Pool{
		queue:       make(chan Job, queueSize),
		workers:     workers,
		jobTimeout:  jobTimeout,
		logger:      logger,
		tenantLocks: newTenantLocks(),
	}
}

// Start launches the workers. They drain the queue until Stop is called and
// exit early when ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
	})
}

// Submit enqueues a job. It fails instead of blocking when the queue is full.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return errors.NewValidationError("job has no work function", nil)
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return errors.NewValidationError(
			fmt.Sprintf("job queue is full (%d waiting)", cap(p.queue)), nil)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

// RunExclusive runs fn while holding the tenant's exclusive lock, so it
// cannot interleave with exclusive jobs running for the same tenant. It
// blocks until the lock is free.
func (p *Pool) RunExclusive(orgID string, fn func() error) error {
	unlock := p.tenantLocks.lock(orgID)
	defer unlock()
	return fn()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			err := p.execute(ctx, job)
			if job.Done != nil {
				job.Done(err)
			}
		}
	}
}

// execute runs one job under its wall-clock budget. Transient network and
// storage failures retry with exponential backoff; a timeout is final and
// never retried because the budget covers all attempts together.
func (p *Pool) execute(ctx context.Context, job Job) error {
	if job.Exclusive {
		unlock := p.tenantLocks.lock(job.OrgID)
		defer unlock()
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = p.jobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(retryBaseDelay))

	err := retry.Do(jobCtx, backoff, func(ctx context.Context) error {
		runErr := job.Run(ctx)
		if runErr == nil {
			return nil
		}
		classified := errors.Classify(runErr)
		if errors.IsRetryable(classified) && ctx.Err() == nil {
			p.logger.Warnf("job %s (%s) hit transient failure, will retry: %v",
				job.ID, job.Kind, classified)
			return retry.RetryableError(classified)
		}
		return classified
	})

	if err != nil {
		if jobCtx.Err() == context.DeadlineExceeded {
			err = errors.NewTimeoutError(
				fmt.Sprintf("job %s (%s) exceeded its %s budget", job.ID, job.Kind, timeout), err)
		}
		p.logger.Errorf("job %s (%s) failed after %s: %v", job.ID, job.Kind, time.Since(start), err)
		return err
	}

	p.logger.Debugf("job %s (%s) finished in %s", job.ID, job.Kind, time.Since(start))
	return nil
}

// tenantLocks hands out one mutex per tenant
type tenantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *tenantLocks) lock(orgID string) (unlock func()) {
	t.mu.Lock()
	lock, ok := t.locks[orgID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[orgID] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
