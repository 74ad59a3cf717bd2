package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/errors"
)

func runJob(t *testing.T, pool *Pool, job Job) error {
	t.Helper()
	done := make(chan error, 1)
	job.Done = func(err error) { done <- err }
	require.NoError(t, pool.Submit(job))
	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func TestPool_RunsJobs(t *testing.T) {
	pool := NewPool(2, 8, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var ran atomic.Bool
	err := runJob(t, pool, Job{
		ID: "j1", OrgID: "org-a", Kind: "backup",
		Run: func(ctx context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	pool := NewPool(1, 8, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var attempts atomic.Int32
	err := runJob(t, pool, Job{
		ID: "j1", OrgID: "org-a", Kind: "backup",
		Run: func(ctx context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.NewNetworkError("connection reset", nil)
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPool_PermanentFailuresAreNotRetried(t *testing.T) {
	pool := NewPool(1, 8, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var attempts atomic.Int32
	err := runJob(t, pool, Job{
		ID: "j1", OrgID: "org-a", Kind: "backup",
		Run: func(ctx context.Context) error {
			attempts.Add(1)
			return errors.NewValidationError("bad input", nil)
		},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestPool_RetryBudgetIsBounded(t *testing.T) {
	pool := NewPool(1, 8, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var attempts atomic.Int32
	err := runJob(t, pool, Job{
		ID: "j1", OrgID: "org-a", Kind: "backup",
		Run: func(ctx context.Context) error {
			attempts.Add(1)
			return errors.NewStorageError("disk unavailable", nil)
		},
	})
	assert.Error(t, err)
	assert.Equal(t, int32(maxAttempts), attempts.Load())
}

func TestPool_TimeoutFailsWithoutRetry(t *testing.T) {
	pool := NewPool(1, 8, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var attempts atomic.Int32
	err := runJob(t, pool, Job{
		ID: "j1", OrgID: "org-a", Kind: "restore",
		Timeout: 50 * time.Millisecond,
		Run: func(ctx context.Context) error {
			attempts.Add(1)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestPool_ExclusiveJobsSerializePerTenant(t *testing.T) {
	pool := NewPool(4, 16, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	var mu sync.Mutex
	var inFlight, maxInFlight int
	var wg sync.WaitGroup

	work := func(ctx context.Context) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(Job{
			ID: "j", OrgID: "org-a", Kind: "restore", Exclusive: true,
			Run:  work,
			Done: func(error) { wg.Done() },
		}))
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "same-tenant exclusive jobs must not overlap")
}

func TestPool_RunExclusiveWaitsForExclusiveJobs(t *testing.T) {
	pool := NewPool(2, 8, time.Minute, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	jobDone := make(chan error, 1)
	require.NoError(t, pool.Submit(Job{
		ID: "j1", OrgID: "org-a", Kind: "restore", Exclusive: true,
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
		Done: func(err error) { jobDone <- err },
	}))
	<-started

	var ran atomic.Bool
	exclusiveDone := make(chan error, 1)
	go func() {
		exclusiveDone <- pool.RunExclusive("org-a", func() error {
			ran.Store(true)
			return nil
		})
	}()

	select {
	case <-exclusiveDone:
		t.Fatal("RunExclusive finished while an exclusive job held the tenant lock")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, ran.Load())

	close(release)
	require.NoError(t, <-jobDone)
	select {
	case err := <-exclusiveDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunExclusive never acquired the tenant lock")
	}
	assert.True(t, ran.Load())
}

func TestPool_SubmitFailsWhenQueueFull(t *testing.T) {
	pool := NewPool(1, 1, time.Minute, nil)
	// Not started: nothing drains the queue

	require.NoError(t, pool.Submit(Job{ID: "j1", Run: func(context.Context) error { return nil }}))
	err := pool.Submit(Job{ID: "j2", Run: func(context.Context) error { return nil }})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = pool.Submit(Job{ID: "j3"})
	assert.Error(t, err)
}
