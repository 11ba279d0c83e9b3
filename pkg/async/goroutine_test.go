package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), nil, 1*time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGo_WithErrorIsLogged(t *testing.T) {
	log, hook := test.NewNullLogger()

	SafeGo(context.Background(), log, 1*time.Second, "test task", func(ctx context.Context) error {
		return errors.New("test error")
	})

	assert.Eventually(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && entry.Level == logrus.WarnLevel && entry.Data["task"] == "test task"
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	started := atomic.Bool{}
	completed := atomic.Bool{}

	SafeGo(context.Background(), nil, 50*time.Millisecond, "test task", func(ctx context.Context) error {
		started.Store(true)
		select {
		case <-time.After(200 * time.Millisecond):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	time.Sleep(150 * time.Millisecond)

	assert.True(t, started.Load(), "function did not start")
	assert.False(t, completed.Load(), "function should have been canceled by timeout")
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	log, hook := test.NewNullLogger()

	SafeGo(context.Background(), log, 1*time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	assert.Eventually(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && entry.Level == logrus.ErrorLevel
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	canceled := atomic.Bool{}

	SafeGo(ctx, nil, 5*time.Second, "test task", func(ctx context.Context) error {
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	})

	cancel()
	assert.Eventually(t, canceled.Load, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 3, "test pool", time.Second)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(10), count.Load())
}

func TestWorkerPool_WithErrors(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 2, "test pool", time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error { return errors.New("boom") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("worse") }))
	require.NoError(t, pool.Shutdown(time.Second))

	var errs []error
	for len(errs) < 2 {
		select {
		case err := <-pool.Errors():
			errs = append(errs, err)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 errors, got %d", len(errs))
		}
	}
	assert.Len(t, errs, 2)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "test pool", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))

	assert.Error(t, pool.Submit(func(ctx context.Context) error { return nil }))
	assert.False(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
	assert.NoError(t, pool.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestWorkerPool_TrySubmitDropsWhenFull(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "test pool", time.Second)
	release := make(chan struct{})
	blocker := func(ctx context.Context) error {
		<-release
		return nil
	}

	accepted := 0
	for i := 0; i < 10; i++ {
		if pool.TrySubmit(blocker) {
			accepted++
		}
	}
	close(release)
	require.NoError(t, pool.Shutdown(time.Second))

	// one running task plus a queue of two
	assert.LessOrEqual(t, accepted, 3)
	assert.GreaterOrEqual(t, accepted, 2)
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 1, "test pool", 5*time.Second)
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		time.Sleep(300 * time.Millisecond)
		return nil
	}))
	<-started

	assert.Error(t, pool.Shutdown(20*time.Millisecond))
}
