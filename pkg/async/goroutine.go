package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, log, 10*time.Second, "plugin health probe", func(ctx context.Context) error {
//	    return checker.CheckPlugins(ctx)
//	})
func SafeGo(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			// Logged, not fatal: the caller decides whether it matters
			log.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	log          logrus.FieldLogger
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
}

// NewWorkerPool creates a new worker pool. The queue holds workers*2 pending
// tasks; TrySubmit drops work instead of blocking when it is full.
//
// Example:
//
//	pool := NewWorkerPool(ctx, log, 4, "response cache write", 5*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.TrySubmit(func(ctx context.Context) error {
//	    return cache.Set(ctx, key, body, opts)
//	})
func NewWorkerPool(ctx context.Context, log logrus.FieldLogger, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		log:      log,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool, blocking while the queue is full.
// Returns error if pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("worker pool shut down")
	}
	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool shut down")
	}
}

// TrySubmit adds a task without blocking. It reports false when the pool is
// shut down or its queue is full.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.workCh <- fn:
		return true
	default:
		return false
	}
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"task":   p.taskName,
				"worker": id,
				"stack":  string(debug.Stack()),
			}).Errorf("Panic in worker: %v", r)
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.log.WithError(err).WithField("task", p.taskName).Warn("Error channel full, dropping error")
	}
}
