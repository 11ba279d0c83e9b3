package async

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy computes a value on first use. Concurrent callers share a single
// in-flight computation. A failed computation is not cached, so the next
// caller retries.
type Lazy[T any] struct {
	fn    func(context.Context) (T, error)
	group singleflight.Group

	mu    sync.RWMutex
	value T
	done  bool
}

// NewLazy creates a lazily computed value
func NewLazy[T any](fn func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{fn: fn}
}

// Get returns the value, computing it if needed
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.RLock()
	if l.done {
		v := l.value
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	v, err, _ := l.group.Do("value", func() (interface{}, error) {
		l.mu.RLock()
		if l.done {
			v := l.value
			l.mu.RUnlock()
			return v, nil
		}
		l.mu.RUnlock()

		v, err := l.fn(ctx)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.value = v
		l.done = true
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	val, _ := v.(T)
	return val, nil
}

// Ready reports whether the value has been computed
func (l *Lazy[T]) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.done
}
