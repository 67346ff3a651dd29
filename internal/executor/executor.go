// Package executor runs potentially blocking calls on their own goroutine and waits
// for them with a deadline. A call that misses its deadline is abandoned, never
// cancelled: its goroutine keeps running as an orphan until the underlying system
// call returns, and the executor keeps count of how many such orphans exist.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/panics"

	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

// ErrAbandoned is the error of an Outcome whose deadline expired before the call returned.
var ErrAbandoned = errors.New("call abandoned after deadline")

const (
	stateRunning int32 = iota
	stateFinished
	stateAbandoned
)

// Outcome is the result of one bounded call.
type Outcome[T any] struct {
	Value T
	Err   error
	// Abandoned is set when the deadline expired or the context ended before the
	// call returned. Value is meaningless in that case.
	Abandoned bool
	// Done is closed when the worker goroutine really returns, including after abandonment.
	Done <-chan struct{}
}

// Completed reports whether the call returned before the deadline.
func (o Outcome[T]) Completed() bool {
	return !o.Abandoned
}

// Executor tracks the workers it has abandoned.
type Executor struct {
	orphans atomic.Int64
	total   atomic.Int64
}

// New creates an Executor.
func New() *Executor {
	return &Executor{}
}

// Orphans returns the number of abandoned workers that are still running.
func (e *Executor) Orphans() int64 {
	return e.orphans.Load()
}

// Abandoned returns the number of calls abandoned since the executor was created.
func (e *Executor) Abandoned() int64 {
	return e.total.Load()
}

type call[T any] struct {
	state atomic.Int32
	value T
	err   error
	ready chan struct{}
	done  chan struct{}
}

// Call runs fn on a new goroutine and waits until it returns, timeout expires or
// ctx ends, whichever comes first. A timeout of zero or less waits without a
// deadline. fn must only write to memory it allocated itself: after abandonment
// it keeps running concurrently with the caller.
func Call[T any](ctx context.Context, e *Executor, timeout time.Duration, fn func() (T, error)) Outcome[T] {
	c := &call[T]{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	go work(e, c, fn)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.ready:
		return Outcome[T]{Value: c.value, Err: c.err, Done: c.done}
	case <-expired:
		return abandon(e, c, ErrAbandoned)
	case <-ctx.Done():
		return abandon(e, c, ctx.Err())
	}
}

func work[T any](e *Executor, c *call[T], fn func() (T, error)) {
	defer close(c.done)

	var pc panics.Catcher
	pc.Try(func() {
		c.value, c.err = fn()
	})
	if r := pc.Recovered(); r != nil {
		var zero T
		c.value = zero
		c.err = herrors.NewError(herrors.ErrCodePanicRecovered, fmt.Sprintf("worker panic: %v", r.Value)).
			WithErrno(syscall.EIO)
	}

	if c.state.CompareAndSwap(stateRunning, stateFinished) {
		close(c.ready)
		return
	}
	// The waiter gave up on this call.
	e.orphans.Add(-1)
}

// abandon hands the call over to its worker. If the worker finished at the same
// moment, its result is delivered instead.
func abandon[T any](e *Executor, c *call[T], reason error) Outcome[T] {
	e.orphans.Add(1)
	if !c.state.CompareAndSwap(stateRunning, stateAbandoned) {
		e.orphans.Add(-1)
		<-c.ready
		return Outcome[T]{Value: c.value, Err: c.err, Done: c.done}
	}
	e.total.Add(1)
	return Outcome[T]{Err: reason, Abandoned: true, Done: c.done}
}
