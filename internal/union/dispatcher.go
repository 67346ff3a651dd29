// Package union merges the backends into a single read-only view. Every request is
// tried against the backends in priority order, skipping blocked ones, and every
// backend call is bounded by the request deadline.
package union

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/health"
	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

// Per-backend attempt outcomes reported to the Recorder.
const (
	AttemptOK        = "ok"
	AttemptSkipped   = "skipped"
	AttemptAbandoned = "abandoned"
	AttemptNotFound  = "not_found"
	AttemptError     = "error"
)

// wOK is the write bit of access(2).
const wOK = 0x2

// writeFlags are the open flags that express write intent.
const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_EXCL | os.O_TRUNC | os.O_APPEND

// Config holds the request path settings.
type Config struct {
	RequestTimeout time.Duration `yaml:"request"`
}

// DefaultConfig returns the production request settings.
func DefaultConfig() Config {
	return Config{RequestTimeout: 5 * time.Second}
}

// Recorder receives per-operation and per-attempt results.
type Recorder interface {
	RecordOperation(operation, status string, duration time.Duration)
	RecordAttempt(backend, operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string, time.Duration) {}
func (nopRecorder) RecordAttempt(string, string, string)          {}

// Dispatcher applies the failover policy to single-answer operations.
type Dispatcher struct {
	set      *backend.Set
	registry *health.Registry
	fs       backend.FileSystem
	exec     *executor.Executor
	config   Config
	logger   zerolog.Logger
	recorder Recorder
}

// NewDispatcher creates a dispatcher. A nil recorder discards results.
func NewDispatcher(set *backend.Set, registry *health.Registry, fs backend.FileSystem, exec *executor.Executor,
	config Config, logger zerolog.Logger, recorder Recorder) *Dispatcher {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		set:      set,
		registry: registry,
		fs:       fs,
		exec:     exec,
		config:   config,
		logger:   logger.With().Str("component", "union").Logger(),
		recorder: recorder,
	}
}

// Backends returns the backend set.
func (d *Dispatcher) Backends() *backend.Set {
	return d.set
}

// Registry returns the health registry consulted before each attempt.
func (d *Dispatcher) Registry() *health.Registry {
	return d.registry
}

// failover tries attempt against each eligible backend in priority order. A backend
// that times out or does not have the path passes the request on to the next one;
// any other error ends the request.
func failover[T any](ctx context.Context, d *Dispatcher, op, path string, attempt func(real string) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	attempted, abandoned := 0, 0

	for _, b := range d.set.Backends() {
		if ctx.Err() != nil {
			return zero, d.finish(op, start, herrors.Interrupted(op, path, ctx.Err()))
		}
		if !d.registry.Get(b.Root).Eligible() {
			d.recorder.RecordAttempt(b.Root, op, AttemptSkipped)
			continue
		}
		attempted++

		real := backend.Translate(b, path)
		out := executor.Call(ctx, d.exec, d.config.RequestTimeout, func() (T, error) {
			return attempt(real)
		})

		if out.Abandoned {
			if ctx.Err() != nil {
				return zero, d.finish(op, start, herrors.Interrupted(op, path, ctx.Err()))
			}
			abandoned++
			d.recorder.RecordAttempt(b.Root, op, AttemptAbandoned)
			d.logger.Warn().Str("op", op).Str("path", real).Str("backend", b.Root).
				Dur("timeout", d.config.RequestTimeout).Msg("backend call timed out, trying next backend")
			continue
		}
		if out.Err == nil {
			d.recorder.RecordAttempt(b.Root, op, AttemptOK)
			return out.Value, d.finish(op, start, nil)
		}

		fsErr := herrors.Classify(op, path, b.Root, out.Err)
		if herrors.IsNotFound(fsErr) {
			d.recorder.RecordAttempt(b.Root, op, AttemptNotFound)
			continue
		}
		d.recorder.RecordAttempt(b.Root, op, AttemptError)
		return zero, d.finish(op, start, fsErr)
	}

	if abandoned == attempted {
		return zero, d.finish(op, start, herrors.Timeout(op, path))
	}
	return zero, d.finish(op, start, herrors.NotFound(op, path))
}

func (d *Dispatcher) finish(op string, start time.Time, err error) error {
	status := "success"
	if err != nil {
		status = statusOf(err)
		d.logger.Debug().Str("op", op).Err(err).Msg("request failed")
	}
	d.recorder.RecordOperation(op, status, time.Since(start))
	return err
}

func statusOf(err error) string {
	switch {
	case herrors.IsNotFound(err):
		return "not_found"
	case herrors.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

// Getattr returns the attributes of path from the first backend that has it.
func (d *Dispatcher) Getattr(ctx context.Context, path string) (*backend.Attr, error) {
	return failover(ctx, d, "getattr", path, d.fs.Lstat)
}

// Readlink returns the target of the symbolic link at path.
func (d *Dispatcher) Readlink(ctx context.Context, path string) (string, error) {
	return failover(ctx, d, "readlink", path, d.fs.Readlink)
}

// Open checks that path can be opened read-only on some backend. No descriptor is
// kept: reads reopen the file on whichever backend answers them.
func (d *Dispatcher) Open(ctx context.Context, path string, flags int) error {
	if flags&writeFlags != 0 {
		return d.Mutate("open")
	}
	_, err := failover(ctx, d, "open", path, func(real string) (struct{}, error) {
		return struct{}{}, d.fs.Open(real, flags)
	})
	return err
}

// Read reads up to len(dest) bytes of path at off into dest and returns the count.
// The backend read fills a buffer owned by the worker; dest is only written once the
// read has completed within the deadline.
func (d *Dispatcher) Read(ctx context.Context, path string, dest []byte, off int64) (int, error) {
	size := len(dest)
	data, err := failover(ctx, d, "read", path, func(real string) ([]byte, error) {
		return d.fs.ReadAt(real, size, off)
	})
	if err != nil {
		return 0, err
	}
	return copy(dest, data), nil
}

// Access checks the permission bits of path. Write access is always refused.
func (d *Dispatcher) Access(ctx context.Context, path string, mode uint32) error {
	if mode&wOK != 0 {
		return d.Mutate("access")
	}
	_, err := failover(ctx, d, "access", path, func(real string) (struct{}, error) {
		return struct{}{}, d.fs.Access(real, mode)
	})
	return err
}

type xattrResult struct {
	data []byte
	size int
}

// Getxattr copies the value of attribute name into dest and returns its length.
// With an empty dest only the length is returned.
func (d *Dispatcher) Getxattr(ctx context.Context, path, name string, dest []byte) (int, error) {
	size := len(dest)
	res, err := failover(ctx, d, "getxattr", path, func(real string) (xattrResult, error) {
		data, n, err := d.fs.Getxattr(real, name, size)
		return xattrResult{data: data, size: n}, err
	})
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return res.size, nil
	}
	return copy(dest, res.data), nil
}

// Listxattr copies the NUL-separated attribute names of path into dest and returns
// their length. With an empty dest only the length is returned.
func (d *Dispatcher) Listxattr(ctx context.Context, path string, dest []byte) (int, error) {
	size := len(dest)
	res, err := failover(ctx, d, "listxattr", path, func(real string) (xattrResult, error) {
		data, n, err := d.fs.Listxattr(real, size)
		return xattrResult{data: data, size: n}, err
	})
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return res.size, nil
	}
	return copy(dest, res.data), nil
}

// Statfs returns the filesystem statistics of the first backend that answers for path.
func (d *Dispatcher) Statfs(ctx context.Context, path string) (*backend.StatfsInfo, error) {
	return failover(ctx, d, "statfs", path, d.fs.Statfs)
}

// Mutate rejects a mutating operation without touching any backend.
func (d *Dispatcher) Mutate(op string) error {
	err := herrors.ReadOnly(op)
	d.recorder.RecordOperation(op, "read_only", 0)
	return err
}
