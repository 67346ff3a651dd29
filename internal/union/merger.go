package union

import (
	"context"
	"time"

	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/executor"
	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

// Listing accumulates one merged directory listing. Names are unique; the first
// backend to report a name wins.
type Listing struct {
	entries []backend.DirEntry
	seen    map[string]struct{}
}

func newListing() *Listing {
	return &Listing{seen: make(map[string]struct{})}
}

// Add appends e unless its name is already present. It reports whether e was added.
func (l *Listing) Add(e backend.DirEntry) bool {
	if _, dup := l.seen[e.Name]; dup {
		return false
	}
	l.seen[e.Name] = struct{}{}
	l.entries = append(l.entries, e)
	return true
}

// Entries returns the merged entries in the order they were added.
func (l *Listing) Entries() []backend.DirEntry {
	return l.entries
}

// Merger builds directory listings from every responsive backend.
type Merger struct {
	d *Dispatcher
}

// NewMerger creates a merger sharing the dispatcher's backends, registry and executor.
func NewMerger(d *Dispatcher) *Merger {
	return &Merger{d: d}
}

// ReadDir lists path on every eligible backend and merges the results. It succeeds
// if at least one backend listed the directory, even when others failed.
func (m *Merger) ReadDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	const op = "readdir"
	d := m.d
	start := time.Now()

	listing := newListing()
	var hardErr error
	attempted, abandoned, listed := 0, 0, 0

	for _, b := range d.set.Backends() {
		if ctx.Err() != nil {
			return nil, d.finish(op, start, herrors.Interrupted(op, path, ctx.Err()))
		}
		if !d.registry.Get(b.Root).Eligible() {
			d.recorder.RecordAttempt(b.Root, op, AttemptSkipped)
			continue
		}
		attempted++

		real := backend.Translate(b, path)
		out := executor.Call(ctx, d.exec, d.config.RequestTimeout, func() ([]backend.DirEntry, error) {
			return d.fs.ReadDir(real)
		})

		switch {
		case out.Abandoned:
			if ctx.Err() != nil {
				return nil, d.finish(op, start, herrors.Interrupted(op, path, ctx.Err()))
			}
			abandoned++
			d.recorder.RecordAttempt(b.Root, op, AttemptAbandoned)
			d.logger.Warn().Str("op", op).Str("path", real).Str("backend", b.Root).
				Msg("directory listing timed out, skipping backend")
		case out.Err == nil:
			listed++
			d.recorder.RecordAttempt(b.Root, op, AttemptOK)
			for _, e := range out.Value {
				listing.Add(e)
			}
		default:
			fsErr := herrors.Classify(op, path, b.Root, out.Err)
			if herrors.IsNotFound(fsErr) {
				d.recorder.RecordAttempt(b.Root, op, AttemptNotFound)
				continue
			}
			d.recorder.RecordAttempt(b.Root, op, AttemptError)
			d.logger.Warn().Str("op", op).Str("path", real).Str("backend", b.Root).Err(out.Err).
				Msg("directory listing failed, skipping backend")
			if hardErr == nil {
				hardErr = fsErr
			}
		}
	}

	switch {
	case listed > 0:
		return listing.Entries(), d.finish(op, start, nil)
	case hardErr != nil:
		return nil, d.finish(op, start, hardErr)
	case abandoned == attempted:
		return nil, d.finish(op, start, herrors.Timeout(op, path))
	default:
		return nil, d.finish(op, start, herrors.NotFound(op, path))
	}
}
