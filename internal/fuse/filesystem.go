package fuse

import (
	"path"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/hareadfs/hareadfs/internal/union"
	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

// FilesystemStats represents filesystem operation statistics
type FilesystemStats struct {
	Lookups   int64 `json:"lookups"`
	Getattrs  int64 `json:"getattrs"`
	Opens     int64 `json:"opens"`
	Reads     int64 `json:"reads"`
	Readdirs  int64 `json:"readdirs"`
	BytesRead int64 `json:"bytes_read"`
	Errors    int64 `json:"errors"`
	Rejected  int64 `json:"rejected_writes"`
}

type counters struct {
	lookups   atomic.Int64
	getattrs  atomic.Int64
	opens     atomic.Int64
	reads     atomic.Int64
	readdirs  atomic.Int64
	bytesRead atomic.Int64
	errors    atomic.Int64
	rejected  atomic.Int64
}

// FileSystem is the binding-independent part of the mount: it owns the dispatcher
// and merger and turns their errors into errno values.
type FileSystem struct {
	dispatcher *union.Dispatcher
	merger     *union.Merger
	logger     zerolog.Logger
	stats      counters
}

// NewFileSystem creates a new FUSE filesystem instance
func NewFileSystem(dispatcher *union.Dispatcher, merger *union.Merger, logger zerolog.Logger) *FileSystem {
	return &FileSystem{
		dispatcher: dispatcher,
		merger:     merger,
		logger:     logger.With().Str("component", "fuse").Logger(),
	}
}

// GetStats returns current filesystem statistics
func (f *FileSystem) GetStats() FilesystemStats {
	return FilesystemStats{
		Lookups:   f.stats.lookups.Load(),
		Getattrs:  f.stats.getattrs.Load(),
		Opens:     f.stats.opens.Load(),
		Reads:     f.stats.reads.Load(),
		Readdirs:  f.stats.readdirs.Load(),
		BytesRead: f.stats.bytesRead.Load(),
		Errors:    f.stats.errors.Load(),
		Rejected:  f.stats.rejected.Load(),
	}
}

// errno converts err for the kernel and counts it.
func (f *FileSystem) errno(op, p string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	errno := herrors.ToErrno(err)
	switch errno {
	case syscall.EROFS:
		f.stats.rejected.Add(1)
	case syscall.ENOENT, syscall.ENODATA:
	default:
		f.stats.errors.Add(1)
		f.logger.Debug().Str("op", op).Str("path", p).Err(err).Msg("request failed")
	}
	return errno
}

// mutate rejects a mutating request.
func (f *FileSystem) mutate(op string) syscall.Errno {
	return f.errno(op, "", f.dispatcher.Mutate(op))
}

func joinPath(parent, name string) string {
	return path.Join("/", parent, name)
}
