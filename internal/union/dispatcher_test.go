package union

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/backend/backendtest"
	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/health"
	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

const testTimeout = 40 * time.Millisecond

func newTestDispatcher(t *testing.T, fake *backendtest.FS, roots ...string) (*Dispatcher, *health.Registry) {
	t.Helper()

	set, err := backend.NewSet(roots)
	require.NoError(t, err)
	reg := health.NewRegistry()
	d := NewDispatcher(set, reg, fake, executor.New(), Config{RequestTimeout: testTimeout}, zerolog.Nop(), nil)
	return d, reg
}

func TestNewDispatcherDefaults(t *testing.T) {
	t.Parallel()

	set, err := backend.NewSet([]string{"/a"})
	require.NoError(t, err)
	d := NewDispatcher(set, health.NewRegistry(), backendtest.New("/a"), executor.New(), Config{}, zerolog.Nop(), nil)
	assert.Equal(t, 5*time.Second, d.config.RequestTimeout)
}

func TestOpenFallsThroughNotFound(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.WriteFile("/b/x", []byte("from b"))
	d, _ := newTestDispatcher(t, fake, "/a", "/b")

	require.NoError(t, d.Open(context.Background(), "/x", os.O_RDONLY))
	assert.Equal(t, 1, fake.Calls("/a"))
	assert.Equal(t, 1, fake.Calls("/b"))
}

func TestOpenSkipsBlockedBackend(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.WriteFile("/b/x", []byte("from b"))
	release := fake.Hang("/a")
	defer release()
	d, reg := newTestDispatcher(t, fake, "/a", "/b")
	reg.Set("/a", health.Blocked)

	start := time.Now()
	require.NoError(t, d.Open(context.Background(), "/x", os.O_RDONLY))
	assert.Less(t, time.Since(start), testTimeout, "a blocked backend must not cost a timeout")
	assert.Equal(t, 0, fake.Calls("/a"))
}

func TestAllBackendsAbandonReturnsTimeout(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.WriteFile("/a/y", []byte("y"))
	fake.WriteFile("/b/y", []byte("y"))
	releaseA := fake.Hang("/a")
	releaseB := fake.Hang("/b")
	defer releaseA()
	defer releaseB()
	d, _ := newTestDispatcher(t, fake, "/a", "/b")
	ctx := context.Background()

	ops := []struct {
		name string
		fn   func() error
	}{
		{"getattr", func() error { _, err := d.Getattr(ctx, "/y"); return err }},
		{"readlink", func() error { _, err := d.Readlink(ctx, "/y"); return err }},
		{"open", func() error { return d.Open(ctx, "/y", os.O_RDONLY) }},
		{"read", func() error { _, err := d.Read(ctx, "/y", make([]byte, 4), 0); return err }},
		{"access", func() error { return d.Access(ctx, "/y", 4) }},
		{"getxattr", func() error { _, err := d.Getxattr(ctx, "/y", "user.k", make([]byte, 8)); return err }},
		{"listxattr", func() error { _, err := d.Listxattr(ctx, "/y", nil); return err }},
		{"statfs", func() error { _, err := d.Statfs(ctx, "/y"); return err }},
	}

	for _, op := range ops {
		err := op.fn()
		name := op.name
		require.Error(t, err, name)
		assert.True(t, herrors.IsTimeout(err), "%s: got %v, want timeout", name, err)
		assert.Equal(t, syscall.ETIMEDOUT, herrors.ToErrno(err), name)
	}
}

func TestAllBackendsBlockedReturnsTimeout(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.WriteFile("/a/y", nil)
	d, reg := newTestDispatcher(t, fake, "/a", "/b")
	reg.Set("/a", health.Blocked)
	reg.Set("/b", health.Blocked)

	_, err := d.Getattr(context.Background(), "/y")
	assert.True(t, herrors.IsTimeout(err))
	assert.Equal(t, 0, fake.Calls("/a")+fake.Calls("/b"))
}

func TestAbandonedThenNotFoundReturnsNotFound(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	release := fake.Hang("/a")
	defer release()
	d, _ := newTestDispatcher(t, fake, "/a", "/b")

	_, err := d.Getattr(context.Background(), "/missing")
	assert.True(t, herrors.IsNotFound(err), "got %v", err)
}

func TestHardErrorStopsFailover(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.WriteFile("/a/x", nil)
	fake.WriteFile("/b/x", nil)
	fake.Fail("/a", syscall.EACCES)
	d, _ := newTestDispatcher(t, fake, "/a", "/b")

	_, err := d.Getattr(context.Background(), "/x")
	require.Error(t, err)
	assert.Equal(t, syscall.EACCES, herrors.ToErrno(err))
	assert.Equal(t, 0, fake.Calls("/b"), "a hard error must not fall through")
}

func TestUnknownStateIsEligible(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a")
	fake.WriteFile("/a/x", []byte("abc"))
	d, reg := newTestDispatcher(t, fake, "/a")
	require.Equal(t, health.Unknown, reg.Get("/a"))

	attr, err := d.Getattr(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), attr.Size)
}

// For every position i, a backend holding the path wins when every earlier
// backend is blocked or does not have it.
func TestFirstEligibleHolderWins(t *testing.T) {
	t.Parallel()

	roots := []string{"/a", "/b", "/c", "/d"}
	for i := range roots {
		for mask := 0; mask < 1<<i; mask++ {
			t.Run(fmt.Sprintf("holder=%d/mask=%b", i, mask), func(t *testing.T) {
				fake := backendtest.New(roots...)
				for j := i; j < len(roots); j++ {
					fake.WriteFile(roots[j]+"/f", []byte(roots[j]))
				}
				d, reg := newTestDispatcher(t, fake, roots...)
				for j := 0; j < i; j++ {
					if mask&(1<<j) != 0 {
						reg.Set(roots[j], health.Blocked)
						// A blocked backend holding the file must still be skipped.
						fake.WriteFile(roots[j]+"/f", []byte(roots[j]))
					}
				}

				buf := make([]byte, 16)
				n, err := d.Read(context.Background(), "/f", buf, 0)
				require.NoError(t, err)
				assert.Equal(t, roots[i], string(buf[:n]))
			})
		}
	}
}

func TestMutateTouchesNoBackend(t *testing.T) {
	t.Parallel()

	for _, state := range []health.State{health.Unknown, health.Healthy, health.Blocked} {
		fake := backendtest.New("/a", "/b")
		fake.WriteFile("/a/x", nil)
		d, reg := newTestDispatcher(t, fake, "/a", "/b")
		reg.Set("/a", state)
		reg.Set("/b", state)

		for _, op := range []string{"mkdir", "unlink", "rename", "write", "setxattr", "truncate"} {
			err := d.Mutate(op)
			assert.ErrorIs(t, err, herrors.ErrReadOnly)
			assert.Equal(t, syscall.EROFS, herrors.ToErrno(err))
		}

		for _, flags := range []int{os.O_WRONLY, os.O_RDWR, os.O_RDONLY | os.O_CREATE, os.O_RDONLY | os.O_TRUNC, os.O_RDONLY | os.O_APPEND, os.O_RDONLY | os.O_EXCL} {
			err := d.Open(context.Background(), "/x", flags)
			assert.ErrorIs(t, err, herrors.ErrReadOnly, "flags %#x", flags)
		}
		assert.ErrorIs(t, d.Access(context.Background(), "/x", 2), herrors.ErrReadOnly)

		assert.Equal(t, 0, fake.Calls("/a")+fake.Calls("/b"), "state %s", state)
	}
}

func TestReadCopiesIntoDest(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a")
	fake.WriteFile("/a/file", []byte("hello world"))
	d, _ := newTestDispatcher(t, fake, "/a")

	dest := make([]byte, 5)
	n, err := d.Read(context.Background(), "/file", dest, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(dest[:n]))

	n, err = d.Read(context.Background(), "/file", dest, 8)
	require.NoError(t, err)
	assert.Equal(t, "rld", string(dest[:n]))

	for _, off := range []int64{11, 100} {
		n, err = d.Read(context.Background(), "/file", dest, off)
		require.NoError(t, err, "offset %d", off)
		assert.Equal(t, 0, n, "offset %d", off)
	}
}

// An abandoned read must never write into the caller's buffer.
func TestAbandonedReadLeavesDestUntouched(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a")
	fake.WriteFile("/a/file", []byte("payload"))
	release := fake.Hang("/a")
	d, _ := newTestDispatcher(t, fake, "/a")

	dest := []byte("--------")
	_, err := d.Read(context.Background(), "/file", dest, 0)
	require.True(t, herrors.IsTimeout(err))

	release()
	require.Eventually(t, func() bool { return d.exec.Orphans() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "--------", string(dest))
}

func TestXattrPassthrough(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.WriteFile("/b/x", nil)
	fake.SetXattr("/b/x", "user.color", []byte("blue"))
	fake.SetXattr("/b/x", "user.shape", []byte("round"))
	d, _ := newTestDispatcher(t, fake, "/a", "/b")
	ctx := context.Background()

	n, err := d.Getxattr(ctx, "/x", "user.color", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = d.Getxattr(ctx, "/x", "user.color", buf)
	require.NoError(t, err)
	assert.Equal(t, "blue", string(buf[:n]))

	_, err = d.Getxattr(ctx, "/x", "user.color", make([]byte, 2))
	assert.Equal(t, syscall.ERANGE, herrors.ToErrno(err))

	_, err = d.Getxattr(ctx, "/x", "user.none", buf)
	assert.Equal(t, syscall.ENODATA, herrors.ToErrno(err))

	n, err = d.Listxattr(ctx, "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, 22, n)

	list := make([]byte, 32)
	n, err = d.Listxattr(ctx, "/x", list)
	require.NoError(t, err)
	assert.Equal(t, 22, n)
	assert.Equal(t, "user.color\x00user.shape\x00", string(list[:n]))

	_, err = d.Listxattr(ctx, "/x", make([]byte, 8))
	assert.Equal(t, syscall.ERANGE, herrors.ToErrno(err))
}

func TestReadlink(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a")
	fake.Symlink("target/file", "/a/link")
	d, _ := newTestDispatcher(t, fake, "/a")

	target, err := d.Readlink(context.Background(), "/link")
	require.NoError(t, err)
	assert.Equal(t, "target/file", target)
}

func TestStatfsUsesTranslatedPath(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a", "/b")
	fake.SetStatfs("/a", &backend.StatfsInfo{Blocks: 100, Bsize: 4096})
	fake.SetStatfs("/b", &backend.StatfsInfo{Blocks: 200, Bsize: 4096})
	d, reg := newTestDispatcher(t, fake, "/a", "/b")

	info, err := d.Statfs(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), info.Blocks)

	reg.Set("/a", health.Blocked)
	info, err = d.Statfs(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), info.Blocks)
}

func TestCancelledContextInterrupts(t *testing.T) {
	t.Parallel()

	fake := backendtest.New("/a")
	release := fake.Hang("/a")
	defer release()
	set, err := backend.NewSet([]string{"/a"})
	require.NoError(t, err)
	d := NewDispatcher(set, health.NewRegistry(), fake, executor.New(), Config{RequestTimeout: time.Minute}, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = d.Getattr(ctx, "/x")
	assert.ErrorIs(t, err, herrors.ErrInterrupted)
	assert.Equal(t, syscall.EINTR, herrors.ToErrno(err))
}
