package executor

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

func TestCallCompletes(t *testing.T) {
	t.Parallel()

	e := New()
	out := Call(context.Background(), e, time.Second, func() (int, error) {
		return 42, nil
	})

	require.True(t, out.Completed())
	assert.NoError(t, out.Err)
	assert.Equal(t, 42, out.Value)

	<-out.Done
	assert.Equal(t, int64(0), e.Orphans())
}

func TestCallReturnsError(t *testing.T) {
	t.Parallel()

	e := New()
	out := Call(context.Background(), e, time.Second, func() (string, error) {
		return "", syscall.EACCES
	})

	require.True(t, out.Completed())
	assert.ErrorIs(t, out.Err, syscall.EACCES)
}

func TestCallAbandonsHungWorker(t *testing.T) {
	t.Parallel()

	e := New()
	release := make(chan struct{})

	start := time.Now()
	out := Call(context.Background(), e, 50*time.Millisecond, func() (int, error) {
		<-release
		return 1, nil
	})
	elapsed := time.Since(start)

	require.True(t, out.Abandoned)
	assert.ErrorIs(t, out.Err, ErrAbandoned)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, int64(1), e.Orphans())
	assert.Equal(t, int64(1), e.Abandoned())

	select {
	case <-out.Done:
		t.Fatal("Done closed while worker is still blocked")
	default:
	}

	close(release)
	select {
	case <-out.Done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed after worker returned")
	}

	assert.Eventually(t, func() bool { return e.Orphans() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), e.Abandoned())
}

func TestCallContextCancelled(t *testing.T) {
	t.Parallel()

	e := New()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out := Call(ctx, e, time.Minute, func() (int, error) {
		<-release
		return 0, nil
	})

	require.True(t, out.Abandoned)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestCallRecoversPanic(t *testing.T) {
	t.Parallel()

	e := New()
	out := Call(context.Background(), e, time.Second, func() (int, error) {
		panic("backend exploded")
	})

	require.True(t, out.Completed())
	require.Error(t, out.Err)
	assert.True(t, errors.Is(out.Err, &herrors.FSError{Code: herrors.ErrCodePanicRecovered}))
	assert.Equal(t, syscall.EIO, herrors.ToErrno(out.Err))
}

func TestCallNoDeadline(t *testing.T) {
	t.Parallel()

	e := New()
	out := Call(context.Background(), e, 0, func() (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 7, nil
	})
	require.True(t, out.Completed())
	assert.Equal(t, 7, out.Value)
}

// A result racing the deadline must be either delivered or counted as orphaned.
func TestCallDeadlineRace(t *testing.T) {
	t.Parallel()

	e := New()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := Call(context.Background(), e, time.Millisecond, func() (int, error) {
				time.Sleep(time.Millisecond)
				return 1, nil
			})
			if out.Completed() {
				assert.Equal(t, 1, out.Value)
			}
			<-out.Done
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return e.Orphans() == 0 }, time.Second, 5*time.Millisecond)
}
