package snapshot

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"verso/internal/errors"
	"verso/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_BuildsOncePerHead(t *testing.T) {
	repo := storetest.New()
	repo.Commit(100, "a", map[string]string{"f": "v1"})
	head := repo.Commit(200, "b", map[string]string{"f": "v2"})

	cache := NewForRepo(repo, Options{})

	var wg sync.WaitGroup
	snaps := make([]*Snapshot, 16)
	for i := range snaps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := cache.Get(context.Background(), head)
			assert.NoError(t, err)
			snaps[i] = snap
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, repo.Walks())
	assert.Equal(t, 1, cache.Len())
	for _, snap := range snaps {
		assert.Same(t, snaps[0], snap)
	}
	assert.Len(t, snaps[0].Paths["f"], 2)
}

func TestGet_ConcurrentColdBuildShared(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	cache := New(func(ctx context.Context, head string) (*Snapshot, error) {
		builds.Add(1)
		<-release
		return &Snapshot{Head: head}, nil
	}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "h")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
}

func TestGet_FailureNotCached(t *testing.T) {
	var calls int
	cache := New(func(ctx context.Context, head string) (*Snapshot, error) {
		calls++
		if calls == 1 {
			return nil, stderrors.New("mount unreachable")
		}
		return &Snapshot{Head: head}, nil
	}, Options{})

	_, err := cache.Get(context.Background(), "h")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 0, cache.Len())

	snap, err := cache.Get(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, "h", snap.Head)
	assert.Equal(t, 2, calls)
}

func TestGet_IndependentSnapshotsPerHead(t *testing.T) {
	repo := storetest.New()
	h1 := repo.Commit(100, "a", map[string]string{"f": "v1"})
	cache := NewForRepo(repo, Options{})

	s1, err := cache.Get(context.Background(), h1)
	require.NoError(t, err)

	h2 := repo.Commit(200, "b", map[string]string{"f": "v2"})
	s2, err := cache.Get(context.Background(), h2)
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Len())
	assert.Len(t, s1.Paths["f"], 1)
	assert.Len(t, s2.Paths["f"], 2)

	again, err := cache.Get(context.Background(), h1)
	require.NoError(t, err)
	assert.Same(t, s1, again)
	assert.Equal(t, 2, repo.Walks())
}

func TestGet_CallerCancelDoesNotAbortBuild(t *testing.T) {
	release := make(chan struct{})
	cache := New(func(ctx context.Context, head string) (*Snapshot, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Snapshot{Head: head}, nil
	}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "h")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestGet_BuildTimeout(t *testing.T) {
	cache := New(func(ctx context.Context, head string) (*Snapshot, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{BuildTimeout: 10 * time.Millisecond})

	_, err := cache.Get(context.Background(), "h")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, cache.Len())
}

func TestCurrent(t *testing.T) {
	repo := storetest.New()
	head := repo.Commit(100, "a", map[string]string{"f": "v1"})
	cache := NewForRepo(repo, Options{})

	snap, err := cache.Current(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, head, snap.Head)

	_, err = cache.Current(context.Background(), storetest.New())
	assert.True(t, errors.IsFatal(err))
}
