package index_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperqa/internal/index"
)

func TestCache_SingleBuildUnderConcurrency(t *testing.T) {
	cache := index.NewCache(4)
	var builds atomic.Int32
	release := make(chan struct{})

	build := func(ctx context.Context) (index.Index, error) {
		builds.Add(1)
		<-release
		return index.Empty{}, nil
	}

	var wg sync.WaitGroup
	results := make([]index.Index, 20)
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrBuild(context.Background(), "doc", build)
		}(i)
	}

	// Give every goroutine a chance to join the in-flight build.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for i := range results {
		assert.NoError(t, errs[i])
		assert.NotNil(t, results[i])
	}
	assert.Equal(t, 1, cache.Len())
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	cache := index.NewCache(4)
	calls := 0
	build := func(ctx context.Context) (index.Index, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("embedding service down")
		}
		return index.Empty{}, nil
	}

	_, err := cache.GetOrBuild(context.Background(), "doc", build)
	require.Error(t, err)

	idx, err := cache.GetOrBuild(context.Background(), "doc", build)
	require.NoError(t, err)
	assert.NotNil(t, idx)
	assert.Equal(t, 2, calls)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := index.NewCache(2)
	build := func(ctx context.Context) (index.Index, error) { return index.Empty{}, nil }

	for _, k := range []string{"a", "b"} {
		_, err := cache.GetOrBuild(context.Background(), k, build)
		require.NoError(t, err)
	}
	_, ok := cache.Get("a") // a becomes most recent
	require.True(t, ok)

	_, err := cache.GetOrBuild(context.Background(), "c", build)
	require.NoError(t, err)

	_, okA := cache.Get("a")
	_, okB := cache.Get("b")
	_, okC := cache.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, cache.Len())
}

func TestCache_WaiterContextCancelled(t *testing.T) {
	cache := index.NewCache(2)
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = cache.GetOrBuild(context.Background(), "slow", func(ctx context.Context) (index.Index, error) {
			<-release
			return index.Empty{}, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.GetOrBuild(ctx, "slow", func(ctx context.Context) (index.Index, error) {
		t.Fatal("second caller must join the in-flight build")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_StarterCancelDoesNotFailJoinedCaller(t *testing.T) {
	cache := index.NewCache(2)
	started := make(chan struct{})
	release := make(chan struct{})
	build := func(ctx context.Context) (index.Index, error) {
		close(started)
		select {
		case <-release:
			return index.Empty{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.GetOrBuild(ctxA, "doc", build)
		errA <- err
	}()
	<-started

	resB := make(chan error, 1)
	go func() {
		_, err := cache.GetOrBuild(context.Background(), "doc", func(ctx context.Context) (index.Index, error) {
			t.Error("joined caller must not start a second build")
			return nil, nil
		})
		resB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	require.NoError(t, <-resB)
	_, ok := cache.Get("doc")
	assert.True(t, ok)
}

func TestCache_BuildTimeout(t *testing.T) {
	cache := index.NewCache(2)
	cache.SetBuildTimeout(20 * time.Millisecond)

	_, err := cache.GetOrBuild(context.Background(), "doc", func(ctx context.Context) (index.Index, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, cache.Len())
}
