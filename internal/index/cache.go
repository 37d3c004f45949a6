package index

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheSize    = 128
	DefaultBuildTimeout = 5 * time.Minute
)

// Cache keeps the most recently used indexes by content key. Concurrent
// requests for a missing key share a single build; failed builds are not
// cached.
type Cache struct {
	max          int
	buildTimeout time.Duration
	group        singleflight.Group

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

type cacheEntry struct {
	key string
	idx Index
}

func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:          max,
		buildTimeout: DefaultBuildTimeout,
		items:        make(map[string]*list.Element),
		order:        list.New(),
	}
}

// SetBuildTimeout bounds each shared build. Non-positive values keep the
// current bound.
func (c *Cache) SetBuildTimeout(d time.Duration) {
	if d > 0 {
		c.buildTimeout = d
	}
}

func (c *Cache) Get(key string) (Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).idx, true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// GetOrBuild returns the cached index for key or runs build exactly once
// across all concurrent callers. The build keeps the values of the caller
// that started it but not its cancellation, so one caller leaving never
// fails the others; it is bounded by the build timeout instead. Each
// caller stops waiting when its own context ends.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build func(ctx context.Context) (Index, error)) (Index, error) {
	if idx, ok := c.Get(key); ok {
		return idx, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if idx, ok := c.Get(key); ok {
			return idx, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.buildTimeout)
		defer cancel()
		idx, err := build(bctx)
		if err != nil {
			return nil, err
		}
		c.put(key, idx)
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Index), nil
	}
}

func (c *Cache) put(key string, idx Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).idx = idx
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, idx: idx})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}
