package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

type fakeResource struct {
	id       string
	html     string
	renderFn func(url string) (string, error)
	closed   atomic.Bool
	broken   atomic.Bool
	inUse    atomic.Int32
	closeErr error
}

func (r *fakeResource) ID() string { return r.id }

func (r *fakeResource) Render(ctx context.Context, url string) (string, error) {
	if r.inUse.Add(1) > 1 {
		r.inUse.Add(-1)
		return "", errors.New("resource used concurrently")
	}
	defer r.inUse.Add(-1)
	if r.renderFn != nil {
		return r.renderFn(url)
	}
	return r.html, nil
}

func (r *fakeResource) Reset(ctx context.Context) error { return nil }
func (r *fakeResource) Healthy() bool                   { return !r.closed.Load() && !r.broken.Load() }
func (r *fakeResource) Close() error {
	r.closed.Store(true)
	return r.closeErr
}

// fakeFactory counts creations and hands out fakeResources
type fakeFactory struct {
	created atomic.Int32
	fail    atomic.Bool
	mu      sync.Mutex
	all     []*fakeResource
}

func (f *fakeFactory) New(ctx context.Context) (Resource, error) {
	if f.fail.Load() {
		return nil, errors.New("chrome not found")
	}
	n := f.created.Add(1)
	res := &fakeResource{id: fmt.Sprintf("res-%d", n), html: "<html><body></body></html>"}
	f.mu.Lock()
	f.all = append(f.all, res)
	f.mu.Unlock()
	return res, nil
}

func TestResourcePool_CreatesLazilyUpToCapacity(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 2, 0, testLogger())

	assert.Equal(t, int32(0), factory.created.Load(), "no resources before first Acquire")

	r1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID(), r2.ID())

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrResourceUnavailable)
	assert.Equal(t, int32(2), factory.created.Load(), "cap must not be exceeded")

	pool.Release(r1)
	r3, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r1.ID(), r3.ID(), "released resource should be reused")
	assert.Equal(t, int32(2), factory.created.Load())

	stats := pool.Stats()
	assert.Equal(t, 2, stats.CheckedOut)
	assert.Equal(t, 0, stats.Idle)
}

func TestResourcePool_WaitsForReleaseWithinTimeout(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 1, time.Second, testLogger())

	r1, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		pool.Release(r1)
	}()

	r2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r1.ID(), r2.ID())
	assert.Equal(t, int32(1), factory.created.Load())
}

func TestResourcePool_WaitTimesOut(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 1, 50*time.Millisecond, testLogger())

	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, utils.ErrResourceUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResourcePool_CreationFailureIsTyped(t *testing.T) {
	factory := &fakeFactory{}
	factory.fail.Store(true)
	pool := NewResourcePool(factory.New, 2, 0, testLogger())

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrResourceUnavailable)

	// The failed creation must not consume a slot
	factory.fail.Store(false)
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)
}

func TestResourcePool_DestroyFreesSlot(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 1, 0, testLogger())

	r1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Destroy(r1)
	assert.True(t, r1.(*fakeResource).closed.Load())

	r2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID(), r2.ID())
	assert.Equal(t, int64(1), pool.Stats().Destroyed)
}

func TestResourcePool_UnhealthyReleaseIsDestroyed(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 1, 0, testLogger())

	r1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	r1.(*fakeResource).broken.Store(true)
	pool.Release(r1)

	assert.True(t, r1.(*fakeResource).closed.Load())
	assert.Equal(t, 0, pool.Stats().Idle)

	r2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID(), r2.ID())
}

func TestResourcePool_WaiterCreatesReplacementAfterDiscard(t *testing.T) {
	tests := []struct {
		name    string
		discard func(pool *ResourcePool, res Resource)
	}{
		{
			name:    "Destroy",
			discard: func(pool *ResourcePool, res Resource) { pool.Destroy(res) },
		},
		{
			name: "UnhealthyRelease",
			discard: func(pool *ResourcePool, res Resource) {
				res.(*fakeResource).broken.Store(true)
				pool.Release(res)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &fakeFactory{}
			pool := NewResourcePool(factory.New, 1, 2*time.Second, testLogger())

			r1, err := pool.Acquire(context.Background())
			require.NoError(t, err)

			go func() {
				time.Sleep(50 * time.Millisecond)
				tt.discard(pool, r1)
			}()

			start := time.Now()
			r2, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			assert.Less(t, time.Since(start), time.Second, "waiter should not sit out the timeout")
			assert.NotEqual(t, r1.ID(), r2.ID())
			assert.Equal(t, int32(2), factory.created.Load())

			stats := pool.Stats()
			assert.Equal(t, 1, stats.CheckedOut)
			assert.Equal(t, int64(1), stats.Destroyed)
		})
	}
}

func TestResourcePool_DrainAndCloseAbandonsCheckedOut(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 3, 0, testLogger())

	idle1, _ := pool.Acquire(context.Background())
	idle2, _ := pool.Acquire(context.Background())
	busy, _ := pool.Acquire(context.Background())
	pool.Release(idle1)
	pool.Release(idle2)

	require.NoError(t, pool.DrainAndClose())

	assert.True(t, idle1.(*fakeResource).closed.Load())
	assert.True(t, idle2.(*fakeResource).closed.Load())
	assert.False(t, busy.(*fakeResource).closed.Load(), "checked-out resource must not be force-closed")

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, utils.ErrPoolClosed)

	// Late release after shutdown closes the resource
	pool.Release(busy)
	assert.True(t, busy.(*fakeResource).closed.Load())

	assert.NoError(t, pool.DrainAndClose(), "second close is a no-op")
}

func TestResourcePool_DrainAndCloseAggregatesErrors(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 2, 0, testLogger())

	r1, _ := pool.Acquire(context.Background())
	r2, _ := pool.Acquire(context.Background())
	r1.(*fakeResource).closeErr = errors.New("boom 1")
	r2.(*fakeResource).closeErr = errors.New("boom 2")
	pool.Release(r1)
	pool.Release(r2)

	err := pool.DrainAndClose()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom 1")
	assert.Contains(t, err.Error(), "boom 2")
}

func TestResourcePool_ConcurrentNeverSharesResource(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewResourcePool(factory.New, 3, 2*time.Second, testLogger())

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, err := pool.Acquire(context.Background())
				if err != nil {
					failures.Add(1)
					continue
				}
				if _, err := res.Render(context.Background(), "http://example.com"); err != nil {
					failures.Add(1)
				}
				pool.Release(res)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load())
	assert.LessOrEqual(t, factory.created.Load(), int32(3))
}
