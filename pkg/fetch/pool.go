package fetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

// Resource is a stateful, reusable page renderer such as a browser tab
type Resource interface {
	ID() string
	// Render navigates to url and returns the page HTML once it is ready
	Render(ctx context.Context, url string) (string, error)
	// Reset scrubs navigation state so the resource can be handed to another caller
	Reset(ctx context.Context) error
	// Healthy reports whether the resource may be returned to the idle queue
	Healthy() bool
	Close() error
}

// ResourceFactory launches a new Resource
type ResourceFactory func(ctx context.Context) (Resource, error)

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	Capacity   int
	Idle       int
	CheckedOut int
	Created    int64
	Destroyed  int64
}

// ResourcePool hands out lazily created Resources, never more than capacity alive at once.
// Acquire never blocks longer than acquireTimeout: a caller that cannot get a resource receives ErrResourceUnavailable.
type ResourcePool struct {
	factory        ResourceFactory
	capacity       int
	acquireTimeout time.Duration
	log            *logrus.Entry

	slots *semaphore.Weighted // One unit per live resource, idle or checked out
	idle  chan Resource
	freed chan struct{} // Signalled when a discarded resource frees a slot

	mu     sync.Mutex // Guards closed and sends on idle
	closed bool

	checkedOut atomic.Int64
	created    atomic.Int64
	destroyed  atomic.Int64
}

// NewResourcePool creates an empty pool; resources are created on demand by Acquire
func NewResourcePool(factory ResourceFactory, capacity int, acquireTimeout time.Duration, log *logrus.Entry) *ResourcePool {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResourcePool{
		factory:        factory,
		capacity:       capacity,
		acquireTimeout: acquireTimeout,
		log:            log.WithField("component", "resource_pool"),
		slots:          semaphore.NewWeighted(int64(capacity)),
		idle:           make(chan Resource, capacity),
		freed:          make(chan struct{}, capacity),
	}
}

// Acquire returns an idle resource, creates one if below capacity, or waits up to acquireTimeout for a release
func (p *ResourcePool) Acquire(ctx context.Context) (Resource, error) {
	if p.isClosed() {
		return nil, utils.ErrPoolClosed
	}

	select {
	case res, ok := <-p.idle:
		if !ok {
			return nil, utils.ErrPoolClosed
		}
		return p.checkout(res, "idle"), nil
	default:
	}

	if p.slots.TryAcquire(1) {
		return p.create(ctx, "created")
	}

	if p.acquireTimeout <= 0 {
		return nil, fmt.Errorf("%w: pool at capacity (%d)", utils.ErrResourceUnavailable, p.capacity)
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()
	for {
		select {
		case res, ok := <-p.idle:
			if !ok {
				return nil, utils.ErrPoolClosed
			}
			return p.checkout(res, "waited"), nil
		case <-p.freed:
			if p.isClosed() {
				return nil, utils.ErrPoolClosed
			}
			// Another caller may have taken the slot first; keep waiting if so
			if p.slots.TryAcquire(1) {
				return p.create(ctx, "replaced")
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: no resource released within %v", utils.ErrResourceUnavailable, p.acquireTimeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", utils.ErrResourceUnavailable, ctx.Err())
		}
	}
}

// create launches a resource into a slot the caller already holds
func (p *ResourcePool) create(ctx context.Context, how string) (Resource, error) {
	res, err := p.factory(ctx)
	if err != nil {
		p.slots.Release(1)
		p.signalFreed()
		p.log.WithError(err).Warn("Failed to create resource")
		return nil, fmt.Errorf("%w: create: %w", utils.ErrResourceUnavailable, err)
	}
	p.created.Add(1)
	return p.checkout(res, how), nil
}

func (p *ResourcePool) checkout(res Resource, how string) Resource {
	p.checkedOut.Add(1)
	p.log.WithFields(logrus.Fields{"resource_id": res.ID(), "via": how}).Debug("Resource checked out")
	return res
}

// Release returns a resource to the idle queue.
// After DrainAndClose, or if the resource reports itself unhealthy, it is closed instead.
func (p *ResourcePool) Release(res Resource) {
	if res == nil {
		return
	}
	p.checkedOut.Add(-1)
	if !res.Healthy() {
		p.log.WithField("resource_id", res.ID()).Warn("Released resource is unhealthy, destroying")
		p.discard(res)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(res)
		return
	}
	p.idle <- res // Never blocks: at most capacity resources exist
	p.mu.Unlock()
	p.log.WithField("resource_id", res.ID()).Debug("Resource released")
}

// Destroy closes a checked-out resource that is broken and frees its slot
func (p *ResourcePool) Destroy(res Resource) {
	if res == nil {
		return
	}
	p.checkedOut.Add(-1)
	p.discard(res)
}

func (p *ResourcePool) discard(res Resource) {
	if err := res.Close(); err != nil {
		p.log.WithError(err).WithField("resource_id", res.ID()).Warn("Error closing resource")
	}
	p.destroyed.Add(1)
	p.slots.Release(1)
	p.signalFreed()
}

// signalFreed wakes one waiter so it can create a replacement in the freed slot
func (p *ResourcePool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// DrainAndClose closes every idle resource and stops the pool.
// Checked-out resources are left to their holders; a later Release closes them.
func (p *ResourcePool) DrainAndClose() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	var result *multierror.Error
	drained := 0
	for res := range p.idle {
		drained++
		if err := res.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", res.ID(), err))
		}
		p.destroyed.Add(1)
		p.slots.Release(1)
	}

	p.log.WithFields(logrus.Fields{
		"closed":    drained,
		"abandoned": p.checkedOut.Load(),
	}).Info("Resource pool drained")
	return result.ErrorOrNil()
}

// Stats returns current pool counters
func (p *ResourcePool) Stats() PoolStats {
	return PoolStats{
		Capacity:   p.capacity,
		Idle:       len(p.idle),
		CheckedOut: int(p.checkedOut.Load()),
		Created:    p.created.Load(),
		Destroyed:  p.destroyed.Load(),
	}
}

func (p *ResourcePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
