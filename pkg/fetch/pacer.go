package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pacer inserts randomized politeness pauses between requests.
// A pause is abandoned as soon as its context is cancelled.
type Pacer struct {
	mu   sync.Mutex
	rng  *rand.Rand
	log  *logrus.Entry
	wait func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a Pacer that really sleeps
func NewPacer(log *logrus.Entry) *Pacer {
	return &Pacer{
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		log:  log,
		wait: sleepCtx,
	}
}

// Wait pauses for base plus a uniformly random extra in [0, jitter)
func (p *Pacer) Wait(ctx context.Context, base, jitter time.Duration) error {
	return p.Between(ctx, base, base+jitter)
}

// Between pauses for a uniformly random duration in [lo, hi)
func (p *Pacer) Between(ctx context.Context, lo, hi time.Duration) error {
	if lo < 0 {
		lo = 0
	}
	d := lo
	if hi > lo {
		p.mu.Lock()
		d += time.Duration(p.rng.Int63n(int64(hi - lo)))
		p.mu.Unlock()
	}
	if d <= 0 {
		return ctx.Err()
	}
	p.log.WithField("sleep", d).Trace("Pacing")
	return p.wait(ctx, d)
}

// sleepCtx blocks for d or until ctx is done, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
