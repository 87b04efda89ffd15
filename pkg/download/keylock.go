package download

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// keyEntry tracks one destination's lock and how many callers hold or wait for it
type keyEntry struct {
	sem         *semaphore.Weighted
	activeCount int64
}

// KeyLock serializes work per key (destination path) within one run.
// Entries are dropped as soon as nobody holds or waits for them.
type KeyLock struct {
	entries map[string]*keyEntry
	mu      sync.Mutex
	log     *logrus.Entry
}

// NewKeyLock creates an empty KeyLock
func NewKeyLock(log *logrus.Entry) *KeyLock {
	return &KeyLock{
		entries: make(map[string]*keyEntry),
		log:     log,
	}
}

// Lock blocks until key is free or ctx is cancelled
func (k *KeyLock) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	entry, exists := k.entries[key]
	if !exists {
		entry = &keyEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = entry
	}
	entry.activeCount++
	contended := entry.activeCount > 1
	k.mu.Unlock()

	if contended {
		k.log.WithField("key", key).Debug("Waiting for in-flight write to same destination")
	}

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		k.mu.Lock()
		entry.activeCount--
		if entry.activeCount == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
		return err
	}
	return nil
}

// Unlock releases key
func (k *KeyLock) Unlock(key string) {
	k.mu.Lock()
	entry, exists := k.entries[key]
	if !exists {
		k.mu.Unlock()
		k.log.Errorf("keylock: Unlock called for unknown key: %s", key)
		return
	}
	entry.activeCount--
	if entry.activeCount == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	entry.sem.Release(1)
}
