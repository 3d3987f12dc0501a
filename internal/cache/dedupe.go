package cache

import (
	"context"
	"sync"
	"time"
)

type memoryClaim struct {
	expires time.Time
	done    bool
}

// MemoryDeduper keeps claims in process memory. It backs STORE=memory runs
// and tests; claims do not survive a restart.
type MemoryDeduper struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{claims: make(map[string]memoryClaim), now: time.Now}
}

func (d *MemoryDeduper) live(key string) (memoryClaim, bool) {
	c, ok := d.claims[key]
	if !ok || !d.now().Before(c.expires) {
		return memoryClaim{}, false
	}
	return c, true
}

func (d *MemoryDeduper) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.live(key); ok {
		return false, nil
	}
	d.claims[key] = memoryClaim{expires: d.now().Add(ttl)}
	return true, nil
}

func (d *MemoryDeduper) Complete(_ context.Context, key string, ttl time.Duration) error {
	d.mu.Lock()
	d.claims[key] = memoryClaim{expires: d.now().Add(ttl), done: true}
	d.mu.Unlock()
	return nil
}

func (d *MemoryDeduper) Done(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.live(key)
	return ok && c.done, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.claims, key)
	d.mu.Unlock()
	return nil
}
