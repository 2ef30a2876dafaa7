package revocation

import (
	"context"
	"sync"
	"time"
)

const memoryShards = 16

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// MemoryRegistry is an in-process Registry for single-node deployments.
// Entries are sharded across independent locks and a background sweeper
// removes expired entries so memory stays proportional to the number of
// live revocations, not to historical logout volume.
type MemoryRegistry struct {
	shards [memoryShards]*memoryShard
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryRegistry starts a sweeper that runs every sweepInterval.
// A nil now falls back to time.Now; injecting it keeps expiry decisions on
// the same clock as the token service. Close must be called to release the
// sweeper.
func NewMemoryRegistry(sweepInterval time.Duration, now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	r := &MemoryRegistry{
		now:  now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &memoryShard{entries: make(map[string]time.Time)}
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go r.sweepLoop(sweepInterval)
	return r
}

func (r *MemoryRegistry) shard(jti string) *memoryShard {
	var h uint32 = 2166136261
	for i := 0; i < len(jti); i++ {
		h ^= uint32(jti[i])
		h *= 16777619
	}
	return r.shards[h%memoryShards]
}

func (r *MemoryRegistry) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" || !expiresAt.After(r.now()) {
		return nil
	}
	s := r.shard(jti)
	s.mu.Lock()
	s.entries[jti] = expiresAt
	s.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) IsRevoked(_ context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	s := r.shard(jti)
	s.mu.RLock()
	expiresAt, ok := s.entries[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	// Expired entries awaiting the sweeper no longer count as revoked;
	// the token itself is already dead.
	return expiresAt.After(r.now()), nil
}

// Len reports the number of stored entries, including any expired ones
// the sweeper has not reached yet.
func (r *MemoryRegistry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

func (r *MemoryRegistry) sweepLoop(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *MemoryRegistry) sweep() {
	now := r.now()
	for _, s := range r.shards {
		s.mu.Lock()
		for jti, expiresAt := range s.entries {
			if !expiresAt.After(now) {
				delete(s.entries, jti)
			}
		}
		s.mu.Unlock()
	}
}

// Close stops the sweeper. The registry remains usable afterwards but no
// longer reclaims expired entries.
func (r *MemoryRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
