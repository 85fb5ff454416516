package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process. It is safe for concurrent use.
//
// With a TTL, a background goroutine drops snapshots whose FittedAt is older
// than the TTL; Stop must be called to end it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	ttl       time.Duration

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates a store without expiry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

// NewMemoryStoreWithTTL creates a store that expires snapshots after ttl,
// checking every cleanupInterval (one minute when not positive).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		snapshots:     make(map[string]Snapshot),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	go s.runCleanup()
	return s
}

// Stop ends the cleanup goroutine and waits for it. Safe to call more than
// once, and a no-op without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		s.cleanupTicker.Stop()
	})
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, snap := range s.snapshots {
		if s.expired(snap, now) {
			delete(s.snapshots, key)
		}
	}
}

func (s *MemoryStore) expired(snap Snapshot, now time.Time) bool {
	return s.ttl > 0 && now.Sub(snap.FittedAt) > s.ttl
}

// Put stores snapshot under its key, replacing any earlier one.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Key == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Key] = snapshot
	return nil
}

// Get returns the snapshot stored under key. Expired snapshots that the
// cleanup has not reached yet are reported as absent.
func (s *MemoryStore) Get(ctx context.Context, key string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key]
	if !ok || s.expired(snap, time.Now()) {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes key and reports whether it existed.
func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[key]
	delete(s.snapshots, key)
	return ok
}
