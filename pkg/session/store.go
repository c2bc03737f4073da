package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"livecoach-server/pkg/errors"
	"livecoach-server/pkg/metrics"
)

const shardCount = 16

// Entry is anything the store can hold. Implementations expose their
// identifier and last-activity time so the janitor can evict idle entries.
type Entry interface {
	SessionID() string
	LastActivityAt() time.Time
}

type shard struct {
	mutex   sync.RWMutex
	entries map[string]Entry
}

// Store is a sharded in-memory session registry. Keys are call
// identifiers; shard selection uses FNV-1a so lookups under load spread
// lock contention across shards.
type Store struct {
	shards      [shardCount]*shard
	logger      *logrus.Logger
	idleTimeout time.Duration
	onEvict     func(Entry)

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewStore creates a session store. idleTimeout of zero disables idle
// eviction. onEvict, when set, runs for each evicted entry outside the
// shard lock.
func NewStore(logger *logrus.Logger, idleTimeout time.Duration, onEvict func(Entry)) *Store {
	s := &Store{
		logger:      logger,
		idleTimeout: idleTimeout,
		onEvict:     onEvict,
		janitorStop: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Put registers a new entry. Fails when the key is already present.
func (s *Store) Put(entry Entry) error {
	sh := s.shardFor(entry.SessionID())
	sh.mutex.Lock()
	defer sh.mutex.Unlock()
	if _, exists := sh.entries[entry.SessionID()]; exists {
		return errors.ErrSessionAlreadyExists
	}
	sh.entries[entry.SessionID()] = entry
	metrics.ActiveCalls.Inc()
	return nil
}

// Get returns the entry for the key, or ErrSessionNotFound
func (s *Store) Get(key string) (Entry, error) {
	sh := s.shardFor(key)
	sh.mutex.RLock()
	defer sh.mutex.RUnlock()
	entry, ok := sh.entries[key]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return entry, nil
}

// Delete removes the entry for the key. Returns the removed entry so the
// caller can finalize it, or ErrSessionNotFound.
func (s *Store) Delete(key string) (Entry, error) {
	sh := s.shardFor(key)
	sh.mutex.Lock()
	defer sh.mutex.Unlock()
	entry, ok := sh.entries[key]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	delete(sh.entries, key)
	metrics.ActiveCalls.Dec()
	return entry, nil
}

// Count returns the number of live entries across all shards
func (s *Store) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mutex.RLock()
		total += len(sh.entries)
		sh.mutex.RUnlock()
	}
	return total
}

// Range calls fn for every entry until fn returns false. The shard lock
// is not held during fn.
func (s *Store) Range(fn func(Entry) bool) {
	for _, sh := range s.shards {
		sh.mutex.RLock()
		batch := make([]Entry, 0, len(sh.entries))
		for _, entry := range sh.entries {
			batch = append(batch, entry)
		}
		sh.mutex.RUnlock()
		for _, entry := range batch {
			if !fn(entry) {
				return
			}
		}
	}
}

// StartJanitor launches the idle-eviction loop. No-op when idle eviction
// is disabled.
func (s *Store) StartJanitor(interval time.Duration) {
	if s.idleTimeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.evictIdle()
			case <-s.janitorStop:
				return
			}
		}
	}()
}

// Stop halts the janitor
func (s *Store) Stop() {
	s.janitorOnce.Do(func() { close(s.janitorStop) })
}

func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.idleTimeout)
	var evicted []Entry
	for _, sh := range s.shards {
		sh.mutex.Lock()
		for key, entry := range sh.entries {
			if entry.LastActivityAt().Before(cutoff) {
				delete(sh.entries, key)
				metrics.ActiveCalls.Dec()
				evicted = append(evicted, entry)
			}
		}
		sh.mutex.Unlock()
	}
	for _, entry := range evicted {
		s.logger.WithFields(logrus.Fields{
			"call_id":      entry.SessionID(),
			"idle_timeout": s.idleTimeout,
		}).Warn("Evicting idle session")
		if s.onEvict != nil {
			s.onEvict(entry)
		}
	}
}
