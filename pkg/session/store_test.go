package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecoach-server/pkg/errors"
)

type fakeEntry struct {
	id       string
	activity time.Time
}

func (f *fakeEntry) SessionID() string         { return f.id }
func (f *fakeEntry) LastActivityAt() time.Time { return f.activity }

func newTestStore(idle time.Duration, onEvict func(Entry)) *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewStore(logger, idle, onEvict)
}

func TestStorePutGetDelete(t *testing.T) {
	store := newTestStore(0, nil)
	entry := &fakeEntry{id: "CA1", activity: time.Now()}

	require.NoError(t, store.Put(entry))
	assert.Equal(t, 1, store.Count())

	got, err := store.Get("CA1")
	require.NoError(t, err)
	assert.Same(t, Entry(entry), got)

	removed, err := store.Delete("CA1")
	require.NoError(t, err)
	assert.Equal(t, "CA1", removed.SessionID())
	assert.Equal(t, 0, store.Count())

	_, err = store.Get("CA1")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestStoreDuplicatePut(t *testing.T) {
	store := newTestStore(0, nil)
	require.NoError(t, store.Put(&fakeEntry{id: "CA1", activity: time.Now()}))
	err := store.Put(&fakeEntry{id: "CA1", activity: time.Now()})
	assert.ErrorIs(t, err, errors.ErrSessionAlreadyExists)
}

func TestStoreDeleteMissing(t *testing.T) {
	store := newTestStore(0, nil)
	_, err := store.Delete("nope")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestStoreRange(t *testing.T) {
	store := newTestStore(0, nil)
	for i := 0; i < 40; i++ {
		require.NoError(t, store.Put(&fakeEntry{id: fmt.Sprintf("CA%d", i), activity: time.Now()}))
	}
	seen := 0
	store.Range(func(Entry) bool {
		seen++
		return true
	})
	assert.Equal(t, 40, seen)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := newTestStore(0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("CA%d", n)
			_ = store.Put(&fakeEntry{id: id, activity: time.Now()})
			_, _ = store.Get(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, store.Count())
}

func TestStoreEvictsIdleEntries(t *testing.T) {
	var evicted []string
	var mu sync.Mutex
	store := newTestStore(50*time.Millisecond, func(e Entry) {
		mu.Lock()
		evicted = append(evicted, e.SessionID())
		mu.Unlock()
	})

	require.NoError(t, store.Put(&fakeEntry{id: "stale", activity: time.Now().Add(-time.Minute)}))
	require.NoError(t, store.Put(&fakeEntry{id: "fresh", activity: time.Now().Add(time.Hour)}))

	store.evictIdle()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stale"}, evicted)
	assert.Equal(t, 1, store.Count())
	_, err := store.Get("fresh")
	assert.NoError(t, err)
}
