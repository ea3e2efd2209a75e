package xcache

import (
	"sync"
	"time"
)

// DefaultCleanupThreshold 触发本地层清扫的条目数阈值。
const DefaultCleanupThreshold = 1000

type localEntry struct {
	value     []byte
	expiresAt time.Time // 零值表示永不过期
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// localStore 本地层。
// 需要逐条目的绝对过期时间和"超过阈值后清扫"语义，因此直接用 map 实现。
type localStore struct {
	mu               sync.Mutex
	entries          map[string]localEntry
	cleanupThreshold int
	now              func() time.Time
}

func newLocalStore(threshold int, now func() time.Time) *localStore {
	return &localStore{
		entries:          make(map[string]localEntry),
		cleanupThreshold: threshold,
		now:              now,
	}
}

func (s *localStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (s *localStore) set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.entries) > s.cleanupThreshold {
		s.sweepLocked(now)
	}

	e := localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
}

// delete 删除条目，返回删除前是否存在未过期条目。
func (s *localStore) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	return !e.expired(s.now())
}

func (s *localStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

func (s *localStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *localStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *localStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
