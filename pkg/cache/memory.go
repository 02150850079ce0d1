package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memoryEntry はインメモリストアの1エントリ。
type memoryEntry struct {
	// value は格納された値。
	value string
	// expiresAt は有効期限。ゼロ値の場合は無期限。
	expiresAt time.Time
}

// expired はエントリが有効期限切れかどうかを返す。
func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore はインメモリのStore実装。開発・テスト用。
type MemoryStore struct {
	// mu はentriesへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// entries はキーとエントリのマップ。
	entries map[string]memoryEntry
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewMemoryStore は新しいインメモリストアを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get はキーに対応する値を取得する。
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set はキーに値を設定する。
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Incr はキーのカウンタを1増やし、増加後の値を返す。
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.now()) {
		entry = memoryEntry{value: "0"}
	}

	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		count = 0
	}
	count++

	entry.value = strconv.FormatInt(count, 10)
	s.entries[key] = entry
	return count, nil
}

// Expire はキーに有効期限を設定する。
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[key] = entry
	return nil
}

// TTL はキーの残り有効期限を返す。
func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expiresAt.IsZero() || entry.expired(s.now()) {
		return 0, nil
	}
	return entry.expiresAt.Sub(s.now()), nil
}

// Ping は常に成功する。
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
