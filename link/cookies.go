package link

import "sync"

// SessionCookieKey is the store key holding the consumer auth-session
// client secret used for cookie-based lookups.
const SessionCookieKey = "link.session_cookie"

// CookieStore persists the session cookie between runs. Reads and writes
// are last-writer-wins; nothing spans a lookup and its update atomically.
type CookieStore interface {
	Cookie(key string) (string, bool, error)
	SetCookie(key, value string) error
	DeleteCookie(key string) error
}

// MemoryCookieStore is a process-local CookieStore.
type MemoryCookieStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryCookieStore creates an empty store.
func NewMemoryCookieStore() *MemoryCookieStore {
	return &MemoryCookieStore{values: make(map[string]string)}
}

func (m *MemoryCookieStore) Cookie(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]

	return v, ok, nil
}

func (m *MemoryCookieStore) SetCookie(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

func (m *MemoryCookieStore) DeleteCookie(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}
