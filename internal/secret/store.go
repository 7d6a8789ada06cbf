package secret

import (
	"errors"
	"sync"
)

// Well-known secret keys.
const (
	KeyCanvasToken       = "canvas-token"
	KeyWarehousePassword = "warehouse-password"
)

// ErrReadOnly is returned by stores that cannot be written.
var ErrReadOnly = errors.New("secret store is read-only")

// SecretStore provides a pluggable interface for storing sensitive data
// such as the LMS access token. The default implementation uses the macOS
// Keychain; environment variables and in-memory stores are also provided.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// ── Chain ──────────────────────────────────────────────────

// Chain reads from each store in order and returns the first non-empty value.
// Writes go to the first store that accepts them.
type Chain []SecretStore

func (c Chain) Get(key string) ([]byte, error) {
	var errs []error
	for _, s := range c {
		v, err := s.Get(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(v) > 0 {
			return v, nil
		}
	}
	return nil, errors.Join(errs...)
}

func (c Chain) Set(key string, value []byte) error {
	for _, s := range c {
		err := s.Set(key, value)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return ErrReadOnly
}

func (c Chain) Delete(key string) error {
	var errs []error
	for _, s := range c {
		if err := s.Delete(key); err != nil && !errors.Is(err, ErrReadOnly) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── MemoryStore ────────────────────────────────────────────

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
