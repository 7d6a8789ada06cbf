package secret

import (
	"os"
	"strings"
)

// EnvStore reads secrets from environment variables. The key "canvas-token"
// maps to MODPROGRESS_CANVAS_TOKEN unless Names overrides it.
type EnvStore struct {
	Names map[string]string
}

// NewEnvStore returns an EnvStore that also understands CANVAS_API_TOKEN.
func NewEnvStore() *EnvStore {
	return &EnvStore{Names: map[string]string{KeyCanvasToken: "CANVAS_API_TOKEN"}}
}

// EnvName returns the variable consulted for key.
func (e *EnvStore) EnvName(key string) string {
	if n, ok := e.Names[key]; ok {
		return n
	}
	return "MODPROGRESS_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(e.EnvName(key)))
	if v == "" {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Set(string, []byte) error { return ErrReadOnly }

func (e *EnvStore) Delete(string) error { return ErrReadOnly }
