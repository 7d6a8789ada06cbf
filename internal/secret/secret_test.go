package secret_test

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modprogress/internal/secret"
)

// ── Chain / stores ─────────────────────────────────────────

func TestChain_FirstNonEmptyWins(t *testing.T) {
	first := secret.NewMemoryStore()
	second := secret.NewMemoryStore()
	require.NoError(t, second.Set("k", []byte("from-second")))

	c := secret.Chain{first, second}
	v, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "from-second", string(v))

	require.NoError(t, first.Set("k", []byte("from-first")))
	v, err = c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "from-first", string(v))
}

func TestChain_SetSkipsReadOnly(t *testing.T) {
	mem := secret.NewMemoryStore()
	c := secret.Chain{secret.NewEnvStore(), mem}

	require.NoError(t, c.Set(secret.KeyCanvasToken, []byte("tok")))
	v, _ := mem.Get(secret.KeyCanvasToken)
	assert.Equal(t, "tok", string(v))

	require.NoError(t, c.Delete(secret.KeyCanvasToken))
	v, _ = mem.Get(secret.KeyCanvasToken)
	assert.Empty(t, v)

	assert.ErrorIs(t, secret.Chain{secret.NewEnvStore()}.Set("k", nil), secret.ErrReadOnly)
}

func TestEnvStore(t *testing.T) {
	e := secret.NewEnvStore()
	t.Setenv("CANVAS_API_TOKEN", "  abc  ")
	t.Setenv("MODPROGRESS_WAREHOUSE_PASSWORD", "pw")

	v, err := e.Get(secret.KeyCanvasToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))

	v, err = e.Get(secret.KeyWarehousePassword)
	require.NoError(t, err)
	assert.Equal(t, "pw", string(v))

	v, err = e.Get("unset-key")
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Equal(t, "MODPROGRESS_A_B_C", e.EnvName("a-b.c"))
}

func TestMemoryStore_CopiesValue(t *testing.T) {
	m := secret.NewMemoryStore()
	buf := []byte("secret")
	require.NoError(t, m.Set("k", buf))
	buf[0] = 'X'
	v, _ := m.Get("k")
	assert.Equal(t, "secret", string(v))
}

// ── Keychain (fake `security` via helper process) ──────────

// fakeSecurity re-executes the test binary as the `security` tool.
func fakeSecurity(stdout string, exit int) func(string, ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_STDOUT="+stdout,
			fmt.Sprintf("HELPER_EXIT=%d", exit),
		)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("HELPER_STDOUT"))
	code := 0
	fmt.Sscanf(os.Getenv("HELPER_EXIT"), "%d", &code)
	os.Exit(code)
}

func TestKeychain_Get(t *testing.T) {
	k := &secret.KeychainStore{Command: fakeSecurity("token-value\n", 0)}
	v, err := k.Get(secret.KeyCanvasToken)
	require.NoError(t, err)
	assert.Equal(t, "token-value", string(v))
}

func TestKeychain_GetMissing(t *testing.T) {
	k := &secret.KeychainStore{Command: fakeSecurity("", 44)}
	v, err := k.Get(secret.KeyCanvasToken)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestKeychain_GetFailure(t *testing.T) {
	k := &secret.KeychainStore{Command: fakeSecurity("", 51)}
	_, err := k.Get(secret.KeyCanvasToken)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "exit 51"))
}

func TestKeychain_SetFailure(t *testing.T) {
	k := &secret.KeychainStore{Command: fakeSecurity("denied", 1)}
	err := k.Set(secret.KeyCanvasToken, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keychain set: denied")
}
