package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "modprogress"

// KeychainStore implements SecretStore using the macOS Keychain
// via the `security` CLI tool.
type KeychainStore struct {
	// Command is swapped in tests. Defaults to exec.Command.
	Command func(name string, args ...string) *exec.Cmd
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{Command: exec.Command}
}

func (k *KeychainStore) command(args ...string) *exec.Cmd {
	if k.Command == nil {
		return exec.Command("security", args...)
	}
	return k.Command("security", args...)
}

// Set stores a secret in the macOS Keychain, replacing any existing value.
func (k *KeychainStore) Set(key string, value []byte) error {
	k.Delete(key)

	cmd := k.command("add-generic-password",
		"-a", key,
		"-s", keychainService,
		"-w", string(value),
		"-U", // update if exists
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain set: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Get retrieves a secret from the macOS Keychain.
// Returns empty slice and nil error if the key doesn't exist or the
// `security` tool is unavailable.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	cmd := k.command("find-generic-password",
		"-a", key,
		"-s", keychainService,
		"-w", // output only the password
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() != 44 {
			return nil, fmt.Errorf("keychain get: exit %d", exitErr.ExitCode())
		}
		// 44: item not found; anything else means no keychain on this host.
		return nil, nil
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes a secret from the macOS Keychain.
func (k *KeychainStore) Delete(key string) error {
	cmd := k.command("delete-generic-password",
		"-a", key,
		"-s", keychainService,
	)
	cmd.Run() // item may not exist
	return nil
}
