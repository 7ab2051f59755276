package vault

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
)

const (
	serviceName   = "inboxkit"
	masterKeyName = "vault-key"
)

// backendNames maps config values onto keyring backends.
var backendNames = map[string]keyring.BackendType{
	"keychain":       keyring.KeychainBackend,
	"secret-service": keyring.SecretServiceBackend,
	"kwallet":        keyring.KWalletBackend,
	"wincred":        keyring.WinCredBackend,
	"pass":           keyring.PassBackend,
	"file":           keyring.FileBackend,
}

// OpenKeyring opens the system keyring holding the vault master key. The
// file backend, when allowed, lives under <dataDir>/keyring.
func OpenKeyring(dataDir string, backends []string) (keyring.Keyring, error) {
	allowed := make([]keyring.BackendType, 0, len(backends))
	for _, name := range backends {
		backend, ok := backendNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown keyring backend %q", name)
		}
		allowed = append(allowed, backend)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          allowed,
		FileDir:                  filepath.Join(dataDir, "keyring"),
		FilePasswordFunc:         keyring.FixedStringPrompt("inboxkit-vault"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}

// masterKey loads the vault master key, creating and storing a new one on
// first use.
func masterKey(ring keyring.Keyring) ([]byte, error) {
	item, err := ring.Get(masterKeyName)
	if err == nil {
		return item.Data, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := ring.Set(keyring.Item{
		Key:   masterKeyName,
		Label: "inboxkit vault master key",
		Data:  key,
	}); err != nil {
		return nil, fmt.Errorf("failed to store master key: %w", err)
	}
	return key, nil
}
