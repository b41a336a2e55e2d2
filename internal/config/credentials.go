package config

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const credentialKeySize = 32

// CredentialStore seals mail account passwords on disk. The sealed file and
// the key file are separate so a config backup alone cannot expose passwords.
type CredentialStore struct {
	sealedPath string
	keyPath    string
	key        [credentialKeySize]byte
}

// OpenCredentialStore loads the key at keyPath, generating one on first use.
// The key file is created with 0600 permissions.
func OpenCredentialStore(sealedPath, keyPath string) (*CredentialStore, error) {
	s := &CredentialStore{
		sealedPath: expandPath(sealedPath),
		keyPath:    expandPath(keyPath),
	}

	raw, err := os.ReadFile(s.keyPath)
	switch {
	case err == nil:
		if len(raw) != credentialKeySize {
			return nil, fmt.Errorf("credential key file %s has wrong size", s.keyPath)
		}
		copy(s.key[:], raw)
	case os.IsNotExist(err):
		if _, err := rand.Read(s.key[:]); err != nil {
			return nil, fmt.Errorf("generate credential key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
		if err := os.WriteFile(s.keyPath, s.key[:], 0o600); err != nil {
			return nil, fmt.Errorf("write credential key: %w", err)
		}
	default:
		return nil, fmt.Errorf("read credential key: %w", err)
	}

	return s, nil
}

// Set seals a password for the named account, replacing any existing entry.
func (s *CredentialStore) Set(account, password string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[account] = password
	return s.store(entries)
}

// Get returns the password for the named account.
func (s *CredentialStore) Get(account string) (string, error) {
	entries, err := s.load()
	if err != nil {
		return "", err
	}
	password, ok := entries[account]
	if !ok {
		return "", fmt.Errorf("no credentials stored for account '%s'", account)
	}
	return password, nil
}

// Delete removes the entry for the named account, if present.
func (s *CredentialStore) Delete(account string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	delete(entries, account)
	return s.store(entries)
}

func (s *CredentialStore) load() (map[string]string, error) {
	sealed, err := os.ReadFile(s.sealedPath)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sealed credentials: %w", err)
	}
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed credentials file %s is truncated", s.sealedPath)
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("sealed credentials file %s cannot be opened with the current key", s.sealedPath)
	}

	var entries map[string]string
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return entries, nil
}

func (s *CredentialStore) store(entries map[string]string) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)
	if err := os.MkdirAll(filepath.Dir(s.sealedPath), 0o755); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	if err := os.WriteFile(s.sealedPath, sealed, 0o600); err != nil {
		return fmt.Errorf("write sealed credentials: %w", err)
	}
	return nil
}
