package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// LocalStore keeps credentials in a secretbox-encrypted JSON file. It backs
// development setups and deployments without a Vault server. The master key
// is any passphrase; it is hashed to the 32-byte box key.
type LocalStore struct {
	path string
	key  [32]byte

	mu      sync.Mutex
	records map[string]*CredentialRecord
	loaded  bool
}

// NewLocalStore creates a file-backed credential store.
func NewLocalStore(path, masterKey string) *LocalStore {
	return &LocalStore{
		path: path,
		key:  sha256.Sum256([]byte(masterKey)),
	}
}

func localKey(userID int64, exchangeID string) string {
	return fmt.Sprintf("%d/%s", userID, exchangeID)
}

// Get retrieves one user's credentials for a venue.
func (s *LocalStore) Get(ctx context.Context, userID int64, exchangeID string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	rec, ok := s.records[localKey(userID, exchangeID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return rec, nil
}

// Put stores one user's credentials for a venue.
func (s *LocalStore) Put(ctx context.Context, userID int64, exchangeID string, rec *CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.records[localKey(userID, exchangeID)] = rec
	return s.saveLocked()
}

// Delete removes one user's credentials for a venue.
func (s *LocalStore) Delete(ctx context.Context, userID int64, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	delete(s.records, localKey(userID, exchangeID))
	return s.saveLocked()
}

func (s *LocalStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.records = make(map[string]*CredentialRecord)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential store: %w", err)
	}
	if len(data) < 24 {
		return fmt.Errorf("credential store is corrupt")
	}

	var nonce [24]byte
	copy(nonce[:], data[:24])
	plain, ok := secretbox.Open(nil, data[24:], &nonce, &s.key)
	if !ok {
		return fmt.Errorf("failed to decrypt credential store (wrong master key?)")
	}
	if err := json.Unmarshal(plain, &s.records); err != nil {
		return fmt.Errorf("failed to parse credential store: %w", err)
	}
	s.loaded = true
	return nil
}

func (s *LocalStore) saveLocked() error {
	plain, err := json.Marshal(s.records)
	if err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, sealed, 0o600)
}
