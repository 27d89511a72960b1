package apikeys

import (
	"context"
	"fmt"
	"sync"

	"quantdinger-engine/config"

	"github.com/hashicorp/vault/api"
)

// VaultStore reads and writes venue credentials in a Vault KV v2 mount.
// Reads are cached in memory; writes update the cache so a follow-up read
// never hits a stale secret version.
type VaultStore struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*CredentialRecord
}

// NewVaultStore creates a Vault-backed credential store.
func NewVaultStore(cfg config.VaultConfig) (*VaultStore, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &VaultStore{
		client: client,
		config: cfg,
		cache:  make(map[string]*CredentialRecord),
	}, nil
}

func (s *VaultStore) cacheKey(userID int64, exchangeID string) string {
	return fmt.Sprintf("%d/%s", userID, exchangeID)
}

func (s *VaultStore) secretPath(userID int64, exchangeID string) string {
	return fmt.Sprintf("%s/data/%s/%d/%s", s.config.MountPath, s.config.SecretPath, userID, exchangeID)
}

func (s *VaultStore) metadataPath(userID int64, exchangeID string) string {
	return fmt.Sprintf("%s/metadata/%s/%d/%s", s.config.MountPath, s.config.SecretPath, userID, exchangeID)
}

// Get retrieves one user's credentials for a venue.
func (s *VaultStore) Get(ctx context.Context, userID int64, exchangeID string) (*CredentialRecord, error) {
	s.mu.RLock()
	if cached, ok := s.cache[s.cacheKey(userID, exchangeID)]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath(userID, exchangeID))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrCredentialNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", s.secretPath(userID, exchangeID))
	}

	rec := &CredentialRecord{
		APIKey:     getString(data, "api_key"),
		SecretKey:  getString(data, "secret_key"),
		Passphrase: getString(data, "passphrase"),
		GatewayURL: getString(data, "gateway_url"),
		AccountID:  getString(data, "account_id"),
	}

	s.mu.Lock()
	s.cache[s.cacheKey(userID, exchangeID)] = rec
	s.mu.Unlock()
	return rec, nil
}

// Put stores one user's credentials for a venue.
func (s *VaultStore) Put(ctx context.Context, userID int64, exchangeID string, rec *CredentialRecord) error {
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":     rec.APIKey,
			"secret_key":  rec.SecretKey,
			"passphrase":  rec.Passphrase,
			"gateway_url": rec.GatewayURL,
			"account_id":  rec.AccountID,
		},
	}

	_, err := s.client.Logical().WriteWithContext(ctx, s.secretPath(userID, exchangeID), secretData)
	if err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	s.mu.Lock()
	s.cache[s.cacheKey(userID, exchangeID)] = rec
	s.mu.Unlock()
	return nil
}

// Delete removes one user's credentials for a venue.
func (s *VaultStore) Delete(ctx context.Context, userID int64, exchangeID string) error {
	s.mu.Lock()
	delete(s.cache, s.cacheKey(userID, exchangeID))
	s.mu.Unlock()

	_, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(userID, exchangeID))
	if err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
