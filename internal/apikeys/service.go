// Package apikeys resolves per-user exchange credentials from a Vault KV v2
// mount, with an encrypted local file as the fallback store.
package apikeys

import (
	"context"
	"errors"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/exchange"
	"quantdinger-engine/internal/logging"
)

// ErrCredentialNotFound means no credentials are stored for the user+venue.
var ErrCredentialNotFound = errors.New("credentials not found")

// CredentialRecord is the stored shape of one user+venue credential set.
type CredentialRecord struct {
	APIKey     string `json:"api_key"`
	SecretKey  string `json:"secret_key"`
	Passphrase string `json:"passphrase,omitempty"`
	GatewayURL string `json:"gateway_url,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
}

// Store is the credential backend contract.
type Store interface {
	Get(ctx context.Context, userID int64, exchangeID string) (*CredentialRecord, error)
	Put(ctx context.Context, userID int64, exchangeID string, rec *CredentialRecord) error
	Delete(ctx context.Context, userID int64, exchangeID string) error
}

// Service exposes credentials to the execution pipeline. It satisfies
// exchange.CredentialSource.
type Service struct {
	store  Store
	logger *logging.Logger
}

// NewService picks the backend from config: Vault when enabled, the
// secretbox file store otherwise.
func NewService(cfg config.VaultConfig) (*Service, error) {
	logger := logging.WithComponent("apikeys")

	if cfg.Enabled {
		store, err := NewVaultStore(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Credential store ready", "backend", "vault", "address", cfg.Address)
		return &Service{store: store, logger: logger}, nil
	}

	logger.Info("Credential store ready", "backend", "local", "path", cfg.LocalStorePath)
	return &Service{
		store:  NewLocalStore(cfg.LocalStorePath, cfg.LocalStoreKey),
		logger: logger,
	}, nil
}

// NewServiceWithStore wires an explicit backend, used by tests.
func NewServiceWithStore(store Store) *Service {
	return &Service{store: store, logger: logging.WithComponent("apikeys")}
}

// Get resolves credentials for a user+venue in the venue client's shape.
func (s *Service) Get(ctx context.Context, userID int64, exchangeID string) (*exchange.Credentials, error) {
	rec, err := s.store.Get(ctx, userID, exchangeID)
	if err != nil {
		return nil, err
	}
	return &exchange.Credentials{
		APIKey:     rec.APIKey,
		SecretKey:  rec.SecretKey,
		Passphrase: rec.Passphrase,
		GatewayURL: rec.GatewayURL,
		AccountID:  rec.AccountID,
	}, nil
}

// Put stores credentials for a user+venue.
func (s *Service) Put(ctx context.Context, userID int64, exchangeID string, rec *CredentialRecord) error {
	if err := s.store.Put(ctx, userID, exchangeID, rec); err != nil {
		return err
	}
	s.logger.Info("Stored exchange credentials", "user_id", userID, "exchange", exchangeID)
	return nil
}

// Delete removes credentials for a user+venue.
func (s *Service) Delete(ctx context.Context, userID int64, exchangeID string) error {
	return s.store.Delete(ctx, userID, exchangeID)
}
