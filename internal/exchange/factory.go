package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Credentials are the decrypted secrets for one user+venue pair. Bridge
// venues use GatewayURL/AccountID instead of API keys.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	GatewayURL string
	AccountID  string
}

// CredentialSource resolves per-user venue credentials.
type CredentialSource interface {
	Get(ctx context.Context, userID int64, exchangeID string) (*Credentials, error)
}

// New builds a venue client from an exchange id and credentials.
func New(exchangeID string, creds *Credentials) (Client, error) {
	if creds == nil {
		return nil, ErrMissingCredential
	}
	switch strings.ToLower(strings.TrimSpace(exchangeID)) {
	case "binance":
		if creds.APIKey == "" || creds.SecretKey == "" {
			return nil, ErrMissingCredential
		}
		return NewBinanceClient(creds.APIKey, creds.SecretKey), nil
	case "okx":
		if creds.APIKey == "" || creds.SecretKey == "" || creds.Passphrase == "" {
			return nil, ErrMissingCredential
		}
		return NewOKXClient(creds.APIKey, creds.SecretKey, creds.Passphrase), nil
	case "gate", "gateio":
		if creds.APIKey == "" || creds.SecretKey == "" {
			return nil, ErrMissingCredential
		}
		return NewGateClient(creds.APIKey, creds.SecretKey), nil
	case "kucoin":
		if creds.APIKey == "" || creds.SecretKey == "" || creds.Passphrase == "" {
			return nil, ErrMissingCredential
		}
		return NewKucoinClient(creds.APIKey, creds.SecretKey, creds.Passphrase), nil
	case "bybit":
		if creds.APIKey == "" || creds.SecretKey == "" {
			return nil, ErrMissingCredential
		}
		return NewBybitClient(creds.APIKey, creds.SecretKey), nil
	case "bitget":
		if creds.APIKey == "" || creds.SecretKey == "" || creds.Passphrase == "" {
			return nil, ErrMissingCredential
		}
		return NewBitgetClient(creds.APIKey, creds.SecretKey, creds.Passphrase), nil
	case "ibkr":
		if creds.GatewayURL == "" {
			return nil, ErrMissingCredential
		}
		return NewIBKRClient(creds.GatewayURL, creds.AccountID), nil
	case "mt5":
		if creds.GatewayURL == "" {
			return nil, ErrMissingCredential
		}
		return NewMT5Client(creds.GatewayURL), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownExchange, exchangeID)
}

// Factory caches built clients per user+venue so the worker reuses
// connections across orders.
type Factory struct {
	source CredentialSource

	mu      sync.Mutex
	clients map[string]Client
}

// NewFactory creates a client factory backed by a credential source.
func NewFactory(source CredentialSource) *Factory {
	return &Factory{
		source:  source,
		clients: make(map[string]Client),
	}
}

// ClientFor returns a cached or freshly built client for the user+venue.
func (f *Factory) ClientFor(ctx context.Context, userID int64, exchangeID string) (Client, error) {
	key := fmt.Sprintf("%d:%s", userID, strings.ToLower(exchangeID))

	f.mu.Lock()
	if c, ok := f.clients[key]; ok {
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()

	creds, err := f.source.Get(ctx, userID, exchangeID)
	if err != nil {
		return nil, err
	}
	client, err := New(exchangeID, creds)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.clients[key] = client
	f.mu.Unlock()
	return client, nil
}

// Invalidate drops a cached client, forcing a credential re-read next time.
func (f *Factory) Invalidate(userID int64, exchangeID string) {
	key := fmt.Sprintf("%d:%s", userID, strings.ToLower(exchangeID))
	f.mu.Lock()
	delete(f.clients, key)
	f.mu.Unlock()
}
