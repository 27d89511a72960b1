package apikeys

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store := NewLocalStore(path, "master-key")
	ctx := context.Background()

	rec := &CredentialRecord{
		APIKey:     "key-1",
		SecretKey:  "secret-1",
		Passphrase: "phrase",
	}
	if err := store.Put(ctx, 7, "okx", rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, 7, "okx")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.APIKey != "key-1" || got.SecretKey != "secret-1" || got.Passphrase != "phrase" {
		t.Errorf("Unexpected record: %+v", got)
	}

	// Fresh store instance re-reads the encrypted file
	reopened := NewLocalStore(path, "master-key")
	got, err = reopened.Get(ctx, 7, "okx")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.APIKey != "key-1" {
		t.Errorf("Expected key-1 after reopen, got %s", got.APIKey)
	}
}

func TestLocalStore_MissingCredential(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "credentials.enc"), "master-key")
	_, err := store.Get(context.Background(), 1, "binance")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound, got %v", err)
	}
}

func TestLocalStore_WrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	ctx := context.Background()

	store := NewLocalStore(path, "right-key")
	if err := store.Put(ctx, 1, "bybit", &CredentialRecord{APIKey: "k"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	wrong := NewLocalStore(path, "wrong-key")
	if _, err := wrong.Get(ctx, 1, "bybit"); err == nil {
		t.Error("Expected decryption failure with the wrong master key")
	}
}

func TestLocalStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	ctx := context.Background()

	store := NewLocalStore(path, "master-key")
	if err := store.Put(ctx, 3, "gate", &CredentialRecord{APIKey: "k"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, 3, "gate"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, 3, "gate"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound after delete, got %v", err)
	}
}
