package credentials

import (
	"path/filepath"
	"testing"
)

func TestStoreSetAndValidateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store, err := New(path, "master-pass")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.Set("COUNTERPARTY1", "alice", "s3cret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if !store.Validate("alice", "s3cret") {
		t.Fatal("expected valid credential to validate")
	}
	if store.Validate("alice", "wrong") {
		t.Fatal("expected wrong password to fail validation")
	}
}

func TestStoreRevokedCredentialFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store, _ := New(path, "master-pass")
	_ = store.Set("COUNTERPARTY1", "alice", "s3cret")

	if err := store.Revoke("COUNTERPARTY1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if store.Validate("alice", "s3cret") {
		t.Fatal("expected revoked credential to fail validation")
	}
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	first, _ := New(path, "master-pass")
	_ = first.Set("COUNTERPARTY1", "alice", "s3cret")

	second, err := New(path, "master-pass")
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	if !second.Validate("alice", "s3cret") {
		t.Fatal("expected credential to survive reload")
	}
}

func TestStoreWrongMasterPasswordFailsToDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	first, _ := New(path, "master-pass")
	_ = first.Set("COUNTERPARTY1", "alice", "s3cret")

	wrong, err := New(path, "different-master-pass")
	if err != nil {
		t.Fatalf("New (wrong password): %v", err)
	}
	if wrong.Validate("alice", "s3cret") {
		t.Fatal("expected validation to fail when decryption key is wrong")
	}
}

func TestStoreListRedactsPasswords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store, _ := New(path, "master-pass")
	_ = store.Set("COUNTERPARTY1", "alice", "s3cret")

	records := store.List()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Password != "" {
		t.Fatal("expected List to redact the encrypted password")
	}
}
