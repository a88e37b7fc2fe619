package keystore

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"
)

func TestProvisionInsertAndFetchKeyRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.sqlite")
	s := NewSQLiteStore()
	if err := s.Provision(path, "correct horse battery staple"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	defer s.Close()

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := s.InsertKey("did:tdw:example.com:abc#key-1", priv); err != nil {
		t.Fatalf("InsertKey failed: %v", err)
	}

	fetched, err := s.FetchKey("did:tdw:example.com:abc#key-1")
	if err != nil {
		t.Fatalf("FetchKey failed: %v", err)
	}
	if !priv.Equal(fetched) {
		t.Fatalf("fetched key does not match inserted key")
	}
}

func TestFetchUnknownKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.sqlite")
	s := NewSQLiteStore()
	if err := s.Provision(path, "pw"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	defer s.Close()

	if _, err := s.FetchKey("no-such-kid"); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestOpenWithWrongPassphraseFailsToDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.sqlite")
	s := NewSQLiteStore()
	if err := s.Provision(path, "right passphrase"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := s.InsertKey("kid-1", priv); err != nil {
		t.Fatalf("InsertKey failed: %v", err)
	}
	s.Close()

	reopened := NewSQLiteStore()
	if err := reopened.Open(path, "wrong passphrase"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.FetchKey("kid-1"); err == nil {
		t.Fatalf("expected decryption failure under the wrong passphrase")
	}
}

func TestOpenWithCorrectPassphraseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.sqlite")
	s := NewSQLiteStore()
	if err := s.Provision(path, "right passphrase"); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := s.InsertKey("kid-1", priv); err != nil {
		t.Fatalf("InsertKey failed: %v", err)
	}
	s.Close()

	reopened := NewSQLiteStore()
	if err := reopened.Open(path, "right passphrase"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()

	fetched, err := reopened.FetchKey("kid-1")
	if err != nil {
		t.Fatalf("FetchKey failed: %v", err)
	}
	if !priv.Equal(fetched) {
		t.Fatalf("fetched key does not match inserted key after reopening")
	}
}

func TestPublicBytesMatchesEd25519PublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	s := NewSQLiteStore()
	got := s.PublicBytes(priv)
	if len(got) != ed25519.PublicKeySize {
		t.Fatalf("unexpected public key length %d", len(got))
	}
	if string(got) != string(pub) {
		t.Fatalf("PublicBytes mismatch")
	}
}
