// Package keystore implements the encrypted ed25519 key vault from spec
// section 4.J: a single sqlite file per document directory, opened
// through database/sql the way the teacher's migrations package drives
// mattn/go-sqlite3, with each private key encrypted at rest under a
// passphrase-derived key (scrypt + nacl/secretbox), mirroring the
// Python original's single-file aries_askar sqlite store without
// depending on that library.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/stackdump/did-history/internal/historyerr"
)

// Store is the key-store adapter interface spec section 4.J names.
type Store interface {
	Provision(path, passphrase string) error
	Open(path, passphrase string) error
	InsertKey(kid string, priv ed25519.PrivateKey) error
	FetchKey(kid string) (ed25519.PrivateKey, error)
	Sign(priv ed25519.PrivateKey, msg []byte) []byte
	PublicBytes(priv ed25519.PrivateKey) []byte
	Close() error
}

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// SQLiteStore is the concrete sqlite-backed Store implementation.
type SQLiteStore struct {
	db         *sql.DB
	salt       [saltLen]byte
	derivedKey [scryptKeyLen]byte
}

// NewSQLiteStore returns an unopened store; call Provision or Open before use.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Provision creates a fresh keys.sqlite at path, initialized for passphrase.
func (s *SQLiteStore) Provision(path, passphrase string) error {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("keystore: open %s: %w: %v", path, historyerr.ErrKeyStoreError, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS salt (id INTEGER PRIMARY KEY CHECK (id = 0), value BLOB NOT NULL)`); err != nil {
		db.Close()
		return fmt.Errorf("keystore: create salt table: %w: %v", historyerr.ErrKeyStoreError, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS keys (kid TEXT PRIMARY KEY, nonce BLOB NOT NULL, ciphertext BLOB NOT NULL)`); err != nil {
		db.Close()
		return fmt.Errorf("keystore: create keys table: %w: %v", historyerr.ErrKeyStoreError, err)
	}

	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		db.Close()
		return fmt.Errorf("keystore: generate salt: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO salt (id, value) VALUES (0, ?)`, salt[:]); err != nil {
		db.Close()
		return fmt.Errorf("keystore: persist salt: %w: %v", historyerr.ErrKeyStoreError, err)
	}

	s.db = db
	s.salt = salt
	return s.deriveKey(passphrase)
}

// Open opens an existing keys.sqlite at path under passphrase.
func (s *SQLiteStore) Open(path, passphrase string) error {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("keystore: open %s: %w: %v", path, historyerr.ErrKeyStoreError, err)
	}
	var saltBytes []byte
	if err := db.QueryRow(`SELECT value FROM salt WHERE id = 0`).Scan(&saltBytes); err != nil {
		db.Close()
		return fmt.Errorf("keystore: read salt: %w: %v", historyerr.ErrKeyStoreError, err)
	}
	if len(saltBytes) != saltLen {
		db.Close()
		return fmt.Errorf("keystore: corrupt salt length %d: %w", len(saltBytes), historyerr.ErrKeyStoreError)
	}
	var salt [saltLen]byte
	copy(salt[:], saltBytes)

	s.db = db
	s.salt = salt
	return s.deriveKey(passphrase)
}

func (s *SQLiteStore) deriveKey(passphrase string) error {
	derived, err := scrypt.Key([]byte(passphrase), s.salt[:], scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("keystore: derive key: %w", err)
	}
	copy(s.derivedKey[:], derived)
	return nil
}

// InsertKey encrypts priv under the derived key and stores it keyed by kid.
func (s *SQLiteStore) InsertKey(kid string, priv ed25519.PrivateKey) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("keystore: generate nonce: %w", err)
	}
	ciphertext := secretbox.Seal(nil, priv, &nonce, &s.derivedKey)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO keys (kid, nonce, ciphertext) VALUES (?, ?, ?)`, kid, nonce[:], ciphertext)
	if err != nil {
		return fmt.Errorf("keystore: insert key %q: %w: %v", kid, historyerr.ErrKeyStoreError, err)
	}
	return nil
}

// FetchKey decrypts and returns the private key stored under kid.
func (s *SQLiteStore) FetchKey(kid string) (ed25519.PrivateKey, error) {
	var nonceBytes, ciphertext []byte
	err := s.db.QueryRow(`SELECT nonce, ciphertext FROM keys WHERE kid = ?`, kid).Scan(&nonceBytes, &ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("keystore: key %q not found: %w", kid, historyerr.ErrKeyStoreError)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: fetch key %q: %w: %v", kid, historyerr.ErrKeyStoreError, err)
	}
	if len(nonceBytes) != 24 {
		return nil, fmt.Errorf("keystore: corrupt nonce length %d: %w", len(nonceBytes), historyerr.ErrKeyStoreError)
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &s.derivedKey)
	if !ok {
		return nil, fmt.Errorf("keystore: decrypt key %q (wrong passphrase?): %w", kid, historyerr.ErrKeyStoreError)
	}
	return ed25519.PrivateKey(plain), nil
}

// Sign signs msg with priv. It exists on Store so callers never need to
// import crypto/ed25519 themselves.
func (s *SQLiteStore) Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// PublicBytes returns the raw 32-byte ed25519 public key embedded in priv.
func (s *SQLiteStore) PublicBytes(priv ed25519.PrivateKey) []byte {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil
	}
	return []byte(pub)
}

// Close releases the underlying sqlite handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
