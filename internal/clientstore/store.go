// Package clientstore persists the client's session token to disk
// between runs, encrypted at rest with a machine-local key so the file
// is useless if copied elsewhere. x/crypto is already part of this
// stack's dependency tree; nacl/secretbox is the simplest authenticated
// encryption primitive it offers for a single-key, single-file secret
// like this one.
package clientstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyFileName     = "groundvoice.key"
	sessionFileName = "groundvoice-session.enc"
	keySize         = 32
	nonceSize       = 24
)

// ErrNoSession is returned by Load when no session has been stored yet.
var ErrNoSession = errors.New("no stored session")

// Session is the persisted state: the bearer token and the CID it was
// issued to, enough to skip re-authentication on the next launch.
type Session struct {
	Token string `json:"token"`
	CID   string `json:"cid"`
}

// Store reads and writes the encrypted session file under dir.
type Store struct {
	dir string
}

// NewStore builds a store rooted at dir, creating it if necessary. A
// typical caller passes os.UserConfigDir() joined with the application
// name.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) keyPath() string     { return filepath.Join(s.dir, keyFileName) }
func (s *Store) sessionPath() string { return filepath.Join(s.dir, sessionFileName) }

func (s *Store) loadOrCreateKey() (*[keySize]byte, error) {
	data, err := os.ReadFile(s.keyPath())
	if err == nil && len(data) == keySize {
		var key [keySize]byte
		copy(key[:], data)
		return &key, nil
	}

	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(), key[:], 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return &key, nil
}

// Save encrypts and writes sess to disk, generating a machine-local key
// on first use.
func (s *Store) Save(sess Session) error {
	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	if err := os.WriteFile(s.sessionPath(), sealed, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Load decrypts and returns the stored session, or ErrNoSession if none
// has been saved.
func (s *Store) Load() (Session, error) {
	var sess Session

	data, err := os.ReadFile(s.sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return sess, ErrNoSession
	}
	if err != nil {
		return sess, fmt.Errorf("read session: %w", err)
	}

	keyData, err := os.ReadFile(s.keyPath())
	if err != nil {
		return sess, fmt.Errorf("read key: %w", err)
	}
	if len(keyData) != keySize {
		return sess, errors.New("corrupt key file")
	}
	var key [keySize]byte
	copy(key[:], keyData)

	if len(data) < nonceSize {
		return sess, errors.New("corrupt session file")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])

	plaintext, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &key)
	if !ok {
		return sess, errors.New("failed to decrypt session, wrong key or corrupted file")
	}

	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return sess, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

// Clear removes the stored session file, leaving the key in place.
func (s *Store) Clear() error {
	err := os.Remove(s.sessionPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
