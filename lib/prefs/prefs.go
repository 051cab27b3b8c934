// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prefs

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/pairview/lib/codec"
	"github.com/bureau-foundation/pairview/lib/sealed"
	"github.com/bureau-foundation/pairview/lib/secret"
)

// File names inside the state directory.
const (
	FileName         = "prefs.cbor"
	IdentityFileName = "identity.age"
)

// ErrNoToken is returned by Token when no token is cached for a server.
var ErrNoToken = errors.New("prefs: no cached token")

// Prefs is the on-disk record.
type Prefs struct {
	ColorScheme string `cbor:"color_scheme,omitempty"`

	// Tokens maps ServerKey(url) to a sealed login token.
	Tokens map[string]string `cbor:"tokens,omitempty"`
}

// Store reads and writes the preferences file in one directory. It is
// safe for concurrent use.
type Store struct {
	dir string

	mu      sync.Mutex
	prefs   Prefs
	keypair *sealed.Keypair
}

// Open loads the preferences in dir, creating the directory if needed.
// A missing file yields empty preferences.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	store := &Store{dir: dir}
	data, err := os.ReadFile(store.path())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading preferences: %w", err)
	default:
		if err := codec.Unmarshal(data, &store.prefs); err != nil {
			return nil, fmt.Errorf("parsing preferences %s: %w", store.path(), err)
		}
	}
	return store, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, FileName) }

// Snapshot returns a copy of the current preferences.
func (s *Store) Snapshot() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.prefs
	snapshot.Tokens = maps.Clone(s.prefs.Tokens)
	return snapshot
}

// ColorScheme returns the saved scheme, or "" when none was saved.
func (s *Store) ColorScheme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.ColorScheme
}

// SaveColorScheme records scheme and writes the file.
func (s *Store) SaveColorScheme(scheme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs.ColorScheme == scheme {
		return nil
	}
	s.prefs.ColorScheme = scheme
	return s.writeLocked()
}

// ServerKey returns the index under which a server's token is stored.
// Trailing slashes and letter case in the URL do not matter.
func ServerKey(serverURL string) string {
	normalized := strings.ToLower(strings.TrimRight(serverURL, "/"))
	digest := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(digest[:16])
}

// Token opens the cached token for serverURL. The caller closes the
// returned buffer. Returns ErrNoToken when none is cached.
func (s *Store) Token(serverURL string) (*secret.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ciphertext, ok := s.prefs.Tokens[ServerKey(serverURL)]
	if !ok {
		return nil, ErrNoToken
	}
	keypair, err := s.keypairLocked()
	if err != nil {
		return nil, err
	}
	token, err := sealed.Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("opening cached token: %w", err)
	}
	return token, nil
}

// SaveToken seals token for serverURL and writes the file. token is
// borrowed.
func (s *Store) SaveToken(serverURL string, token *secret.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keypair, err := s.keypairLocked()
	if err != nil {
		return err
	}
	ciphertext, err := sealed.Encrypt(token.Bytes(), keypair.PublicKey)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	if s.prefs.Tokens == nil {
		s.prefs.Tokens = make(map[string]string)
	}
	s.prefs.Tokens[ServerKey(serverURL)] = ciphertext
	return s.writeLocked()
}

// ForgetToken drops the cached token for serverURL, if any.
func (s *Store) ForgetToken(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ServerKey(serverURL)
	if _, ok := s.prefs.Tokens[key]; !ok {
		return nil
	}
	delete(s.prefs.Tokens, key)
	return s.writeLocked()
}

// Close releases the sealing key.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keypair == nil {
		return nil
	}
	err := s.keypair.Close()
	s.keypair = nil
	return err
}

// keypairLocked loads the sealing identity, generating it on first use.
func (s *Store) keypairLocked() (*sealed.Keypair, error) {
	if s.keypair != nil {
		return s.keypair, nil
	}
	path := filepath.Join(s.dir, IdentityFileName)
	privateKey, err := secret.ReadFromPath(path)
	if err == nil {
		keypair, err := sealed.KeypairFromPrivateKey(privateKey)
		if err != nil {
			privateKey.Close()
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		s.keypair = keypair
		return keypair, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, keypair.PrivateKey.Bytes()); err != nil {
		keypair.Close()
		return nil, fmt.Errorf("storing sealing identity: %w", err)
	}
	s.keypair = keypair
	return keypair, nil
}

func (s *Store) writeLocked() error {
	data, err := codec.Marshal(s.prefs)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	if err := writeAtomic(s.path(), data); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	return nil
}

// writeAtomic writes data to a temporary file beside path, syncs it,
// and renames it into place with mode 0600.
func writeAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
