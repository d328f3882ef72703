// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credstore is the file-backed credential store feeding provider
// API keys into the policy plane without leaving them in plaintext config.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/util"
)

const (
	// pbkdf2Iterations follows OWASP guidance for SHA-256.
	pbkdf2Iterations = 600000
	saltSize         = 16
	keySize          = 32 // AES-256
)

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = fmt.Errorf("no credential stored for provider")

// Store encrypts credentials at rest with AES-256-GCM under a key derived
// from a passphrase via PBKDF2. Thread-safe.
type Store struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

type fileFormat struct {
	Salt    string            `json:"salt"`
	Entries map[string]string `json:"entries"`
}

// NewStore returns a credential store persisting at path, unlocked by
// passphrase.
func NewStore(path string, passphrase string) *Store {
	return &Store{path: path, passphrase: []byte(passphrase)}
}

func (s *Store) load() (*fileFormat, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		return &fileFormat{
			Salt:    base64.StdEncoding.EncodeToString(salt),
			Entries: make(map[string]string),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential store: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse credential store: %w", err)
	}
	if ff.Entries == nil {
		ff.Entries = make(map[string]string)
	}
	return &ff, nil
}

func (s *Store) save(ff *fileFormat) error {
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential store: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	return nil
}

func (s *Store) gcm(saltB64 string) (cipher.AEAD, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("corrupt credential store salt: %w", err)
	}
	key := pbkdf2.Key(s.passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SetKey stores a provider credential, replacing any existing one.
func (s *Store) SetKey(t provider.Type, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ff, err := s.load()
	if err != nil {
		return err
	}
	aead, err := s.gcm(ff.Salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(apiKey), []byte(t))
	ff.Entries[string(t)] = base64.StdEncoding.EncodeToString(sealed)
	return s.save(ff)
}

// GetKey retrieves a provider credential. Returns ErrNotFound when absent.
func (s *Store) GetKey(t provider.Type) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ff, err := s.load()
	if err != nil {
		return "", err
	}
	sealedB64, ok := ff.Entries[string(t)]
	if !ok {
		return "", fmt.Errorf("%w %s", ErrNotFound, t)
	}
	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return "", fmt.Errorf("corrupt credential entry for %s: %w", t, err)
	}
	aead, err := s.gcm(ff.Salt)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("corrupt credential entry for %s", t)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(t))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential for %s: %w", t, err)
	}
	return string(plain), nil
}

// DeleteKey removes a provider credential. Deleting an absent key is not an
// error.
func (s *Store) DeleteKey(t provider.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ff, err := s.load()
	if err != nil {
		return err
	}
	delete(ff.Entries, string(t))
	return s.save(ff)
}
