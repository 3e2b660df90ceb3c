package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrCorrupt is returned when sealed data fails authentication.
var ErrCorrupt = errors.New("cryptox: sealed data is corrupt")

// Sealer encrypts signing key material at rest with AES-256-GCM. Output is
// nonce || ciphertext || tag.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from arbitrary master key material.
func NewSealer(material []byte) (*Sealer, error) {
	if len(material) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}
	key := sha256.Sum256(material)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptox: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: new gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// LoadOrCreateSealer reads master key material from path, writing a fresh
// random key there first if the file does not exist.
func LoadOrCreateSealer(path string) (*Sealer, error) {
	material, err := loadOrCreateSecretFile(path, 32)
	if err != nil {
		return nil, fmt.Errorf("cryptox: master key: %w", err)
	}
	return NewSealer(material)
}

// Seal encrypts plaintext under a random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrCorrupt
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

// loadOrCreateSecretFile returns the contents of path, creating it with
// size random bytes (base64url encoded) when missing.
func loadOrCreateSecretFile(path string, size int) ([]byte, error) {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	tok, err := GenerateToken(size)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(tok), 0o600); err != nil {
		return nil, err
	}
	return []byte(tok), nil
}
