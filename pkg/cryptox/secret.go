package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for client secrets.
const (
	argonMemory  = 19 * 1024
	argonTime    = 2
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16
)

var (
	// ErrSecretMismatch is returned when a secret does not match its hash.
	ErrSecretMismatch = errors.New("cryptox: secret does not match")
	// ErrHashFormat is returned for hashes that are not PHC argon2id strings.
	ErrHashFormat = errors.New("cryptox: malformed argon2id hash")
)

// SecretHasher hashes client secrets with argon2id and a server-side pepper.
type SecretHasher struct {
	pepper string
}

// NewSecretHasher returns a hasher using pepper. An empty pepper is allowed
// but weakens offline attacks against a leaked database.
func NewSecretHasher(pepper string) *SecretHasher {
	return &SecretHasher{pepper: pepper}
}

// LoadOrCreatePepper reads the pepper from path, generating one if missing.
func LoadOrCreatePepper(path string) (string, error) {
	data, err := loadOrCreateSecretFile(path, argonKeyLen)
	if err != nil {
		return "", fmt.Errorf("cryptox: pepper: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Hash returns a PHC-format argon2id string.
func (h *SecretHasher) Hash(secret string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: salt: %w", err)
	}
	sum := argon2.IDKey([]byte(secret+h.pepper), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify checks secret against a hash produced by Hash.
func (h *SecretHasher) Verify(secret, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrHashFormat
	}

	var (
		mem, iters uint32
		threads    uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		return ErrHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrHashFormat
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return ErrHashFormat
	}

	got := argon2.IDKey([]byte(secret+h.pepper), salt, iters, mem, threads, uint32(len(want))) // #nosec G115
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrSecretMismatch
	}
	return nil
}
