package cryptox

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretHasher(t *testing.T) {
	h := NewSecretHasher("pepper")

	tests := []struct {
		name   string
		secret string
	}{
		{"simple", "s3cret"},
		{"empty", ""},
		{"long", strings.Repeat("x", 200)},
		{"unicode", "pässwörd🔒"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := h.Hash(tt.secret)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))
			require.NoError(t, h.Verify(tt.secret, encoded))
			require.ErrorIs(t, h.Verify(tt.secret+"x", encoded), ErrSecretMismatch)
		})
	}
}

func TestSecretHasherUniqueSalts(t *testing.T) {
	h := NewSecretHasher("")
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestSecretHasherPepperMatters(t *testing.T) {
	encoded, err := NewSecretHasher("one").Hash("secret")
	require.NoError(t, err)
	require.ErrorIs(t, NewSecretHasher("two").Verify("secret", encoded), ErrSecretMismatch)
}

func TestSecretHasherMalformed(t *testing.T) {
	h := NewSecretHasher("")
	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$bogus$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!!$aGFzaA",
	} {
		require.ErrorIs(t, h.Verify("x", bad), ErrHashFormat, bad)
	}
}

func TestLoadOrCreatePepper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pepper")
	first, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
