package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		size    int
		wantLen int
	}{
		{TokenSize128, 22},
		{TokenSize256, 43},
	}
	for _, tt := range tests {
		tok, err := GenerateToken(tt.size)
		require.NoError(t, err)
		require.Len(t, tok, tt.wantLen)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		require.Len(t, raw, tt.size)
	}
}

func TestGenerateTokenRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := GenerateToken(size)
		require.Error(t, err)
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 1000 {
		tok, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

func TestFingerprintToken(t *testing.T) {
	a := FingerprintToken("refresh-a")
	require.Equal(t, a, FingerprintToken("refresh-a"))
	require.NotEqual(t, a, FingerprintToken("refresh-b"))
	require.Len(t, a, 43)
	require.NotContains(t, a, "refresh-a")
}
