package credential

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignerWithoutSecret(t *testing.T) {
	_, err := NewSigner(nil)
	assert.ErrorIs(t, err, ErrMissingSecret)
	_, err = NewSigner([]byte{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestSignClaimSet(t *testing.T) {
	s, err := NewSigner([]byte("secret"))
	require.NoError(t, err)
	token, err := s.Sign()
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "postgres", claims["role"])
	for key := range claims {
		assert.Contains(t, []string{"role", "iat", "exp"}, key, "unexpected claim")
	}
	assert.EqualValues(t, 60, claims["exp"].(float64)-claims["iat"].(float64))
}

func TestSignedTokenExpires(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSigner([]byte("secret"), WithRole("tooljet_db"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	token, err := s.Sign()
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "tooljet_db", claims.Role)

	now = now.Add(DefaultTTL + time.Second)
	_, err = s.Parse(token)
	assert.Error(t, err, "token must be expired after its TTL")
}

func TestSignFreshTokens(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSigner([]byte("secret"), WithTTL(30*time.Second), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	first, err := s.Sign()
	require.NoError(t, err)
	now = now.Add(time.Second)
	second, err := s.Sign()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	claims, err := s.Parse(second)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second).Unix(), claims.ExpiresAt.Unix())
}

func TestParseWrongSecret(t *testing.T) {
	a, _ := NewSigner([]byte("a"))
	b, _ := NewSigner([]byte("b"))
	token, err := a.Sign()
	require.NoError(t, err)
	_, err = b.Parse(token)
	assert.Error(t, err)
}
