package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuePairRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute, time.Hour)

	pair, err := issuer.IssuePair("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := issuer.Parse(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	claims, err = issuer.Parse(pair.RefreshToken, TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestParseRejectsWrongType(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute, time.Hour)
	pair, err := issuer.IssuePair("user-1")
	require.NoError(t, err)

	_, err = issuer.Parse(pair.RefreshToken, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.Parse(pair.AccessToken, TokenRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	pair, err := NewTokenIssuer("other", time.Minute, time.Hour).IssuePair("user-1")
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Minute, time.Hour).Parse(pair.AccessToken, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenIssuer("secret", time.Minute, time.Hour).Parse("not-a-jwt", TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseReportsExpiry(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute, time.Hour)
	pair, err := issuer.IssuePair("user-1")
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Parse(pair.AccessToken, TokenAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	ok, err := CheckPassword(hash, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword(hash, "battery staple")
	require.NoError(t, err)
	assert.False(t, ok)
}
