package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = []byte("0123456789abcdef-test-seed")

func TestSeededKeySetsAgree(t *testing.T) {
	a, err := NewKeySetFromSeed(testSeed)
	require.NoError(t, err)
	b, err := NewKeySetFromSeed(testSeed)
	require.NoError(t, err)
	assert.Equal(t, a.CurrentKeyID(), b.CurrentKeyID())

	token, err := NewTokenManager(a).GenerateToken(context.Background(), Subject{ID: "u1", Roles: []string{"manager"}}, time.Hour)
	require.NoError(t, err)

	claims, err := NewTokenManager(b).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, []string{"manager"}, claims.Roles)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestDifferentSeedsDisagree(t *testing.T) {
	a, err := NewKeySetFromSeed(testSeed)
	require.NoError(t, err)
	b, err := NewKeySetFromSeed([]byte("another-seed-of-enough-length"))
	require.NoError(t, err)

	token, err := NewTokenManager(a).GenerateToken(context.Background(), Subject{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = NewTokenManager(b).ValidateToken(token)
	assert.Error(t, err)
}

func TestShortSeedRejected(t *testing.T) {
	_, err := NewKeySetFromSeed([]byte("short"))
	assert.Error(t, err)
}

func TestRotateKeepsOldTokensValid(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)
	old, err := tm.GenerateToken(context.Background(), Subject{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())
	_, err = tm.ValidateToken(old)
	assert.NoError(t, err)

	for i := 0; i < maxKeys; i++ {
		require.NoError(t, ks.Rotate())
	}
	_, err = tm.ValidateToken(old)
	assert.Error(t, err, "evicted keys no longer verify")
}

func TestValidateToken_Expired(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := tm.GenerateToken(context.Background(), Subject{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateToken_RejectsUnsignedAlg(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenManager(ks).ValidateToken(s)
	assert.Error(t, err)
}

func TestNormalizeRoles(t *testing.T) {
	got := NormalizeRoles([]string{"Gerente", "manager", "diretor", "janitor", "colaborador"})
	assert.Equal(t, []string{"manager", "director", "employee"}, got)

	r, ok := ParseRole(" ADMIN ")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, r)
}
