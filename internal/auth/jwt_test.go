package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_UsesConfiguredTTL(t *testing.T) {
	ttl := 2 * time.Hour
	tm := NewTokenManager("test-secret", ttl)

	start := time.Now()

	token, err := tm.GenerateToken("t1", "s1", "STAFF")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)

	expectedExpiry := start.Add(ttl)
	assert.WithinDuration(t, expectedExpiry, claims.ExpiresAt.Time, 2*time.Second)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, "s1", *claims.StaffIDPtr())
	assert.Equal(t, "STAFF", claims.Role)
}

func TestTokenManager_TenantToken(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	token, err := tm.GenerateToken("t1", "", "")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.StaffIDPtr())
	assert.Equal(t, "t1", claims.Subject)
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	t.Run("missing tenant", func(t *testing.T) {
		_, err := tm.GenerateToken("", "s1", "")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewTokenManager("other-secret", time.Hour).GenerateToken("t1", "", "")
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewTokenManager("test-secret", time.Hour).WithIssuer("someone-else").GenerateToken("t1", "", "")
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := &Claims{
			TenantID: "t1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "salon-notifications",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("token without tenant", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "salon-notifications",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = tm.ValidateToken(token)
		assert.Error(t, err)
	})
}
