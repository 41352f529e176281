package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTokenWithSecret(t *testing.T, method jwtlib.SigningMethod, secret string, claims jwtlib.Claims) string {
	t.Helper()
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestCreateToken_AndValidate_Success(t *testing.T) {
	mgr := NewJwtManager("test-secret")

	token, err := mgr.CreateToken("alice", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, issuer, claims.Issuer)
	assert.NotNil(t, claims.ExpiresAt)
}

func TestCreateToken_NoExpiry(t *testing.T) {
	mgr := NewJwtManager("test-secret")
	token, err := mgr.CreateToken("ops", 0)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestValidateToken_InvalidSignature(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwtlib.RegisteredClaims{IssuedAt: jwtlib.NewNumericDate(time.Now())}}
	signed := signTokenWithSecret(t, jwtlib.SigningMethodHS256, "other-secret", claims)

	_, err := NewJwtManager("test-secret").ValidateToken(signed)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwtlib.RegisteredClaims{IssuedAt: jwtlib.NewNumericDate(time.Now())}}
	signed := signTokenWithSecret(t, jwtlib.SigningMethodHS512, "test-secret", claims)

	_, err := NewJwtManager("test-secret").ValidateToken(signed)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestValidateToken_Expired(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwtlib.RegisteredClaims{
		IssuedAt:  jwtlib.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-1 * time.Hour)),
	}}
	signed := signTokenWithSecret(t, jwtlib.SigningMethodHS256, "expire-secret", claims)

	_, err := NewJwtManager("expire-secret").ValidateToken(signed)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestValidateToken_Malformed(t *testing.T) {
	_, err := NewJwtManager("s").ValidateToken("not.a.token")
	assert.Equal(t, ErrInvalidToken, err)
}

func TestManager_EmptySecret(t *testing.T) {
	mgr := NewJwtManager("")
	_, err := mgr.CreateToken("alice", time.Minute)
	assert.Equal(t, ErrNoSecret, err)
	_, err = mgr.ValidateToken("a.b.c")
	assert.Equal(t, ErrNoSecret, err)
}
