package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "too-short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestGenerateAndValidate(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	tok, err := svc.GenerateToken("ops-team", RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops-team", claims.Subject)
	assert.Equal(t, "fepgate", claims.Issuer)
	assert.True(t, claims.IsAdmin())
	assert.True(t, claims.CanRead())
}

func TestOperatorRole(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	tok, err := svc.GenerateToken("noc", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(tok)
	require.NoError(t, err)
	assert.False(t, claims.IsAdmin())
	assert.True(t, claims.CanRead())
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	other, err := NewJWTService(JWTConfig{Secret: "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)

	tok, err := svc.GenerateToken("ops-team", RoleAdmin)
	require.NoError(t, err)

	_, err = other.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret, TokenDuration: -time.Minute})
	require.NoError(t, err)

	tok, err := svc.GenerateToken("ops-team", RoleAdmin)
	require.NoError(t, err)

	_, err = svc.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
