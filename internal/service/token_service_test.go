package service

import (
	"testing"
	"time"

	"casino-ewallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "test-issuer")
	userID := uuid.New()

	tokenStr, expiresAt, err := svc.Generate(userID, "ops_anna", ports.RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ops_anna", claims.Username)
	assert.Equal(t, ports.RoleOperator, claims.Role)
}

func TestJWTTokenService_DefaultsToPlayerRole(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "test-issuer")

	tokenStr, _, err := svc.Generate(uuid.New(), "player_1", "")
	require.NoError(t, err)

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, ports.RolePlayer, claims.Role)
}

func TestJWTTokenService_Rejects(t *testing.T) {
	good := NewJWTTokenService(testJWTSecret, time.Hour, "issuer-a")
	expired := NewJWTTokenService(testJWTSecret, -time.Hour, "issuer-a")
	otherSecret := NewJWTTokenService("secret-2", time.Hour, "issuer-a")
	otherIssuer := NewJWTTokenService(testJWTSecret, time.Hour, "issuer-b")

	expiredTok, _, err := expired.Generate(uuid.New(), "u", ports.RolePlayer)
	require.NoError(t, err)
	foreignTok, _, err := otherSecret.Generate(uuid.New(), "u", ports.RolePlayer)
	require.NoError(t, err)
	wrongIssuerTok, _, err := otherIssuer.Generate(uuid.New(), "u", ports.RolePlayer)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expiredTok},
		{"different secret", foreignTok},
		{"different issuer", wrongIssuerTok},
		{"garbage", "not.a.valid.jwt"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := good.Validate(tt.token)
			assert.Error(t, err)
		})
	}
}
