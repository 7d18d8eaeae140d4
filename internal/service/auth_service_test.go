package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	_, client := newTestRedis(t)
	return NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}, client)
}

func TestStudentTokenIsSingleDevice(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.GenerateStudentToken(ctx, testStudent)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, testStudent, claims.UserID)
	require.NoError(t, auth.ValidateStudentSession(ctx, testStudent, claims.ID))

	_, err = auth.GenerateStudentToken(ctx, testStudent)
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)

	require.NoError(t, auth.ResetStudentSession(ctx, testStudent))
	assert.ErrorIs(t, auth.ValidateStudentSession(ctx, testStudent, claims.ID), ErrSessionInvalidated)

	fresh, err := auth.GenerateStudentToken(ctx, testStudent)
	require.NoError(t, err)
	freshClaims, err := auth.ValidateToken(fresh)
	require.NoError(t, err)
	assert.ErrorIs(t, auth.ValidateStudentSession(ctx, testStudent, claims.ID), ErrSessionInvalidated)
	assert.NoError(t, auth.ValidateStudentSession(ctx, testStudent, freshClaims.ID))
}

func TestProctorTokenCarriesPermissions(t *testing.T) {
	auth := newTestAuth(t)

	token, err := auth.GenerateProctorToken(7, []string{PermissionMonitor})
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeProctor, claims.TokenType)
	assert.True(t, claims.HasPermission(PermissionMonitor))
	assert.False(t, claims.HasPermission(PermissionReview))
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	auth := newTestAuth(t)
	other := newTestAuth(t)
	other.secret = []byte("another-secret")

	token, err := other.GenerateProctorToken(7, nil)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}
