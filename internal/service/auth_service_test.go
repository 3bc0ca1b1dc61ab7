package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

type mockAuthRepo struct {
	user             *models.User
	findErr          error
	lastLoginErr     error
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.user == nil || m.user.Username != username {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return m.lastLoginErr
}

func newAuthUser(t *testing.T, active bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "u1", Username: "lan", FullName: "Lan", PasswordHash: string(hash), Active: active, Role: models.RoleDispatcher}
}

func newTestAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "fleet-trip-api"})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{user: newAuthUser(t, true), lastLoginErr: errors.New("ignored")}
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: " lan ", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.EqualValues(t, 3600, res.ExpiresIn)
	assert.Equal(t, models.RoleDispatcher, res.User.Role)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleDispatcher, claims.Role)
	assert.Equal(t, "Lan", claims.DisplayName())
	assert.Equal(t, "fleet-trip-api", claims.Issuer)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	cases := []struct {
		name string
		repo *mockAuthRepo
		req  models.LoginRequest
		code string
	}{
		{"missing password", &mockAuthRepo{user: newAuthUser(t, true)}, models.LoginRequest{Username: "lan"}, appErrors.ErrValidation.Code},
		{"unknown user", &mockAuthRepo{user: newAuthUser(t, true)}, models.LoginRequest{Username: "ghost", Password: "password"}, appErrors.ErrInvalidCredentials.Code},
		{"wrong password", &mockAuthRepo{user: newAuthUser(t, true)}, models.LoginRequest{Username: "lan", Password: "nope"}, appErrors.ErrInvalidCredentials.Code},
		{"inactive", &mockAuthRepo{user: newAuthUser(t, false)}, models.LoginRequest{Username: "lan", Password: "password"}, appErrors.ErrInactiveAccount.Code},
		{"store error", &mockAuthRepo{findErr: errors.New("boom")}, models.LoginRequest{Username: "lan", Password: "password"}, appErrors.ErrInternal.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestAuthService(tc.repo).Login(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
			assert.False(t, tc.repo.lastLoginUpdated)
		})
	}
}

func TestValidateTokenRejectsForeignSignatures(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{})
	token, err := svc.generateAccessToken(&models.User{ID: "u1", Role: models.RoleAdmin}, time.Now())
	require.NoError(t, err)

	other := NewAuthService(&mockAuthRepo{}, nil, nil, AuthConfig{AccessTokenSecret: "other"})
	_, err = other.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	expired, err := svc.generateAccessToken(&models.User{ID: "u1"}, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = svc.ValidateToken("garbage")
	assert.Error(t, err)
}

func TestAuthServiceCurrentUser(t *testing.T) {
	actor := &models.JWTClaims{UserID: "u1", Role: models.RoleDispatcher}

	info, err := newTestAuthService(&mockAuthRepo{user: newAuthUser(t, true)}).CurrentUser(context.Background(), actor)
	require.NoError(t, err)
	assert.Equal(t, "lan", info.Username)

	cases := []struct {
		name  string
		repo  *mockAuthRepo
		actor *models.JWTClaims
		code  string
	}{
		{"anonymous", &mockAuthRepo{}, nil, appErrors.ErrUnauthorized.Code},
		{"deleted account", &mockAuthRepo{}, actor, appErrors.ErrUnauthorized.Code},
		{"deactivated", &mockAuthRepo{user: newAuthUser(t, false)}, actor, appErrors.ErrInactiveAccount.Code},
		{"store error", &mockAuthRepo{findErr: errors.New("boom")}, actor, appErrors.ErrInternal.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestAuthService(tc.repo).CurrentUser(context.Background(), tc.actor)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
}

func TestValidateTokenChecksIssuerAndRole(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{})
	foreign := NewAuthService(&mockAuthRepo{}, nil, nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "someone-else"})

	token, err := foreign.generateAccessToken(&models.User{ID: "u1", Role: models.RoleAdmin}, time.Now())
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	token, err = svc.generateAccessToken(&models.User{ID: "u1", Role: "driver"}, time.Now())
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "invalid token claims", appErrors.FromError(err).Message)
}
