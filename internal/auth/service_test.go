// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prepline/prepline/internal/auth"
	"github.com/prepline/prepline/internal/auth/mocks"
	"github.com/prepline/prepline/pkg/errutil"
)

var testBootstrap = auth.BootstrapCredentials{
	Username: "manager",
	Password: "manager123",
}

func chefAccount() *auth.Account {
	return &auth.Account{
		ID:           ulid.Make(),
		Username:     "chef1",
		Role:         auth.RoleChef,
		PasswordSalt: []byte("salt-material-16"),
		PasswordHash: []byte("hash-material"),
	}
}

func TestNewService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		accounts    auth.AccountRepository
		hasher      auth.PasswordHasher
		expectError string
	}{
		{
			name:        "nil account repository",
			accounts:    nil,
			hasher:      mocks.NewMockPasswordHasher(t),
			expectError: "account repository is required",
		},
		{
			name:        "nil password hasher",
			accounts:    mocks.NewMockAccountRepository(t),
			hasher:      nil,
			expectError: "password hasher is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.accounts, tt.hasher, nil, testBootstrap)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}

	t.Run("nil provider is allowed", func(t *testing.T) {
		svc, err := auth.NewService(mocks.NewMockAccountRepository(t), mocks.NewMockPasswordHasher(t), nil, testBootstrap)
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login returns account", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		account := chefAccount()
		repo.On("GetByUsername", ctx, "chef1").Return(account, nil)
		hasher.On("Verify", "password123", account.PasswordSalt, account.PasswordHash).Return(true, nil)

		got, err := svc.Login(ctx, "chef1", "password123")
		require.NoError(t, err)
		assert.Equal(t, account, got)
	})

	t.Run("unknown username still verifies dummy material", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		repo.On("GetByUsername", ctx, "nobody").Return(nil, auth.ErrNotFound)
		// Verify runs against dummy material so response time does not
		// reveal whether the account exists.
		hasher.On("Verify", "password123", mock.Anything, mock.Anything).Return(false, nil)

		_, err = svc.Login(ctx, "nobody", "password123")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("wrong password fails with invalid credentials", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		account := chefAccount()
		repo.On("GetByUsername", ctx, "chef1").Return(account, nil)
		hasher.On("Verify", "wrongpassword", account.PasswordSalt, account.PasswordHash).Return(false, nil)

		_, err = svc.Login(ctx, "chef1", "wrongpassword")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("repository failure is not invalid credentials", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		repo.On("GetByUsername", ctx, "chef1").Return(nil, errors.New("connection refused"))

		_, err = svc.Login(ctx, "chef1", "password123")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects short new password before any lookup", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		err = svc.ChangePassword(ctx, ulid.Make(), "current", "short")
		assert.ErrorIs(t, err, auth.ErrWeakPassword)
	})

	t.Run("rejects wrong current password", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		account := chefAccount()
		repo.On("GetByID", ctx, account.ID).Return(account, nil)
		hasher.On("Verify", "wrongcurrent", account.PasswordSalt, account.PasswordHash).Return(false, nil)

		err = svc.ChangePassword(ctx, account.ID, "wrongcurrent", "newlongpassword")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("replaces salt and hash together", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		account := chefAccount()
		newSalt, newHash := []byte("new-salt"), []byte("new-hash")
		repo.On("GetByID", ctx, account.ID).Return(account, nil)
		hasher.On("Verify", "currentpassword", account.PasswordSalt, account.PasswordHash).Return(true, nil)
		hasher.On("Hash", "newlongpassword").Return(newSalt, newHash, nil)
		repo.On("UpdatePassword", ctx, account.ID, newSalt, newHash).Return(nil)

		err = svc.ChangePassword(ctx, account.ID, "currentpassword", "newlongpassword")
		require.NoError(t, err)
	})
}

func TestService_ProvisionAccount(t *testing.T) {
	ctx := context.Background()

	newSvc := func(t *testing.T, provider auth.IdentityProvider) (*auth.Service, *mocks.MockAccountRepository, *mocks.MockPasswordHasher) {
		t.Helper()
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, provider, testBootstrap)
		require.NoError(t, err)
		return svc, repo, hasher
	}

	t.Run("cannot mint another manager", func(t *testing.T) {
		svc, _, _ := newSvc(t, nil)

		_, err := svc.ProvisionAccount(ctx, "boss2", "longpassword1", "manager")
		assert.ErrorIs(t, err, auth.ErrInvalidRole)
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		svc, _, _ := newSvc(t, nil)

		_, err := svc.ProvisionAccount(ctx, "someone", "longpassword1", "admin")
		assert.ErrorIs(t, err, auth.ErrInvalidRole)
	})

	t.Run("rejects short password", func(t *testing.T) {
		svc, _, _ := newSvc(t, nil)

		_, err := svc.ProvisionAccount(ctx, "cook1", "short", "cook")
		assert.ErrorIs(t, err, auth.ErrWeakPassword)
	})

	t.Run("rejects empty username", func(t *testing.T) {
		svc, _, _ := newSvc(t, nil)

		_, err := svc.ProvisionAccount(ctx, "   ", "longpassword1", "cook")
		require.Error(t, err)
	})

	t.Run("plain username creates account without email", func(t *testing.T) {
		svc, repo, hasher := newSvc(t, nil)

		hasher.On("Hash", "longpassword1").Return([]byte("salt"), []byte("hash"), nil)
		repo.On("Create", ctx, mock.MatchedBy(func(a *auth.Account) bool {
			return a.Username == "cook1" &&
				a.Role == auth.RoleCook &&
				a.Email == nil &&
				a.ExternalIdentityID == nil
		})).Return(nil)

		account, err := svc.ProvisionAccount(ctx, "cook1", "longpassword1", "cook")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleCook, account.Role)
		assert.Nil(t, account.Email)
	})

	t.Run("email username doubles as account email", func(t *testing.T) {
		svc, repo, hasher := newSvc(t, nil)

		hasher.On("Hash", "longpassword1").Return([]byte("salt"), []byte("hash"), nil)
		repo.On("Create", ctx, mock.MatchedBy(func(a *auth.Account) bool {
			return a.Email != nil && *a.Email == "chef@kitchen.example" && a.ExternalIdentityID == nil
		})).Return(nil)

		_, err := svc.ProvisionAccount(ctx, "chef@kitchen.example", "longpassword1", "chef")
		require.NoError(t, err)
	})

	t.Run("email username registers upstream when provider configured", func(t *testing.T) {
		provider := mocks.NewMockIdentityProvider(t)
		svc, repo, hasher := newSvc(t, provider)

		provider.On("AdminCreateUser", ctx, "chef@kitchen.example", "longpassword1", auth.RoleChef).
			Return("ext-subject-1", nil)
		hasher.On("Hash", "longpassword1").Return([]byte("salt"), []byte("hash"), nil)
		repo.On("Create", ctx, mock.MatchedBy(func(a *auth.Account) bool {
			return a.ExternalIdentityID != nil && *a.ExternalIdentityID == "ext-subject-1"
		})).Return(nil)

		account, err := svc.ProvisionAccount(ctx, "chef@kitchen.example", "longpassword1", "chef")
		require.NoError(t, err)
		require.NotNil(t, account.ExternalIdentityID)
		assert.Equal(t, "ext-subject-1", *account.ExternalIdentityID)
	})

	t.Run("plain username skips upstream registration", func(t *testing.T) {
		provider := mocks.NewMockIdentityProvider(t)
		svc, repo, hasher := newSvc(t, provider)

		hasher.On("Hash", "longpassword1").Return([]byte("salt"), []byte("hash"), nil)
		repo.On("Create", ctx, mock.Anything).Return(nil)

		_, err := svc.ProvisionAccount(ctx, "cook1", "longpassword1", "cook")
		require.NoError(t, err)
		provider.AssertNotCalled(t, "AdminCreateUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("provider conflict aborts before local creation", func(t *testing.T) {
		provider := mocks.NewMockIdentityProvider(t)
		svc, repo, _ := newSvc(t, provider)

		provider.On("AdminCreateUser", ctx, "chef@kitchen.example", "longpassword1", auth.RoleChef).
			Return("", auth.ErrProviderEmailTaken)

		_, err := svc.ProvisionAccount(ctx, "chef@kitchen.example", "longpassword1", "chef")
		assert.ErrorIs(t, err, auth.ErrProviderEmailTaken)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("duplicate username surfaces the conflict", func(t *testing.T) {
		svc, repo, hasher := newSvc(t, nil)

		hasher.On("Hash", "longpassword1").Return([]byte("salt"), []byte("hash"), nil)
		repo.On("Create", ctx, mock.Anything).Return(auth.ErrUsernameTaken)

		_, err := svc.ProvisionAccount(ctx, "cook1", "longpassword1", "cook")
		assert.ErrorIs(t, err, auth.ErrUsernameTaken)
	})
}

func TestService_EnsureBootstrapManager(t *testing.T) {
	ctx := context.Background()

	t.Run("no-op when a manager exists", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		repo.On("CountByRole", ctx, auth.RoleManager).Return(int64(1), nil)

		require.NoError(t, svc.EnsureBootstrapManager(ctx))
		hasher.AssertNotCalled(t, "Hash", mock.Anything)
	})

	t.Run("creates the bootstrap manager on a cold store", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		repo.On("CountByRole", ctx, auth.RoleManager).Return(int64(0), nil)
		hasher.On("Hash", "manager123").Return([]byte("salt"), []byte("hash"), nil)
		repo.On("Create", ctx, mock.MatchedBy(func(a *auth.Account) bool {
			return a.Username == "manager" && a.Role == auth.RoleManager
		})).Return(nil)

		require.NoError(t, svc.EnsureBootstrapManager(ctx))
	})

	t.Run("count failure propagates", func(t *testing.T) {
		repo := mocks.NewMockAccountRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewService(repo, hasher, nil, testBootstrap)
		require.NoError(t, err)

		repo.On("CountByRole", ctx, auth.RoleManager).Return(int64(0), errors.New("connection refused"))

		err = svc.EnsureBootstrapManager(ctx)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_BOOTSTRAP_FAILED")
	})
}
