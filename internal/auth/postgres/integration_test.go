// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

//go:build integration

package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/prepline/prepline/internal/auth"
	"github.com/prepline/prepline/internal/auth/postgres"
	"github.com/prepline/prepline/internal/store"
)

// testPool is the shared database pool for integration tests.
var testPool *pgxpool.Pool

// TestMain sets up a PostgreSQL testcontainer for integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("prepline_test"),
		pgcontainer.WithUsername("prepline"),
		pgcontainer.WithPassword("prepline"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to get connection string: " + err.Error())
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create migrator: " + err.Error())
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		panic("failed to run migrations: " + err.Error())
	}
	_ = migrator.Close()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create pool: " + err.Error())
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newAccount(username string, role auth.Role) *auth.Account {
	return &auth.Account{
		ID:           ulid.Make(),
		Username:     username,
		Role:         role,
		PasswordSalt: []byte("salt-material-16"),
		PasswordHash: []byte("hash-material"),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func cleanupAccount(t *testing.T, id ulid.ULID) {
	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM accounts WHERE id = $1`, id.String())
	})
}

func TestAccountRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	account := newAccount("roundtrip_user", auth.RoleChef)
	email := "roundtrip@kitchen.example"
	ext := "roundtrip-ext-subject"
	account.Email = &email
	account.ExternalIdentityID = &ext

	require.NoError(t, repo.Create(ctx, account))
	cleanupAccount(t, account.ID)

	for name, lookup := range map[string]func() (*auth.Account, error){
		"by id":       func() (*auth.Account, error) { return repo.GetByID(ctx, account.ID) },
		"by username": func() (*auth.Account, error) { return repo.GetByUsername(ctx, "roundtrip_user") },
		"by email":    func() (*auth.Account, error) { return repo.GetByEmail(ctx, email) },
		"by external": func() (*auth.Account, error) { return repo.GetByExternalIdentityID(ctx, ext) },
	} {
		t.Run(name, func(t *testing.T) {
			got, err := lookup()
			require.NoError(t, err)
			assert.Equal(t, account.ID, got.ID)
			assert.Equal(t, account.PasswordSalt, got.PasswordSalt)
			assert.Equal(t, account.PasswordHash, got.PasswordHash)
		})
	}
}

func TestAccountRepository_ConcurrentCreateSameUsername(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	const attempts = 8
	errs := make([]error, attempts)
	accounts := make([]*auth.Account, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		accounts[i] = newAccount("race_user", auth.RoleCook)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, accounts[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			cleanupAccount(t, accounts[i].ID)
		} else {
			assert.ErrorIs(t, err, auth.ErrUsernameTaken)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent create must win")
}

func TestAccountRepository_AttachExternalIdentityOnce(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	account := newAccount("attach_user", auth.RoleChef)
	require.NoError(t, repo.Create(ctx, account))
	cleanupAccount(t, account.ID)

	linked, err := repo.AttachExternalIdentity(ctx, account.ID, "first-subject")
	require.NoError(t, err)
	require.NotNil(t, linked.ExternalIdentityID)
	assert.Equal(t, "first-subject", *linked.ExternalIdentityID)

	// A second attach with a different value never overwrites.
	again, err := repo.AttachExternalIdentity(ctx, account.ID, "second-subject")
	require.NoError(t, err)
	require.NotNil(t, again.ExternalIdentityID)
	assert.Equal(t, "first-subject", *again.ExternalIdentityID)
}

func TestAccountRepository_PartialUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	// Multiple accounts with NULL email coexist.
	first := newAccount("null_email_1", auth.RoleCook)
	second := newAccount("null_email_2", auth.RoleCook)
	require.NoError(t, repo.Create(ctx, first))
	cleanupAccount(t, first.ID)
	require.NoError(t, repo.Create(ctx, second))
	cleanupAccount(t, second.ID)

	// A duplicate non-null email does not.
	email := "unique@kitchen.example"
	third := newAccount("email_user_1", auth.RoleCook)
	third.Email = &email
	fourth := newAccount("email_user_2", auth.RoleCook)
	fourth.Email = &email

	require.NoError(t, repo.Create(ctx, third))
	cleanupAccount(t, third.ID)
	err := repo.Create(ctx, fourth)
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestAccountRepository_UpdatePasswordPersists(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	account := newAccount("pwchange_user", auth.RoleChef)
	require.NoError(t, repo.Create(ctx, account))
	cleanupAccount(t, account.ID)

	newSalt, newHash := []byte("fresh-salt"), []byte("fresh-hash")
	require.NoError(t, repo.UpdatePassword(ctx, account.ID, newSalt, newHash))

	got, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, newSalt, got.PasswordSalt)
	assert.Equal(t, newHash, got.PasswordHash)
}
