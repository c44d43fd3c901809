// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

// Package postgres implements the account directory on PostgreSQL.
// Uniqueness of username, email, and external identity id lives in the
// schema (partial unique indexes for the nullable columns); this package
// translates constraint violations into the auth conflict sentinels.
package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/prepline/prepline/internal/auth"
)

// Constraint names from the accounts migration, used to report which field
// collided.
const (
	constraintUsername         = "accounts_username_uq"
	constraintEmail            = "accounts_email_uq"
	constraintExternalIdentity = "accounts_external_identity_id_uq"
)

// querier is the subset of pgxpool.Pool the repository uses. Tests supply a
// pgxmock implementation.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db querier
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db querier) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, username, role, password_salt, password_hash, email, external_identity_id, created_at`

// Create stores a new account. Credential material is stored base64-encoded.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, username, role, password_salt, password_hash,
			email, external_identity_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.ID.String(),
		account.Username,
		string(account.Role),
		base64.StdEncoding.EncodeToString(account.PasswordSalt),
		base64.StdEncoding.EncodeToString(account.PasswordHash),
		account.Email,
		account.ExternalIdentityID,
		account.CreatedAt,
	)
	if err != nil {
		if conflictErr := translateConflict(err); conflictErr != nil {
			return conflictErr
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByUsername retrieves an account by username (case-sensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE username = $1
	`, username)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_USERNAME_FAILED").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// GetByExternalIdentityID retrieves an account by linked external subject id.
func (r *AccountRepository) GetByExternalIdentityID(ctx context.Context, externalID string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE external_identity_id = $1
	`, externalID)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("external_identity_id", externalID).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EXTERNAL_ID_FAILED").
			With("external_identity_id", externalID).
			Wrap(err)
	}
	return account, nil
}

// AttachExternalIdentity links an external identity only when no identity is
// linked yet. The conditional UPDATE makes the check-then-act safe under
// concurrent callers without application-level locking; a no-op update (the
// account already carries an identity) is not an error.
func (r *AccountRepository) AttachExternalIdentity(ctx context.Context, id ulid.ULID, externalID string) (*auth.Account, error) {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET external_identity_id = $2
		WHERE id = $1 AND external_identity_id IS NULL
	`, id.String(), externalID)
	if err != nil {
		if conflictErr := translateConflict(err); conflictErr != nil {
			return nil, conflictErr
		}
		return nil, oops.Code("ACCOUNT_ATTACH_IDENTITY_FAILED").
			With("id", id.String()).
			Wrap(err)
	}

	return r.GetByID(ctx, id)
}

// CountByRole returns the number of accounts holding the role.
func (r *AccountRepository) CountByRole(ctx context.Context, role auth.Role) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(1) FROM accounts WHERE role = $1
	`, string(role)).Scan(&count)
	if err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").
			With("role", string(role)).
			Wrap(err)
	}
	return count, nil
}

// UpdatePassword replaces the salt and hash together in one statement.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, salt, hash []byte) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET password_salt = $2, password_hash = $3
		WHERE id = $1
	`,
		id.String(),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// List returns all accounts, newest first.
func (r *AccountRepository) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").
				With("operation", "scan account").
				Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "iterate accounts").
			Wrap(err)
	}
	return accounts, nil
}

// translateConflict maps a unique-constraint violation to the field-specific
// conflict sentinel. Returns nil when err is not a unique violation.
func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}

	switch pgErr.ConstraintName {
	case constraintUsername:
		return oops.Code("ACCOUNT_CONFLICT_USERNAME").Wrap(auth.ErrUsernameTaken)
	case constraintEmail:
		return oops.Code("ACCOUNT_CONFLICT_EMAIL").Wrap(auth.ErrEmailTaken)
	case constraintExternalIdentity:
		return oops.Code("ACCOUNT_CONFLICT_EXTERNAL_IDENTITY").Wrap(auth.ErrExternalIdentityTaken)
	default:
		// Unknown constraint: still a conflict, attribute it to username as
		// the only column every insert populates.
		return oops.Code("ACCOUNT_CONFLICT").
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrUsernameTaken)
	}
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr      string
		username   string
		roleStr    string
		saltB64    string
		hashB64    string
		email      *string
		externalID *string
		createdAt  time.Time
	)

	err := row.Scan(&idStr, &username, &roleStr, &saltB64, &hashB64, &email, &externalID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_CREDENTIAL").
			With("operation", "decode salt").
			Wrap(err)
	}
	hash, err := base64.StdEncoding.DecodeString(hashB64)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_CREDENTIAL").
			With("operation", "decode hash").
			Wrap(err)
	}

	role := auth.Role(roleStr)
	if !role.Valid() {
		return nil, oops.Code("ACCOUNT_INVALID_ROLE").
			With("role", roleStr).
			Wrap(auth.ErrInvalidRole)
	}

	return &auth.Account{
		ID:                 id,
		Username:           username,
		Role:               role,
		PasswordSalt:       salt,
		PasswordHash:       hash,
		Email:              email,
		ExternalIdentityID: externalID,
		CreatedAt:          createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
