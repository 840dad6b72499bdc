// Package admin implements the admin gateway's single sign-on: a bearer
// token issued by the auth service is verified, checked against an email
// allow-list and turned into a staff account.
package admin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

// Login describes one successful SSO sign-in.
type Login struct {
	Username  string
	Email     string
	Superuser bool
	UserAgent string
	IPAddress string
}

// Account is the staff account after a login.
type Account struct {
	ID          int64  `json:"user_id"`
	Email       string `json:"email"`
	IsSuperuser bool   `json:"is_superuser"`
	Created     bool   `json:"created"`
}

// StaffStore gets or creates the staff account for a login and records it.
type StaffStore interface {
	RecordLogin(ctx context.Context, l Login) (Account, error)
}

// DB is the subset of the postgres client the staff store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS staff_accounts (
    id           BIGSERIAL PRIMARY KEY,
    username     TEXT NOT NULL UNIQUE,
    email        TEXT NOT NULL DEFAULT '',
    is_staff     BOOLEAN NOT NULL DEFAULT TRUE,
    is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS staff_logins (
    id         UUID PRIMARY KEY,
    staff_id   BIGINT NOT NULL REFERENCES staff_accounts (id) ON DELETE CASCADE,
    user_agent TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    login_time TIMESTAMPTZ NOT NULL
)`

// upsertSQL keeps a non-empty email current and never revokes superuser.
// xmax is zero only for a row inserted by this statement.
const upsertSQL = `
INSERT INTO staff_accounts (username, email, is_superuser)
VALUES ($1, $2, $3)
ON CONFLICT (username) DO UPDATE SET
    email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE staff_accounts.email END,
    is_staff = TRUE,
    is_superuser = staff_accounts.is_superuser OR EXCLUDED.is_superuser,
    updated_at = now()
RETURNING id, email, is_superuser, (xmax = 0) AS created`

const insertLoginSQL = `
INSERT INTO staff_logins (id, staff_id, user_agent, ip_address, login_time)
VALUES ($1, $2, $3, $4, $5)`

// PostgresStaff is the [StaffStore] backed by Postgres.
type PostgresStaff struct {
	db  DB
	now func() time.Time
}

var _ StaffStore = (*PostgresStaff)(nil)

// NewPostgresStaff returns a store over db. Call EnsureSchema once at
// startup.
func NewPostgresStaff(db DB) *PostgresStaff {
	return &PostgresStaff{db: db, now: time.Now}
}

// EnsureSchema creates the staff tables when missing.
func (s *PostgresStaff) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// RecordLogin upserts the account and appends a login history row in one
// transaction.
func (s *PostgresStaff) RecordLogin(ctx context.Context, l Login) (Account, error) {
	if l.Username == "" {
		return Account{}, sserr.New(sserr.CodeValidationRequired, "admin: login has no username")
	}
	var acc Account
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, upsertSQL, l.Username, l.Email, l.Superuser).
			Scan(&acc.ID, &acc.Email, &acc.IsSuperuser, &acc.Created); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalDatabase, "admin: upsert staff account failed")
		}
		if _, err := tx.Exec(ctx, insertLoginSQL,
			uuid.New(), acc.ID, l.UserAgent, l.IPAddress, s.now().UTC()); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalDatabase, "admin: record login failed")
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}
