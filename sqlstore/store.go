package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vinovest/sqlx"

	authcore "github.com/aallard/CodeOps-Server-sub001"
)

// Store implements authcore.CredentialStore on a SQLite database. Save
// enforces optimistic concurrency: the row's version column must still
// match the loaded credential or the write is rejected, which is what the
// engine's single-use recovery codes depend on.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type credentialRow struct {
	ID            string `db:"id"`
	Email         string `db:"email"`
	DisplayName   string `db:"display_name"`
	PasswordHash  string `db:"password_hash"`
	Active        bool   `db:"active"`
	MFAMethod     uint8  `db:"mfa_method"`
	MFAEnabled    bool   `db:"mfa_enabled"`
	MFASecret     []byte `db:"mfa_secret"`
	RecoveryCodes []byte `db:"recovery_codes"`
	TOTPCounter   int64  `db:"totp_last_counter"`
	LastLoginAt   int64  `db:"last_login_at"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
	Version       int64  `db:"version"`
}

const credentialColumns = `id, email, display_name, password_hash, active,
	mfa_method, mfa_enabled, mfa_secret, recovery_codes, totp_last_counter,
	last_login_at, created_at, updated_at, version`

func (s *Store) GetByID(ctx context.Context, id string) (*authcore.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrCredentialNotFound
		}
		return nil, err
	}
	return row.toCredential(), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*authcore.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+credentialColumns+` FROM credentials WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrCredentialNotFound
		}
		return nil, err
	}
	return row.toCredential(), nil
}

func (s *Store) Create(ctx context.Context, cred *authcore.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		cred.ID,
		strings.ToLower(strings.TrimSpace(cred.Email)),
		cred.DisplayName,
		cred.PasswordHash,
		cred.Active,
		uint8(cred.MFAMethod),
		cred.MFAEnabled,
		cred.MFASecret,
		cred.RecoveryCodes,
		cred.TOTPLastCounter,
		unixOrZero(cred.LastLoginAt),
		cred.CreatedAt.Unix(),
		cred.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.ErrDuplicateEmail
		}
		return err
	}
	cred.Version = 0
	return nil
}

// Save writes the credential back, guarded by its version. On success the
// in-memory version is bumped to match the row.
func (s *Store) Save(ctx context.Context, cred *authcore.Credential) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET
			email = ?, display_name = ?, password_hash = ?, active = ?,
			mfa_method = ?, mfa_enabled = ?, mfa_secret = ?, recovery_codes = ?,
			totp_last_counter = ?, last_login_at = ?, updated_at = ?,
			version = version + 1
		 WHERE id = ? AND version = ?`,
		strings.ToLower(strings.TrimSpace(cred.Email)),
		cred.DisplayName,
		cred.PasswordHash,
		cred.Active,
		uint8(cred.MFAMethod),
		cred.MFAEnabled,
		cred.MFASecret,
		cred.RecoveryCodes,
		cred.TOTPLastCounter,
		unixOrZero(cred.LastLoginAt),
		cred.UpdatedAt.Unix(),
		cred.ID,
		cred.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM credentials WHERE id = ?)`, cred.ID); err != nil {
			return err
		}
		if !exists {
			return authcore.ErrCredentialNotFound
		}
		return authcore.ErrVersionConflict
	}

	cred.Version++
	return nil
}

func (r *credentialRow) toCredential() *authcore.Credential {
	return &authcore.Credential{
		ID:              r.ID,
		Email:           r.Email,
		DisplayName:     r.DisplayName,
		PasswordHash:    r.PasswordHash,
		Active:          r.Active,
		MFAMethod:       authcore.MFAMethod(r.MFAMethod),
		MFAEnabled:      r.MFAEnabled,
		MFASecret:       r.MFASecret,
		RecoveryCodes:   r.RecoveryCodes,
		TOTPLastCounter: r.TOTPCounter,
		LastLoginAt:     timeOrZero(r.LastLoginAt),
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:       time.Unix(r.UpdatedAt, 0).UTC(),
		Version:         r.Version,
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
