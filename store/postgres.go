package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresOTPStore implements [OTPStore] over a PostgreSQL connection.
type PostgresOTPStore struct {
	db DBTX
}

// NewPostgresOTPStore binds the store to db.
func NewPostgresOTPStore(db DBTX) *PostgresOTPStore {
	return &PostgresOTPStore{db: db}
}

// Create inserts a new verification code record.
func (s *PostgresOTPStore) Create(ctx context.Context, rec *OTPRecord) error {
	query := `
		INSERT INTO otp_codes (id, phone, code, purpose, attempts, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Phone, rec.Code, string(rec.Purpose),
		rec.Attempts, string(rec.State), rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("otp insert: %w", err)
	}
	return nil
}

// FindValid returns the newest valid record for the phone and purpose.
func (s *PostgresOTPStore) FindValid(ctx context.Context, phone string, purpose Purpose) (*OTPRecord, error) {
	query := `
		SELECT id, phone, code, purpose, attempts, state, created_at, expires_at, verified_at
		FROM otp_codes
		WHERE phone = $1 AND purpose = $2 AND state = 'valid'
		ORDER BY created_at DESC
		LIMIT 1
	`
	rec := &OTPRecord{}
	var verifiedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, phone, string(purpose)).Scan(
		&rec.ID, &rec.Phone, &rec.Code, &rec.Purpose,
		&rec.Attempts, &rec.State, &rec.CreatedAt, &rec.ExpiresAt, &verifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("otp lookup: %w", err)
	}
	if verifiedAt.Valid {
		rec.VerifiedAt = &verifiedAt.Time
	}
	return rec, nil
}

// SupersedeValid retires every valid record for the phone and purpose.
func (s *PostgresOTPStore) SupersedeValid(ctx context.Context, phone string, purpose Purpose) (int64, error) {
	query := `
		UPDATE otp_codes
		SET state = 'superseded'
		WHERE phone = $1 AND purpose = $2 AND state = 'valid'
	`
	res, err := s.db.ExecContext(ctx, query, phone, string(purpose))
	if err != nil {
		return 0, fmt.Errorf("otp supersede: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("otp supersede: %w", err)
	}
	return n, nil
}

// IncrementAttempts bumps the attempt counter and returns the new count.
func (s *PostgresOTPStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE otp_codes
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("otp attempts: %w", err)
	}
	return attempts, nil
}

// MarkVerified transitions a valid record to verified.
func (s *PostgresOTPStore) MarkVerified(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE otp_codes
		SET state = 'verified', verified_at = $2
		WHERE id = $1 AND state = 'valid'
	`
	res, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("otp verify: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("otp verify: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes dead records older than the cutoff.
func (s *PostgresOTPStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM otp_codes
		WHERE expires_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("otp purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("otp purge: %w", err)
	}
	return n, nil
}

// PostgresTokenStore implements [TokenStore] over a PostgreSQL connection.
type PostgresTokenStore struct {
	db DBTX
}

// NewPostgresTokenStore binds the store to db.
func NewPostgresTokenStore(db DBTX) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// Create inserts a new token record.
func (s *PostgresTokenStore) Create(ctx context.Context, rec *TokenRecord) error {
	query := `
		INSERT INTO auth_tokens (id, subject_id, name, abilities, secret_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SubjectID, rec.Name, joinAbilities(rec.Abilities),
		rec.SecretHash[:], rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("token insert: %w", err)
	}
	return nil
}

// FindByID returns the token record.
func (s *PostgresTokenStore) FindByID(ctx context.Context, id string) (*TokenRecord, error) {
	query := `
		SELECT id, subject_id, name, abilities, secret_hash, created_at, expires_at, last_used_at
		FROM auth_tokens
		WHERE id = $1
	`
	rec := &TokenRecord{}
	var abilities string
	var hash []byte
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.SubjectID, &rec.Name, &abilities,
		&hash, &rec.CreatedAt, &rec.ExpiresAt, &lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	if len(hash) != len(rec.SecretHash) {
		return nil, fmt.Errorf("token lookup: corrupt secret hash for %s", id)
	}
	copy(rec.SecretHash[:], hash)
	rec.Abilities = splitAbilities(abilities)
	if lastUsed.Valid {
		rec.LastUsedAt = &lastUsed.Time
	}
	return rec, nil
}

// Touch stamps the record's last-use instant.
func (s *PostgresTokenStore) Touch(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE auth_tokens
		SET last_used_at = $2
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("token touch: %w", err)
	}
	return nil
}

// Delete removes the token record.
func (s *PostgresTokenStore) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM auth_tokens
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("token delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("token delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBySubject removes every token of the subject.
func (s *PostgresTokenStore) DeleteBySubject(ctx context.Context, subjectID string) (int64, error) {
	query := `
		DELETE FROM auth_tokens
		WHERE subject_id = $1
	`
	res, err := s.db.ExecContext(ctx, query, subjectID)
	if err != nil {
		return 0, fmt.Errorf("token delete by subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("token delete by subject: %w", err)
	}
	return n, nil
}

func joinAbilities(abilities []string) string {
	return strings.Join(abilities, ",")
}

func splitAbilities(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
