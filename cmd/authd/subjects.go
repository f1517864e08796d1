package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	phoneauth "github.com/viznet/phoneauth"
)

// The engine deliberately does not own account storage, so authd carries its
// own users table instead of shipping it with the library migrations.
const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                UUID PRIMARY KEY,
	phone             TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL DEFAULT '',
	password_hash     TEXT NOT NULL DEFAULT '',
	phone_verified_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type postgresSubjects struct {
	db *sql.DB
}

func newPostgresSubjects(ctx context.Context, db *sql.DB) (*postgresSubjects, error) {
	if _, err := db.ExecContext(ctx, usersSchema); err != nil {
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &postgresSubjects{db: db}, nil
}

const subjectColumns = `id, phone, name, email, password_hash, phone_verified_at`

func (p *postgresSubjects) GetByPhone(ctx context.Context, phone string) (*phoneauth.Subject, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM users WHERE phone = $1`, phone)
	return scanSubject(row)
}

func (p *postgresSubjects) GetByID(ctx context.Context, id string) (*phoneauth.Subject, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM users WHERE id = $1`, id)
	return scanSubject(row)
}

func (p *postgresSubjects) Create(ctx context.Context, in phoneauth.CreateSubjectInput) (*phoneauth.Subject, error) {
	s := &phoneauth.Subject{
		ID:              uuid.NewString(),
		Phone:           in.Phone,
		Name:            in.Name,
		Email:           in.Email,
		PasswordHash:    in.PasswordHash,
		PhoneVerifiedAt: in.PhoneVerifiedAt,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, phone, name, email, password_hash, phone_verified_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (phone) DO NOTHING`,
		s.ID, s.Phone, s.Name, s.Email, s.PasswordHash, s.PhoneVerifiedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	// ON CONFLICT swallows the duplicate; detect it by reading back.
	stored, err := p.GetByPhone(ctx, in.Phone)
	if err != nil {
		return nil, err
	}
	if stored.ID != s.ID {
		return nil, phoneauth.ErrSubjectExists
	}
	return stored, nil
}

func (p *postgresSubjects) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET phone_verified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark phone verified: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return phoneauth.ErrSubjectNotFound
	}
	return nil
}

func scanSubject(row *sql.Row) (*phoneauth.Subject, error) {
	var s phoneauth.Subject
	var verifiedAt sql.NullTime
	err := row.Scan(&s.ID, &s.Phone, &s.Name, &s.Email, &s.PasswordHash, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, phoneauth.ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		s.PhoneVerifiedAt = &t
	}
	return &s, nil
}
