// Package storage - User and auth token operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// User represents a principal identity. Registration happens outside the
// core; rows here are referenced by every financial entity.
type User struct {
	ID            string
	Email         string
	Phone         string
	EmailVerified bool
	IsAdmin       bool
	CreatedAt     time.Time
}

// CreateUser inserts a user row.
func (s *Storage) CreateUser(ctx context.Context, u *User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, phone, email_verified, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.Phone, boolToInt(u.EmailVerified), boolToInt(u.IsAdmin), u.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapSQLError(err))
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Storage) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var verified, admin int
	var createdAt int64

	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, phone, email_verified, is_admin, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &u.Phone, &verified, &admin, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", mapSQLError(err))
	}

	u.EmailVerified = verified == 1
	u.IsAdmin = admin == 1
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// SetUserVerified marks a user's email as verified.
func (s *Storage) SetUserVerified(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE users SET email_verified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to verify user: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// InsertAuthToken stores a bearer token for a user.
func (s *Storage) InsertAuthToken(ctx context.Context, token, userID string, expiresAt *time.Time) error {
	var exp *int64
	if expiresAt != nil {
		ts := expiresAt.Unix()
		exp = &ts
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO auth_tokens (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, token, userID, time.Now().Unix(), exp)
	if err != nil {
		return fmt.Errorf("failed to insert auth token: %w", mapSQLError(err))
	}
	return nil
}

// GetUserByToken resolves a bearer token to its user.
// Expired or unknown tokens return errs.ErrUnauthenticated.
func (s *Storage) GetUserByToken(ctx context.Context, token string) (*User, error) {
	var userID string
	var expiresAt sql.NullInt64

	err := s.q.QueryRowContext(ctx, `
		SELECT user_id, expires_at FROM auth_tokens WHERE token = ?
	`, token).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", mapSQLError(err))
	}

	if expiresAt.Valid && time.Now().Unix() > expiresAt.Int64 {
		return nil, fmt.Errorf("token expired: %w", errs.ErrUnauthenticated)
	}

	return s.GetUser(ctx, userID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
