package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is an account that owns recipes and shares the global AI budget.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser registers an account and mints its bearer token. Duplicate
// username or email maps to ErrConflict.
func (s *Store) CreateUser(ctx context.Context, username, email string) (*User, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	query := `INSERT INTO users (id, username, email, token, created_at) VALUES ($1,$2,$3,$4,$5)`
	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Email, user.Token, user.CreatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", username, ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// UserByToken resolves a bearer token to its account.
func (s *Store) UserByToken(ctx context.Context, token string) (*User, error) {
	query := `SELECT id, username, email, created_at FROM users WHERE token = $1`
	var user User
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, token).
			Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user by token: %w", err)
	}
	return &user, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
