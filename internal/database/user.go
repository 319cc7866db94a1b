package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quizgrid/quizgrid/internal/auth"
	"github.com/quizgrid/quizgrid/internal/models"
)

// ErrBadCredentials covers both an unknown username and a wrong password.
var ErrBadCredentials = errors.New("bad credentials")

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	hash, err := auth.HashPassword(user.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.Password = hash

	q := `INSERT INTO users (id, username, password, total_score, is_admin)
	      VALUES ($1, $2, $3, 0, $4)`
	if _, err := s.Pool.Exec(ctx, q, user.ID, user.Username, user.Password, user.IsAdmin); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	q := `SELECT id, username, password, total_score, is_admin FROM users WHERE username=$1`
	err := s.Pool.QueryRow(ctx, q, username).Scan(
		&u.ID, &u.Username, &u.Password, &u.TotalScore, &u.IsAdmin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Authenticate implements the session registry's Authenticator contract.
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBadCredentials
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	ok, err := auth.CheckPassword(password, u.Password)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrBadCredentials
	}
	return nil
}

// UpdateScore implements the match engine's ScoreSink contract: the final
// match delta is accumulated onto the user's running total.
func (s *Store) UpdateScore(ctx context.Context, username string, delta int) error {
	q := `UPDATE users SET total_score = total_score + $2 WHERE username=$1`
	tag, err := s.Pool.Exec(ctx, q, username, delta)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update score: unknown user %s", username)
	}
	return nil
}
