package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PostgresStore is the durable CredentialStore. It survives restarts and
// relies on the unique email key to reject duplicate registrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Register(ctx context.Context, email, password string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate credential id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
	`, id.String(), email, string(hash), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEmailTaken
	}

	return nil
}

func (s *PostgresStore) Verify(ctx context.Context, email, password string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT password_hash
		FROM credentials
		WHERE email = $1
	`, email).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUnknownEmail
		}
		return "", fmt.Errorf("query credential: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrWrongPassword
	}

	return email, nil
}
