package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken    = errors.New("user already exists")
	ErrUnknownEmail  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
)

// CredentialStore owns the email -> password-hash mapping. Implementations
// must never store or return the plaintext password.
type CredentialStore interface {
	Register(ctx context.Context, email, password string) error
	Verify(ctx context.Context, email, password string) (string, error)
}

// MemoryStore keeps credentials in process memory. Everything is lost on
// restart; that is the accepted demo scope, not a bug.
type MemoryStore struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]string)}
}

func (s *MemoryStore) Register(ctx context.Context, email, password string) error {
	s.mu.RLock()
	_, exists := s.hashes[email]
	s.mu.RUnlock()
	if exists {
		return ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hashes[email]; exists {
		return ErrEmailTaken
	}
	s.hashes[email] = string(hash)

	return nil
}

func (s *MemoryStore) Verify(ctx context.Context, email, password string) (string, error) {
	s.mu.RLock()
	hash, exists := s.hashes[email]
	s.mu.RUnlock()
	if !exists {
		return "", ErrUnknownEmail
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrWrongPassword
	}

	return email, nil
}
