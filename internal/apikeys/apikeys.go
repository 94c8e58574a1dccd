// Package apikeys issues and validates the bearer keys that gate the
// conversion API. Keys look like "sk-" followed by 32 lowercase hex
// characters; only their SHA-256 is stored.
package apikeys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/ocrflow/internal/models"
	"github.com/google/uuid"
)

// KeyPrefix starts every issued key.
const KeyPrefix = "sk-"

var (
	// ErrNotFound is returned by a Store when no record matches.
	ErrNotFound = errors.New("api key not found")
	// ErrInvalidEmail is returned by Generate for a malformed address.
	ErrInvalidEmail = errors.New("invalid email format")
)

var (
	keyFormatRe = regexp.MustCompile(`^sk-[a-f0-9]{32}$`)
	emailRe     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Store persists key records addressed by key hash.
type Store interface {
	Create(ctx context.Context, key models.APIKey) error
	Get(ctx context.Context, keyHash string) (*models.APIKey, error)
	// Touch sets lastUsedAt and increments usageCount.
	Touch(ctx context.Context, keyHash string, at time.Time) error
	ListByEmail(ctx context.Context, email string) ([]models.APIKey, error)
	SetActive(ctx context.Context, keyHash string, active bool) error
}

// Validation is the outcome of checking a presented key.
type Validation struct {
	Valid     bool
	Email     string
	CreatedAt time.Time
	IsActive  bool
}

// Service issues and validates keys.
type Service struct {
	store  Store
	secret string
	now    func() time.Time
}

// NewService returns a Service signing keys with secret.
func NewService(store Store, secret string) *Service {
	return &Service{store: store, secret: secret, now: time.Now}
}

// ValidFormat reports whether key has the issued shape.
func ValidFormat(key string) bool {
	return keyFormatRe.MatchString(key)
}

// HashKey returns the hex SHA-256 of key, used as its storage identifier.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Generate issues a new key for email and stores its record.
func (s *Service) Generate(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if !emailRe.MatchString(email) {
		return "", ErrInvalidEmail
	}

	now := s.now()
	seed := fmt.Sprintf("%s:%d:%s:%s", email, now.UnixMilli(), uuid.NewString(), s.secret)
	sum := sha256.Sum256([]byte(seed))
	key := KeyPrefix + hex.EncodeToString(sum[:])[:32]

	record := models.APIKey{
		KeyHash:   HashKey(key),
		KeyPrefix: key[:len(KeyPrefix)+6],
		Email:     email,
		CreatedAt: now.UTC(),
		IsActive:  true,
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store api key: %w", err)
	}
	slog.Info("Generated API key.", "email", email, "keyPrefix", record.KeyPrefix)
	return key, nil
}

// Validate checks format, existence and activity of key, and records the
// use. Lookup failures are logged and reported as invalid.
func (s *Service) Validate(ctx context.Context, key string) Validation {
	if !ValidFormat(key) {
		return Validation{}
	}
	hash := HashKey(key)
	logCtx := slog.With("keyPrefix", key[:len(KeyPrefix)+6])

	record, err := s.store.Get(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logCtx.Error("Failed to look up API key.", "error", err)
		}
		return Validation{}
	}

	if err := s.store.Touch(ctx, hash, s.now().UTC()); err != nil {
		logCtx.Error("Failed to record API key usage.", "error", err)
		return Validation{}
	}

	return Validation{
		Valid:     record.IsActive,
		Email:     record.Email,
		CreatedAt: record.CreatedAt,
		IsActive:  record.IsActive,
	}
}

// ListByEmail returns the records issued to email, newest first.
func (s *Service) ListByEmail(ctx context.Context, email string) ([]models.APIKey, error) {
	keys, err := s.store.ListByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Deactivate disables key. It reports false when the key does not exist.
func (s *Service) Deactivate(ctx context.Context, key string) (bool, error) {
	if !ValidFormat(key) {
		return false, nil
	}
	err := s.store.SetActive(ctx, HashKey(key), false)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to deactivate api key: %w", err)
	}
	return true, nil
}
