// Package auth resolves request credentials into domain actors. Bearer
// tokens carry the actor attributes as claims; API keys are stored hashed
// with the roles granted to the gate device or integration that holds them.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ticketgate/internal/domain"
	"ticketgate/internal/events"
	"ticketgate/internal/repo"
)

// KeyPrefix marks plaintext API keys issued by ticketgate.
const KeyPrefix = "tg_"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSecretMissing      = errors.New("jwt secret not configured")
)

// Claims is the bearer token payload.
type Claims struct {
	jwt.RegisteredClaims
	Roles         []string `json:"roles,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Tier          string   `json:"tier,omitempty"`
}

// Actor builds the actor the claims describe.
func (c Claims) Actor() *domain.Actor {
	return &domain.Actor{
		ID:            c.Subject,
		Roles:         domain.NewRoleSet(c.Roles...),
		EmailVerified: c.EmailVerified,
		Tier:          domain.ParseTier(c.Tier),
	}
}

// SignToken mints an HS256 token for actor valid for ttl from now.
func SignToken(secret string, actor domain.Actor, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrSecretMissing
	}
	if actor.ID == "" {
		return "", domain.Invalid("actor_id", "is required")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:         actor.Roles.Slice(),
		EmailVerified: actor.EmailVerified,
		Tier:          actor.Tier.String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates token against secret and returns its claims.
func ParseToken(secret, token string) (Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return Claims{}, ErrSecretMissing
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := Claims{}
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: subject claim required", ErrInvalidCredentials)
	}
	return claims, nil
}

// KeyStore persists hashed API keys.
type KeyStore interface {
	events.Appender
	InsertAPIKey(ctx context.Context, key domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
	ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
}

// Service issues and resolves API keys.
type Service struct {
	Keys KeyStore
	Now  func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// CreateAPIKey stores a new key for actorID and returns the plaintext once.
func (s Service) CreateAPIKey(ctx context.Context, actorID, name string, roles []string) (string, domain.APIKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, domain.Invalid("actor_id", "is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	plain := KeyPrefix + hex.EncodeToString(buf)
	id, err := uuid.NewV7()
	if err != nil {
		return "", domain.APIKey{}, err
	}
	key := domain.APIKey{
		ID:        id.String(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		Roles:     domain.NewRoleSet(roles...).Slice(),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: s.now(),
	}
	if err := s.Keys.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	w := events.Writer{Store: s.Keys, Now: s.Now}
	if err := w.Append(ctx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{
		"name":  key.Name,
		"roles": key.Roles,
	}); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// ListAPIKeys returns stored keys, optionally for one actor. Hashes are
// cleared; they are never shown.
func (s Service) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	keys, err := s.Keys.ListAPIKeys(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// RevokeAPIKey deletes a key so it no longer authenticates.
func (s Service) RevokeAPIKey(ctx context.Context, id, revokedBy string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Invalid("id", "is required")
	}
	if err := s.Keys.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	w := events.Writer{Store: s.Keys, Now: s.Now}
	return w.Append(ctx, events.APIKeyRevoked, "api_key", id, revokedBy, nil)
}

// ActorForKey resolves a plaintext API key to the actor it was issued to.
func (s Service) ActorForKey(ctx context.Context, plain string) (*domain.Actor, error) {
	if strings.TrimSpace(plain) == "" {
		return nil, ErrInvalidCredentials
	}
	key, err := s.Keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if key.ActorID == "" {
		return nil, fmt.Errorf("%w: api key missing actor", ErrInvalidCredentials)
	}
	return &domain.Actor{
		ID:    key.ActorID,
		Roles: domain.NewRoleSet(key.Roles...),
	}, nil
}
