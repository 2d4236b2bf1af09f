package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ticketgate/internal/domain"
)

func (s *Store) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" || key.ActorID == "" || key.KeyHash == "" {
		return domain.Invalid("api_key", "id, actor_id and key_hash are required")
	}
	roles := key.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.exec(ctx, `INSERT INTO api_keys (id, actor_id, name, roles, key_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.ActorID, nullable(key.Name), roles, key.KeyHash, key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key %s: %w", key.ID, domain.ErrInvalidState)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := s.queryRow(ctx, `SELECT id, actor_id, COALESCE(name, ''), roles, key_hash, created_at FROM api_keys WHERE key_hash = $1`, hash).
		Scan(&key.ID, &key.ActorID, &key.Name, &key.Roles, &key.KeyHash, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	key.CreatedAt = key.CreatedAt.UTC()
	return key, nil
}

// ListAPIKeys returns API keys, optionally for one actor, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	rows, err := s.query(ctx, `SELECT id, actor_id, COALESCE(name, ''), roles, key_hash, created_at FROM api_keys
WHERE $1::text = '' OR actor_id = $1::text ORDER BY created_at DESC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.Roles, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		key.CreatedAt = key.CreatedAt.UTC()
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := s.exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
