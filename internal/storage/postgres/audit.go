package postgres

import (
	"context"
	"fmt"

	"ticketgate/internal/domain"
)

func (s *Store) AppendAudit(ctx context.Context, e domain.AuditEvent) error {
	const query = `
INSERT INTO audit_events (ts, type, entity_kind, entity_id, actor_id, payload_json)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)`
	if _, err := s.exec(ctx, query, e.TS, e.Type, e.EntityKind, nullable(e.EntityID), nullable(e.ActorID), e.Payload); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, entityKind, entityID string, limit int) ([]domain.AuditEvent, error) {
	q := `SELECT id, ts, type, entity_kind, COALESCE(entity_id, ''), COALESCE(actor_id, ''), payload_json::text
FROM audit_events WHERE entity_kind = $1`
	args := []any{entityKind}
	if entityID != "" {
		args = append(args, entityID)
		q += fmt.Sprintf(` AND entity_id = $%d`, len(args))
	}
	q += ` ORDER BY id`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.TS = e.TS.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
