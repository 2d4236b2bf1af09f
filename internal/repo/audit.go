package repo

import (
	"context"
	"fmt"

	"ticketgate/internal/domain"
)

// AppendAudit writes one audit entry.
func (r Repo) AppendAudit(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.exec(ctx, `INSERT INTO audit_events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		formatTime(e.TS), e.Type, e.EntityKind, nullable(e.EntityID), nullable(e.ActorID), e.Payload)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for an entity in append order. An empty
// entityID lists every entry of the kind.
func (r Repo) ListAudit(ctx context.Context, entityKind, entityID string, limit int) ([]domain.AuditEvent, error) {
	q := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),COALESCE(actor_id,''),payload_json FROM audit_events WHERE entity_kind=?`
	args := []any{entityKind}
	if entityID != "" {
		q += ` AND entity_id=?`
		args = append(args, entityID)
	}
	q += ` ORDER BY id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if e.TS, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
