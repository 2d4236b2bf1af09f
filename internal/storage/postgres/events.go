package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ticketgate/internal/domain"
)

func (s *Store) InsertEvent(ctx context.Context, ev domain.Event) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		const insertEvent = `
INSERT INTO events (id, organizer_id, title, status, currency, starts_at, ends_at, locked, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		_, err := s.exec(ctx, insertEvent,
			ev.ID, ev.OrganizerID, ev.Title, string(ev.Status), ev.Currency, ev.StartsAt, ev.EndsAt, ev.Locked, ev.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("event %s already exists: %w", ev.ID, domain.ErrInvalidState)
			}
			return fmt.Errorf("insert event: %w", err)
		}
		const insertTier = `
INSERT INTO event_tiers (event_id, name, position, base_price, capacity, per_holder_limit)
VALUES ($1, $2, $3, $4, $5, $6)`
		for i, t := range ev.Tiers {
			if _, err := s.exec(ctx, insertTier, ev.ID, t.Name, i, t.BasePrice, t.Capacity, t.PerHolderLimit); err != nil {
				if isUniqueViolation(err) {
					return domain.Invalid("tiers", "duplicate tier %q", t.Name)
				}
				return fmt.Errorf("insert tier %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	const query = `
SELECT id, organizer_id, title, status, currency, starts_at, ends_at, locked, created_at
FROM events WHERE id = $1`
	var (
		ev     domain.Event
		status string
	)
	err := s.queryRow(ctx, query, id).
		Scan(&ev.ID, &ev.OrganizerID, &ev.Title, &status, &ev.Currency, &ev.StartsAt, &ev.EndsAt, &ev.Locked, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	ev.Status = domain.EventStatus(status)
	ev.StartsAt, ev.EndsAt, ev.CreatedAt = ev.StartsAt.UTC(), ev.EndsAt.UTC(), ev.CreatedAt.UTC()

	rows, err := s.query(ctx, `SELECT name, base_price, capacity, per_holder_limit FROM event_tiers WHERE event_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Tier
		if err := rows.Scan(&t.Name, &t.BasePrice, &t.Capacity, &t.PerHolderLimit); err != nil {
			return domain.Event{}, fmt.Errorf("scan tier: %w", err)
		}
		ev.Tiers = append(ev.Tiers, t)
	}
	return ev, rows.Err()
}

func (s *Store) SetEventLocked(ctx context.Context, id string, locked bool) error {
	tag, err := s.exec(ctx, `UPDATE events SET locked = $1 WHERE id = $2`, locked, id)
	if err != nil {
		return fmt.Errorf("lock event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// ListEvents returns events, newest first, optionally for one organizer.
func (s *Store) ListEvents(ctx context.Context, organizerID string) ([]domain.Event, error) {
	rows, err := s.query(ctx, `SELECT id FROM events WHERE $1::text = '' OR organizer_id = $1::text ORDER BY created_at DESC`, organizerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := s.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
