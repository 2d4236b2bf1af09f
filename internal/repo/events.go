package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketgate/internal/domain"
)

// InsertEvent stores an event with its tiers.
func (r Repo) InsertEvent(ctx context.Context, ev domain.Event) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.exec(ctx, `INSERT INTO events(id,organizer_id,title,status,currency,starts_at,ends_at,locked,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			ev.ID, ev.OrganizerID, ev.Title, string(ev.Status), ev.Currency, formatTime(ev.StartsAt), formatTime(ev.EndsAt), ev.Locked, formatTime(ev.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		for i, t := range ev.Tiers {
			_, err := r.exec(ctx, `INSERT INTO event_tiers(event_id,name,position,base_price,capacity,per_holder_limit) VALUES (?,?,?,?,?,?)`,
				ev.ID, t.Name, i, t.BasePrice, t.Capacity, t.PerHolderLimit)
			if err != nil {
				return fmt.Errorf("insert tier %s: %w", t.Name, err)
			}
		}
		return nil
	})
}

// GetEvent loads an event with its tiers in declaration order.
func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	var (
		ev                        domain.Event
		status                    string
		startsAt, endsAt, created string
	)
	err := r.queryRow(ctx, `SELECT id,organizer_id,title,status,currency,starts_at,ends_at,locked,created_at FROM events WHERE id=?`, id).
		Scan(&ev.ID, &ev.OrganizerID, &ev.Title, &status, &ev.Currency, &startsAt, &endsAt, &ev.Locked, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	ev.Status = domain.EventStatus(status)
	if ev.StartsAt, err = parseTime(startsAt); err != nil {
		return domain.Event{}, err
	}
	if ev.EndsAt, err = parseTime(endsAt); err != nil {
		return domain.Event{}, err
	}
	if ev.CreatedAt, err = parseTime(created); err != nil {
		return domain.Event{}, err
	}
	rows, err := r.query(ctx, `SELECT name,base_price,capacity,per_holder_limit FROM event_tiers WHERE event_id=? ORDER BY position`, id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Tier
		if err := rows.Scan(&t.Name, &t.BasePrice, &t.Capacity, &t.PerHolderLimit); err != nil {
			return domain.Event{}, err
		}
		ev.Tiers = append(ev.Tiers, t)
	}
	return ev, rows.Err()
}

// ListEvents returns events, newest first, optionally for one organizer.
func (r Repo) ListEvents(ctx context.Context, organizerID string) ([]domain.Event, error) {
	q := `SELECT id FROM events`
	var args []any
	if organizerID != "" {
		q += ` WHERE organizer_id=?`
		args = append(args, organizerID)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := r.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// SetEventLocked toggles the sales lock of an event.
func (r Repo) SetEventLocked(ctx context.Context, id string, locked bool) error {
	res, err := r.exec(ctx, `UPDATE events SET locked=? WHERE id=?`, locked, id)
	if err != nil {
		return fmt.Errorf("lock event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
