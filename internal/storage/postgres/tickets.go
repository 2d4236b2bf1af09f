package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ticketgate/internal/domain"
)

const ticketColumns = `id, event_id, tier, holder_name, holder_email, COALESCE(holder_actor_id, ''), code, status, currency,
base_price, commission, processing_fee, total, artist_receives, refund_amount, checked_in_at, cancelled_at, created_at`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		t                                       domain.Ticket
		status, currency                        string
		base, commission, processing, total, ar int64
		refund                                  *int64
	)
	err := row.Scan(&t.ID, &t.EventID, &t.Tier, &t.Holder.Name, &t.Holder.Email, &t.Holder.ActorID, &t.Code, &status, &currency,
		&base, &commission, &processing, &total, &ar, &refund, &t.CheckedInAt, &t.CancelledAt, &t.CreatedAt)
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Status = domain.TicketStatus(status)
	t.Price = domain.PriceBreakdown{
		Base:           domain.NewMoney(base, currency),
		Commission:     domain.NewMoney(commission, currency),
		ProcessingFee:  domain.NewMoney(processing, currency),
		Total:          domain.NewMoney(total, currency),
		ArtistReceives: domain.NewMoney(ar, currency),
	}
	if refund != nil {
		m := domain.NewMoney(*refund, currency)
		t.Refund = &m
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (s *Store) InsertTicket(ctx context.Context, t domain.Ticket) error {
	const query = `
INSERT INTO tickets (id, event_id, tier, holder_name, holder_email, holder_actor_id, code, status, currency,
	base_price, commission, processing_fee, total, artist_receives, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := s.exec(ctx, query,
		t.ID, t.EventID, t.Tier, t.Holder.Name, t.Holder.Email, nullable(t.Holder.ActorID), t.Code, string(t.Status), t.Price.Total.Currency,
		t.Price.Base.Amount, t.Price.Commission.Amount, t.Price.ProcessingFee.Amount, t.Price.Total.Amount, t.Price.ArtistReceives.Amount,
		t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ticket %s: %w", t.ID, domain.ErrConcurrencyConflict)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	t, err := scanTicket(s.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *Store) GetTicketByCode(ctx context.Context, code string) (domain.Ticket, error) {
	t, err := scanTicket(s.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket by code: %w", err)
	}
	return t, nil
}

// ListTickets returns the tickets of an event in issue order.
func (s *Store) ListTickets(ctx context.Context, eventID string) ([]domain.Ticket, error) {
	rows, err := s.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionTicket is a compare-and-set on status; see repo.Repo.
func (s *Store) TransitionTicket(ctx context.Context, id string, from, to domain.TicketStatus, at time.Time, refund *domain.Money) (bool, error) {
	var (
		tagErr error
		n      int64
	)
	switch to {
	case domain.TicketUsed:
		tag, err := s.exec(ctx, `UPDATE tickets SET status = $1, checked_in_at = $2 WHERE id = $3 AND status = $4`,
			string(to), at, id, string(from))
		n, tagErr = tag.RowsAffected(), err
	case domain.TicketCancelled:
		var amount *int64
		if refund != nil {
			amount = &refund.Amount
		}
		tag, err := s.exec(ctx, `UPDATE tickets SET status = $1, cancelled_at = $2, refund_amount = $3 WHERE id = $4 AND status = $5`,
			string(to), at, amount, id, string(from))
		n, tagErr = tag.RowsAffected(), err
	default:
		tag, err := s.exec(ctx, `UPDATE tickets SET status = $1 WHERE id = $2 AND status = $3`, string(to), id, string(from))
		n, tagErr = tag.RowsAffected(), err
	}
	if tagErr != nil {
		return false, fmt.Errorf("transition ticket %s->%s: %w", from, to, tagErr)
	}
	return n == 1, nil
}

func (s *Store) EventSales(ctx context.Context, ev domain.Event) (domain.SalesSummary, error) {
	sum := domain.SalesSummary{
		EventID:  ev.ID,
		ByTier:   map[string]int64{},
		Revenue:  domain.NewMoney(0, ev.Currency),
		Refunded: domain.NewMoney(0, ev.Currency),
	}
	const query = `
SELECT tier, status, COUNT(*), COALESCE(SUM(total), 0)::bigint, COALESCE(SUM(refund_amount), 0)::bigint
FROM tickets WHERE event_id = $1 GROUP BY tier, status`
	rows, err := s.query(ctx, query, ev.ID)
	if err != nil {
		return sum, fmt.Errorf("event sales: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tier, status           string
			count, total, refunded int64
		)
		if err := rows.Scan(&tier, &status, &count, &total, &refunded); err != nil {
			return sum, fmt.Errorf("scan sales: %w", err)
		}
		sum.Add(domain.TicketStatus(status), tier, count, total, refunded)
	}
	return sum, rows.Err()
}
