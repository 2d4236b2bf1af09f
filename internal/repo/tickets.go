package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketgate/internal/domain"
)

const ticketColumns = `id,event_id,tier,holder_name,holder_email,COALESCE(holder_actor_id,''),code,status,currency,base_price,commission,processing_fee,total,artist_receives,refund_amount,checked_in_at,cancelled_at,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var (
		t                                       domain.Ticket
		status, currency, created               string
		base, commission, processing, total, ar int64
		refund                                  sql.NullInt64
		checkedIn, cancelled                    sql.NullString
	)
	err := row.Scan(&t.ID, &t.EventID, &t.Tier, &t.Holder.Name, &t.Holder.Email, &t.Holder.ActorID, &t.Code, &status, &currency,
		&base, &commission, &processing, &total, &ar, &refund, &checkedIn, &cancelled, &created)
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
	if refund.Valid {
		m := domain.NewMoney(refund.Int64, currency)
		t.Refund = &m
	}
	if t.CheckedInAt, err = parseNullTime(checkedIn); err != nil {
		return domain.Ticket{}, err
	}
	if t.CancelledAt, err = parseNullTime(cancelled); err != nil {
		return domain.Ticket{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func (r Repo) InsertTicket(ctx context.Context, t domain.Ticket) error {
	var refund any
	if t.Refund != nil {
		refund = t.Refund.Amount
	}
	_, err := r.exec(ctx, `INSERT INTO tickets(id,event_id,tier,holder_name,holder_email,holder_actor_id,code,status,currency,base_price,commission,processing_fee,total,artist_receives,refund_amount,checked_in_at,cancelled_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.EventID, t.Tier, t.Holder.Name, t.Holder.Email, nullable(t.Holder.ActorID), t.Code, string(t.Status), t.Price.Total.Currency,
		t.Price.Base.Amount, t.Price.Commission.Amount, t.Price.ProcessingFee.Amount, t.Price.Total.Amount, t.Price.ArtistReceives.Amount,
		refund, nullableTime(t.CheckedInAt), nullableTime(t.CancelledAt), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	t, err := scanTicket(r.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (r Repo) GetTicketByCode(ctx context.Context, code string) (domain.Ticket, error) {
	t, err := scanTicket(r.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code=?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("get ticket by code: %w", err)
	}
	return t, nil
}

// ListTickets returns the tickets of an event in issue order.
func (r Repo) ListTickets(ctx context.Context, eventID string) ([]domain.Ticket, error) {
	rows, err := r.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE event_id=? ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionTicket moves a ticket from one status to another only if it is
// still in from. It reports whether this call made the change. Entering
// used stamps checked_in_at and entering cancelled stamps cancelled_at and
// the refund.
func (r Repo) TransitionTicket(ctx context.Context, id string, from, to domain.TicketStatus, at time.Time, refund *domain.Money) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch to {
	case domain.TicketUsed:
		res, err = r.exec(ctx, `UPDATE tickets SET status=?, checked_in_at=? WHERE id=? AND status=?`,
			string(to), formatTime(at), id, string(from))
	case domain.TicketCancelled:
		var amount any
		if refund != nil {
			amount = refund.Amount
		}
		res, err = r.exec(ctx, `UPDATE tickets SET status=?, cancelled_at=?, refund_amount=? WHERE id=? AND status=?`,
			string(to), formatTime(at), amount, id, string(from))
	default:
		res, err = r.exec(ctx, `UPDATE tickets SET status=? WHERE id=? AND status=?`, string(to), id, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("transition ticket %s->%s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// EventSales aggregates the tickets of an event.
func (r Repo) EventSales(ctx context.Context, ev domain.Event) (domain.SalesSummary, error) {
	sum := domain.SalesSummary{
		EventID:  ev.ID,
		ByTier:   map[string]int64{},
		Revenue:  domain.NewMoney(0, ev.Currency),
		Refunded: domain.NewMoney(0, ev.Currency),
	}
	rows, err := r.query(ctx, `SELECT tier,status,COUNT(*),COALESCE(SUM(total),0),COALESCE(SUM(refund_amount),0) FROM tickets WHERE event_id=? GROUP BY tier,status`, ev.ID)
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
			return sum, err
		}
		sum.Add(domain.TicketStatus(status), tier, count, total, refunded)
	}
	return sum, rows.Err()
}
