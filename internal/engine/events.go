package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticketgate/internal/config"
	"ticketgate/internal/domain"
	"ticketgate/internal/events"
	"ticketgate/internal/fees"
	"ticketgate/internal/policy"
	"ticketgate/internal/quota"
)

// QuotaEventsCreate caps events per organizer per calendar month.
const QuotaEventsCreate = "events.create"

// CreateEventOptions are parameters for creating an event.
type CreateEventOptions struct {
	ID       string
	Title    string
	StartsAt time.Time
	EndsAt   time.Time
	Tiers    []domain.Tier
}

func (e Engine) eventQuota(rates domain.RateSheet) quota.Definition {
	return quota.Definition{
		Name:     QuotaEventsCreate,
		Window:   quota.WindowMonth,
		Limit:    rates.MaxEventsPerActorPerMonth,
		Scope:    quota.ScopeActor,
		Location: e.location(),
	}
}

func validateEvent(opts CreateEventOptions, rates domain.RateSheet, now time.Time) error {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Invalid("title", "title required")
	}
	if opts.StartsAt.IsZero() {
		return domain.Invalid("starts_at", "start time required")
	}
	if !opts.EndsAt.After(opts.StartsAt) {
		return domain.Invalid("ends_at", "event must end after it starts")
	}
	if len(opts.Tiers) == 0 {
		return domain.Invalid("tiers", "at least one tier required")
	}
	seen := map[string]bool{}
	for i, t := range opts.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			return domain.Invalid(field+".name", "tier name required")
		}
		if seen[t.Name] {
			return domain.Invalid(field+".name", "duplicate tier %s", t.Name)
		}
		seen[t.Name] = true
		if t.Capacity <= 0 {
			return domain.Invalid(field+".capacity", "capacity must be positive")
		}
		if t.PerHolderLimit < 0 {
			return domain.Invalid(field+".per_holder_limit", "must not be negative")
		}
		if !fees.IsValidPrice(t.BasePrice, rates.MinPrice, rates.MaxPrice) {
			return domain.Invalid(field+".base_price", "price %s outside [%s, %s]",
				domain.NewMoney(t.BasePrice, rates.Currency), domain.NewMoney(rates.MinPrice, rates.Currency), domain.NewMoney(rates.MaxPrice, rates.Currency))
		}
	}
	if !fees.IsLeadTimeSatisfied(opts.StartsAt, now, rates.LeadTimeDays) {
		return domain.Invalid("starts_at", "events must be created at least %d days ahead", rates.LeadTimeDays)
	}
	return nil
}

// CreateEvent publishes a new event for actor. The monthly creation quota is
// consumed last so rejected input never uses it up.
func (e Engine) CreateEvent(ctx context.Context, actor *domain.Actor, opts CreateEventOptions) (domain.Event, error) {
	if err := e.authorize(ctx, policy.ActionEventCreate, actor, nil, "event", opts.ID); err != nil {
		return domain.Event{}, err
	}
	rates, err := e.rates(config.SheetEvents)
	if err != nil {
		return domain.Event{}, err
	}
	now := e.now()
	if err := validateEvent(opts, rates, now); err != nil {
		return domain.Event{}, err
	}
	ev := domain.Event{
		ID:          opts.ID,
		OrganizerID: actor.ID,
		Title:       strings.TrimSpace(opts.Title),
		Status:      domain.EventPublished,
		Currency:    rates.Currency,
		StartsAt:    opts.StartsAt.UTC(),
		EndsAt:      opts.EndsAt.UTC(),
		Tiers:       opts.Tiers,
		CreatedAt:   now,
	}
	if ev.ID == "" {
		ev.ID = newID()
	}
	var decision quota.Decision
	err = e.Store.WithTx(ctx, func(ctx context.Context) error {
		d, err := e.Quotas.Require(ctx, e.eventQuota(rates), quota.Scope{ActorID: actor.ID}, now)
		decision = d
		if err != nil {
			return err
		}
		if err := e.Store.InsertEvent(ctx, ev); err != nil {
			return err
		}
		return e.writer().Append(ctx, events.EventCreated, "event", ev.ID, actor.ID, events.EventPayload{
			"title":           ev.Title,
			"starts_at":       ev.StartsAt,
			"tiers":           len(ev.Tiers),
			"quota_remaining": decision.Remaining,
		})
	})
	if errors.Is(err, domain.ErrQuotaExceeded) {
		e.logger().Info("event quota exceeded", "actor", actor.ID, "reset_at", decision.ResetAt)
		e.auditBestEffort(ctx, events.QuotaDenied, "event", ev.ID, actor.ID, events.EventPayload{
			"quota":    QuotaEventsCreate,
			"reset_at": decision.ResetAt,
		})
	}
	if err != nil {
		return domain.Event{}, err
	}
	e.logger().Info("event created", "event_id", ev.ID, "organizer", actor.ID)
	return ev, nil
}

// GetEvent loads an event visible to actor.
func (e Engine) GetEvent(ctx context.Context, actor *domain.Actor, id string) (domain.Event, error) {
	ev, err := e.Store.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	if err := e.authorize(ctx, policy.ActionEventView, actor, ev.Resource(), "event", ev.ID); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// ListEvents returns the events actor may view, newest first. A non-empty
// organizerID narrows the listing to that organizer.
func (e Engine) ListEvents(ctx context.Context, actor *domain.Actor, organizerID string) ([]domain.Event, error) {
	all, err := e.Store.ListEvents(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]domain.Event, 0, len(all))
	for _, ev := range all {
		if e.Policy.Evaluate(policy.ActionEventView, actor, ev.Resource(), now) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// EventTickets lists the tickets sold for an event to its organizer.
func (e Engine) EventTickets(ctx context.Context, actor *domain.Actor, id string) ([]domain.Ticket, error) {
	ev, err := e.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, policy.ActionEventReport, actor, ev.Resource(), "event", ev.ID); err != nil {
		return nil, err
	}
	return e.Store.ListTickets(ctx, ev.ID)
}

// SalesReport is the organizer view of an event's sales and settlement.
type SalesReport struct {
	Sales  domain.SalesSummary `json:"sales"`
	Payout fees.Payout         `json:"payout"`
}

// EventSales reports sales of an event and the payout estimated over the
// revenue kept after refunds.
func (e Engine) EventSales(ctx context.Context, actor *domain.Actor, id string) (SalesReport, error) {
	ev, err := e.Store.GetEvent(ctx, id)
	if err != nil {
		return SalesReport{}, err
	}
	if err := e.authorize(ctx, policy.ActionEventReport, actor, ev.Resource(), "event", ev.ID); err != nil {
		return SalesReport{}, err
	}
	rates, err := e.rates(config.SheetEvents)
	if err != nil {
		return SalesReport{}, err
	}
	sales, err := e.Store.EventSales(ctx, ev)
	if err != nil {
		return SalesReport{}, err
	}
	payout, err := fees.PayoutFromRevenue(sales.Net(), rates)
	if err != nil {
		return SalesReport{}, err
	}
	return SalesReport{Sales: sales, Payout: payout}, nil
}

// QuoteFees prices base (in minor units) against the named rate sheet.
func (e Engine) QuoteFees(sheet string, base int64) (domain.PriceBreakdown, error) {
	if sheet == "" {
		sheet = config.SheetEvents
	}
	rates, err := e.rates(sheet)
	if err != nil {
		return domain.PriceBreakdown{}, err
	}
	return fees.ForwardPricing(domain.NewMoney(base, rates.Currency), rates)
}
