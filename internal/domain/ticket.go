package domain

import "time"

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

type Tier struct {
	Name           string `json:"name"`
	BasePrice      int64  `json:"base_price" doc:"Base price in minor units"`
	Capacity       int64  `json:"capacity"`
	PerHolderLimit int64  `json:"per_holder_limit"`
}

type Event struct {
	ID          string      `json:"id"`
	OrganizerID string      `json:"organizer_id"`
	Title       string      `json:"title"`
	Status      EventStatus `json:"status" enum:"draft,published,cancelled"`
	Currency    string      `json:"currency"`
	StartsAt    time.Time   `json:"starts_at" format:"date-time"`
	EndsAt      time.Time   `json:"ends_at" format:"date-time"`
	Locked      bool        `json:"locked"`
	Tiers       []Tier      `json:"tiers"`
	CreatedAt   time.Time   `json:"created_at" format:"date-time"`
}

// Tier returns the named tier.
func (e Event) Tier(name string) (Tier, bool) {
	for _, t := range e.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// Resource snapshots the event for policy evaluation.
func (e Event) Resource() EventResource {
	return EventResource{Snapshot{
		ID:        e.ID,
		Owner:     e.OrganizerID,
		Status:    string(e.Status),
		CreatedAt: e.CreatedAt,
		StartsAt:  e.StartsAt,
		EndsAt:    e.EndsAt,
		Locked:    e.Locked,
	}}
}

type Holder struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	ActorID string `json:"actor_id,omitempty"`
}

type Ticket struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	Tier        string         `json:"tier"`
	Holder      Holder         `json:"holder"`
	Code        string         `json:"code"`
	Status      TicketStatus   `json:"status" enum:"valid,used,cancelled,expired"`
	Price       PriceBreakdown `json:"price"`
	Refund      *Money         `json:"refund,omitempty"`
	CheckedInAt *time.Time     `json:"checked_in_at,omitempty" format:"date-time"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty" format:"date-time"`
	CreatedAt   time.Time      `json:"created_at" format:"date-time"`
}

// Resource snapshots the ticket for policy evaluation. The holder owns the
// ticket and the event organizer is the parent owner.
func (t Ticket) Resource(ev Event) TicketResource {
	return TicketResource{Snapshot{
		ID:          t.ID,
		Owner:       t.Holder.ActorID,
		ParentOwner: ev.OrganizerID,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		StartsAt:    ev.StartsAt,
		EndsAt:      ev.EndsAt,
	}}
}

// SalesSummary aggregates tickets of one event.
type SalesSummary struct {
	EventID   string           `json:"event_id"`
	Sold      int64            `json:"sold"`
	CheckedIn int64            `json:"checked_in"`
	Cancelled int64            `json:"cancelled"`
	ByTier    map[string]int64 `json:"by_tier"`
	Revenue   Money            `json:"revenue"`
	Refunded  Money            `json:"refunded"`
}

// Add folds one aggregated row of tickets into the summary.
func (s *SalesSummary) Add(status TicketStatus, tier string, count, total, refunded int64) {
	if s.ByTier == nil {
		s.ByTier = map[string]int64{}
	}
	s.Sold += count
	s.ByTier[tier] += count
	s.Revenue.Amount += total
	s.Refunded.Amount += refunded
	switch status {
	case TicketUsed:
		s.CheckedIn += count
	case TicketCancelled:
		s.Cancelled += count
	}
}

// Net is revenue less refunds paid out.
func (s SalesSummary) Net() Money {
	return s.Revenue.Sub(s.Refunded)
}
