package server

import (
	"time"

	"ticketgate/internal/domain"
	"ticketgate/internal/engine"
	"ticketgate/internal/quota"
)

// Request payloads

type TierRequest struct {
	Name           string `json:"name"`
	BasePrice      int64  `json:"base_price" minimum:"0" doc:"Base price in minor units"`
	Capacity       int64  `json:"capacity" minimum:"1"`
	PerHolderLimit int64  `json:"per_holder_limit,omitempty" minimum:"0"`
}

type CreateEventRequest struct {
	ID       string        `json:"id,omitempty"`
	Title    string        `json:"title"`
	StartsAt time.Time     `json:"starts_at" format:"date-time"`
	EndsAt   time.Time     `json:"ends_at" format:"date-time"`
	Tiers    []TierRequest `json:"tiers" minItems:"1"`
}

type IssueTicketRequest struct {
	Tier        string `json:"tier"`
	HolderName  string `json:"holder_name"`
	HolderEmail string `json:"holder_email"`
	HolderActor string `json:"holder_actor_id,omitempty" doc:"Defaults to the authenticated actor"`
}

type CheckInRequest struct {
	Code string `json:"code"`
}

type FeeQuoteRequest struct {
	Sheet     string `json:"sheet,omitempty" doc:"Rate sheet name, defaults to events"`
	BasePrice int64  `json:"base_price" minimum:"0" doc:"Base price in minor units"`
}

type ConsumeQuotaRequest struct {
	ResourceID string `json:"resource_id,omitempty"`
	Amount     int64  `json:"amount,omitempty" minimum:"0" doc:"Defaults to 1"`
}

type DevLoginRequest struct {
	ActorID       string   `json:"actor_id"`
	Roles         []string `json:"roles,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Tier          string   `json:"tier,omitempty" enum:"free,plus,pro"`
}

// Response payloads

type EventResponse struct {
	domain.Event
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
}

type TicketListResponse struct {
	Items []domain.Ticket `json:"items"`
}

type TicketResponse struct {
	domain.Ticket
}

type SalesResponse struct {
	engine.SalesReport
}

type CancelResponse struct {
	engine.CancelResult
}

type FeeQuoteResponse struct {
	Sheet string `json:"sheet"`
	domain.PriceBreakdown
}

type QuotaResponse struct {
	Quota string `json:"quota"`
	quota.Decision
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func (r CreateEventRequest) options() engine.CreateEventOptions {
	tiers := make([]domain.Tier, 0, len(r.Tiers))
	for _, t := range r.Tiers {
		tiers = append(tiers, domain.Tier{
			Name:           t.Name,
			BasePrice:      t.BasePrice,
			Capacity:       t.Capacity,
			PerHolderLimit: t.PerHolderLimit,
		})
	}
	return engine.CreateEventOptions{
		ID:       r.ID,
		Title:    r.Title,
		StartsAt: r.StartsAt,
		EndsAt:   r.EndsAt,
		Tiers:    tiers,
	}
}

func (r IssueTicketRequest) options(eventID string, actor *domain.Actor) engine.IssueTicketOptions {
	holder := domain.Holder{Name: r.HolderName, Email: r.HolderEmail, ActorID: r.HolderActor}
	if holder.ActorID == "" && actor != nil {
		holder.ActorID = actor.ID
	}
	return engine.IssueTicketOptions{EventID: eventID, Tier: r.Tier, Holder: holder}
}
