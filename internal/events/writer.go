// Package events builds audit log entries and hands them to a store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ticketgate/internal/domain"
)

const (
	EventCreated    = "event.created"
	TicketIssued    = "ticket.issued"
	TicketCheckedIn = "ticket.checked_in"
	TicketCancelled = "ticket.cancelled"
	TicketExpired   = "ticket.expired"
	CheckInRejected = "checkin.rejected"
	PolicyDenied    = "policy.denied"
	QuotaDenied     = "quota.denied"
	QuotaConsumed   = "quota.consumed"
	APIKeyCreated   = "apikey.created"
	APIKeyRevoked   = "apikey.revoked"
)

// Appender persists one audit entry. Implementations join the transaction in
// ctx when present.
type Appender interface {
	AppendAudit(ctx context.Context, e domain.AuditEvent) error
}

type Writer struct {
	Store Appender
	Now   func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Store == nil {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Store.AppendAudit(ctx, domain.AuditEvent{
		TS:         now().UTC(),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	})
}
