package engine

import (
	"context"

	"ticketgate/internal/domain"
	"ticketgate/internal/events"
	"ticketgate/internal/quota"
)

func (e Engine) namedQuota(name string) (quota.Definition, error) {
	if e.Config == nil {
		return quota.Definition{}, domain.ErrQuotaNotFound
	}
	return e.Config.Quota(name)
}

// ConsumeQuota draws amount from a configured quota for actor against
// resourceID. A denial is a normal Decision, not an error.
func (e Engine) ConsumeQuota(ctx context.Context, actor *domain.Actor, name, resourceID string, amount int64) (quota.Decision, error) {
	if actor == nil || actor.ID == "" {
		return quota.Decision{}, domain.ErrPermissionDenied
	}
	def, err := e.namedQuota(name)
	if err != nil {
		return quota.Decision{}, err
	}
	d, err := e.Quotas.Consume(ctx, def, quota.Scope{ActorID: actor.ID, ResourceID: resourceID}, e.now(), amount)
	if err != nil {
		return quota.Decision{}, err
	}
	evt := events.QuotaConsumed
	if !d.Allowed {
		evt = events.QuotaDenied
		e.logger().Info("quota denied", "quota", name, "actor", actor.ID, "resource", resourceID)
	}
	e.auditBestEffort(ctx, evt, "quota", name, actor.ID, events.EventPayload{
		"resource":  resourceID,
		"amount":    amount,
		"remaining": d.Remaining,
	})
	return d, nil
}

// PeekQuota reports the state of a configured quota without consuming it.
func (e Engine) PeekQuota(ctx context.Context, actor *domain.Actor, name, resourceID string) (quota.Decision, error) {
	if actor == nil || actor.ID == "" {
		return quota.Decision{}, domain.ErrPermissionDenied
	}
	def, err := e.namedQuota(name)
	if err != nil {
		return quota.Decision{}, err
	}
	return e.Quotas.Peek(ctx, def, quota.Scope{ActorID: actor.ID, ResourceID: resourceID}, e.now())
}
