package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"ticketgate/internal/config"
	"ticketgate/internal/domain"
	"ticketgate/internal/events"
	"ticketgate/internal/fees"
	"ticketgate/internal/policy"
	"ticketgate/internal/quota"
)

// IssueTicketOptions are parameters for selling one ticket.
type IssueTicketOptions struct {
	EventID string
	Tier    string
	Holder  domain.Holder
}

// tierQuota caps a tier at its capacity and each holder at its per-holder
// limit, both counted in one step.
func (e Engine) tierQuota(tier domain.Tier) quota.Definition {
	perHolder := tier.PerHolderLimit
	if perHolder == 0 && e.Config != nil {
		perHolder = e.Config.Tickets.DefaultPerHolderLimit
	}
	return quota.Definition{
		Name:          "tickets",
		Window:        quota.WindowGlobalAndActor,
		Limit:         tier.Capacity,
		PerActorLimit: perHolder,
		Scope:         quota.ScopeActorResource,
	}
}

// holderKey is the per-holder counter key: the holder's actor id, or the
// lower-cased email for guest purchases.
func holderKey(h domain.Holder) string {
	if h.ActorID != "" {
		return h.ActorID
	}
	return strings.ToLower(h.Email)
}

// resolveHolderActor binds the holder to the buyer. Only admins may issue a
// ticket to another actor.
func resolveHolderActor(actor *domain.Actor, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	self := actorID(actor)
	if requested == "" || requested == self {
		return self, nil
	}
	if actor != nil && actor.Roles.Has(domain.RoleAdmin) {
		return requested, nil
	}
	return "", fmt.Errorf("holder actor must be the buyer: %w", domain.ErrPermissionDenied)
}

func validateHolder(h domain.Holder) error {
	if strings.TrimSpace(h.Name) == "" {
		return domain.Invalid("holder.name", "holder name required")
	}
	if _, err := mail.ParseAddress(h.Email); err != nil {
		return domain.Invalid("holder.email", "invalid email %q", h.Email)
	}
	return nil
}

// IssueTicket sells one ticket of a tier. The event must be on sale and the
// tier and holder caps must have room.
func (e Engine) IssueTicket(ctx context.Context, actor *domain.Actor, opts IssueTicketOptions) (domain.Ticket, error) {
	ev, err := e.Store.GetEvent(ctx, opts.EventID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.authorize(ctx, policy.ActionEventSell, actor, ev.Resource(), "event", ev.ID); err != nil {
		return domain.Ticket{}, err
	}
	tier, ok := ev.Tier(opts.Tier)
	if !ok {
		return domain.Ticket{}, fmt.Errorf("%s: %w", opts.Tier, domain.ErrTierNotFound)
	}
	holder := opts.Holder
	holder.Name = strings.TrimSpace(holder.Name)
	holder.Email = strings.TrimSpace(holder.Email)
	if holder.ActorID, err = resolveHolderActor(actor, holder.ActorID); err != nil {
		e.auditBestEffort(ctx, events.PolicyDenied, "event", ev.ID, actorID(actor), events.EventPayload{
			"action":       policy.ActionEventSell,
			"holder_actor": opts.Holder.ActorID,
		})
		return domain.Ticket{}, err
	}
	if err := validateHolder(holder); err != nil {
		return domain.Ticket{}, err
	}
	rates, err := e.rates(config.SheetEvents)
	if err != nil {
		return domain.Ticket{}, err
	}
	price, err := fees.ForwardPricing(domain.NewMoney(tier.BasePrice, ev.Currency), rates)
	if err != nil {
		return domain.Ticket{}, err
	}
	code, err := newTicketCode()
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket code: %w", err)
	}
	now := e.now()
	t := domain.Ticket{
		ID:        newID(),
		EventID:   ev.ID,
		Tier:      tier.Name,
		Holder:    holder,
		Code:      code,
		Status:    domain.TicketValid,
		Price:     price,
		CreatedAt: now,
	}
	scope := quota.Scope{ActorID: holderKey(holder), ResourceID: ev.ID + "/" + tier.Name}
	def := e.tierQuota(tier)
	err = e.Store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.Quotas.Require(ctx, def, scope, now); err != nil {
			return err
		}
		if err := e.Store.InsertTicket(ctx, t); err != nil {
			return err
		}
		return e.writer().Append(ctx, events.TicketIssued, "ticket", t.ID, actorID(actor), events.EventPayload{
			"event_id": ev.ID,
			"tier":     tier.Name,
			"total":    price.Total.Amount,
		})
	})
	if errors.Is(err, domain.ErrQuotaExceeded) {
		e.logger().Info("ticket quota exceeded", "event_id", ev.ID, "tier", tier.Name, "holder", scope.ActorID)
		e.auditBestEffort(ctx, events.QuotaDenied, "event", ev.ID, actorID(actor), events.EventPayload{
			"quota": def.Name,
			"tier":  tier.Name,
		})
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// loadTicket reads a ticket with its event.
func (e Engine) loadTicket(ctx context.Context, id string, byCode bool) (domain.Ticket, domain.Event, error) {
	var (
		t   domain.Ticket
		err error
	)
	if byCode {
		t, err = e.Store.GetTicketByCode(ctx, id)
	} else {
		t, err = e.Store.GetTicket(ctx, id)
	}
	if err != nil {
		return domain.Ticket{}, domain.Event{}, err
	}
	ev, err := e.Store.GetEvent(ctx, t.EventID)
	if err != nil {
		return domain.Ticket{}, domain.Event{}, err
	}
	return t, ev, nil
}

// expireIfEnded applies the passive valid -> expired transition once the
// event is over. It reports whether t is expired on return and refreshes t
// when another caller changed it first.
func (e Engine) expireIfEnded(ctx context.Context, t *domain.Ticket, ev domain.Event) (bool, error) {
	now := e.now()
	if t.Status != domain.TicketValid || !now.After(ev.EndsAt) {
		return t.Status == domain.TicketExpired, nil
	}
	ok, err := e.Store.TransitionTicket(ctx, t.ID, domain.TicketValid, domain.TicketExpired, now, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		fresh, err := e.Store.GetTicket(ctx, t.ID)
		if err != nil {
			return false, err
		}
		*t = fresh
		return t.Status == domain.TicketExpired, nil
	}
	t.Status = domain.TicketExpired
	e.auditBestEffort(ctx, events.TicketExpired, "ticket", t.ID, "", events.EventPayload{"event_id": ev.ID})
	return true, nil
}

// GetTicket returns a ticket visible to actor with lazy expiry applied.
func (e Engine) GetTicket(ctx context.Context, actor *domain.Actor, id string) (domain.Ticket, error) {
	t, ev, err := e.loadTicket(ctx, id, false)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.authorize(ctx, policy.ActionTicketView, actor, t.Resource(ev), "ticket", t.ID); err != nil {
		return domain.Ticket{}, err
	}
	if _, err := e.expireIfEnded(ctx, &t, ev); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// LookupTicket resolves a ticket by its code without admitting it.
func (e Engine) LookupTicket(ctx context.Context, actor *domain.Actor, code string) (domain.Ticket, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Ticket{}, domain.Invalid("code", "ticket code required")
	}
	t, ev, err := e.loadTicket(ctx, code, true)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := e.authorize(ctx, policy.ActionTicketView, actor, t.Resource(ev), "ticket", t.ID); err != nil {
		return domain.Ticket{}, err
	}
	if _, err := e.expireIfEnded(ctx, &t, ev); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// CheckIn admits the holder of code exactly once. Concurrent scans of the
// same code race on one conditional write; losers get ErrAlreadyCheckedIn.
func (e Engine) CheckIn(ctx context.Context, actor *domain.Actor, code string) (domain.Ticket, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Ticket{}, domain.Invalid("code", "ticket code required")
	}
	t, ev, err := e.loadTicket(ctx, code, true)
	if err != nil {
		if errors.Is(err, domain.ErrTicketNotFound) {
			e.logger().Info("check-in rejected", "reason", "unknown code", "actor", actorID(actor))
		}
		return domain.Ticket{}, err
	}
	if err := e.authorize(ctx, policy.ActionTicketCheckIn, actor, t.Resource(ev), "ticket", t.ID); err != nil {
		return domain.Ticket{}, err
	}
	expired, err := e.expireIfEnded(ctx, &t, ev)
	if err != nil {
		return domain.Ticket{}, err
	}
	if expired {
		return domain.Ticket{}, e.rejectCheckIn(ctx, actor, t, domain.ErrTicketNotValid)
	}
	now := e.now()
	ok, err := e.Store.TransitionTicket(ctx, t.ID, domain.TicketValid, domain.TicketUsed, now, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !ok {
		fresh, err := e.Store.GetTicket(ctx, t.ID)
		if err != nil {
			return domain.Ticket{}, err
		}
		return domain.Ticket{}, e.rejectCheckIn(ctx, actor, fresh, checkInError(fresh.Status))
	}
	t.Status = domain.TicketUsed
	t.CheckedInAt = &now
	e.auditBestEffort(ctx, events.TicketCheckedIn, "ticket", t.ID, actorID(actor), events.EventPayload{
		"event_id": ev.ID,
		"tier":     t.Tier,
	})
	return t, nil
}

func checkInError(status domain.TicketStatus) error {
	switch status {
	case domain.TicketUsed:
		return domain.ErrAlreadyCheckedIn
	case domain.TicketCancelled, domain.TicketExpired:
		return domain.ErrTicketNotValid
	default:
		return domain.ErrConcurrencyConflict
	}
}

func (e Engine) rejectCheckIn(ctx context.Context, actor *domain.Actor, t domain.Ticket, reason error) error {
	e.logger().Info("check-in rejected", "ticket_id", t.ID, "status", t.Status, "reason", reason.Error())
	e.auditBestEffort(ctx, events.CheckInRejected, "ticket", t.ID, actorID(actor), events.EventPayload{
		"status": string(t.Status),
		"reason": reason.Error(),
	})
	return reason
}

// CancelResult is the outcome of a cancellation.
type CancelResult struct {
	Ticket     domain.Ticket `json:"ticket"`
	Refund     domain.Money  `json:"refund"`
	Refundable bool          `json:"refundable"`
}

// CancelTicket cancels a valid ticket. Inside the cancellation period the
// ticket is still cancelled but nothing is refunded.
func (e Engine) CancelTicket(ctx context.Context, actor *domain.Actor, id string) (CancelResult, error) {
	t, ev, err := e.loadTicket(ctx, id, false)
	if err != nil {
		return CancelResult{}, err
	}
	if err := e.authorize(ctx, policy.ActionTicketCancel, actor, t.Resource(ev), "ticket", t.ID); err != nil {
		return CancelResult{}, err
	}
	if _, err := e.expireIfEnded(ctx, &t, ev); err != nil {
		return CancelResult{}, err
	}
	if t.Status != domain.TicketValid {
		return CancelResult{}, fmt.Errorf("ticket is %s: %w", t.Status, domain.ErrNotCancellable)
	}
	rates, err := e.rates(config.SheetEvents)
	if err != nil {
		return CancelResult{}, err
	}
	now := e.now()
	res := CancelResult{Refund: domain.NewMoney(0, t.Price.Total.Currency)}
	if fees.IsRefundAllowed(ev.StartsAt, now, rates.CancellationPeriodHours) {
		refund, err := fees.RefundAmount(t.Price.Total, rates.RefundFeeRate)
		if err != nil {
			return CancelResult{}, err
		}
		res.Refund = refund
		res.Refundable = true
	}
	err = e.Store.WithTx(ctx, func(ctx context.Context) error {
		ok, err := e.Store.TransitionTicket(ctx, t.ID, domain.TicketValid, domain.TicketCancelled, now, &res.Refund)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ticket changed concurrently: %w", domain.ErrNotCancellable)
		}
		return e.writer().Append(ctx, events.TicketCancelled, "ticket", t.ID, actorID(actor), events.EventPayload{
			"event_id":   ev.ID,
			"refund":     res.Refund.Amount,
			"refundable": res.Refundable,
		})
	})
	if err != nil {
		return CancelResult{}, err
	}
	t.Status = domain.TicketCancelled
	t.CancelledAt = &now
	refund := res.Refund
	t.Refund = &refund
	res.Ticket = t
	return res, nil
}
