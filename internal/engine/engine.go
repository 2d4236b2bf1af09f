// Package engine runs the ticket lifecycle on top of the policy evaluator,
// the quota ledger and the fee rules. Each operation authorizes first, then
// performs its writes in one store transaction and appends audit entries.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticketgate/internal/config"
	"ticketgate/internal/domain"
	"ticketgate/internal/events"
	"ticketgate/internal/policy"
	"ticketgate/internal/quota"
)

// Store is the persistence the engine needs. Methods join the transaction
// carried by ctx when called inside WithTx.
type Store interface {
	events.Appender
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertEvent(ctx context.Context, ev domain.Event) error
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	ListEvents(ctx context.Context, organizerID string) ([]domain.Event, error)
	InsertTicket(ctx context.Context, t domain.Ticket) error
	GetTicket(ctx context.Context, id string) (domain.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (domain.Ticket, error)
	ListTickets(ctx context.Context, eventID string) ([]domain.Ticket, error)
	TransitionTicket(ctx context.Context, id string, from, to domain.TicketStatus, at time.Time, refund *domain.Money) (bool, error)
	EventSales(ctx context.Context, ev domain.Event) (domain.SalesSummary, error)
}

type Engine struct {
	Store  Store
	Policy *policy.Evaluator
	Quotas *quota.Ledger
	Events events.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(store Store, quotas quota.Store, cfg *config.Config, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	pol := policy.Default()
	pol.OnPanic = func(action string, recovered any) {
		logger.Error("policy predicate panicked", "action", action, "panic", recovered)
	}
	return Engine{
		Store:  store,
		Policy: pol,
		Quotas: quota.NewLedger(quotas),
		Events: events.Writer{Store: store},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func actorID(a *domain.Actor) string {
	if a == nil {
		return ""
	}
	return a.ID
}

// authorize evaluates action and records a denial. entityKind and entityID
// only label the audit entry.
func (e Engine) authorize(ctx context.Context, action string, actor *domain.Actor, res domain.Resource, entityKind, entityID string) error {
	err := e.Policy.Authorize(action, actor, res, e.now())
	if err == nil {
		return nil
	}
	e.logger().Info("policy denied", "action", action, "actor", actorID(actor), "entity_kind", entityKind, "entity_id", entityID)
	e.auditBestEffort(ctx, events.PolicyDenied, entityKind, entityID, actorID(actor), events.EventPayload{"action": action})
	return err
}

// auditBestEffort appends an entry outside any business transaction, for
// denials and rejections that must not turn into a different error.
func (e Engine) auditBestEffort(ctx context.Context, evtType, entityKind, entityID, actor string, payload events.EventPayload) {
	if err := e.writer().Append(ctx, evtType, entityKind, entityID, actor, payload); err != nil {
		e.logger().Warn("audit append failed", "type", evtType, "entity_id", entityID, "err", err)
	}
}

func (e Engine) rates(name string) (domain.RateSheet, error) {
	if e.Config == nil {
		return domain.RateSheet{}, domain.Invalid("rate_sheet", "no configuration loaded")
	}
	return e.Config.RateSheet(name)
}

func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	loc, err := e.Config.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newTicketCode returns an opaque, URL safe admission code.
func newTicketCode() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return codeEncoding.EncodeToString(b), nil
}
