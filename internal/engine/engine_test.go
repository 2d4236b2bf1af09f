package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticketgate/internal/config"
	"ticketgate/internal/db"
	"ticketgate/internal/domain"
	"ticketgate/internal/events"
	"ticketgate/internal/migrate"
	"ticketgate/internal/repo"
)

type testEnv struct {
	eng   Engine
	repo  repo.Repo
	clock *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	eng := New(r, repo.QuotaStore{Repo: r}, config.Default(), nil)
	eng.Now = func() time.Time { return clock }
	return testEnv{eng: eng, repo: r, clock: &clock}
}

func (env testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

var (
	artist  = &domain.Actor{ID: "artist-1", Roles: domain.NewRoleSet(domain.RoleArtist)}
	scanner = &domain.Actor{ID: "gate-1", Roles: domain.NewRoleSet(domain.RoleScanner)}
	buyer   = &domain.Actor{ID: "buyer-1", Roles: domain.NewRoleSet(domain.RoleMember)}
)

func (env testEnv) createEvent(t *testing.T, capacity, perHolder int64) domain.Event {
	t.Helper()
	now := *env.clock
	ev, err := env.eng.CreateEvent(context.Background(), artist, CreateEventOptions{
		Title:    "Blankets and Wine",
		StartsAt: now.Add(30 * 24 * time.Hour),
		EndsAt:   now.Add(30*24*time.Hour + 6*time.Hour),
		Tiers: []domain.Tier{
			{Name: "vip", BasePrice: 5000000, Capacity: capacity, PerHolderLimit: perHolder},
		},
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

func (env testEnv) issue(t *testing.T, ev domain.Event, h domain.Holder) domain.Ticket {
	t.Helper()
	tk, err := env.eng.IssueTicket(context.Background(), buyer, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: h})
	if err != nil {
		t.Fatalf("issue ticket: %v", err)
	}
	return tk
}

var amina = domain.Holder{Name: "Amina", Email: "amina@example.com"}

func countAudit(t *testing.T, r repo.Repo, kind, id, typ string) int {
	t.Helper()
	evs, err := r.ListAudit(context.Background(), kind, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 100, 4)
	if ev.Status != domain.EventPublished || ev.OrganizerID != artist.ID || ev.Currency != "KES" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if n := countAudit(t, env.repo, "event", ev.ID, events.EventCreated); n != 1 {
		t.Fatalf("event.created entries = %d", n)
	}
	got, err := env.eng.GetEvent(context.Background(), nil, ev.ID)
	if err != nil || got.Title != ev.Title {
		t.Fatalf("anonymous get event: %+v %v", got, err)
	}
}

func TestCreateEventRequiresArtist(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.CreateEvent(context.Background(), buyer, CreateEventOptions{Title: "x"})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if n := countAudit(t, env.repo, "event", "", events.PolicyDenied); n != 1 {
		t.Fatalf("policy.denied entries = %d", n)
	}
}

func TestCreateEventValidation(t *testing.T) {
	env := newTestEnv(t)
	now := *env.clock
	base := CreateEventOptions{
		Title:    "Show",
		StartsAt: now.Add(30 * 24 * time.Hour),
		EndsAt:   now.Add(31 * 24 * time.Hour),
		Tiers:    []domain.Tier{{Name: "regular", BasePrice: 250000, Capacity: 10}},
	}
	cheap := base
	cheap.Tiers = []domain.Tier{{Name: "regular", BasePrice: 9999, Capacity: 10}}
	soon := base
	soon.StartsAt = now.Add(3 * 24 * time.Hour)
	soon.EndsAt = soon.StartsAt.Add(time.Hour)
	for name, opts := range map[string]CreateEventOptions{"price": cheap, "lead time": soon} {
		if _, err := env.eng.CreateEvent(context.Background(), artist, opts); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	// Rejected input must not use up the monthly quota.
	for i := 0; i < 5; i++ {
		if _, err := env.eng.CreateEvent(context.Background(), artist, base); err != nil {
			t.Fatalf("event %d: %v", i+1, err)
		}
	}
}

func TestSixthEventInMonthDenied(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.createEvent(t, 10, 1)
	}
	now := *env.clock
	_, err := env.eng.CreateEvent(context.Background(), artist, CreateEventOptions{
		Title:    "One too many",
		StartsAt: now.Add(30 * 24 * time.Hour),
		EndsAt:   now.Add(31 * 24 * time.Hour),
		Tiers:    []domain.Tier{{Name: "vip", BasePrice: 5000000, Capacity: 10}},
	})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if n := countAudit(t, env.repo, "event", "", events.QuotaDenied); n != 1 {
		t.Fatalf("quota.denied entries = %d", n)
	}
	env.advance(31 * 24 * time.Hour)
	env.createEvent(t, 10, 1)
}

func TestIssueTicketPricing(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	if tk.Status != domain.TicketValid || tk.Code == "" {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	p := tk.Price
	if p.Base.Amount != 5000000 || p.Commission.Amount != 500000 || p.ProcessingFee.Amount != 145000 || p.Total.Amount != 5645000 {
		t.Fatalf("unexpected price: %+v", p)
	}
	if tk.Holder.ActorID != buyer.ID {
		t.Fatalf("holder actor = %q", tk.Holder.ActorID)
	}
	stored, err := env.eng.GetTicket(context.Background(), buyer, tk.ID)
	if err != nil || stored.Code != tk.Code {
		t.Fatalf("get ticket: %+v %v", stored, err)
	}
}

func TestIssueTicketCaps(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 3, 2)
	ctx := context.Background()
	env.issue(t, ev, amina)
	env.issue(t, ev, amina)
	_, err := env.eng.IssueTicket(ctx, buyer, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: amina})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("per-holder cap: expected quota exceeded, got %v", err)
	}
	other := domain.Holder{Name: "Baraka", Email: "baraka@example.com"}
	if _, err := env.eng.IssueTicket(ctx, nil, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: other}); err != nil {
		t.Fatalf("guest purchase within capacity: %v", err)
	}
	third := domain.Holder{Name: "Chep", Email: "chep@example.com"}
	if _, err := env.eng.IssueTicket(ctx, nil, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: third}); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("capacity: expected quota exceeded, got %v", err)
	}
	if _, err := env.eng.IssueTicket(ctx, nil, IssueTicketOptions{EventID: ev.ID, Tier: "floor", Holder: third}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown tier: expected not found, got %v", err)
	}
	if _, err := env.eng.IssueTicket(ctx, nil, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: domain.Holder{Name: "x", Email: "nope"}}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad email: expected validation error, got %v", err)
	}
}

func TestPerHolderCapFollowsBuyer(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 1)
	ctx := context.Background()
	for _, id := range []string{"x1", "x2"} {
		_, err := env.eng.IssueTicket(ctx, buyer, IssueTicketOptions{EventID: ev.ID, Tier: "vip",
			Holder: domain.Holder{Name: "Amina", Email: "amina@example.com", ActorID: id}})
		if !errors.Is(err, domain.ErrPermissionDenied) {
			t.Fatalf("holder actor %s: expected permission denied, got %v", id, err)
		}
	}
	tk := env.issue(t, ev, amina)
	if tk.Holder.ActorID != buyer.ID {
		t.Fatalf("holder actor = %q", tk.Holder.ActorID)
	}
	_, err := env.eng.IssueTicket(ctx, buyer, IssueTicketOptions{EventID: ev.ID, Tier: "vip",
		Holder: domain.Holder{Name: "Baraka", Email: "baraka@example.com"}})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("second ticket for same buyer: expected quota exceeded, got %v", err)
	}

	admin := &domain.Actor{ID: "admin-1", Roles: domain.NewRoleSet(domain.RoleAdmin)}
	onBehalf := IssueTicketOptions{EventID: ev.ID, Tier: "vip",
		Holder: domain.Holder{Name: "Chep", Email: "chep@example.com", ActorID: "x1"}}
	got, err := env.eng.IssueTicket(ctx, admin, onBehalf)
	if err != nil || got.Holder.ActorID != "x1" {
		t.Fatalf("admin issue on behalf: %+v %v", got, err)
	}
	if _, err := env.eng.IssueTicket(ctx, admin, onBehalf); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("second ticket for x1: expected quota exceeded, got %v", err)
	}
}

func TestIssueTicketAfterStartDenied(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 3, 2)
	env.advance(30*24*time.Hour + time.Minute)
	_, err := env.eng.IssueTicket(context.Background(), buyer, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: amina})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected sales closed, got %v", err)
	}
}

func TestCheckInOnce(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	ctx := context.Background()
	got, err := env.eng.CheckIn(ctx, scanner, tk.Code)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if got.Status != domain.TicketUsed || got.CheckedInAt == nil {
		t.Fatalf("unexpected ticket: %+v", got)
	}
	if _, err := env.eng.CheckIn(ctx, scanner, tk.Code); !errors.Is(err, domain.ErrAlreadyCheckedIn) {
		t.Fatalf("second scan: expected already checked in, got %v", err)
	}
	if _, err := env.eng.CheckIn(ctx, scanner, "NOSUCHCODE"); !errors.Is(err, domain.ErrTicketNotFound) {
		t.Fatalf("unknown code: expected not found, got %v", err)
	}
	if _, err := env.eng.CheckIn(ctx, nil, tk.Code); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("anonymous scan: expected permission denied, got %v", err)
	}
	if n := countAudit(t, env.repo, "ticket", tk.ID, events.TicketCheckedIn); n != 1 {
		t.Fatalf("checked_in entries = %d", n)
	}
}

func TestConcurrentCheckIn(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	const gates = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		already  int
	)
	for i := 0; i < gates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.eng.CheckIn(context.Background(), scanner, tk.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, domain.ErrAlreadyCheckedIn):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 || already != gates-1 {
		t.Fatalf("admitted=%d already=%d", admitted, already)
	}
	if n := countAudit(t, env.repo, "ticket", tk.ID, events.TicketCheckedIn); n != 1 {
		t.Fatalf("checked_in entries = %d", n)
	}
}

func TestEventOwnerMayScan(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	if _, err := env.eng.CheckIn(context.Background(), artist, tk.Code); err != nil {
		t.Fatalf("owner scan: %v", err)
	}
	if _, err := env.eng.CheckIn(context.Background(), buyer, tk.Code); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("holder scan: expected permission denied, got %v", err)
	}
}

func TestOtherOrganizerMayNotScan(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	other := &domain.Actor{ID: "org-other", Roles: domain.NewRoleSet(domain.RoleOrganizer)}
	if _, err := env.eng.CheckIn(context.Background(), other, tk.Code); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("foreign organizer scan: expected permission denied, got %v", err)
	}
	got, err := env.eng.GetTicket(context.Background(), artist, tk.ID)
	if err != nil || got.Status != domain.TicketValid {
		t.Fatalf("ticket should still be valid: %+v %v", got, err)
	}
}

func TestLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	env.advance(31 * 24 * time.Hour)
	ctx := context.Background()
	got, err := env.eng.GetTicket(ctx, buyer, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TicketExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if _, err := env.eng.CheckIn(ctx, scanner, tk.Code); !errors.Is(err, domain.ErrTicketNotValid) {
		t.Fatalf("expected not valid, got %v", err)
	}
	if _, err := env.eng.CancelTicket(ctx, buyer, tk.ID); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("expected not cancellable, got %v", err)
	}
	if n := countAudit(t, env.repo, "ticket", tk.ID, events.TicketExpired); n != 1 {
		t.Fatalf("expired entries = %d", n)
	}
}

func TestCheckInAfterEndExpiresFirst(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	env.advance(31 * 24 * time.Hour)
	if _, err := env.eng.CheckIn(context.Background(), scanner, tk.Code); !errors.Is(err, domain.ErrTicketNotValid) {
		t.Fatalf("expected not valid, got %v", err)
	}
	stored, err := env.repo.GetTicket(context.Background(), tk.ID)
	if err != nil || stored.Status != domain.TicketExpired {
		t.Fatalf("stored status %s %v", stored.Status, err)
	}
}

func TestCancelTicketRefund(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 4)
	early := env.issue(t, ev, amina)
	late := env.issue(t, ev, amina)
	ctx := context.Background()

	res, err := env.eng.CancelTicket(ctx, buyer, early.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// 5% refund fee on the 56450.00 paid.
	if !res.Refundable || res.Refund.Amount != 5362750 {
		t.Fatalf("unexpected refund: %+v", res)
	}
	if res.Ticket.Status != domain.TicketCancelled {
		t.Fatalf("status = %s", res.Ticket.Status)
	}
	if _, err := env.eng.CancelTicket(ctx, buyer, early.ID); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("second cancel: expected not cancellable, got %v", err)
	}

	// Twelve hours before the start the ticket may still be cancelled, without refund.
	env.advance(30*24*time.Hour - 12*time.Hour)
	res, err = env.eng.CancelTicket(ctx, buyer, late.ID)
	if err != nil {
		t.Fatalf("late cancel: %v", err)
	}
	if res.Refundable || res.Refund.Amount != 0 {
		t.Fatalf("late cancel must not refund: %+v", res)
	}
}

func TestCancelUsedTicket(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 4)
	tk := env.issue(t, ev, amina)
	if _, err := env.eng.CheckIn(context.Background(), scanner, tk.Code); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.CancelTicket(context.Background(), buyer, tk.ID); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("expected not cancellable, got %v", err)
	}
}

func TestEventSalesPayout(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 4)
	env.issue(t, ev, amina)
	rep, err := env.eng.EventSales(context.Background(), artist, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Sales.Sold != 1 || rep.Sales.Revenue.Amount != 5645000 {
		t.Fatalf("unexpected sales: %+v", rep.Sales)
	}
	if rep.Payout.Payout.Amount != 4916795 {
		t.Fatalf("payout = %s, want 49167.95 KES", rep.Payout.Payout)
	}
	if _, err := env.eng.EventSales(context.Background(), buyer, ev.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestConsumeNamedQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d, err := env.eng.ConsumeQuota(ctx, buyer, "sacco.conversion", "", 4000000)
	if err != nil || !d.Allowed || d.Remaining != 1000000 {
		t.Fatalf("first conversion: %+v %v", d, err)
	}
	d, err = env.eng.ConsumeQuota(ctx, buyer, "sacco.conversion", "", 1000001)
	if err != nil || d.Allowed {
		t.Fatalf("over limit: %+v %v", d, err)
	}
	peek, err := env.eng.PeekQuota(ctx, buyer, "sacco.conversion", "")
	if err != nil || peek.Remaining != 1000000 {
		t.Fatalf("peek: %+v %v", peek, err)
	}
	if _, err := env.eng.ConsumeQuota(ctx, nil, "downloads", "", 1); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("anonymous consume: %v", err)
	}
	if _, err := env.eng.ConsumeQuota(ctx, buyer, "nope", "", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown quota: %v", err)
	}
}

func TestQuoteFees(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.eng.QuoteFees("", 5000000)
	if err != nil {
		t.Fatal(err)
	}
	if p.Total.String() != "56450.00 KES" {
		t.Fatalf("total = %s", p.Total)
	}
	if _, err := env.eng.QuoteFees("nope", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown sheet: %v", err)
	}
}

func TestLookupTicketDoesNotAdmit(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 10, 2)
	tk := env.issue(t, ev, amina)
	ctx := context.Background()
	got, err := env.eng.LookupTicket(ctx, scanner, tk.Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != tk.ID || got.Status != domain.TicketValid {
		t.Fatalf("unexpected ticket: %+v", got)
	}
	if _, err := env.eng.LookupTicket(ctx, buyer, tk.Code); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("stranger lookup: expected permission denied, got %v", err)
	}
	if _, err := env.eng.LookupTicket(ctx, scanner, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank code: expected validation error, got %v", err)
	}
}

func TestListEventsAndTickets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createEvent(t, 10, 4)
	env.createEvent(t, 10, 4)

	all, err := env.eng.ListEvents(ctx, nil, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("anonymous list: %d events, %v", len(all), err)
	}
	none, err := env.eng.ListEvents(ctx, buyer, "someone-else")
	if err != nil || len(none) != 0 {
		t.Fatalf("filtered list: %d events, %v", len(none), err)
	}

	env.issue(t, first, amina)
	env.issue(t, first, domain.Holder{Name: "Baraka", Email: "baraka@example.com"})
	tickets, err := env.eng.EventTickets(ctx, artist, first.ID)
	if err != nil || len(tickets) != 2 {
		t.Fatalf("organizer tickets: %d, %v", len(tickets), err)
	}
	if _, err := env.eng.EventTickets(ctx, buyer, first.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("buyer should not list tickets, got %v", err)
	}
}

func TestCancelledSeatIsNotResold(t *testing.T) {
	env := newTestEnv(t)
	ev := env.createEvent(t, 1, 1)
	ctx := context.Background()
	tk := env.issue(t, ev, amina)
	if _, err := env.eng.CancelTicket(ctx, buyer, tk.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	guest := domain.Holder{Name: "Baraka", Email: "baraka@example.com"}
	if _, err := env.eng.IssueTicket(ctx, nil, IssueTicketOptions{EventID: ev.ID, Tier: "vip", Holder: guest}); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("cancelled seat resold: expected quota exceeded, got %v", err)
	}
}
