package policy

import (
	"errors"
	"testing"
	"time"

	"ticketgate/internal/domain"
)

var now = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

func actor(id string, roles ...string) *domain.Actor {
	return &domain.Actor{ID: id, Roles: domain.NewRoleSet(roles...)}
}

func publishedEvent(owner string) domain.EventResource {
	return domain.EventResource{Snapshot: domain.Snapshot{
		ID:       "ev-1",
		Owner:    owner,
		Status:   string(domain.EventPublished),
		StartsAt: now.Add(72 * time.Hour),
		EndsAt:   now.Add(76 * time.Hour),
	}}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	ev := Default()
	a := actor("u1", domain.RoleMember)
	res := domain.TopicResource{Snapshot: domain.Snapshot{Owner: "u1", Status: domain.TopicOpen}}
	first := ev.Evaluate(ActionTopicUpdate, a, res, now)
	for i := 0; i < 100; i++ {
		if got := ev.Evaluate(ActionTopicUpdate, a, res, now); got != first {
			t.Fatalf("evaluation %d changed from %v to %v", i, first, got)
		}
	}
	if !first {
		t.Fatalf("owner should update an open topic")
	}
}

func TestUnknownActionDenies(t *testing.T) {
	ev := Default()
	if ev.Evaluate("topic.explode", actor("root", domain.RoleAdmin), domain.TopicResource{}, now) {
		t.Fatalf("unknown action must deny")
	}
	err := ev.Authorize("topic.explode", nil, nil, now)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Action != "topic.explode" {
		t.Fatalf("expected DeniedError naming the action, got %v", err)
	}
}

func TestAnonymousView(t *testing.T) {
	ev := Default()
	if !ev.Evaluate(ActionEventView, nil, publishedEvent("artist-1"), now) {
		t.Fatalf("guests may view published events")
	}
	draft := publishedEvent("artist-1")
	draft.Status = string(domain.EventDraft)
	if ev.Evaluate(ActionEventView, nil, draft, now) {
		t.Fatalf("guests may not view drafts")
	}
	if !ev.Evaluate(ActionEventView, actor("artist-1"), draft, now) {
		t.Fatalf("owner may view own draft")
	}
	trashed := domain.TopicResource{Snapshot: domain.Snapshot{Status: domain.TopicOpen, Trashed: true}}
	if ev.Evaluate(ActionTopicView, nil, trashed, now) {
		t.Fatalf("guests may not view trashed topics")
	}
	if !ev.Evaluate(ActionTopicView, actor("mod", domain.RoleModerator), trashed, now) {
		t.Fatalf("moderators may view trashed topics")
	}
}

func TestRolesAreASetWithoutHierarchy(t *testing.T) {
	ev := Default()
	// Admin has no implied artist role, but event.create lists admin explicitly.
	if !ev.Evaluate(ActionEventCreate, actor("a", domain.RoleAdmin), nil, now) {
		t.Fatalf("admin may create events")
	}
	if ev.Evaluate(ActionEventCreate, actor("m", domain.RoleModerator), nil, now) {
		t.Fatalf("moderator is not an artist")
	}
	if !ev.Evaluate(ActionEventCreate, actor("x", domain.RoleMember, domain.RoleArtist), nil, now) {
		t.Fatalf("any intersecting role is enough")
	}
	if ev.Evaluate(ActionEventCreate, nil, nil, now) {
		t.Fatalf("anonymous callers may not create events")
	}
}

func TestOwnershipNeverMatchesUnowned(t *testing.T) {
	ev := Default()
	res := domain.TopicResource{Snapshot: domain.Snapshot{Status: domain.TopicOpen}}
	if ev.Evaluate(ActionTopicUpdate, &domain.Actor{}, res, now) {
		t.Fatalf("empty actor id must not own an unowned topic")
	}
}

func TestTopicDeleteNeedsNoReplies(t *testing.T) {
	ev := Default()
	res := domain.TopicResource{Snapshot: domain.Snapshot{
		Owner:    "u1",
		Status:   domain.TopicOpen,
		Counters: map[string]int64{domain.CounterReplies: 2},
	}}
	if ev.Evaluate(ActionTopicDelete, actor("u1"), res, now) {
		t.Fatalf("owner may not delete a topic with replies")
	}
	res.Counters[domain.CounterReplies] = 0
	if !ev.Evaluate(ActionTopicDelete, actor("u1"), res, now) {
		t.Fatalf("owner may delete a topic without replies")
	}
}

func TestEventSell(t *testing.T) {
	ev := Default()
	res := publishedEvent("artist-1")
	if !ev.Evaluate(ActionEventSell, nil, res, now) {
		t.Fatalf("published future event is on sale")
	}
	res.Locked = true
	if ev.Evaluate(ActionEventSell, nil, res, now) {
		t.Fatalf("locked event is not on sale")
	}
	res.Locked = false
	if ev.Evaluate(ActionEventSell, nil, res, res.StartsAt) {
		t.Fatalf("event starting now is not on sale")
	}
}

func TestTicketCheckIn(t *testing.T) {
	ev := Default()
	tk := domain.TicketResource{Snapshot: domain.Snapshot{Owner: "buyer", ParentOwner: "artist-1", Status: string(domain.TicketValid)}}
	cases := []struct {
		name  string
		actor *domain.Actor
		want  bool
	}{
		{"scanner", actor("gate-1", domain.RoleScanner), true},
		{"event owner", actor("artist-1", domain.RoleArtist), true},
		{"admin", actor("root", domain.RoleAdmin), true},
		{"organizer of another event", actor("org-other", domain.RoleOrganizer), false},
		{"holder", actor("buyer", domain.RoleMember), false},
		{"anonymous", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ev.Evaluate(ActionTicketCheckIn, tc.actor, tk, now); got != tc.want {
				t.Fatalf("checkin allowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPromotionRedeemNeedsVerifiedEmail(t *testing.T) {
	ev := Default()
	res := domain.PromotionResource{Snapshot: domain.Snapshot{Status: domain.PromotionActive, EndsAt: now.Add(time.Hour)}}
	a := actor("u1")
	if ev.Evaluate(ActionPromotionRedeem, a, res, now) {
		t.Fatalf("unverified actor may not redeem")
	}
	a.EmailVerified = true
	if !ev.Evaluate(ActionPromotionRedeem, a, res, now) {
		t.Fatalf("verified actor may redeem")
	}
	if ev.Evaluate(ActionPromotionRedeem, a, res, now.Add(2*time.Hour)) {
		t.Fatalf("ended promotion may not be redeemed")
	}
}

func TestPanickingPredicateDenies(t *testing.T) {
	var reported any
	ev := Default().With("topic.view", Rule{
		{func(Input) bool { panic("lookup failed") }},
		{Anonymous()},
	})
	ev.OnPanic = func(action string, r any) { reported = r }
	if ev.Evaluate("topic.view", nil, domain.TopicResource{}, now) {
		t.Fatalf("a panic in an earlier group must deny the whole evaluation")
	}
	if reported != "lookup failed" {
		t.Fatalf("panic not reported, got %v", reported)
	}
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := Default()
	custom := base.With(ActionEventCreate, Rule{{TierAtLeast(domain.TierPro)}})
	pro := &domain.Actor{ID: "p", Tier: domain.TierPro}
	if !custom.Evaluate(ActionEventCreate, pro, nil, now) {
		t.Fatalf("override should allow pro tier")
	}
	if base.Evaluate(ActionEventCreate, pro, nil, now) {
		t.Fatalf("base rule book must be unchanged")
	}
}

func TestDefaultRulesCoverEveryDomain(t *testing.T) {
	got := map[string]bool{}
	for _, a := range Default().Actions() {
		got[a] = true
	}
	for _, want := range []string{
		ActionTopicView, ActionPollVote, ActionOrderCancel, ActionProductUpdate,
		ActionPromotionRedeem, ActionStoreManage, ActionEventCreate, ActionTicketCheckIn,
	} {
		if !got[want] {
			t.Fatalf("missing rule for %s", want)
		}
	}
}
