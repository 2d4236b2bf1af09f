package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticketgate/internal/domain"
)

func TestDayWindowUsesLocalMidnight(t *testing.T) {
	eat := time.FixedZone("EAT", 3*60*60)
	def := Definition{Name: "d", Window: WindowDay, Limit: 1, Scope: ScopeActor, Location: eat}
	// 22:30 UTC on the 14th is 01:30 on the 15th in EAT.
	now := time.Date(2026, 6, 14, 22, 30, 0, 0, time.UTC)
	start, reset := WindowStart(def, now)
	want := time.Date(2026, 6, 15, 0, 0, 0, 0, eat)
	if !start.Equal(want) {
		t.Fatalf("start = %s, want %s", start, want)
	}
	if !reset.Equal(want.AddDate(0, 0, 1)) {
		t.Fatalf("reset = %s", reset)
	}
}

func TestMonthWindow(t *testing.T) {
	def := Definition{Name: "m", Window: WindowMonth, Limit: 1, Scope: ScopeActor}
	start, reset := WindowStart(def, time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC))
	if !start.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	if !reset.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("reset = %s", reset)
	}
}

func TestFixedWindowsNeverReset(t *testing.T) {
	for _, w := range []WindowKind{WindowOnce, WindowGlobalAndActor} {
		def := Definition{Name: "f", Window: w, Limit: 1, Scope: ScopeResource}
		a, reset := WindowStart(def, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		b, _ := WindowStart(def, time.Date(2031, 7, 4, 0, 0, 0, 0, time.UTC))
		if !a.Equal(b) || !reset.IsZero() {
			t.Fatalf("%s: windows %s and %s differ or reset %s set", w, a, b, reset)
		}
	}
}

func TestSixthEventInMonthDenied(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(NewMemoryStore())
	def := Definition{Name: "events.create", Window: WindowMonth, Limit: 5, Scope: ScopeActor}
	s := Scope{ActorID: "artist-1"}
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := l.Require(ctx, def, s, now); err != nil {
			t.Fatalf("event %d: %v", i+1, err)
		}
	}
	if _, err := l.Require(ctx, def, s, now); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("sixth event: expected quota exceeded, got %v", err)
	}
	if _, err := l.Require(ctx, def, s, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("new month should allow again: %v", err)
	}
}

func TestNonPositiveLimitDeniesWithoutStore(t *testing.T) {
	l := NewLedger(nil)
	def := Definition{Name: "off", Window: WindowDay, Limit: 0, Scope: ScopeActor}
	d, err := l.CheckAndConsume(context.Background(), def, Scope{ActorID: "u"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("zero limit must deny, got %+v", d)
	}
}

func TestInvalidDefinitionsAndAmounts(t *testing.T) {
	l := NewLedger(NewMemoryStore())
	ctx := context.Background()
	bad := Definition{Name: "x", Window: "fortnight", Limit: 1, Scope: ScopeActor}
	if _, err := l.CheckAndConsume(ctx, bad, Scope{}, time.Now()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	good := Definition{Name: "x", Window: WindowDay, Limit: 1, Scope: ScopeActor}
	if _, err := l.Consume(ctx, good, Scope{}, time.Now(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
}

func TestScopeKeys(t *testing.T) {
	def := Definition{Name: "q", Scope: ScopeActorResource}
	if k := scopeKey(def, Scope{ActorID: "a", ResourceID: "r"}); k != "q\x1fa\x1fr" {
		t.Fatalf("key = %q", k)
	}
	// Separator keeps ("ab","c") and ("a","bc") apart.
	k1 := scopeKey(def, Scope{ActorID: "ab", ResourceID: "c"})
	k2 := scopeKey(def, Scope{ActorID: "a", ResourceID: "bc"})
	if k1 == k2 {
		t.Fatalf("keys collide: %q", k1)
	}
}
