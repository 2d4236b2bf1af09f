// Package quotatest holds the behaviour every quota.Store must share.
package quotatest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketgate/internal/quota"
)

// Run exercises store through a Ledger. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) quota.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)

	t.Run("consume until limit", func(t *testing.T) {
		l := quota.NewLedger(newStore(t))
		def := quota.Definition{Name: "downloads", Window: quota.WindowDay, Limit: 2, Scope: quota.ScopeActor}
		s := quota.Scope{ActorID: "u1"}
		for i, wantRemaining := range []int64{1, 0} {
			d, err := l.CheckAndConsume(ctx, def, s, now)
			if err != nil {
				t.Fatalf("consume %d: %v", i, err)
			}
			if !d.Allowed || d.Remaining != wantRemaining {
				t.Fatalf("consume %d: got %+v, want remaining %d", i, d, wantRemaining)
			}
		}
		d, err := l.CheckAndConsume(ctx, def, s, now)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed || d.Remaining != 0 {
			t.Fatalf("third consume should be denied, got %+v", d)
		}
		other, err := l.CheckAndConsume(ctx, def, quota.Scope{ActorID: "u2"}, now)
		if err != nil || !other.Allowed {
			t.Fatalf("other actor has its own counter: %+v %v", other, err)
		}
		next, err := l.CheckAndConsume(ctx, def, s, now.Add(24*time.Hour))
		if err != nil || !next.Allowed {
			t.Fatalf("next day resets: %+v %v", next, err)
		}
	})

	t.Run("amounts", func(t *testing.T) {
		l := quota.NewLedger(newStore(t))
		def := quota.Definition{Name: "conversion", Window: quota.WindowDay, Limit: 10000, Scope: quota.ScopeActor}
		s := quota.Scope{ActorID: "member-7"}
		if d, err := l.Consume(ctx, def, s, now, 7000); err != nil || !d.Allowed || d.Remaining != 3000 {
			t.Fatalf("first conversion: %+v %v", d, err)
		}
		if d, err := l.Consume(ctx, def, s, now, 3001); err != nil || d.Allowed {
			t.Fatalf("over-limit conversion must be denied: %+v %v", d, err)
		}
		p, err := l.Peek(ctx, def, s, now)
		if err != nil || p.Remaining != 3000 {
			t.Fatalf("denied amount must not be counted: %+v %v", p, err)
		}
	})

	t.Run("global and actor is all or nothing", func(t *testing.T) {
		l := quota.NewLedger(newStore(t))
		def := quota.Definition{Name: "tier", Window: quota.WindowGlobalAndActor, Limit: 3, PerActorLimit: 2, Scope: quota.ScopeActorResource}
		a := quota.Scope{ActorID: "a", ResourceID: "ev1/vip"}
		b := quota.Scope{ActorID: "b", ResourceID: "ev1/vip"}
		for i := 0; i < 2; i++ {
			if d, err := l.CheckAndConsume(ctx, def, a, now); err != nil || !d.Allowed {
				t.Fatalf("a consume %d: %+v %v", i, d, err)
			}
		}
		if d, err := l.CheckAndConsume(ctx, def, a, now); err != nil || d.Allowed {
			t.Fatalf("a over per-actor cap: %+v %v", d, err)
		}
		// The denied attempt above must not have taken a global slot.
		d, err := l.CheckAndConsume(ctx, def, b, now)
		if err != nil || !d.Allowed || d.Remaining != 0 {
			t.Fatalf("b should take the last global slot: %+v %v", d, err)
		}
		if d, err := l.CheckAndConsume(ctx, def, b, now); err != nil || d.Allowed {
			t.Fatalf("global cap reached: %+v %v", d, err)
		}
		if d, err := l.CheckAndConsume(ctx, def, b, now.AddDate(1, 0, 0)); err != nil || d.Allowed {
			t.Fatalf("global and actor windows never reset: %+v %v", d, err)
		}
	})

	t.Run("concurrent consumers never overshoot", func(t *testing.T) {
		l := quota.NewLedger(newStore(t))
		const limit, callers = 5, 20
		def := quota.Definition{Name: "once", Window: quota.WindowOnce, Limit: limit, Scope: quota.ScopeResource}
		s := quota.Scope{ResourceID: "promo-1"}
		var allowed atomic.Int64
		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := l.CheckAndConsume(ctx, def, s, now)
				if err != nil {
					errs <- err
					return
				}
				if d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent consume: %v", err)
		}
		if got := allowed.Load(); got != limit {
			t.Fatalf("allowed %d of %d callers, want exactly %d", got, callers, limit)
		}
	})
}
