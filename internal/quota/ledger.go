package quota

import (
	"context"
	"fmt"
	"time"

	"ticketgate/internal/domain"
)

// Ledger applies quota definitions against a Store.
type Ledger struct {
	Store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// CheckAndConsume consumes one unit.
func (l *Ledger) CheckAndConsume(ctx context.Context, def Definition, scope Scope, now time.Time) (Decision, error) {
	return l.Consume(ctx, def, scope, now, 1)
}

// Consume consumes n units in one all-or-nothing step. A denied consumption
// leaves every counter untouched and reports zero remaining.
func (l *Ledger) Consume(ctx context.Context, def Definition, scope Scope, now time.Time, n int64) (Decision, error) {
	if err := def.Validate(); err != nil {
		return Decision{}, err
	}
	if n <= 0 {
		return Decision{}, domain.Invalid("amount", "must be positive")
	}
	_, reset := WindowStart(def, now)
	denied := Decision{Allowed: false, Remaining: 0, Limit: def.Limit, ResetAt: reset}
	if def.Limit <= 0 {
		return denied, nil
	}
	cs := counters(def, scope, now)
	for _, c := range cs {
		if n > c.Limit {
			return denied, nil
		}
	}
	counts, ok, err := l.Store.Consume(ctx, cs, n)
	if err != nil {
		return Decision{}, fmt.Errorf("consume quota %s: %w", def.Name, err)
	}
	if !ok {
		return denied, nil
	}
	return Decision{Allowed: true, Remaining: remaining(cs, counts), Limit: def.Limit, ResetAt: reset}, nil
}

// Peek reports the current state without consuming. Allowed tells whether
// one more unit would be accepted.
func (l *Ledger) Peek(ctx context.Context, def Definition, scope Scope, now time.Time) (Decision, error) {
	if err := def.Validate(); err != nil {
		return Decision{}, err
	}
	_, reset := WindowStart(def, now)
	if def.Limit <= 0 {
		return Decision{Limit: def.Limit, ResetAt: reset}, nil
	}
	cs := counters(def, scope, now)
	counts, err := l.Store.Counts(ctx, cs)
	if err != nil {
		return Decision{}, fmt.Errorf("peek quota %s: %w", def.Name, err)
	}
	rem := remaining(cs, counts)
	return Decision{Allowed: rem > 0, Remaining: rem, Limit: def.Limit, ResetAt: reset}, nil
}

// Require consumes one unit and turns a denial into ErrQuotaExceeded.
func (l *Ledger) Require(ctx context.Context, def Definition, scope Scope, now time.Time) (Decision, error) {
	d, err := l.CheckAndConsume(ctx, def, scope, now)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, fmt.Errorf("%s: %w", def.Name, domain.ErrQuotaExceeded)
	}
	return d, nil
}

func remaining(cs []Counter, counts []int64) int64 {
	var rem int64 = -1
	for i, c := range cs {
		r := c.Limit - counts[i]
		if r < 0 {
			r = 0
		}
		if rem < 0 || r < rem {
			rem = r
		}
	}
	if rem < 0 {
		return 0
	}
	return rem
}
