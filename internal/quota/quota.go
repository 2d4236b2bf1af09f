// Package quota caps how many times a scope may act within a window.
// Check and increment are a single store operation so concurrent callers
// never overshoot a limit.
package quota

import (
	"context"
	"strings"
	"time"

	"ticketgate/internal/domain"
)

type WindowKind string

const (
	WindowDay            WindowKind = "day"
	WindowMonth          WindowKind = "month"
	WindowOnce           WindowKind = "once"
	WindowGlobalAndActor WindowKind = "global_and_actor"
)

type ScopeRule string

const (
	ScopeActor         ScopeRule = "actor"
	ScopeActorResource ScopeRule = "actor_resource"
	ScopeResource      ScopeRule = "resource"
)

// Definition describes one quota. For WindowGlobalAndActor, Limit caps the
// resource as a whole and PerActorLimit caps each actor within it; a
// PerActorLimit of zero or less leaves actors uncapped.
type Definition struct {
	Name          string
	Window        WindowKind
	Limit         int64
	PerActorLimit int64
	Scope         ScopeRule
	// Location sets day and month boundaries. Nil means UTC.
	Location *time.Location
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return domain.Invalid("name", "quota name required")
	}
	switch d.Window {
	case WindowDay, WindowMonth, WindowOnce, WindowGlobalAndActor:
	default:
		return domain.Invalid("window", "unknown window kind %q", d.Window)
	}
	switch d.Scope {
	case ScopeActor, ScopeActorResource, ScopeResource:
	default:
		return domain.Invalid("scope", "unknown scope rule %q", d.Scope)
	}
	return nil
}

// Scope identifies who consumes and against what.
type Scope struct {
	ActorID    string
	ResourceID string
}

// Decision is the outcome of a quota check. ResetAt is zero for windows
// that never reset.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	Limit     int64     `json:"limit"`
	ResetAt   time.Time `json:"reset_at,omitempty" format:"date-time"`
}

// Counter is one ledger entry addressed by scope key and window start.
type Counter struct {
	Key         string
	WindowStart time.Time
	Limit       int64
}

// Store persists counters. Consume adds n to every counter or to none: if any
// counter would pass its limit, nothing is applied and ok is false. Counts
// reads current values without changing them. Both return counts in the
// order of counters.
type Store interface {
	Consume(ctx context.Context, counters []Counter, n int64) (counts []int64, ok bool, err error)
	Counts(ctx context.Context, counters []Counter) ([]int64, error)
}

const keySep = "\x1f"

func join(parts ...string) string {
	return strings.Join(parts, keySep)
}

// scopeKey builds the ledger key for def and scope under def's scope rule.
func scopeKey(def Definition, s Scope) string {
	switch def.Scope {
	case ScopeActorResource:
		return join(def.Name, s.ActorID, s.ResourceID)
	case ScopeResource:
		return join(def.Name, s.ResourceID)
	default:
		return join(def.Name, s.ActorID)
	}
}

// counters expands def into the ledger entries one consumption touches.
func counters(def Definition, s Scope, now time.Time) []Counter {
	start, _ := WindowStart(def, now)
	if def.Window == WindowGlobalAndActor {
		out := []Counter{{Key: join(def.Name, s.ResourceID), WindowStart: start, Limit: def.Limit}}
		if def.PerActorLimit > 0 {
			out = append(out, Counter{Key: join(def.Name, s.ResourceID, s.ActorID), WindowStart: start, Limit: def.PerActorLimit})
		}
		return out
	}
	return []Counter{{Key: scopeKey(def, s), WindowStart: start, Limit: def.Limit}}
}
