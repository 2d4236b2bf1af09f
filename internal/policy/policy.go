// Package policy decides whether an actor may perform an action on a
// resource. Each action maps to a Rule: an ordered list of groups combined by
// OR, where every predicate in a group must hold (AND). Evaluation is pure and
// never fails; anything unexpected is a denial.
package policy

import (
	"fmt"
	"sort"
	"time"

	"ticketgate/internal/domain"
)

// Input is everything a predicate may look at. Actor is nil for anonymous
// callers and Resource is nil for actions that create a resource.
type Input struct {
	Actor    *domain.Actor
	Resource domain.Resource
	Now      time.Time
}

func (in Input) state() (domain.Snapshot, bool) {
	if in.Resource == nil {
		return domain.Snapshot{}, false
	}
	return in.Resource.State(), true
}

type Predicate func(in Input) bool

// Group holds when all of its predicates hold. An empty group holds.
type Group []Predicate

// Rule allows when any group holds, tried in order. An empty rule denies.
type Rule []Group

// DeniedError is returned by Authorize.
type DeniedError struct {
	Action string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrPermissionDenied, e.Action)
}

func (e *DeniedError) Unwrap() error { return domain.ErrPermissionDenied }

// Evaluator holds a rule book. It is safe for concurrent use once built.
type Evaluator struct {
	rules map[string]Rule
	// OnPanic, when set, is told about predicates that panicked. The
	// evaluation itself still denies.
	OnPanic func(action string, recovered any)
}

// New builds an evaluator over rules. The map is copied.
func New(rules map[string]Rule) *Evaluator {
	cp := make(map[string]Rule, len(rules))
	for k, v := range rules {
		cp[k] = v
	}
	return &Evaluator{rules: cp}
}

// Default returns an evaluator over DefaultRules.
func Default() *Evaluator {
	return New(DefaultRules())
}

// With returns a copy of the evaluator with action bound to rule,
// replacing any existing rule for that action.
func (e *Evaluator) With(action string, rule Rule) *Evaluator {
	out := New(e.rules)
	out.OnPanic = e.OnPanic
	out.rules[action] = rule
	return out
}

// Actions lists every action with a rule, sorted.
func (e *Evaluator) Actions() []string {
	out := make([]string, 0, len(e.rules))
	for a := range e.rules {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Evaluate reports whether actor may perform action on res at now.
// Unknown actions deny.
func (e *Evaluator) Evaluate(action string, actor *domain.Actor, res domain.Resource, now time.Time) (allowed bool) {
	rule, ok := e.rules[action]
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			allowed = false
			if e.OnPanic != nil {
				e.OnPanic(action, r)
			}
		}
	}()
	in := Input{Actor: actor, Resource: res, Now: now}
	for _, g := range rule {
		if g.holds(in) {
			return true
		}
	}
	return false
}

// Authorize is Evaluate returning a *DeniedError on denial.
func (e *Evaluator) Authorize(action string, actor *domain.Actor, res domain.Resource, now time.Time) error {
	if !e.Evaluate(action, actor, res, now) {
		return &DeniedError{Action: action}
	}
	return nil
}

func (g Group) holds(in Input) bool {
	for _, p := range g {
		if !p(in) {
			return false
		}
	}
	return true
}
