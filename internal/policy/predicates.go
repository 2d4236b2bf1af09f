package policy

import "ticketgate/internal/domain"

func Anonymous() Predicate {
	return func(in Input) bool { return in.Actor == nil }
}

func Authenticated() Predicate {
	return func(in Input) bool { return in.Actor != nil && in.Actor.ID != "" }
}

// IsOwner holds when the actor owns the resource. Unowned resources are
// owned by nobody.
func IsOwner() Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && in.Actor != nil && s.Owner != "" && in.Actor.ID == s.Owner
	}
}

// IsParentOwner holds when the actor owns the resource's parent.
func IsParentOwner() Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && in.Actor != nil && s.ParentOwner != "" && in.Actor.ID == s.ParentOwner
	}
}

// HasRole holds when the actor's roles intersect roles.
func HasRole(roles ...string) Predicate {
	return func(in Input) bool {
		return in.Actor != nil && in.Actor.Roles.Intersects(roles...)
	}
}

func StatusIs(statuses ...string) Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		if !ok {
			return false
		}
		for _, st := range statuses {
			if s.Status == st {
				return true
			}
		}
		return false
	}
}

func NotLocked() Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && !s.Locked
	}
}

func NotTrashed() Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && !s.Trashed
	}
}

func CounterZero(name string) Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && s.Counter(name) == 0
	}
}

// StartsAfterNow holds when the resource has a start strictly after now.
func StartsAfterNow() Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && !s.StartsAt.IsZero() && s.StartsAt.After(in.Now)
	}
}

// NotEnded holds when the resource has no end or ends strictly after now.
func NotEnded() Predicate {
	return func(in Input) bool {
		s, ok := in.state()
		return ok && (s.EndsAt.IsZero() || s.EndsAt.After(in.Now))
	}
}

func EmailVerified() Predicate {
	return func(in Input) bool { return in.Actor != nil && in.Actor.EmailVerified }
}

func TierAtLeast(t domain.SubscriptionTier) Predicate {
	return func(in Input) bool { return in.Actor != nil && in.Actor.Tier >= t }
}
