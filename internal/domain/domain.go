package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleArtist    = "artist"
	RoleOrganizer = "organizer"
	RoleScanner   = "scanner"
	RoleMerchant  = "merchant"
	RoleMember    = "member"
)

// RoleSet is an unordered set of role names. Membership checks are by
// intersection only; roles carry no hierarchy.
type RoleSet map[string]struct{}

func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether role is a member of the set.
func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// Intersects reports whether any of roles is a member of the set.
func (s RoleSet) Intersects(roles ...string) bool {
	for _, r := range roles {
		if _, ok := s[r]; ok {
			return true
		}
	}
	return false
}

// Slice returns the roles sorted by name.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

type SubscriptionTier int

const (
	TierFree SubscriptionTier = iota
	TierPlus
	TierPro
)

var tierNames = map[SubscriptionTier]string{
	TierFree: "free",
	TierPlus: "plus",
	TierPro:  "pro",
}

func (t SubscriptionTier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseTier maps a tier name to its value. Unknown or empty names are free.
func ParseTier(name string) SubscriptionTier {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range tierNames {
		if n == name {
			return t
		}
	}
	return TierFree
}

// Actor is the principal a decision is made for. A nil *Actor means anonymous.
type Actor struct {
	ID            string
	Roles         RoleSet
	EmailVerified bool
	Tier          SubscriptionTier
}

type APIKey struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Name      string    `json:"name,omitempty"`
	Roles     []string  `json:"roles"`
	KeyHash   string    `json:"key_hash,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// AuditEvent is one append-only entry of the audit log.
type AuditEvent struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts" format:"date-time"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Payload    string    `json:"payload_json"`
}
