package domain

import "time"

type ResourceKind string

const (
	KindTopic     ResourceKind = "topic"
	KindReply     ResourceKind = "reply"
	KindPoll      ResourceKind = "poll"
	KindOrder     ResourceKind = "order"
	KindProduct   ResourceKind = "product"
	KindPromotion ResourceKind = "promotion"
	KindStore     ResourceKind = "store"
	KindEvent     ResourceKind = "event"
	KindTicket    ResourceKind = "ticket"
)

// Counter names read by state predicates.
const (
	CounterReplies     = "replies"
	CounterRedemptions = "redemptions"
	CounterVotes       = "votes"
	CounterSold        = "sold"
)

// Status values per resource kind.
const (
	TopicOpen   = "open"
	TopicClosed = "closed"

	ReplyPublished = "published"
	ReplyHidden    = "hidden"

	PollOpen   = "open"
	PollClosed = "closed"

	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderShipped   = "shipped"
	OrderCancelled = "cancelled"

	ProductDraft    = "draft"
	ProductActive   = "active"
	ProductArchived = "archived"

	PromotionActive  = "active"
	PromotionPaused  = "paused"
	PromotionExpired = "expired"

	StoreActive    = "active"
	StoreSuspended = "suspended"
)

var kindStatuses = map[ResourceKind][]string{
	KindTopic:     {TopicOpen, TopicClosed},
	KindReply:     {ReplyPublished, ReplyHidden},
	KindPoll:      {PollOpen, PollClosed},
	KindOrder:     {OrderPending, OrderPaid, OrderShipped, OrderCancelled},
	KindProduct:   {ProductDraft, ProductActive, ProductArchived},
	KindPromotion: {PromotionActive, PromotionPaused, PromotionExpired},
	KindStore:     {StoreActive, StoreSuspended},
	KindEvent:     {string(EventDraft), string(EventPublished), string(EventCancelled)},
	KindTicket:    {string(TicketValid), string(TicketUsed), string(TicketCancelled), string(TicketExpired)},
}

// ValidStatus reports whether status belongs to the closed set of kind.
func ValidStatus(kind ResourceKind, status string) bool {
	for _, s := range kindStatuses[kind] {
		if s == status {
			return true
		}
	}
	return false
}

// Owned is implemented by every resource with an owner.
type Owned interface {
	OwnerID() string
}

// Resource is a point-in-time snapshot handed to the policy evaluator.
type Resource interface {
	Owned
	Kind() ResourceKind
	State() Snapshot
}

// Snapshot holds the attributes predicates read. Zero times mean unset and an
// empty Owner means the resource has no owner. ParentOwner is the owner of the
// containing resource, such as the topic of a reply or the event of a ticket.
type Snapshot struct {
	ID          string
	Owner       string
	ParentOwner string
	Status      string
	CreatedAt   time.Time
	StartsAt    time.Time
	EndsAt      time.Time
	Locked      bool
	Trashed     bool
	Featured    bool
	Counters    map[string]int64
}

func (s Snapshot) OwnerID() string { return s.Owner }
func (s Snapshot) State() Snapshot { return s }

// Counter returns the named counter, zero when absent.
func (s Snapshot) Counter(name string) int64 {
	return s.Counters[name]
}

type TopicResource struct{ Snapshot }
type ReplyResource struct{ Snapshot }
type PollResource struct{ Snapshot }
type OrderResource struct{ Snapshot }
type ProductResource struct{ Snapshot }
type PromotionResource struct{ Snapshot }
type StoreResource struct{ Snapshot }
type EventResource struct{ Snapshot }
type TicketResource struct{ Snapshot }

func (TopicResource) Kind() ResourceKind     { return KindTopic }
func (ReplyResource) Kind() ResourceKind     { return KindReply }
func (PollResource) Kind() ResourceKind      { return KindPoll }
func (OrderResource) Kind() ResourceKind     { return KindOrder }
func (ProductResource) Kind() ResourceKind   { return KindProduct }
func (PromotionResource) Kind() ResourceKind { return KindPromotion }
func (StoreResource) Kind() ResourceKind     { return KindStore }
func (EventResource) Kind() ResourceKind     { return KindEvent }
func (TicketResource) Kind() ResourceKind    { return KindTicket }
