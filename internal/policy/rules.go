package policy

import "ticketgate/internal/domain"

const (
	ActionTopicView   = "topic.view"
	ActionTopicUpdate = "topic.update"
	ActionTopicDelete = "topic.delete"
	ActionTopicReply  = "topic.reply"

	ActionReplyDelete = "reply.delete"

	ActionPollView  = "poll.view"
	ActionPollVote  = "poll.vote"
	ActionPollClose = "poll.close"

	ActionOrderView   = "order.view"
	ActionOrderCancel = "order.cancel"

	ActionProductUpdate   = "product.update"
	ActionPromotionRedeem = "promotion.redeem"
	ActionStoreManage     = "store.manage"

	ActionEventView   = "event.view"
	ActionEventCreate = "event.create"
	ActionEventUpdate = "event.update"
	ActionEventDelete = "event.delete"
	ActionEventSell   = "event.sell"
	ActionEventReport = "event.report"

	ActionTicketView    = "ticket.view"
	ActionTicketCancel  = "ticket.cancel"
	ActionTicketCheckIn = "ticket.checkin"
)

var moderators = []string{domain.RoleAdmin, domain.RoleModerator}

// DefaultRules returns the platform rule book. Callers own the returned map.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionTopicView: {
			{NotTrashed()},
			{HasRole(moderators...)},
		},
		ActionTopicUpdate: {
			{IsOwner(), NotLocked(), NotTrashed()},
			{HasRole(moderators...)},
		},
		ActionTopicDelete: {
			{IsOwner(), CounterZero(domain.CounterReplies), NotTrashed()},
			{HasRole(moderators...)},
		},
		ActionTopicReply: {
			{Authenticated(), StatusIs(domain.TopicOpen), NotLocked(), NotTrashed()},
		},
		ActionReplyDelete: {
			{IsOwner(), NotTrashed()},
			{IsParentOwner()},
			{HasRole(moderators...)},
		},

		ActionPollView: {
			{NotTrashed()},
			{HasRole(moderators...)},
		},
		ActionPollVote: {
			{Authenticated(), StatusIs(domain.PollOpen), NotEnded()},
		},
		ActionPollClose: {
			{IsOwner(), StatusIs(domain.PollOpen)},
			{HasRole(moderators...)},
		},

		ActionOrderView: {
			{IsOwner()},
			{IsParentOwner()},
			{HasRole(domain.RoleAdmin)},
		},
		ActionOrderCancel: {
			{IsOwner(), StatusIs(domain.OrderPending)},
			{HasRole(domain.RoleAdmin), StatusIs(domain.OrderPending, domain.OrderPaid)},
		},

		ActionProductUpdate: {
			{IsOwner(), HasRole(domain.RoleMerchant), NotTrashed()},
			{HasRole(domain.RoleAdmin)},
		},
		ActionPromotionRedeem: {
			{Authenticated(), EmailVerified(), StatusIs(domain.PromotionActive), NotEnded()},
		},
		ActionStoreManage: {
			{IsOwner(), HasRole(domain.RoleMerchant), StatusIs(domain.StoreActive)},
			{HasRole(domain.RoleAdmin)},
		},

		ActionEventView: {
			{StatusIs(string(domain.EventPublished))},
			{IsOwner()},
			{HasRole(domain.RoleAdmin)},
		},
		ActionEventCreate: {
			{Authenticated(), HasRole(domain.RoleArtist, domain.RoleOrganizer)},
			{HasRole(domain.RoleAdmin)},
		},
		ActionEventUpdate: {
			{IsOwner(), NotLocked(), StartsAfterNow()},
			{HasRole(domain.RoleAdmin)},
		},
		ActionEventDelete: {
			{IsOwner(), CounterZero(domain.CounterSold)},
			{HasRole(domain.RoleAdmin), CounterZero(domain.CounterSold)},
		},
		ActionEventSell: {
			{StatusIs(string(domain.EventPublished)), StartsAfterNow(), NotLocked()},
		},
		ActionEventReport: {
			{IsOwner()},
			{HasRole(domain.RoleAdmin)},
		},

		ActionTicketView: {
			{IsOwner()},
			{IsParentOwner()},
			{HasRole(domain.RoleAdmin, domain.RoleScanner)},
		},
		ActionTicketCancel: {
			{IsOwner()},
			{IsParentOwner()},
			{HasRole(domain.RoleAdmin)},
		},
		ActionTicketCheckIn: {
			{HasRole(domain.RoleScanner, domain.RoleAdmin)},
			{IsParentOwner()},
		},
	}
}
