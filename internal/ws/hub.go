package ws

import (
	"log/slog"

	"chatcore/internal/presence"
	"chatcore/internal/service"
)

// Wire types of the registry notifications.
const (
	EventGroupStatus        = "group_status"
	EventGroupOnlineMembers = "group_online_members"
	EventError              = "error"
)

// Hub delivers payloads to the live connections held by the presence
// registry.
type Hub struct {
	registry *presence.Registry
	log      *slog.Logger
}

var _ service.Notifier = (*Hub)(nil)

func NewHub(registry *presence.Registry, log *slog.Logger) *Hub {
	return &Hub{registry: registry, log: log}
}

// Dispatch turns status notifications into group_status events and detail
// notifications into group_online_members events.
func (h *Hub) Dispatch(n presence.Notifications) {
	for _, s := range n.Status {
		h.send(s.UserID, h.registry.ConnectionsOf(s.UserID), map[string]any{
			"type":     EventGroupStatus,
			"topic_id": s.TopicID,
			"online":   s.Kind == presence.KindStatusOn,
		})
	}
	for _, d := range n.Detail {
		h.send(d.UserID, h.registry.ConnectionsOf(d.UserID), map[string]any{
			"type":              EventGroupOnlineMembers,
			"topic_id":          d.TopicID,
			"online_member_ids": d.OnlineMemberIDs,
		})
	}
}

// SendToUsers sends the payload to all active connections of the provided
// user IDs. Offline users are skipped.
func (h *Hub) SendToUsers(userIDs []int64, payload any) {
	for _, uid := range userIDs {
		h.send(uid, h.registry.ConnectionsOf(uid), payload)
	}
}

func (h *Hub) SendToOtherConnections(userID int64, connectionID string, payload any) {
	h.send(userID, h.registry.OtherConnections(userID, connectionID), payload)
}

func (h *Hub) send(userID int64, conns []presence.Connection, payload any) {
	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			h.log.Debug("ws push failed", "user_id", userID, "error", err)
		}
	}
}
