package service

import "chatcore/internal/presence"

// Notifier pushes payloads to connected users. Implementations must not call
// back into the services.
type Notifier interface {
	// Dispatch delivers the registry's presence notifications.
	Dispatch(n presence.Notifications)
	SendToUsers(userIDs []int64, payload any)
	// SendToOtherConnections reaches every connection of userID except the
	// one the action came from.
	SendToOtherConnections(userID int64, connectionID string, payload any)
}

// Event types pushed to clients by the chat-action services.
const (
	EventMessage           = "message"
	EventMessageDeleted    = "message_deleted"
	EventRead              = "read"
	EventReceived          = "received"
	EventTyping            = "typing"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventMemberJoined      = "member_joined"
	EventMemberLeft        = "member_left"
	EventMemberRemoved     = "member_removed"
	EventPermissionChanged = "member_permission_changed"
)

// Permissions stored on group subscriptions.
const (
	PermOwner  = "owner"
	PermAdmin  = "admin"
	PermMember = "member"
)

func canManage(permission string) bool {
	return permission == PermOwner || permission == PermAdmin
}
