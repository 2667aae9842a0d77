package model

import "time"

// NotificationPreferences is the per-user opt-in row. The row itself is
// optional: a user without one has no restrictions at all, which is why the
// store returns ErrNotFound instead of a zero value.
type NotificationPreferences struct {
	UserID                string `json:"userId"`
	VibesEnabled          bool   `json:"vibesEnabled"`
	FriendRequestsEnabled bool   `json:"friendRequestsEnabled"`
	RepliesEnabled        bool   `json:"repliesEnabled"`
	// Quiet hours are local wall-clock "HH:MM" strings; both must be set
	// for the window to apply.
	QuietHoursStart string    `json:"quietHoursStart,omitempty"`
	QuietHoursEnd   string    `json:"quietHoursEnd,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Notification types that are gated by a preference flag. Anything else is
// sent regardless of the flags (deliberate default-allow for new types).
const (
	TypeVibe          = "vibe"
	TypeFriendRequest = "friend_request"
	TypeReply         = "reply"
)
