// Package chat defines the team chat domain: chats, members, messages,
// reactions, and the repository contract that backs them.
package chat

import "time"

// ReactionKind is a per-user reaction toggle on a message.
type ReactionKind string

// Reaction kinds (wire-stable).
const (
	ReactionThumbsUp   ReactionKind = "thumbs_up"
	ReactionThumbsDown ReactionKind = "thumbs_down"
)

// Valid reports whether k is a known reaction kind.
func (k ReactionKind) Valid() bool {
	return k == ReactionThumbsUp || k == ReactionThumbsDown
}

// Reactions is the authoritative reaction state of one message, as seen by
// one viewing user. UserReaction is empty when the viewer has not reacted.
type Reactions struct {
	ThumbsUp     int
	ThumbsDown   int
	UserReaction ReactionKind
}

// Message is an immutable chat message. There is no edit operation; the only
// mutable field is the derived Reactions state.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Body      string
	CreatedAt time.Time

	Reactions *Reactions
}

// Before reports whether m sorts before other under the display ordering key
// (created_at, id). Message IDs are ULIDs, so the id tie-break is both
// lexicographic and roughly chronological.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Role is a chat membership role.
type Role string

// Membership roles.
const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Member is one (chat, user) membership pair.
type Member struct {
	ChatID string
	UserID string
	Role   Role
}

// Chat is a conversation with members. When AnnouncementMode is set, only the
// owner may post; other members may only react.
//
// LastMessage, LastMessageTime and Unread are derived display fields: they
// are filled by list queries and maintained locally by the session layer,
// never written back.
type Chat struct {
	ID               string
	Name             string
	OwnerID          string
	AnnouncementMode bool
	MemberCount      int
	CreatedAt        time.Time

	LastMessage     string
	LastMessageTime time.Time
	Unread          bool
}

// Recency returns the sort key used by chat lists: the last message time,
// falling back to the creation time for chats with no messages yet.
func (c Chat) Recency() time.Time {
	if c.LastMessageTime.IsZero() {
		return c.CreatedAt
	}
	return c.LastMessageTime
}
