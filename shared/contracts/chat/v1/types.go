package v1

import "time"

// Message is the wire representation of one chat message.
type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	SenderID  string     `json:"sender_id"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
	Reactions *Reactions `json:"reactions,omitempty"`
}

// Reactions is the authoritative reaction state of one message as seen by
// the receiving user.
type Reactions struct {
	ThumbsUp     int    `json:"thumbs_up"`
	ThumbsDown   int    `json:"thumbs_down"`
	UserReaction string `json:"user_reaction,omitempty"`
}

// ChatSummary is one entry of the recency-sorted chat list.
type ChatSummary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OwnerID          string    `json:"owner_id"`
	AnnouncementMode bool      `json:"announcement_mode"`
	MemberCount      int       `json:"member_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastMessage      string    `json:"last_message,omitempty"`
	LastMessageTime  time.Time `json:"last_message_time,omitzero"`
	Unread           bool      `json:"unread"`
}

// ---- Payloads ----

// HelloPayload starts a session for a user. AccessKey is required unless the
// server runs in open dev mode.
type HelloPayload struct {
	UserID    string `json:"user_id"`
	AccessKey string `json:"access_key,omitempty"`
}

// HelloAckPayload confirms the session and carries its server-side id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ChatListPayload carries the full chat list in display order.
type ChatListPayload struct {
	Chats []ChatSummary `json:"chats"`
}

// ChatOpenPayload selects the conversation to open.
type ChatOpenPayload struct {
	ChatID string `json:"chat_id"`
}

// ChatHistoryPayload returns the open conversation's messages ascending by
// (created_at, id).
type ChatHistoryPayload struct {
	ChatID   string    `json:"chat_id"`
	Messages []Message `json:"messages"`
}

// MessageSendPayload requests sending a message into the open chat.
type MessageSendPayload struct {
	Body string `json:"body"`
}

// MessageAckPayload confirms a send with the stored message.
type MessageAckPayload struct {
	Message Message `json:"message"`
}

// MessageNewPayload delivers one realtime insert event.
type MessageNewPayload struct {
	Message Message `json:"message"`
}

// ReactionTogglePayload flips the sender's reaction on a message.
type ReactionTogglePayload struct {
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"`
}

// ReactionUpdatePayload carries the authoritative post-toggle state.
type ReactionUpdatePayload struct {
	MessageID string    `json:"message_id"`
	Reactions Reactions `json:"reactions"`
}

// ChatCreatePayload creates a chat owned by the session user.
type ChatCreatePayload struct {
	Name             string   `json:"name"`
	MemberIDs        []string `json:"member_ids,omitempty"`
	AnnouncementMode bool     `json:"announcement_mode"`
}

// ChatDeletePayload deletes a chat (admin only).
type ChatDeletePayload struct {
	ChatID string `json:"chat_id"`
}

// MemberAddPayload adds members to a chat (admin only).
type MemberAddPayload struct {
	ChatID    string   `json:"chat_id"`
	MemberIDs []string `json:"member_ids"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
