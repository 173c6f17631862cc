package session

import "huddle/cmd/internal/chat"

// Channel is the realtime subscription contract consumed by Session.
//
// Delivery is at-least-once and unordered relative to other chats; per-chat
// ordering holds in practice but is not guaranteed, which is why the Buffer
// orders by (created_at, id) rather than arrival.
//
// Implementations must invoke onInsert from a single goroutine per
// subscription so callbacks never interleave.
type Channel interface {
	Subscribe(chatIDs []string, onInsert func(chat.Message)) (Subscription, error)
}

// Subscription is a live realtime subscription. Close tears it down and is
// idempotent; no deliveries happen after Close returns.
type Subscription interface {
	Close()
}
