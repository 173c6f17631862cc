// Package session implements the client-side chat state layer: the message
// ordering buffer for the open conversation, the recency-sorted chat list,
// and the Session that reconciles user sends, realtime delivery and refetches
// into both.
package session

import (
	"sort"

	"huddle/cmd/internal/chat"
)

// Buffer holds the displayed message history for exactly one open chat.
//
// Two independent producers feed it: the optimistic send path and realtime
// delivery. A message sent by the local user therefore flows through Merge
// twice (once on insert success, once as its own realtime echo); the id-based
// dedup is what keeps the displayed list correct.
//
// Invariants:
//   - at most one entry per message id
//   - display order is (created_at, id), independent of arrival order
//
// Operations are total functions over their inputs; none perform I/O.
// A Buffer is not goroutine-safe; its owner serializes access.
type Buffer struct {
	chatID string
	msgs   []chat.Message
	ids    map[string]struct{}
}

// NewBuffer constructs an empty buffer scoped to chatID.
func NewBuffer(chatID string) *Buffer {
	return &Buffer{
		chatID: chatID,
		ids:    make(map[string]struct{}),
	}
}

// ChatID returns the chat this buffer is scoped to.
func (b *Buffer) ChatID() string { return b.chatID }

// Len returns the number of buffered messages.
func (b *Buffer) Len() int { return len(b.msgs) }

// Load replaces the buffer wholesale after a full history fetch. Input is
// expected server-ordered ascending, but unsorted input is tolerated: the
// stable sort below is a no-op for already-sorted input.
func (b *Buffer) Load(msgs []chat.Message) {
	b.msgs = b.msgs[:0]
	clear(b.ids)

	for _, m := range msgs {
		if m.ChatID != b.chatID {
			continue
		}
		if _, dup := b.ids[m.ID]; dup {
			continue
		}
		b.ids[m.ID] = struct{}{}
		b.msgs = append(b.msgs, m)
	}

	sort.SliceStable(b.msgs, func(i, j int) bool { return b.msgs[i].Before(b.msgs[j]) })
}

// Merge inserts one incoming message, preserving sort order. It reports
// whether the buffer changed: false means the message belongs to a different
// chat or is already present (duplicate suppression).
//
// Append is the fast path since created_at is usually close to "now", but a
// late event is still inserted at its chronologically correct position.
func (b *Buffer) Merge(in chat.Message) bool {
	if in.ChatID != b.chatID {
		return false
	}
	if _, dup := b.ids[in.ID]; dup {
		return false
	}

	b.ids[in.ID] = struct{}{}

	if n := len(b.msgs); n == 0 || b.msgs[n-1].Before(in) {
		b.msgs = append(b.msgs, in)
		return true
	}

	i := sort.Search(len(b.msgs), func(i int) bool { return in.Before(b.msgs[i]) })
	b.msgs = append(b.msgs, chat.Message{})
	copy(b.msgs[i+1:], b.msgs[i:])
	b.msgs[i] = in
	return true
}

// UpdateReaction replaces the reaction state of the matching message. A miss
// is a legitimate race (message not yet loaded) and is silently dropped.
func (b *Buffer) UpdateReaction(messageID string, r chat.Reactions) bool {
	if _, ok := b.ids[messageID]; !ok {
		return false
	}
	// Recent messages are the usual reaction targets; scan from the tail.
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].ID == messageID {
			state := r
			b.msgs[i].Reactions = &state
			return true
		}
	}
	return false
}

// Messages returns a copy of the buffered history in display order.
func (b *Buffer) Messages() []chat.Message {
	out := make([]chat.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}
