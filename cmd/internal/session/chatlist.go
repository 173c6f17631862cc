package session

import (
	"sort"

	"huddle/cmd/internal/chat"
)

// ChatList maintains one summary entry per chat the user belongs to, kept
// sorted by recency (last message time, creation time fallback) descending.
//
// Like Buffer, it is a pure in-memory structure: no I/O, owner-serialized.
type ChatList struct {
	userID string
	chats  []chat.Chat
}

// NewChatList constructs an empty list for the viewing user.
func NewChatList(userID string) *ChatList {
	return &ChatList{userID: userID}
}

// Replace swaps in a freshly fetched list and re-sorts it by recency.
func (l *ChatList) Replace(chats []chat.Chat) {
	l.chats = make([]chat.Chat, len(chats))
	copy(l.chats, chats)
	l.resort()
}

// ApplyNewMessage reflects one observed message without a refetch: the
// matching entry's summary fields are updated and the list is re-sorted.
// An unknown chatID leaves the list unchanged (membership may have changed
// concurrently); the length never changes either way.
//
// The message is marked unread when it was authored by someone else and its
// chat is not the currently open one.
func (l *ChatList) ApplyNewMessage(chatID string, msg chat.Message, openChatID string) bool {
	i := l.index(chatID)
	if i < 0 {
		return false
	}

	l.chats[i].LastMessage = msg.Body
	l.chats[i].LastMessageTime = msg.CreatedAt
	if msg.SenderID != l.userID && chatID != openChatID {
		l.chats[i].Unread = true
	}

	l.resort()
	return true
}

// MarkRead clears the unread flag of a chat, typically on open.
func (l *ChatList) MarkRead(chatID string) {
	if i := l.index(chatID); i >= 0 {
		l.chats[i].Unread = false
	}
}

// Get returns the entry for chatID, if tracked.
func (l *ChatList) Get(chatID string) (chat.Chat, bool) {
	if i := l.index(chatID); i >= 0 {
		return l.chats[i], true
	}
	return chat.Chat{}, false
}

// Len returns the number of tracked chats.
func (l *ChatList) Len() int { return len(l.chats) }

// Chats returns a copy of the list in display order.
func (l *ChatList) Chats() []chat.Chat {
	out := make([]chat.Chat, len(l.chats))
	copy(out, l.chats)
	return out
}

// IDs returns the tracked chat ids in display order.
func (l *ChatList) IDs() []string {
	out := make([]string, len(l.chats))
	for i, c := range l.chats {
		out[i] = c.ID
	}
	return out
}

func (l *ChatList) index(chatID string) int {
	for i := range l.chats {
		if l.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

// resort orders by recency descending. The sort is stable so ties keep their
// prior relative order (no visual jitter).
func (l *ChatList) resort() {
	sort.SliceStable(l.chats, func(i, j int) bool {
		return l.chats[i].Recency().After(l.chats[j].Recency())
	})
}
