package session

import (
	"testing"
	"time"

	"huddle/cmd/internal/chat"
)

func chatAt(id string, created time.Time) chat.Chat {
	return chat.Chat{
		ID:        id,
		Name:      "name-" + id,
		OwnerID:   "u-owner",
		CreatedAt: created,
	}
}

func listIDs(l *ChatList) []string { return l.IDs() }

func wantListOrder(t *testing.T, l *ChatList, want ...string) {
	t.Helper()
	got := listIDs(l)
	if len(got) != len(want) {
		t.Fatalf("list has %d chats, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestChatListReplaceSortsByRecency(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	older := chatAt("c-old", base)
	newer := chatAt("c-new", base.Add(time.Hour))
	withMsg := chatAt("c-msg", base.Add(-time.Hour))
	withMsg.LastMessageTime = base.Add(2 * time.Hour)

	l := NewChatList("u1")
	l.Replace([]chat.Chat{older, newer, withMsg})

	// Last message time beats creation time; creation time is the fallback.
	wantListOrder(t, l, "c-msg", "c-new", "c-old")
}

func TestChatListApplyNewMessagePromotesChat(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewChatList("u1")
	l.Replace([]chat.Chat{
		chatAt("c1", base.Add(2*time.Hour)),
		chatAt("c2", base.Add(1*time.Hour)),
		chatAt("c3", base),
	})
	wantListOrder(t, l, "c1", "c2", "c3")

	msg := msgAt("m1", "c3", base.Add(3*time.Hour))
	if !l.ApplyNewMessage("c3", msg, "") {
		t.Fatal("known chat should apply")
	}

	wantListOrder(t, l, "c3", "c1", "c2")

	got, _ := l.Get("c3")
	if got.LastMessage != msg.Body {
		t.Fatalf("last message = %q, want %q", got.LastMessage, msg.Body)
	}
	if !got.LastMessageTime.Equal(msg.CreatedAt) {
		t.Fatalf("last message time = %v, want %v", got.LastMessageTime, msg.CreatedAt)
	}
}

func TestChatListApplyNewMessageUnknownChatUnchanged(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewChatList("u1")
	l.Replace([]chat.Chat{chatAt("c1", base)})

	if l.ApplyNewMessage("c-unknown", msgAt("m1", "c-unknown", base), "") {
		t.Fatal("unknown chat must leave the list unchanged")
	}
	if l.Len() != 1 {
		t.Fatalf("list length = %d, want 1", l.Len())
	}
	wantListOrder(t, l, "c1")
}

func TestChatListUnreadSemantics(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		senderID   string
		openChatID string
		wantUnread bool
	}{
		{"other sender, chat closed", "u-other", "", true},
		{"other sender, chat open", "u-other", "c1", false},
		{"own message, chat closed", "u1", "", false},
		{"own message, chat open", "u1", "c1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewChatList("u1")
			l.Replace([]chat.Chat{chatAt("c1", base)})

			msg := msgAt("m1", "c1", base.Add(time.Minute))
			msg.SenderID = tt.senderID
			l.ApplyNewMessage("c1", msg, tt.openChatID)

			got, _ := l.Get("c1")
			if got.Unread != tt.wantUnread {
				t.Fatalf("unread = %v, want %v", got.Unread, tt.wantUnread)
			}
		})
	}
}

func TestChatListMarkRead(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewChatList("u1")
	l.Replace([]chat.Chat{chatAt("c1", base)})

	msg := msgAt("m1", "c1", base.Add(time.Minute))
	msg.SenderID = "u-other"
	l.ApplyNewMessage("c1", msg, "")

	if got, _ := l.Get("c1"); !got.Unread {
		t.Fatal("setup: chat should be unread")
	}

	l.MarkRead("c1")
	if got, _ := l.Get("c1"); got.Unread {
		t.Fatal("MarkRead should clear the unread flag")
	}

	// Unknown id is a no-op.
	l.MarkRead("c-unknown")
}

func TestChatListResortIsStableOnTies(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := chatAt("cA", at)
	b := chatAt("cB", at)

	l := NewChatList("u1")
	l.Replace([]chat.Chat{a, b})
	wantListOrder(t, l, "cA", "cB")

	// Touch an unrelated chat; the tied pair must keep its relative order.
	c := chatAt("cC", at.Add(-time.Hour))
	l.Replace([]chat.Chat{a, b, c})
	l.ApplyNewMessage("cC", msgAt("m1", "cC", at.Add(time.Hour)), "")
	wantListOrder(t, l, "cC", "cA", "cB")
}
