package chat

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) (*MemoryRepository, func() time.Time) {
	t.Helper()
	r := NewMemoryRepository()

	// Deterministic, strictly advancing clock.
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	r.SetClock(tick)
	return r, tick
}

func mustCreate(t *testing.T, r *MemoryRepository, in CreateChatInput) Chat {
	t.Helper()
	c, err := r.CreateChat(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	return c
}

func TestCreateChatMembership(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	c := mustCreate(t, r, CreateChatInput{
		OwnerID:   "u-coach",
		Name:      "Morning crew",
		MemberIDs: []string{"u-a", "u-b", "u-coach", "  "},
	})

	if c.MemberCount != 3 {
		t.Fatalf("member count = %d, want 3 (owner deduped, blanks dropped)", c.MemberCount)
	}

	members, err := r.ListMembers(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	roles := map[string]Role{}
	for _, m := range members {
		roles[m.UserID] = m.Role
	}
	if roles["u-coach"] != RoleAdmin {
		t.Fatalf("owner role = %q, want admin", roles["u-coach"])
	}
	if roles["u-a"] != RoleMember || roles["u-b"] != RoleMember {
		t.Fatalf("member roles = %v, want member for u-a and u-b", roles)
	}
}

func TestCreateChatRejectsInvalidInput(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateChat(ctx, CreateChatInput{OwnerID: "u1"}); err == nil {
		t.Fatal("empty name must be rejected")
	}
	if _, err := r.CreateChat(ctx, CreateChatInput{Name: "x"}); err == nil {
		t.Fatal("empty owner must be rejected")
	}
}

func TestInsertMessageOrderingAndIDs(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general", MemberIDs: []string{"u2"}})

	m1, err := r.InsertMessage(ctx, c.ID, "u1", "first")
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	m2, err := r.InsertMessage(ctx, c.ID, "u2", "second")
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	if !m1.Before(m2) {
		t.Fatalf("m1 (%s) must order before m2 (%s)", m1.ID, m2.ID)
	}

	msgs, err := r.ListMessages(ctx, c.ID, "u1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatalf("history = %v, want ascending [%s %s]", msgs, m1.ID, m2.ID)
	}
}

func TestInsertMessageGuards(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general", MemberIDs: []string{"u2"}})

	tests := []struct {
		name    string
		chatID  string
		sender  string
		body    string
		wantErr error
	}{
		{"empty body", c.ID, "u1", "   ", ErrEmptyBody},
		{"unknown chat", "nope", "u1", "hi", ErrChatNotFound},
		{"non-member", c.ID, "u-stranger", "hi", ErrNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.InsertMessage(ctx, tt.chatID, tt.sender, tt.body); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnnouncementModeLocksNonOwners(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{
		OwnerID:          "u-coach",
		Name:             "Announcements",
		MemberIDs:        []string{"u-a"},
		AnnouncementMode: true,
	})

	if _, err := r.InsertMessage(ctx, c.ID, "u-a", "hi"); !errors.Is(err, ErrAnnouncementLocked) {
		t.Fatalf("member post = %v, want ErrAnnouncementLocked", err)
	}
	if _, err := r.InsertMessage(ctx, c.ID, "u-coach", "welcome"); err != nil {
		t.Fatalf("owner post: %v", err)
	}

	// Reactions stay open in announcement mode.
	msgs, _ := r.ListMessages(ctx, c.ID, "u-a")
	if _, err := r.ToggleReaction(ctx, msgs[0].ID, "u-a", ReactionThumbsUp); err != nil {
		t.Fatalf("member reaction in announcement chat: %v", err)
	}
}

func TestToggleReactionSemantics(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general", MemberIDs: []string{"u2"}})
	msg, _ := r.InsertMessage(ctx, c.ID, "u1", "react to me")

	// First toggle sets.
	state, err := r.ToggleReaction(ctx, msg.ID, "u2", ReactionThumbsUp)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if state.ThumbsUp != 1 || state.UserReaction != ReactionThumbsUp {
		t.Fatalf("state = %+v, want one thumbs_up by the viewer", state)
	}

	// Other kind replaces.
	state, _ = r.ToggleReaction(ctx, msg.ID, "u2", ReactionThumbsDown)
	if state.ThumbsUp != 0 || state.ThumbsDown != 1 || state.UserReaction != ReactionThumbsDown {
		t.Fatalf("state = %+v, want the replacement thumbs_down", state)
	}

	// Same kind again clears.
	state, _ = r.ToggleReaction(ctx, msg.ID, "u2", ReactionThumbsDown)
	if state.ThumbsUp != 0 || state.ThumbsDown != 0 || state.UserReaction != "" {
		t.Fatalf("state = %+v, want cleared", state)
	}
}

func TestToggleReactionCountsAcrossUsers(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general", MemberIDs: []string{"u2", "u3"}})
	msg, _ := r.InsertMessage(ctx, c.ID, "u1", "popular")

	r.ToggleReaction(ctx, msg.ID, "u1", ReactionThumbsUp)
	r.ToggleReaction(ctx, msg.ID, "u2", ReactionThumbsUp)
	state, _ := r.ToggleReaction(ctx, msg.ID, "u3", ReactionThumbsDown)

	if state.ThumbsUp != 2 || state.ThumbsDown != 1 {
		t.Fatalf("counts = %+v, want 2 up / 1 down", state)
	}
	if state.UserReaction != ReactionThumbsDown {
		t.Fatalf("viewer reaction = %q, want thumbs_down for u3", state.UserReaction)
	}

	// A different viewer sees their own reaction.
	msgs, _ := r.ListMessages(ctx, c.ID, "u2")
	if got := msgs[0].Reactions; got.UserReaction != ReactionThumbsUp {
		t.Fatalf("u2 sees %+v, want own thumbs_up", got)
	}
}

func TestToggleReactionGuards(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general"})
	msg, _ := r.InsertMessage(ctx, c.ID, "u1", "hi")

	if _, err := r.ToggleReaction(ctx, msg.ID, "u1", "heart"); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("unknown kind = %v, want ErrInvalidReaction", err)
	}
	if _, err := r.ToggleReaction(ctx, "missing", "u1", ReactionThumbsUp); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("missing message = %v, want ErrMessageNotFound", err)
	}
	if _, err := r.ToggleReaction(ctx, msg.ID, "u-stranger", ReactionThumbsUp); !errors.Is(err, ErrNotMember) {
		t.Fatalf("non-member = %v, want ErrNotMember", err)
	}
}

func TestListChatsForUserRecencyAndSummary(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	first := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "older"})
	second := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "newer"})

	// No messages: creation time decides, newest first.
	chats, err := r.ListChatsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListChatsForUser: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != second.ID {
		t.Fatalf("order = %v, want newer first", chats)
	}

	// A message in the older chat promotes it.
	if _, err := r.InsertMessage(ctx, first.ID, "u1", "bump"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	chats, _ = r.ListChatsForUser(ctx, "u1")
	if chats[0].ID != first.ID {
		t.Fatalf("order = %v, want bumped chat first", chats)
	}
	if chats[0].LastMessage != "bump" || chats[0].LastMessageTime.IsZero() {
		t.Fatalf("summary = %+v, want last message fields filled", chats[0])
	}

	// Non-member sees nothing.
	other, _ := r.ListChatsForUser(ctx, "u-stranger")
	if len(other) != 0 {
		t.Fatalf("stranger sees %v, want none", other)
	}
}

func TestListMessagesGuards(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general"})

	if _, err := r.ListMessages(ctx, "missing", "u1"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat = %v, want ErrChatNotFound", err)
	}
	if _, err := r.ListMessages(ctx, c.ID, "u-stranger"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("non-member = %v, want ErrNotMember", err)
	}
}

func TestDeleteChatAdminOnlyAndCascades(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general", MemberIDs: []string{"u2"}})
	msg, _ := r.InsertMessage(ctx, c.ID, "u1", "gone soon")

	if err := r.DeleteChat(ctx, c.ID, "u2"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("member delete = %v, want ErrNotAdmin", err)
	}
	if err := r.DeleteChat(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if err := r.DeleteChat(ctx, c.ID, "u1"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("second delete = %v, want ErrChatNotFound", err)
	}

	// Message index is cleaned up with the chat.
	if _, err := r.ToggleReaction(ctx, msg.ID, "u1", ReactionThumbsUp); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("reaction on deleted chat = %v, want ErrMessageNotFound", err)
	}
}

func TestAddMembers(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	c := mustCreate(t, r, CreateChatInput{OwnerID: "u1", Name: "general"})

	if err := r.AddMembers(ctx, c.ID, []string{"u2"}, "u2"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("non-admin add = %v, want ErrNotAdmin", err)
	}
	if err := r.AddMembers(ctx, c.ID, []string{"u2", "u3", "u2", ""}, "u1"); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}

	members, _ := r.ListMembers(ctx, c.ID)
	if len(members) != 3 {
		t.Fatalf("membership = %v, want 3 entries", members)
	}

	chats, _ := r.ListChatsForUser(ctx, "u2")
	if len(chats) != 1 || chats[0].MemberCount != 3 {
		t.Fatalf("new member's view = %v, want the chat with count 3", chats)
	}
}

func TestContextCancellationWrapsRetryable(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ListChatsForUser(ctx, "u1")
	if err == nil {
		t.Fatal("cancelled context must fail")
	}
	var re *RepositoryError
	if !errors.As(err, &re) {
		t.Fatalf("error = %T, want *RepositoryError", err)
	}
}
