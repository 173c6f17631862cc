package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const memMaxMessagesPerChat = 10_000

// MemoryRepository is a dev/test fallback used when no database is
// configured. Semantics match PostgresRepository, including the announcement
// lock, admin checks and reaction toggling.
type MemoryRepository struct {
	mu    sync.Mutex
	chats map[string]*memChat
	// message id -> chat id, for reaction lookups
	msgIndex map[string]string

	now func() time.Time
}

type memChat struct {
	chat    Chat
	members map[string]Role
	msgs    []Message // ordered by (created_at, id)
	// message id -> user id -> kind
	reactions map[string]map[string]ReactionKind
}

// NewMemoryRepository constructs an empty in-memory Repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chats:    make(map[string]*memChat),
		msgIndex: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the repository clock. Test hook.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// ListChatsForUser returns the chats userID belongs to, most recent first,
// with last-message summaries filled in.
func (r *MemoryRepository) ListChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoErr("list_chats", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Chat
	for _, mc := range r.chats {
		if _, ok := mc.members[userID]; !ok {
			continue
		}
		out = append(out, mc.summary())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Recency().After(out[j].Recency())
	})
	return out, nil
}

// ListMessages returns chat history ascending by (created_at, id), with the
// viewer's reaction state resolved.
func (r *MemoryRepository) ListMessages(ctx context.Context, chatID, viewerID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoErr("list_messages", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mc := r.chats[chatID]
	if mc == nil {
		return nil, ErrChatNotFound
	}
	if _, ok := mc.members[viewerID]; !ok {
		return nil, ErrNotMember
	}

	out := make([]Message, len(mc.msgs))
	copy(out, mc.msgs)
	for i := range out {
		out[i].Reactions = mc.reactionState(out[i].ID, viewerID)
	}
	return out, nil
}

// InsertMessage validates and appends a message, returning the stored copy.
func (r *MemoryRepository) InsertMessage(ctx context.Context, chatID, senderID, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrEmptyBody
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mc := r.chats[chatID]
	if mc == nil {
		return Message{}, ErrChatNotFound
	}
	if _, ok := mc.members[senderID]; !ok {
		return Message{}, ErrNotMember
	}
	if mc.chat.AnnouncementMode && senderID != mc.chat.OwnerID {
		return Message{}, ErrAnnouncementLocked
	}

	now := r.now()
	id, err := NewID(now)
	if err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	msg := Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
	}
	mc.msgs = append(mc.msgs, msg)
	r.msgIndex[id] = chatID

	// Bound memory in long-lived dev processes.
	if len(mc.msgs) > memMaxMessagesPerChat {
		drop := mc.msgs[:len(mc.msgs)-memMaxMessagesPerChat]
		for _, d := range drop {
			delete(r.msgIndex, d.ID)
			delete(mc.reactions, d.ID)
		}
		mc.msgs = mc.msgs[len(drop):]
	}

	return msg, nil
}

// ToggleReaction flips the viewer's reaction on a message and returns the
// authoritative new state. Same kind clears, the other kind replaces.
func (r *MemoryRepository) ToggleReaction(ctx context.Context, messageID, userID string, kind ReactionKind) (Reactions, error) {
	if err := ctx.Err(); err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}
	if !kind.Valid() {
		return Reactions{}, ErrInvalidReaction
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chatID, ok := r.msgIndex[messageID]
	if !ok {
		return Reactions{}, ErrMessageNotFound
	}
	mc := r.chats[chatID]
	if mc == nil {
		return Reactions{}, ErrMessageNotFound
	}
	if _, ok := mc.members[userID]; !ok {
		return Reactions{}, ErrNotMember
	}

	byUser := mc.reactions[messageID]
	if byUser == nil {
		byUser = make(map[string]ReactionKind)
		mc.reactions[messageID] = byUser
	}

	if byUser[userID] == kind {
		delete(byUser, userID)
	} else {
		byUser[userID] = kind
	}

	state := mc.reactionState(messageID, userID)
	return *state, nil
}

// ListMembers returns the membership of a chat.
func (r *MemoryRepository) ListMembers(ctx context.Context, chatID string) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoErr("list_members", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mc := r.chats[chatID]
	if mc == nil {
		return nil, ErrChatNotFound
	}

	out := make([]Member, 0, len(mc.members))
	for userID, role := range mc.members {
		out = append(out, Member{ChatID: chatID, UserID: userID, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CreateChat creates a chat with the owner as admin plus the given members.
func (r *MemoryRepository) CreateChat(ctx context.Context, in CreateChatInput) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.OwnerID) == "" {
		return Chat{}, repoErr("create_chat", errInvalidInput)
	}

	now := r.now()
	id, err := NewID(now)
	if err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	members := map[string]Role{in.OwnerID: RoleAdmin}
	for _, m := range in.MemberIDs {
		m = strings.TrimSpace(m)
		if m == "" || m == in.OwnerID {
			continue
		}
		members[m] = RoleMember
	}

	c := Chat{
		ID:               id,
		Name:             name,
		OwnerID:          in.OwnerID,
		AnnouncementMode: in.AnnouncementMode,
		MemberCount:      len(members),
		CreatedAt:        now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.chats[id] = &memChat{
		chat:      c,
		members:   members,
		reactions: make(map[string]map[string]ReactionKind),
	}
	return c, nil
}

// DeleteChat removes a chat and everything under it. Admin only.
func (r *MemoryRepository) DeleteChat(ctx context.Context, chatID, requestingUserID string) error {
	if err := ctx.Err(); err != nil {
		return repoErr("delete_chat", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mc := r.chats[chatID]
	if mc == nil {
		return ErrChatNotFound
	}
	if mc.members[requestingUserID] != RoleAdmin {
		return ErrNotAdmin
	}

	for _, m := range mc.msgs {
		delete(r.msgIndex, m.ID)
	}
	delete(r.chats, chatID)
	return nil
}

// AddMembers adds users to a chat, skipping existing memberships. Admin only.
func (r *MemoryRepository) AddMembers(ctx context.Context, chatID string, memberIDs []string, requestingUserID string) error {
	if err := ctx.Err(); err != nil {
		return repoErr("add_members", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mc := r.chats[chatID]
	if mc == nil {
		return ErrChatNotFound
	}
	if mc.members[requestingUserID] != RoleAdmin {
		return ErrNotAdmin
	}

	for _, m := range memberIDs {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, exists := mc.members[m]; exists {
			continue
		}
		mc.members[m] = RoleMember
	}
	mc.chat.MemberCount = len(mc.members)
	return nil
}

// summary returns the chat with derived last-message fields filled in.
func (mc *memChat) summary() Chat {
	c := mc.chat
	c.MemberCount = len(mc.members)
	if n := len(mc.msgs); n > 0 {
		last := mc.msgs[n-1]
		c.LastMessage = last.Body
		c.LastMessageTime = last.CreatedAt
	}
	return c
}

// reactionState aggregates counts plus the viewer's own reaction.
func (mc *memChat) reactionState(messageID, viewerID string) *Reactions {
	byUser := mc.reactions[messageID]
	if len(byUser) == 0 {
		return &Reactions{}
	}

	var state Reactions
	for userID, kind := range byUser {
		switch kind {
		case ReactionThumbsUp:
			state.ThumbsUp++
		case ReactionThumbsDown:
			state.ThumbsDown++
		}
		if userID == viewerID {
			state.UserReaction = kind
		}
	}
	return &state
}
