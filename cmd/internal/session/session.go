package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"huddle/cmd/internal/chat"
)

const defaultEventQueueSize = 256

// Session errors. ErrStaleFetch is internal plumbing: a history fetch that
// resolved after the user already switched away is discarded, not surfaced.
var (
	ErrNoOpenChat  = errors.New("session: no chat is open")
	ErrStaleFetch  = errors.New("session: stale history fetch discarded")
	errNilRepo     = errors.New("session: nil repository")
	errEmptyUserID = errors.New("session: empty user id")
)

// EventResult classifies what HandleEvent did with a delivered message.
type EventResult int

const (
	// EventMerged: the message entered the open chat's buffer.
	EventMerged EventResult = iota
	// EventDuplicate: the open buffer already held this id (optimistic
	// insert vs realtime echo collapsing to one entry).
	EventDuplicate
	// EventOtherChat: the message belongs to a chat that is not open; only
	// the chat list was touched.
	EventOtherChat
)

// Config wires a Session.
type Config struct {
	Log      *slog.Logger
	Repo     chat.Repository
	Channel  Channel
	Notifier Notifier
	UserID   string

	// Now overrides the clock. Test hook.
	Now func() time.Time

	// EventQueueSize bounds the realtime event queue (default 256).
	EventQueueSize int
}

// Session reconciles three concurrent write sources into the local display
// state: (1) user-initiated sends, (2) realtime delivery, (3) full refetches.
// It owns the chat list, the open conversation's buffer, and at most one
// realtime subscription.
//
// Concurrency: Session methods are not goroutine-safe; one owner (a gateway
// connection loop, or a test) serializes them. Realtime events are never
// applied on the delivery goroutine — the subscription callback enqueues into
// Events() and the owner applies each one via HandleEvent. That keeps all
// buffer mutation on a single logical thread, so no two merges interleave.
type Session struct {
	log      *slog.Logger
	repo     chat.Repository
	channel  Channel
	notifier Notifier
	userID   string
	now      func() time.Time

	list       *ChatList
	buffer     *Buffer // nil while no chat is open or a fetch is in flight
	openChatID string
	openGen    uint64

	// pending holds open-chat events that arrived between fetch issuance and
	// resolution; they are merged after Load (idempotently) so nothing is
	// lost in that window.
	pending []chat.Message

	sub    Subscription
	subIDs map[string]struct{}
	events chan chat.Message
}

// New constructs a Session for one user.
func New(cfg Config) (*Session, error) {
	if cfg.Repo == nil {
		return nil, errNilRepo
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errEmptyUserID
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}

	return &Session{
		log:      cfg.Log,
		repo:     cfg.Repo,
		channel:  cfg.Channel,
		notifier: cfg.Notifier,
		userID:   cfg.UserID,
		now:      cfg.Now,
		list:     NewChatList(cfg.UserID),
		events:   make(chan chat.Message, cfg.EventQueueSize),
	}, nil
}

// UserID returns the session's user.
func (s *Session) UserID() string { return s.userID }

// OpenChatID returns the currently open chat id ("" when none).
func (s *Session) OpenChatID() string { return s.openChatID }

// Chats returns the current chat list in display order.
func (s *Session) Chats() []chat.Chat { return s.list.Chats() }

// Messages returns the open chat's buffered history ([] when none is open or
// the history fetch has not resolved yet).
func (s *Session) Messages() []chat.Message {
	if s.buffer == nil {
		return nil
	}
	return s.buffer.Messages()
}

// Events is the realtime delivery queue. The owner drains it and feeds each
// message to HandleEvent. Deliveries that would overflow the queue are
// dropped; the next full refetch catches up.
func (s *Session) Events() <-chan chat.Message { return s.events }

// Close tears down the realtime subscription. Idempotent.
func (s *Session) Close() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	s.subIDs = nil
}

// Refresh refetches the chat list and, when the chat id set changed,
// re-subscribes the realtime channel. On repository failure the previous
// list is left untouched so the UI can show an explicit retryable error
// instead of silently going stale or empty.
func (s *Session) Refresh(ctx context.Context) ([]chat.Chat, error) {
	chats, err := s.repo.ListChatsForUser(ctx, s.userID)
	if err != nil {
		return nil, err
	}

	s.list.Replace(chats)
	s.resubscribe()
	return s.list.Chats(), nil
}

// OpenChat switches the session to chatID: the previous buffer is discarded
// and a full history fetch replaces it. A switch that happens before an
// earlier fetch resolves wins — the stale result is discarded at resolution
// time via the generation stamp, so messages from a previously open chat can
// never leak into the new buffer.
func (s *Session) OpenChat(ctx context.Context, chatID string) ([]chat.Message, error) {
	gen := s.beginOpen(chatID)
	msgs, err := s.repo.ListMessages(ctx, chatID, s.userID)
	return s.completeOpen(gen, chatID, msgs, err)
}

// beginOpen stamps a new fetch generation and puts the session into the
// loading state for chatID.
func (s *Session) beginOpen(chatID string) uint64 {
	s.openGen++
	s.openChatID = chatID
	s.buffer = nil
	s.pending = s.pending[:0]
	s.list.MarkRead(chatID)
	return s.openGen
}

// completeOpen applies a resolved history fetch, unless a later beginOpen
// superseded it.
func (s *Session) completeOpen(gen uint64, chatID string, msgs []chat.Message, err error) ([]chat.Message, error) {
	if gen != s.openGen || chatID != s.openChatID {
		return nil, ErrStaleFetch
	}
	if err != nil {
		// Loading state persists; the UI offers a manual retry.
		return nil, err
	}

	b := NewBuffer(chatID)
	b.Load(msgs)
	for _, m := range s.pending {
		b.Merge(m)
	}
	s.pending = s.pending[:0]
	s.buffer = b
	return b.Messages(), nil
}

// Send posts body to the open chat. Validation and the announcement-lock
// check happen before any I/O; on repository failure the local buffers are
// left unmodified (no ghost message). On success the returned message is
// merged optimistically, independent of whether its realtime echo arrives.
func (s *Session) Send(ctx context.Context, body string) (chat.Message, error) {
	if s.openChatID == "" {
		return chat.Message{}, ErrNoOpenChat
	}
	if strings.TrimSpace(body) == "" {
		return chat.Message{}, chat.ErrEmptyBody
	}
	if c, ok := s.list.Get(s.openChatID); ok && c.AnnouncementMode && s.userID != c.OwnerID {
		return chat.Message{}, chat.ErrAnnouncementLocked
	}

	msg, err := s.repo.InsertMessage(ctx, s.openChatID, s.userID, body)
	if err != nil {
		return chat.Message{}, err
	}

	if s.buffer != nil {
		s.buffer.Merge(msg)
	}
	s.list.ApplyNewMessage(msg.ChatID, msg, s.openChatID)
	return msg, nil
}

// ToggleReaction flips the user's reaction on a message in the open chat and
// applies the authoritative response. No optimistic update: a failed toggle
// leaves the displayed state untouched.
func (s *Session) ToggleReaction(ctx context.Context, messageID string, kind chat.ReactionKind) (chat.Reactions, error) {
	state, err := s.repo.ToggleReaction(ctx, messageID, s.userID, kind)
	if err != nil {
		return chat.Reactions{}, err
	}
	if s.buffer != nil {
		s.buffer.UpdateReaction(messageID, state)
	}
	return state, nil
}

// HandleEvent applies one delivered insert event — the user's own echo
// included — to the buffer (duplicate-safe) and the chat list.
func (s *Session) HandleEvent(msg chat.Message) EventResult {
	result := EventOtherChat
	if msg.ChatID == s.openChatID {
		switch {
		case s.buffer == nil:
			// History fetch in flight; hold the event for completeOpen.
			s.pending = append(s.pending, msg)
			result = EventMerged
		case s.buffer.Merge(msg):
			result = EventMerged
		default:
			result = EventDuplicate
		}
	}

	s.list.ApplyNewMessage(msg.ChatID, msg, s.openChatID)

	if msg.ChatID != s.openChatID && msg.SenderID != s.userID {
		s.notifier.Notify(msg.ChatID, msg)
	}
	return result
}

// CreateChat creates a chat and refreshes the list (which re-subscribes for
// the new chat id set).
func (s *Session) CreateChat(ctx context.Context, in chat.CreateChatInput) (chat.Chat, error) {
	in.OwnerID = s.userID
	created, err := s.repo.CreateChat(ctx, in)
	if err != nil {
		return chat.Chat{}, err
	}
	if _, err := s.Refresh(ctx); err != nil {
		// The chat exists; a failed refresh only delays its appearance.
		s.log.Warn("session.refresh.fail", "err", err)
	}
	return created, nil
}

// DeleteChat deletes a chat and refreshes. When the open chat is the one
// deleted, the buffer is discarded.
func (s *Session) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.repo.DeleteChat(ctx, chatID, s.userID); err != nil {
		return err
	}
	if s.openChatID == chatID {
		s.openChatID = ""
		s.buffer = nil
		s.pending = s.pending[:0]
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Warn("session.refresh.fail", "err", err)
	}
	return nil
}

// AddMembers adds members to a chat on behalf of the session user.
func (s *Session) AddMembers(ctx context.Context, chatID string, memberIDs []string) error {
	return s.repo.AddMembers(ctx, chatID, memberIDs, s.userID)
}

// resubscribe tears down and re-creates the realtime subscription when the
// tracked chat id set changed. The old subscription is closed before the new
// one is live, so the same event is never delivered on two overlapping
// subscriptions. Subscribe failure degrades to "realtime not active"; the
// next Refresh retries.
func (s *Session) resubscribe() {
	if s.channel == nil {
		return
	}

	ids := s.list.IDs()
	if s.sub != nil && sameIDSet(ids, s.subIDs) {
		return
	}

	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
		s.subIDs = nil
	}

	sub, err := s.channel.Subscribe(ids, s.deliver)
	if err != nil {
		s.log.Info("session.realtime.inactive", "user_id", s.userID, "err", err)
		return
	}

	s.sub = sub
	s.subIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.subIDs[id] = struct{}{}
	}
}

// deliver runs on the subscription's delivery goroutine. Non-blocking: a
// full queue drops the event (missed until the next refetch) rather than
// stalling the channel.
func (s *Session) deliver(m chat.Message) {
	select {
	case s.events <- m:
	default:
		s.log.Warn("session.events.drop", "user_id", s.userID, "chat_id", m.ChatID)
	}
}

// sameIDSet reports whether ids and set contain exactly the same chat ids,
// order-insensitive.
func sameIDSet(ids []string, set map[string]struct{}) bool {
	if len(ids) != len(set) {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
