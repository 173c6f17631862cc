package chat

import "context"

// CreateChatInput describes a chat creation request. The owner is always
// inserted as an admin member; MemberIDs join as plain members.
type CreateChatInput struct {
	OwnerID          string
	Name             string
	MemberIDs        []string
	AnnouncementMode bool
}

// Repository is the relational store behind the chat core.
//
// Requirements:
//   - ListMessages returns ascending (created_at, id) order.
//   - InsertMessage enforces the announcement lock and non-empty body.
//   - ToggleReaction is a single round-trip returning the authoritative
//     reaction state: same kind again clears, the other kind replaces.
//   - DeleteChat cascades to messages, memberships and reactions.
//
// Failures are wrapped as *RepositoryError except for the domain sentinels
// in errors.go.
type Repository interface {
	ListChatsForUser(ctx context.Context, userID string) ([]Chat, error)
	ListMessages(ctx context.Context, chatID, viewerID string) ([]Message, error)
	InsertMessage(ctx context.Context, chatID, senderID, body string) (Message, error)
	ToggleReaction(ctx context.Context, messageID, userID string, kind ReactionKind) (Reactions, error)
	ListMembers(ctx context.Context, chatID string) ([]Member, error)
	CreateChat(ctx context.Context, in CreateChatInput) (Chat, error)
	DeleteChat(ctx context.Context, chatID, requestingUserID string) error
	AddMembers(ctx context.Context, chatID string, memberIDs []string, requestingUserID string) error
}
