package realtime

import (
	"huddle/cmd/internal/chat"
	v1 "huddle/shared/contracts/chat/v1"
)

// toWireMessage converts a domain message to its wire form.
func toWireMessage(m chat.Message) v1.Message {
	out := v1.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
	if m.Reactions != nil {
		out.Reactions = &v1.Reactions{
			ThumbsUp:     m.Reactions.ThumbsUp,
			ThumbsDown:   m.Reactions.ThumbsDown,
			UserReaction: string(m.Reactions.UserReaction),
		}
	}
	return out
}

func toWireMessages(msgs []chat.Message) []v1.Message {
	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWireMessage(m))
	}
	return out
}

// toWireReactions converts an authoritative reaction state.
func toWireReactions(r chat.Reactions) v1.Reactions {
	return v1.Reactions{
		ThumbsUp:     r.ThumbsUp,
		ThumbsDown:   r.ThumbsDown,
		UserReaction: string(r.UserReaction),
	}
}

// toWireChats converts a display-ordered chat list.
func toWireChats(chats []chat.Chat) []v1.ChatSummary {
	out := make([]v1.ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, v1.ChatSummary{
			ID:               c.ID,
			Name:             c.Name,
			OwnerID:          c.OwnerID,
			AnnouncementMode: c.AnnouncementMode,
			MemberCount:      c.MemberCount,
			CreatedAt:        c.CreatedAt,
			LastMessage:      c.LastMessage,
			LastMessageTime:  c.LastMessageTime,
			Unread:           c.Unread,
		})
	}
	return out
}
