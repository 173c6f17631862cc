package session

import (
	"log/slog"

	"huddle/cmd/internal/chat"
)

// Notifier is the push-notification hook, invoked for delivered messages in
// chats other than the open one. It is deliberately a stub boundary: there is
// no delivery pipeline behind it.
type Notifier interface {
	Notify(chatID string, msg chat.Message)
}

// LogNotifier logs would-be notifications and sends nothing.
type LogNotifier struct {
	Log *slog.Logger
}

// Notify logs the notification intent.
func (n LogNotifier) Notify(chatID string, msg chat.Message) {
	if n.Log == nil {
		return
	}
	n.Log.Debug("session.notify", "chat_id", chatID, "message_id", msg.ID, "sender_id", msg.SenderID)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(string, chat.Message) {}
