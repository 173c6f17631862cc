// Package v1 defines the huddle chat wire contract.
//
// This package is intentionally stable and dependency-light. It is shared
// between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeChatList carries the recency-sorted chat list (server -> client).
	TypeChatList = "chat_list"
	// TypeChatListFetch requests a chat list refresh (client -> server).
	TypeChatListFetch = "chat_list_fetch"

	// TypeChatOpen selects the open conversation (client -> server).
	TypeChatOpen = "chat_open"
	// TypeChatHistory returns the open conversation's history (server -> client).
	TypeChatHistory = "chat_history"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck confirms a send with the stored message (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew delivers a realtime insert event (server -> client).
	TypeMessageNew = "message_new"

	// TypeReactionToggle flips the sender's reaction (client -> server).
	TypeReactionToggle = "reaction_toggle"
	// TypeReactionUpdate carries the authoritative reaction state (server -> client).
	TypeReactionUpdate = "reaction_update"

	// TypeChatCreate creates a chat (client -> server).
	TypeChatCreate = "chat_create"
	// TypeChatDelete deletes a chat (client -> server).
	TypeChatDelete = "chat_delete"
	// TypeMemberAdd adds members to a chat (client -> server).
	TypeMemberAdd = "member_add"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ChatID  string          `json:"chat_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeChatList,
		TypeChatListFetch,
		TypeChatOpen,
		TypeChatHistory,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeReactionToggle,
		TypeReactionUpdate,
		TypeChatCreate,
		TypeChatDelete,
		TypeMemberAdd,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
