// Package main provides a CI-friendly WebSocket smoke test for the huddle
// chat gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello -> hello_ack + initial chat_list
//   - chat_create and chat list propagation
//   - chat_open -> chat_history
//   - send -> ack, fanout message_new to another member
//   - sender echo suppression (no message_new back to the sender)
//   - reaction_toggle -> reaction_update
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "huddle/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "huddle.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	userID    string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		accessKey = flag.String("key", "", "Access key for hello (empty in open dev mode)")
		chatName  = flag.String("chat", "smoke-room", "Chat name to create")
		text      = flag.String("text", "hello huddle 👋", "Message text to send")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	userA := fmt.Sprintf("smoke-a-%d", time.Now().UnixNano())
	userB := fmt.Sprintf("smoke-b-%d", time.Now().UnixNano())

	a := mustConnect(root, "A", userA, *wsURL, *origin, *accessKey, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", userB, *wsURL, *origin, *accessKey, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	chatID := mustCreateChat(root, a, *chatName, []string{userB}, *timeout)

	// B refreshes and must see the new chat.
	mustSeeChat(root, b, chatID, *timeout)

	mustOpenChat(root, a, chatID, *timeout)
	mustOpenChat(root, b, chatID, *timeout)

	msg := mustSendAndAssertAck(root, a, chatID, *text, *timeout)

	mustAssertNew(root, b, chatID, msg, *timeout)

	// The sender's own echo dedups against its optimistic insert, so A must
	// never see a message_new for it.
	mustAssertNoType(root, a, v1.TypeMessageNew, 1200*time.Millisecond)

	mustToggleAndAssertUpdate(root, b, msg.ID, *timeout)

	fmt.Printf("OK: A=%s B=%s chat_id=%s message_id=%s\n", a.sessionID, b.sessionID, chatID, msg.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin, accessKey string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{UserID: userID, AccessKey: accessKey}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	if p.UserID != userID {
		fatalf("hello_ack user_id mismatch (%s): got=%q want=%q", name, p.UserID, userID)
	}
	c.sessionID = p.SessionID

	// The initial chat list follows the ack.
	_ = c.mustReadUntilType(parent, v1.TypeChatList, stepTimeout, nil)

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustCreateChat(parent context.Context, c *smokeClient, name string, memberIDs []string, stepTimeout time.Duration) string {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeChatCreate,
		ID:   fmt.Sprintf("%s-create", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ChatCreatePayload{
			Name:      name,
			MemberIDs: memberIDs,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	list := c.mustReadUntilType(parent, v1.TypeChatList, stepTimeout, nil)

	var p v1.ChatListPayload
	if err := json.Unmarshal(list.Payload, &p); err != nil {
		fatalf("unmarshal chat_list payload (%s): %v", c.name, err)
	}
	for _, ch := range p.Chats {
		if ch.Name == name {
			return ch.ID
		}
	}
	fatalf("chat_list missing created chat %q (%s)", name, c.name)
	return ""
}

func mustSeeChat(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeChatListFetch,
		ID:   fmt.Sprintf("%s-list-fetch", c.name),
		TS:   time.Now().UTC(),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	list := c.mustReadUntilType(parent, v1.TypeChatList, stepTimeout, nil)

	var p v1.ChatListPayload
	if err := json.Unmarshal(list.Payload, &p); err != nil {
		fatalf("unmarshal chat_list payload (%s): %v", c.name, err)
	}
	for _, ch := range p.Chats {
		if ch.ID == chatID {
			return
		}
	}
	fatalf("chat_list missing chat %q (%s)", chatID, c.name)
}

func mustOpenChat(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeChatOpen,
		ID:      fmt.Sprintf("%s-open", c.name),
		ChatID:  chatID,
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ChatOpenPayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	hist := c.mustReadUntilType(parent, v1.TypeChatHistory, stepTimeout, nil)

	var p v1.ChatHistoryPayload
	if err := json.Unmarshal(hist.Payload, &p); err != nil {
		fatalf("unmarshal chat_history payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("chat_history chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, chatID, text string, stepTimeout time.Duration) v1.Message {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeMessageSend,
		ID:      fmt.Sprintf("%s-send", c.name),
		ChatID:  chatID,
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.MessageSendPayload{Body: text}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeChatList: {}, v1.TypeMessageNew: {}}
	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skip)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if p.Message.ChatID != chatID {
		fatalf("ack chat_id mismatch (%s): got=%q want=%q", c.name, p.Message.ChatID, chatID)
	}
	if p.Message.Body != text {
		fatalf("ack body mismatch (%s): got=%q want=%q", c.name, p.Message.Body, text)
	}
	if strings.TrimSpace(p.Message.ID) == "" {
		fatalf("ack missing message id (%s)", c.name)
	}
	if p.Message.SenderID != c.userID {
		fatalf("ack sender mismatch (%s): got=%q want=%q", c.name, p.Message.SenderID, c.userID)
	}
	return p.Message
}

func mustAssertNew(parent context.Context, c *smokeClient, chatID string, want v1.Message, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeChatList: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, skip)

	var p v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}

	if p.Message.ChatID != chatID {
		fatalf("new chat_id mismatch (%s): got=%q want=%q", c.name, p.Message.ChatID, chatID)
	}
	if p.Message.ID != want.ID {
		fatalf("new message id mismatch (%s): got=%q want=%q", c.name, p.Message.ID, want.ID)
	}
	if p.Message.Body != want.Body {
		fatalf("new body mismatch (%s): got=%q want=%q", c.name, p.Message.Body, want.Body)
	}
	if p.Message.SenderID != want.SenderID {
		fatalf("new sender mismatch (%s): got=%q want=%q", c.name, p.Message.SenderID, want.SenderID)
	}
	if p.Message.CreatedAt.IsZero() {
		fatalf("new created_at missing/zero (%s)", c.name)
	}
}

func mustToggleAndAssertUpdate(parent context.Context, c *smokeClient, messageID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeReactionToggle,
		ID:   fmt.Sprintf("%s-toggle", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ReactionTogglePayload{
			MessageID: messageID,
			Kind:      "thumbs_up",
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeChatList: {}}
	upd := c.mustReadUntilType(parent, v1.TypeReactionUpdate, stepTimeout, skip)

	var p v1.ReactionUpdatePayload
	if err := json.Unmarshal(upd.Payload, &p); err != nil {
		fatalf("unmarshal reaction_update payload (%s): %v", c.name, err)
	}
	if p.MessageID != messageID {
		fatalf("reaction_update message id mismatch (%s): got=%q want=%q", c.name, p.MessageID, messageID)
	}
	if p.Reactions.ThumbsUp != 1 || p.Reactions.UserReaction != "thumbs_up" {
		fatalf("reaction_update state mismatch (%s): %+v", c.name, p.Reactions)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
