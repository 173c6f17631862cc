package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"huddle/cmd/internal/chat"
	"huddle/cmd/internal/session"
	"huddle/cmd/security/accesskey"
	v1 "huddle/shared/contracts/chat/v1"
)

// Subprotocol negotiated on upgrade.
const wsSubprotocolV1 = "huddle.chat.v1"

// Wire error codes.
const (
	codeValidation = "validation"
	codePermission = "permission"
	codeNotFound   = "not_found"
	codeRepository = "repository"
	codeRateLimit  = "rate_limited"
	codeInternal   = "internal"
)

// GatewayConfig configures the websocket gateway.
type GatewayConfig struct {
	// OriginRequired rejects upgrades without an Origin header when true.
	OriginRequired bool
	// AllowedOrigins whitelists browser origins (host[:port], scheme ignored).
	AllowedOrigins []string
	// DevInsecure skips origin enforcement entirely. Local development only.
	DevInsecure bool

	// AccessKeyHash is the argon2id-encoded hash the hello access key must
	// match. Empty means open mode: any user id is accepted (dev only).
	AccessKeyHash string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	// RatePerSec / RateBurst bound inbound envelopes per connection.
	RatePerSec float64
	RateBurst  int
}

// WSGateway upgrades HTTP requests to websocket sessions speaking the v1
// chat contract. Each connection owns one session.Session; all session
// mutation happens under the connection's mutex, so the read loop and the
// realtime event pump never interleave merges.
type WSGateway struct {
	log    *slog.Logger
	repo   chat.Repository
	broker *Broker
	cfg    GatewayConfig

	originPatterns []string
}

// NewWSGateway constructs a gateway. Zero config fields fall back to the
// package defaults.
func NewWSGateway(log *slog.Logger, repo chat.Repository, broker *Broker, cfg GatewayConfig) *WSGateway {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = defaultReadIdle
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = minSendQueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}

	return &WSGateway{
		log:            log,
		repo:           repo,
		broker:         broker,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS runs one websocket connection to completion.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !g.cfg.DevInsecure {
		if ok, reason := g.enforceOrigin(r); !ok {
			g.log.Warn("ws.origin.reject", "reason", reason, "origin", r.Header.Get("Origin"))
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolV1},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Warn("ws.accept.fail", "err", err)
		return
	}
	if conn.Subprotocol() != wsSubprotocolV1 {
		conn.Close(websocket.StatusPolicyViolation, "subprotocol required: "+wsSubprotocolV1)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := chat.NewID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	wsConnections.Inc()
	defer wsConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		gw:        g,
		conn:      conn,
		client:    newWSClient(sessionID, g.cfg.SendQueueSize),
		limiter:   rate.NewLimiter(rate.Limit(g.cfg.RatePerSec), g.cfg.RateBurst),
		log:       g.log.With("session_id", sessionID),
		writerRet: make(chan struct{}),
		pingerRet: make(chan struct{}),
	}
	defer c.shutdown()

	go c.writer(ctx)
	go c.heartbeat(ctx)

	c.log.Info("ws.connect", "remote", r.RemoteAddr)
	c.readLoop(ctx)
}

// wsConn bundles the per-connection state.
type wsConn struct {
	gw      *WSGateway
	conn    *websocket.Conn
	client  *wsClient
	limiter *rate.Limiter
	log     *slog.Logger

	// sessMu guards sess and every call into it.
	sessMu sync.Mutex
	sess   *session.Session

	// pumpRet is non-nil once the event pump started (after hello).
	pumpRet   chan struct{}
	writerRet chan struct{}
	pingerRet chan struct{}

	shutOnce sync.Once
}

// shutdown tears the connection down exactly once: session first (closing
// the broker subscription), then the client signal, then the socket.
func (c *wsConn) shutdown() {
	c.shutOnce.Do(func() {
		c.sessMu.Lock()
		if c.sess != nil {
			c.sess.Close()
		}
		c.sessMu.Unlock()

		c.client.Close()
		c.conn.Close(websocket.StatusNormalClosure, "bye")

		waitOrGrace(c.writerRet)
		waitOrGrace(c.pingerRet)
		if c.pumpRet != nil {
			waitOrGrace(c.pumpRet)
		}
		c.log.Info("ws.disconnect")
	})
}

func waitOrGrace(ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(closeGrace):
	}
}

// readLoop drains inbound envelopes until error or shutdown.
func (c *wsConn) readLoop(ctx context.Context) {
	for {
		env, kind, err := c.readEnvelope(ctx)
		if err != nil {
			switch kind {
			case readErrBadJSON:
				c.trySendError(ctx, "", codeValidation, "malformed envelope", false)
				continue
			case readErrClose, readErrCtxDone, readErrConnClosed:
				return
			default:
				c.log.Warn("ws.read.fail", "err", err)
				return
			}
		}

		if !c.limiter.Allow() {
			c.trySendError(ctx, env.ID, codeRateLimit, "slow down", true)
			continue
		}
		if err := env.Validate(); err != nil {
			c.trySendError(ctx, env.ID, codeValidation, err.Error(), false)
			continue
		}

		c.dispatch(ctx, env)
	}
}

// dispatch routes one validated envelope. All handlers run on the read loop.
func (c *wsConn) dispatch(ctx context.Context, env v1.Envelope) {
	if env.Type == v1.TypeHello {
		c.onHello(ctx, env)
		return
	}

	c.sessMu.Lock()
	started := c.sess != nil
	c.sessMu.Unlock()
	if !started {
		c.trySendError(ctx, env.ID, codeValidation, "hello required before "+env.Type, false)
		return
	}

	switch env.Type {
	case v1.TypeChatListFetch:
		c.onChatListFetch(ctx, env)
	case v1.TypeChatOpen:
		c.onChatOpen(ctx, env)
	case v1.TypeMessageSend:
		c.onMessageSend(ctx, env)
	case v1.TypeReactionToggle:
		c.onReactionToggle(ctx, env)
	case v1.TypeChatCreate:
		c.onChatCreate(ctx, env)
	case v1.TypeChatDelete:
		c.onChatDelete(ctx, env)
	case v1.TypeMemberAdd:
		c.onMemberAdd(ctx, env)
	default:
		c.trySendError(ctx, env.ID, codeValidation, "client cannot send type "+env.Type, false)
	}
}

// onHello authenticates the connection and starts its session.
func (c *wsConn) onHello(ctx context.Context, env v1.Envelope) {
	c.sessMu.Lock()
	already := c.sess != nil
	c.sessMu.Unlock()
	if already {
		c.trySendError(ctx, env.ID, codeValidation, "session already established", false)
		return
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.trySendError(ctx, env.ID, codeValidation, "malformed hello payload", false)
		return
	}
	if strings.TrimSpace(p.UserID) == "" {
		c.trySendError(ctx, env.ID, codeValidation, "user_id required", false)
		return
	}

	if hash := c.gw.cfg.AccessKeyHash; hash != "" {
		ok, err := accesskey.Verify(hash, p.AccessKey)
		if err != nil {
			c.log.Error("ws.hello.verify.fail", "err", err)
			c.trySendError(ctx, env.ID, codeInternal, "access key verification failed", false)
			return
		}
		if !ok {
			c.trySendError(ctx, env.ID, codePermission, "invalid access key", false)
			return
		}
	}

	sess, err := session.New(session.Config{
		Log:      c.log.With("user_id", p.UserID),
		Repo:     c.gw.repo,
		Channel:  c.gw.broker,
		Notifier: session.LogNotifier{Log: c.log},
		UserID:   p.UserID,
	})
	if err != nil {
		c.trySendError(ctx, env.ID, codeValidation, err.Error(), false)
		return
	}

	chats, err := sess.Refresh(ctx)
	if err != nil {
		sess.Close()
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.sessMu.Lock()
	c.sess = sess
	c.client.UserID = p.UserID
	c.sessMu.Unlock()

	c.pumpRet = make(chan struct{})
	go c.eventPump(ctx, sess)

	c.enqueue(ctx, c.newEnvelope(v1.TypeHelloAck, "", v1.HelloAckPayload{
		SessionID: c.client.SessionID,
		UserID:    p.UserID,
	}))
	c.enqueue(ctx, c.newEnvelope(v1.TypeChatList, "", v1.ChatListPayload{Chats: toWireChats(chats)}))
	c.log.Info("ws.hello", "user_id", p.UserID, "chats", len(chats))
}

func (c *wsConn) onChatListFetch(ctx context.Context, env v1.Envelope) {
	c.sessMu.Lock()
	chats, err := c.sess.Refresh(ctx)
	c.sessMu.Unlock()
	if err != nil {
		c.sendDomainError(ctx, env.ID, err)
		return
	}
	c.enqueue(ctx, c.newEnvelope(v1.TypeChatList, "", v1.ChatListPayload{Chats: toWireChats(chats)}))
}

func (c *wsConn) onChatOpen(ctx context.Context, env v1.Envelope) {
	var p v1.ChatOpenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.ChatID) == "" {
		c.trySendError(ctx, env.ID, codeValidation, "chat_id required", false)
		return
	}

	c.sessMu.Lock()
	msgs, err := c.sess.OpenChat(ctx, p.ChatID)
	c.sessMu.Unlock()
	if err != nil {
		if errors.Is(err, session.ErrStaleFetch) {
			// A later chat_open superseded this one; nothing to send.
			return
		}
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.enqueue(ctx, c.newEnvelope(v1.TypeChatHistory, p.ChatID, v1.ChatHistoryPayload{
		ChatID:   p.ChatID,
		Messages: toWireMessages(msgs),
	}))
}

func (c *wsConn) onMessageSend(ctx context.Context, env v1.Envelope) {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.trySendError(ctx, env.ID, codeValidation, "malformed message_send payload", false)
		return
	}
	if utf8.RuneCountInString(p.Body) > maxMessageChars {
		c.trySendError(ctx, env.ID, codeValidation,
			fmt.Sprintf("message exceeds %d characters", maxMessageChars), false)
		return
	}

	c.sessMu.Lock()
	msg, err := c.sess.Send(ctx, p.Body)
	c.sessMu.Unlock()
	if err != nil {
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.enqueue(ctx, c.newEnvelope(v1.TypeMessageAck, msg.ChatID, v1.MessageAckPayload{
		Message: toWireMessage(msg),
	}))

	// Fan out after the local ack; the sender's own echo dedups on merge.
	c.gw.broker.Publish(msg)
}

func (c *wsConn) onReactionToggle(ctx context.Context, env v1.Envelope) {
	var p v1.ReactionTogglePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.MessageID) == "" {
		c.trySendError(ctx, env.ID, codeValidation, "message_id required", false)
		return
	}
	kind := chat.ReactionKind(p.Kind)
	if !kind.Valid() {
		c.trySendError(ctx, env.ID, codeValidation, "kind must be thumbs_up or thumbs_down", false)
		return
	}

	c.sessMu.Lock()
	state, err := c.sess.ToggleReaction(ctx, p.MessageID, kind)
	c.sessMu.Unlock()
	if err != nil {
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.enqueue(ctx, c.newEnvelope(v1.TypeReactionUpdate, env.ChatID, v1.ReactionUpdatePayload{
		MessageID: p.MessageID,
		Reactions: toWireReactions(state),
	}))
}

func (c *wsConn) onChatCreate(ctx context.Context, env v1.Envelope) {
	var p v1.ChatCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Name) == "" {
		c.trySendError(ctx, env.ID, codeValidation, "name required", false)
		return
	}

	c.sessMu.Lock()
	created, err := c.sess.CreateChat(ctx, chat.CreateChatInput{
		Name:             p.Name,
		MemberIDs:        p.MemberIDs,
		AnnouncementMode: p.AnnouncementMode,
	})
	chats := c.sess.Chats()
	c.sessMu.Unlock()
	if err != nil {
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.log.Info("ws.chat.create", "chat_id", created.ID, "announcement", created.AnnouncementMode)
	c.enqueue(ctx, c.newEnvelope(v1.TypeChatList, "", v1.ChatListPayload{Chats: toWireChats(chats)}))
}

func (c *wsConn) onChatDelete(ctx context.Context, env v1.Envelope) {
	var p v1.ChatDeletePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.ChatID) == "" {
		c.trySendError(ctx, env.ID, codeValidation, "chat_id required", false)
		return
	}

	c.sessMu.Lock()
	err := c.sess.DeleteChat(ctx, p.ChatID)
	chats := c.sess.Chats()
	c.sessMu.Unlock()
	if err != nil {
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.log.Info("ws.chat.delete", "chat_id", p.ChatID)
	c.enqueue(ctx, c.newEnvelope(v1.TypeChatList, "", v1.ChatListPayload{Chats: toWireChats(chats)}))
}

func (c *wsConn) onMemberAdd(ctx context.Context, env v1.Envelope) {
	var p v1.MemberAddPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.ChatID) == "" || len(p.MemberIDs) == 0 {
		c.trySendError(ctx, env.ID, codeValidation, "chat_id and member_ids required", false)
		return
	}

	c.sessMu.Lock()
	err := c.sess.AddMembers(ctx, p.ChatID, p.MemberIDs)
	c.sessMu.Unlock()
	if err != nil {
		c.sendDomainError(ctx, env.ID, err)
		return
	}

	c.log.Info("ws.member.add", "chat_id", p.ChatID, "count", len(p.MemberIDs))
	c.onChatListFetch(ctx, env)
}

// eventPump drains the session's realtime queue and applies each event under
// the session mutex, then pushes the resulting deltas to the client.
func (c *wsConn) eventPump(ctx context.Context, sess *session.Session) {
	defer close(c.pumpRet)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.client.Done():
			return
		case msg := <-sess.Events():
			c.sessMu.Lock()
			result := sess.HandleEvent(msg)
			open := sess.OpenChatID()
			chats := sess.Chats()
			c.sessMu.Unlock()

			if result == session.EventDuplicate {
				mergesDeduped.Inc()
			}
			if msg.ChatID == open && result == session.EventMerged {
				c.enqueue(ctx, c.newEnvelope(v1.TypeMessageNew, msg.ChatID, v1.MessageNewPayload{
					Message: toWireMessage(msg),
				}))
			}
			// The list may have re-sorted or gained an unread marker either way.
			c.enqueue(ctx, c.newEnvelope(v1.TypeChatList, "", v1.ChatListPayload{Chats: toWireChats(chats)}))
		}
	}
}

// writer is the single goroutine writing data frames to the socket.
func (c *wsConn) writer(ctx context.Context) {
	defer close(c.writerRet)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.client.Done():
			return
		case env := <-c.client.Send:
			if err := c.writeEnvelope(ctx, env); err != nil {
				c.log.Warn("ws.write.fail", "type", env.Type, "err", err)
				c.client.Close()
				return
			}
		}
	}
}

// heartbeat pings on an interval and closes the client after consecutive
// failures.
func (c *wsConn) heartbeat(ctx context.Context) {
	defer close(c.pingerRet)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.client.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				if failures >= maxPingFailures {
					c.log.Warn("ws.heartbeat.dead", "failures", failures)
					c.client.Close()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// enqueue queues an envelope for the writer; a full queue drops the frame.
func (c *wsConn) enqueue(ctx context.Context, env v1.Envelope) {
	select {
	case <-ctx.Done():
	case <-c.client.Done():
	case c.client.Send <- env:
	default:
		c.log.Warn("ws.send.drop", "type", env.Type)
	}
}

// trySendError enqueues an error envelope correlated to the triggering id.
func (c *wsConn) trySendError(ctx context.Context, correlID, code, msg string, retryable bool) {
	env := c.newEnvelope(v1.TypeError, "", v1.ErrorPayload{
		Code:      code,
		Message:   msg,
		Retryable: retryable,
	})
	env.ID = correlID
	c.enqueue(ctx, env)
}

// sendDomainError maps a domain error onto a wire error envelope.
func (c *wsConn) sendDomainError(ctx context.Context, correlID string, err error) {
	code, retryable := classifyDomainErr(err)
	if code == codeInternal {
		c.log.Error("ws.op.fail", "err", err)
	}
	c.trySendError(ctx, correlID, code, err.Error(), retryable)
}

func classifyDomainErr(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrInvalidReaction),
		errors.Is(err, session.ErrNoOpenChat):
		return codeValidation, false
	case errors.Is(err, chat.ErrAnnouncementLocked),
		errors.Is(err, chat.ErrNotAdmin),
		errors.Is(err, chat.ErrNotMember):
		return codePermission, false
	case errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		return codeNotFound, false
	case chat.Retryable(err):
		return codeRepository, true
	default:
		return codeInternal, false
	}
}

// newEnvelope stamps a server-originated envelope.
func (c *wsConn) newEnvelope(typ, chatID string, payload any) v1.Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload types are all local structs; this is unreachable in practice.
		c.log.Error("ws.marshal.fail", "type", typ, "err", err)
		raw = []byte("{}")
	}
	now := time.Now().UTC()
	id, _ := chat.NewID(now)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		ChatID:  chatID,
		TS:      now,
		Payload: raw,
	}
}

// readErrKind classifies read-loop failures.
type readErrKind int

const (
	readErrNone readErrKind = iota
	readErrBadJSON
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrOther
)

// readEnvelope reads one text frame under the idle timeout and decodes it.
func (c *wsConn) readEnvelope(ctx context.Context) (v1.Envelope, readErrKind, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.gw.cfg.ReadIdleTimeout)
	defer cancel()

	typ, data, err := c.conn.Read(readCtx)
	if err != nil {
		return v1.Envelope{}, classifyReadErr(ctx, err), err
	}
	if typ != websocket.MessageText {
		return v1.Envelope{}, readErrBadJSON, errors.New("binary frames not supported")
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, readErrBadJSON, err
	}
	return env, readErrNone, nil
}

func classifyReadErr(ctx context.Context, err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case ctx.Err() != nil:
		return readErrCtxDone
	case errors.Is(err, context.DeadlineExceeded):
		// Idle timeout expired with no traffic.
		return readErrConnClosed
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return readErrConnClosed
	default:
		return readErrOther
	}
}

// writeEnvelope writes one envelope under the write timeout.
func (c *wsConn) writeEnvelope(ctx context.Context, env v1.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.gw.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// enforceOrigin applies the configured browser origin policy.
func (g *WSGateway) enforceOrigin(r *http.Request) (bool, string) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		if g.cfg.OriginRequired {
			return false, "missing origin"
		}
		// Non-browser clients (no Origin header) pass.
		return true, ""
	}

	host := originHostOnly(origin)
	if host == "" {
		return false, "unparseable origin"
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if strings.EqualFold(host, originHostOnly(allowed)) {
			return true, ""
		}
	}
	return false, "origin not in allowlist"
}

// originHostOnly extracts host[:port] from an origin value, tolerating bare
// host entries in config.
func originHostOnly(origin string) string {
	if !strings.Contains(origin, "://") {
		return strings.TrimSpace(origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Host
}

// deriveOriginPatterns converts the allowlist into websocket.AcceptOptions
// patterns (host[:port] form).
func deriveOriginPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if h := originHostOnly(o); h != "" {
			out = append(out, h)
		}
	}
	return out
}
