package realtime

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/cmd/internal/chat"
	"huddle/cmd/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyDomainErr(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{"empty body", chat.ErrEmptyBody, codeValidation, false},
		{"invalid reaction", chat.ErrInvalidReaction, codeValidation, false},
		{"no open chat", session.ErrNoOpenChat, codeValidation, false},
		{"announcement locked", chat.ErrAnnouncementLocked, codePermission, false},
		{"not admin", chat.ErrNotAdmin, codePermission, false},
		{"not member", chat.ErrNotMember, codePermission, false},
		{"chat not found", chat.ErrChatNotFound, codeNotFound, false},
		{"message not found", chat.ErrMessageNotFound, codeNotFound, false},
		{"repository failure", &chat.RepositoryError{Op: "insert_message", Err: errors.New("conn reset")}, codeRepository, true},
		{"unknown", errors.New("surprise"), codeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, retryable := classifyDomainErr(tt.err)
			if code != tt.wantCode || retryable != tt.wantRetryable {
				t.Fatalf("got (%q, %v), want (%q, %v)", code, retryable, tt.wantCode, tt.wantRetryable)
			}
		})
	}
}

func TestOriginHostOnly(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://app.example.com", "app.example.com"},
		{"http://localhost:3000", "localhost:3000"},
		{"app.example.com", "app.example.com"},
		{"  app.example.com  ", "app.example.com"},
		{"http://[::1]:8080", "[::1]:8080"},
	}
	for _, tt := range tests {
		if got := originHostOnly(tt.in); got != tt.want {
			t.Fatalf("originHostOnly(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnforceOrigin(t *testing.T) {
	tests := []struct {
		name     string
		cfg      GatewayConfig
		origin   string
		wantPass bool
	}{
		{"no origin, not required", GatewayConfig{}, "", true},
		{"no origin, required", GatewayConfig{OriginRequired: true}, "", false},
		{"allowed origin", GatewayConfig{AllowedOrigins: []string{"app.example.com"}}, "https://app.example.com", true},
		{"allowed with scheme in config", GatewayConfig{AllowedOrigins: []string{"https://app.example.com"}}, "https://app.example.com", true},
		{"case-insensitive host", GatewayConfig{AllowedOrigins: []string{"App.Example.Com"}}, "https://app.example.com", true},
		{"origin not allowed", GatewayConfig{AllowedOrigins: []string{"app.example.com"}}, "https://evil.example.com", false},
		{"origin with empty allowlist", GatewayConfig{}, "https://anything.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWSGateway(discardLogger(), chat.NewMemoryRepository(), NewBroker(nil, 0), tt.cfg)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			ok, reason := g.enforceOrigin(r)
			if ok != tt.wantPass {
				t.Fatalf("pass = %v (%s), want %v", ok, reason, tt.wantPass)
			}
		})
	}
}

func TestHandleWSRejectsBadOrigin(t *testing.T) {
	g := NewWSGateway(discardLogger(), chat.NewMemoryRepository(), NewBroker(nil, 0), GatewayConfig{
		AllowedOrigins: []string{"app.example.com"},
	})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	g.HandleWS(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestToWireMessageCarriesReactions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := chat.Message{
		ID:        "m1",
		ChatID:    "c1",
		SenderID:  "u1",
		Body:      "hello",
		CreatedAt: at,
		Reactions: &chat.Reactions{ThumbsUp: 2, ThumbsDown: 1, UserReaction: chat.ReactionThumbsUp},
	}

	w := toWireMessage(m)
	if w.ID != "m1" || w.ChatID != "c1" || w.Body != "hello" || !w.CreatedAt.Equal(at) {
		t.Fatalf("wire message = %+v", w)
	}
	if w.Reactions == nil || w.Reactions.ThumbsUp != 2 || w.Reactions.UserReaction != "thumbs_up" {
		t.Fatalf("wire reactions = %+v", w.Reactions)
	}

	bare := toWireMessage(chat.Message{ID: "m2", ChatID: "c1"})
	if bare.Reactions != nil {
		t.Fatal("nil reactions must stay nil on the wire")
	}
}

func TestToWireChatsPreservesOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []chat.Chat{
		{ID: "c2", Name: "second", LastMessageTime: at, Unread: true},
		{ID: "c1", Name: "first", CreatedAt: at},
	}

	out := toWireChats(in)
	if len(out) != 2 || out[0].ID != "c2" || out[1].ID != "c1" {
		t.Fatalf("wire chats = %+v, want input order preserved", out)
	}
	if !out[0].Unread || out[1].Unread {
		t.Fatalf("unread flags lost: %+v", out)
	}
}
