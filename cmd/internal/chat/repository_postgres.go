package chat

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a Repository backed by PostgreSQL.
//
// Ownership model:
//   - The repository does NOT own the pgx pool; the app closes it.
//
// Concurrency model:
//   - Message inserts take a per-chat transactional advisory lock so the
//     announcement-lock check and the insert are atomic under concurrency.
//   - Reaction toggles are a single transaction per (message, user) row.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresRepository behavior.
type PostgresOption func(*PostgresRepository) error

// WithSchema sets the DB schema used by this repository (default: "huddle").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(r *PostgresRepository) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		r.schema = schema
		return nil
	}
}

// NewPostgresRepository constructs a Postgres-backed Repository.
func NewPostgresRepository(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRepository, error) {
	r := &PostgresRepository{
		pool:   pool,
		schema: "huddle",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return r, nil
}

// ListChatsForUser returns the chats userID belongs to, most recent first.
// Last-message summaries come from a lateral join, so the recency fallback to
// the chat's creation time happens in SQL as well.
func (r *PostgresRepository) ListChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoErr("list_chats", err)
	}

	chats := pgIdent(r.schema, "chats")
	members := pgIdent(r.schema, "chat_members")
	messages := pgIdent(r.schema, "messages")

	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, c.owner_id, c.announcement_mode, c.created_at,
		        (SELECT count(*) FROM `+members+` mm WHERE mm.chat_id = c.id) AS member_count,
		        COALESCE(lm.body, ''), lm.created_at
		   FROM `+chats+` c
		   JOIN `+members+` m ON m.chat_id = c.id AND m.user_id = $1
		   LEFT JOIN LATERAL (
		        SELECT body, created_at
		          FROM `+messages+`
		         WHERE chat_id = c.id
		         ORDER BY created_at DESC, id DESC
		         LIMIT 1
		   ) lm ON true
		  ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id`,
		userID,
	)
	if err != nil {
		return nil, repoErr("list_chats", err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		var lastAt *time.Time
		if err := rows.Scan(
			&c.ID, &c.Name, &c.OwnerID, &c.AnnouncementMode, &c.CreatedAt,
			&c.MemberCount, &c.LastMessage, &lastAt,
		); err != nil {
			return nil, repoErr("list_chats", err)
		}
		if lastAt != nil {
			c.LastMessageTime = *lastAt
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("list_chats", err)
	}
	return out, nil
}

// ListMessages returns chat history ascending by (created_at, id), with
// reaction counts aggregated and the viewer's own reaction resolved.
func (r *PostgresRepository) ListMessages(ctx context.Context, chatID, viewerID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoErr("list_messages", err)
	}

	isMember, err := r.isMember(ctx, chatID, viewerID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}

	messages := pgIdent(r.schema, "messages")
	reactions := pgIdent(r.schema, "message_reactions")

	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.body, m.created_at,
		        count(*) FILTER (WHERE re.kind = 'thumbs_up'),
		        count(*) FILTER (WHERE re.kind = 'thumbs_down'),
		        COALESCE(max(re.kind) FILTER (WHERE re.user_id = $2), '')
		   FROM `+messages+` m
		   LEFT JOIN `+reactions+` re ON re.message_id = m.id
		  WHERE m.chat_id = $1
		  GROUP BY m.id, m.chat_id, m.sender_id, m.body, m.created_at
		  ORDER BY m.created_at ASC, m.id ASC`,
		chatID, viewerID,
	)
	if err != nil {
		return nil, repoErr("list_messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var up, down int
		var own string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.CreatedAt, &up, &down, &own); err != nil {
			return nil, repoErr("list_messages", err)
		}
		m.Reactions = &Reactions{ThumbsUp: up, ThumbsDown: down, UserReaction: ReactionKind(own)}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("list_messages", err)
	}
	return out, nil
}

// InsertMessage validates and inserts a message, returning the stored copy.
func (r *PostgresRepository) InsertMessage(ctx context.Context, chatID, senderID, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrEmptyBody
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, repoErr("insert_message", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chats := pgIdent(r.schema, "chats")
	members := pgIdent(r.schema, "chat_members")
	messages := pgIdent(r.schema, "messages")

	// Serialize writes per chat so the announcement-lock check cannot race a
	// concurrent mode flip.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, chatID); err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	var ownerID string
	var announcement bool
	err = tx.QueryRow(ctx,
		`SELECT owner_id, announcement_mode FROM `+chats+` WHERE id = $1`,
		chatID,
	).Scan(&ownerID, &announcement)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrChatNotFound
	}
	if err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, senderID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotMember
	}
	if err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	if announcement && senderID != ownerID {
		return Message{}, ErrAnnouncementLocked
	}

	now := r.now()
	id, err := NewID(now)
	if err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (id, chat_id, sender_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, chatID, senderID, body, now,
	); err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, repoErr("insert_message", err)
	}

	return Message{ID: id, ChatID: chatID, SenderID: senderID, Body: body, CreatedAt: now}, nil
}

// ToggleReaction flips the viewer's reaction and returns the authoritative
// new state for the message.
func (r *PostgresRepository) ToggleReaction(ctx context.Context, messageID, userID string, kind ReactionKind) (Reactions, error) {
	if err := ctx.Err(); err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}
	if !kind.Valid() {
		return Reactions{}, ErrInvalidReaction
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(r.schema, "messages")
	reactions := pgIdent(r.schema, "message_reactions")

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM `+messages+` WHERE id = $1`, messageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reactions{}, ErrMessageNotFound
	}
	if err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT kind FROM `+reactions+` WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO `+reactions+` (message_id, user_id, kind) VALUES ($1, $2, $3)`,
			messageID, userID, string(kind),
		)
	case err != nil:
		return Reactions{}, repoErr("toggle_reaction", err)
	case existing == string(kind):
		// Same kind again clears.
		_, err = tx.Exec(ctx,
			`DELETE FROM `+reactions+` WHERE message_id = $1 AND user_id = $2`,
			messageID, userID,
		)
	default:
		// The other kind replaces.
		_, err = tx.Exec(ctx,
			`UPDATE `+reactions+` SET kind = $3 WHERE message_id = $1 AND user_id = $2`,
			messageID, userID, string(kind),
		)
	}
	if err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}

	var state Reactions
	var own string
	err = tx.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE kind = 'thumbs_up'),
		        count(*) FILTER (WHERE kind = 'thumbs_down'),
		        COALESCE(max(kind) FILTER (WHERE user_id = $2), '')
		   FROM `+reactions+`
		  WHERE message_id = $1`,
		messageID, userID,
	).Scan(&state.ThumbsUp, &state.ThumbsDown, &own)
	if err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}
	state.UserReaction = ReactionKind(own)

	if err := tx.Commit(ctx); err != nil {
		return Reactions{}, repoErr("toggle_reaction", err)
	}
	return state, nil
}

// ListMembers returns the membership of a chat.
func (r *PostgresRepository) ListMembers(ctx context.Context, chatID string) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, repoErr("list_members", err)
	}

	members := pgIdent(r.schema, "chat_members")

	rows, err := r.pool.Query(ctx,
		`SELECT chat_id, user_id, role FROM `+members+` WHERE chat_id = $1 ORDER BY user_id`,
		chatID,
	)
	if err != nil {
		return nil, repoErr("list_members", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.ChatID, &m.UserID, &role); err != nil {
			return nil, repoErr("list_members", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("list_members", err)
	}
	if len(out) == 0 {
		return nil, ErrChatNotFound
	}
	return out, nil
}

// CreateChat creates a chat with the owner as admin plus the given members.
func (r *PostgresRepository) CreateChat(ctx context.Context, in CreateChatInput) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.OwnerID) == "" {
		return Chat{}, repoErr("create_chat", errInvalidInput)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Chat{}, repoErr("create_chat", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chats := pgIdent(r.schema, "chats")
	members := pgIdent(r.schema, "chat_members")

	now := r.now()
	id, err := NewID(now)
	if err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+chats+` (id, name, owner_id, announcement_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, name, in.OwnerID, in.AnnouncementMode, now,
	); err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	// The creator is always inserted as admin.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+members+` (chat_id, user_id, role) VALUES ($1, $2, 'admin')`,
		id, in.OwnerID,
	); err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	count := 1
	for _, m := range in.MemberIDs {
		m = strings.TrimSpace(m)
		if m == "" || m == in.OwnerID {
			continue
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO `+members+` (chat_id, user_id, role) VALUES ($1, $2, 'member')
			 ON CONFLICT (chat_id, user_id) DO NOTHING`,
			id, m,
		)
		if err != nil {
			return Chat{}, repoErr("create_chat", err)
		}
		count += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, repoErr("create_chat", err)
	}

	return Chat{
		ID:               id,
		Name:             name,
		OwnerID:          in.OwnerID,
		AnnouncementMode: in.AnnouncementMode,
		MemberCount:      count,
		CreatedAt:        now,
	}, nil
}

// DeleteChat removes a chat; messages, memberships and reactions go with it
// via ON DELETE CASCADE. Admin only.
func (r *PostgresRepository) DeleteChat(ctx context.Context, chatID, requestingUserID string) error {
	if err := ctx.Err(); err != nil {
		return repoErr("delete_chat", err)
	}

	if err := r.requireAdmin(ctx, chatID, requestingUserID); err != nil {
		return err
	}

	chats := pgIdent(r.schema, "chats")
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+chats+` WHERE id = $1`, chatID)
	if err != nil {
		return repoErr("delete_chat", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

// AddMembers adds users to a chat, skipping existing memberships. Admin only.
func (r *PostgresRepository) AddMembers(ctx context.Context, chatID string, memberIDs []string, requestingUserID string) error {
	if err := ctx.Err(); err != nil {
		return repoErr("add_members", err)
	}

	if err := r.requireAdmin(ctx, chatID, requestingUserID); err != nil {
		return err
	}

	members := pgIdent(r.schema, "chat_members")
	for _, m := range memberIDs {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO `+members+` (chat_id, user_id, role) VALUES ($1, $2, 'member')
			 ON CONFLICT (chat_id, user_id) DO NOTHING`,
			chatID, m,
		); err != nil {
			return repoErr("add_members", err)
		}
	}
	return nil
}

func (r *PostgresRepository) isMember(ctx context.Context, chatID, userID string) (bool, error) {
	members := pgIdent(r.schema, "chat_members")

	var one int
	err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, repoErr("is_member", err)
	}
	return true, nil
}

func (r *PostgresRepository) requireAdmin(ctx context.Context, chatID, userID string) error {
	members := pgIdent(r.schema, "chat_members")

	var role string
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM `+members+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotAdmin
	}
	if err != nil {
		return repoErr("require_admin", err)
	}
	if Role(role) != RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
