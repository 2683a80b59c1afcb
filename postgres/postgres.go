package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/feedline/messaging/chat"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// FindConversation returns the conversation for the pair.
func (pg *Postgres) FindConversation(ctx context.Context, pair chat.Pair) (chat.Conversation, error) {
	var c conversation
	err := pg.bun.NewSelect().
		Model(&c).
		Where("user_a = ?", pair.A).
		Where("user_b = ?", pair.B).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("select: %w", err)
	}
	return c.ChatConversation(), nil
}

// CreateConversation inserts a conversation for the pair. The unique index on
// (user_a, user_b) turns a concurrent duplicate into chat.ErrConversationExists.
func (pg *Postgres) CreateConversation(ctx context.Context, pair chat.Pair) (chat.Conversation, error) {
	c := &conversation{
		UserA: pair.A,
		UserB: pair.B,
	}
	if _, err := pg.bun.NewInsert().Model(c).Returning("*").Exec(ctx); err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return chat.Conversation{}, chat.ErrConversationExists
		}
		return chat.Conversation{}, fmt.Errorf("insert: %w", err)
	}
	return c.ChatConversation(), nil
}

// UpdateLastMessage mirrors msg into the conversation summary unless the
// same or a newer message is already mirrored.
func (pg *Postgres) UpdateLastMessage(ctx context.Context, msg chat.Message) (bool, error) {
	res, err := pg.bun.NewUpdate().
		Model((*conversation)(nil)).
		Set("last_message_text = ?", msg.Text).
		Set("last_message_sender_id = ?", msg.SenderID).
		Set("last_message_seq = ?", msg.Seq).
		Set("last_message_at = ?", msg.CreatedAt).
		Set("updated_at = ?", msg.CreatedAt).
		Where("id = ?", msg.ConversationID).
		Where("last_message_seq < ?", msg.Seq).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// ListConversations returns the conversations of userID, most recently
// updated first. Conversations without a message yet are left out.
func (pg *Postgres) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	var convs []conversation
	err := pg.bun.NewSelect().
		Model(&convs).
		Where("(user_a = ? OR user_b = ?)", userID, userID).
		Where("last_message_seq > 0").
		Order("updated_at DESC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	out := make([]chat.Conversation, len(convs))
	for i, c := range convs {
		out[i] = c.ChatConversation()
	}
	return out, nil
}

// AppendMessage inserts a message. The returned message holds auto generated
// fields, such as the message id and sequence. A message whose client id was
// already stored in the conversation is returned as is, with false.
//
// The conversation row is locked for the duration of the insert, so appends
// to one conversation commit in sequence order.
func (pg *Postgres) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, bool, error) {
	m := &message{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		MessageText:    msg.Text,
		ClientID:       msg.ClientID,
	}
	appended := true
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var id string
		err := tx.NewSelect().
			Model((*conversation)(nil)).
			Column("id").
			Where("id = ?", msg.ConversationID).
			For("UPDATE").
			Scan(ctx, &id)
		if errors.Is(err, sql.ErrNoRows) {
			return chat.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}

		q := tx.NewInsert().Model(m).Returning("*")
		if m.ClientID != "" {
			q = q.On("CONFLICT (conversation_id, client_id) DO NOTHING")
		}
		res, err := q.Exec(ctx)
		switch {
		case m.ClientID != "" && (errors.Is(err, sql.ErrNoRows) || (err == nil && rowsAffected(res) == 0)):
			// Conflict on the client id: this is a retry.
			appended = false
			dup, err := findByClientID(ctx, tx, msg.ConversationID, msg.ClientID)
			if err != nil {
				return err
			}
			*m = dup
			return nil
		case err != nil:
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, false, err
	}
	return m.ChatMessage(), appended, nil
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func findByClientID(ctx context.Context, db bun.IDB, conversationID, clientID string) (message, error) {
	var m message
	err := db.NewSelect().
		Model(&m).
		Where("conversation_id = ?", conversationID).
		Where("client_id = ?", clientID).
		Scan(ctx)
	if err != nil {
		return message{}, fmt.Errorf("select duplicate: %w", err)
	}
	return m, nil
}

// ListMessages returns the messages of a conversation in insertion order.
func (pg *Postgres) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ChatMessage()
	}
	return out, nil
}

var (
	_ chat.ConversationStore = (*Postgres)(nil)
	_ chat.MessageStore      = (*Postgres)(nil)
)
