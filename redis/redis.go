package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedline/messaging/chat"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis provides conversation and message storage in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	conversationPrefix = "conversations"
	pairPrefix         = "conversation-pairs"
	userPrefix         = "user-conversations"
	messagePrefix      = "messages"

	// maxTxRetries bounds optimistic transactions that lost a WATCH race.
	maxTxRetries = 5
)

func pairKey(p chat.Pair) string        { return pairPrefix + ":" + p.Key() }
func conversationKey(id string) string  { return conversationPrefix + ":" + id }
func seqKey(convID string) string       { return conversationKey(convID) + ":seq" }
func timelineKey(convID string) string  { return conversationKey(convID) + ":messages" }
func clientIDsKey(convID string) string { return conversationKey(convID) + ":client-ids" }
func messageKey(id string) string       { return messagePrefix + ":" + id }
func userKey(userID string) string      { return userPrefix + ":" + userID }

// FindConversation returns the conversation for the pair.
func (r *Redis) FindConversation(ctx context.Context, pair chat.Pair) (chat.Conversation, error) {
	id, err := r.cli.Get(ctx, pairKey(pair)).Result()
	if errors.Is(err, redis.Nil) {
		return chat.Conversation{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("redis get pair: %w", err)
	}
	return r.getConversation(ctx, id)
}

func (r *Redis) getConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var c conversation
	if err := r.cli.HGetAll(ctx, conversationKey(id)).Scan(&c); err != nil {
		return chat.Conversation{}, fmt.Errorf("hgetall: %w", err)
	}
	if c.ID == "" {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return c.ChatConversation(), nil
}

// CreateConversation stores a new conversation for the pair. The pair key is
// watched, so a concurrent creator makes this one fail with
// chat.ErrConversationExists. The conversation joins the participants' lists
// with its first message.
func (r *Redis) CreateConversation(ctx context.Context, pair chat.Pair) (chat.Conversation, error) {
	now := time.Now().UnixNano()
	c := conversation{
		ID:        uuid.NewString(),
		UserA:     pair.A,
		UserB:     pair.B,
		CreatedAt: now,
		UpdatedAt: now,
	}
	pk := pairKey(pair)

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, pk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return chat.ErrConversationExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, conversationKey(c.ID), c)
			pipe.Set(ctx, pk, c.ID, 0)
			pipe.ZAdd(ctx, userKey(c.UserA), redis.Z{Score: float64(now), Member: c.ID})
			pipe.ZAdd(ctx, userKey(c.UserB), redis.Z{Score: float64(now), Member: c.ID})
			return nil
		})
		return err
	}, pk)

	switch {
	case errors.Is(err, chat.ErrConversationExists), errors.Is(err, redis.TxFailedErr):
		return chat.Conversation{}, chat.ErrConversationExists
	case err != nil:
		return chat.Conversation{}, fmt.Errorf("redis create conversation: %w", err)
	}
	return c.ChatConversation(), nil
}

// UpdateLastMessage mirrors msg into the conversation summary unless the
// same or a newer message is already mirrored, and bumps the conversation in
// both participants' lists.
func (r *Redis) UpdateLastMessage(ctx context.Context, msg chat.Message) (bool, error) {
	key := conversationKey(msg.ConversationID)
	at := msg.CreatedAt.UnixNano()

	for i := 0; i < maxTxRetries; i++ {
		updated := false
		err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
			var c conversation
			if err := tx.HGetAll(ctx, key).Scan(&c); err != nil {
				return err
			}
			if c.ID == "" {
				return chat.ErrNotFound
			}
			if c.LastMessageSeq >= msg.Seq {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key,
					"last_message_text", msg.Text,
					"last_message_sender_id", msg.SenderID,
					"last_message_seq", msg.Seq,
					"last_message_at", at,
					"updated_at", at,
				)
				pipe.ZAdd(ctx, userKey(c.UserA), redis.Z{Score: float64(at), Member: c.ID})
				pipe.ZAdd(ctx, userKey(c.UserB), redis.Z{Score: float64(at), Member: c.ID})
				return nil
			})
			updated = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("redis update last message: %w", err)
		}
		return updated, nil
	}
	return false, fmt.Errorf("redis update last message: %w", redis.TxFailedErr)
}

// ListConversations returns the conversations of userID, most recently
// updated first. Only conversations with a message are indexed per user.
func (r *Redis) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	ids, err := r.cli.ZRevRange(ctx, userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	out := make([]chat.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds, err := r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(ctx, conversationKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	for _, cmd := range cmds {
		var c conversation
		if err := cmd.(*redis.MapStringStringCmd).Scan(&c); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		out = append(out, c.ChatConversation())
	}
	return out, nil
}

// appendScript allocates the next sequence number and writes the message in
// one step, so messages of a conversation become visible in sequence order.
// A client id that was already stored yields seq 0 and the stored id.
//
// KEYS: seq, timeline, client ids, message.
// ARGV: id, conversation id, sender id, text, client id, created at.
var appendScript = redis.NewScript(`
if ARGV[5] ~= "" then
	local existing = redis.call("HGET", KEYS[3], ARGV[5])
	if existing then
		return {0, existing}
	end
end
local seq = redis.call("INCR", KEYS[1])
redis.call("HSET", KEYS[4],
	"id", ARGV[1],
	"conversation_id", ARGV[2],
	"sender_id", ARGV[3],
	"text", ARGV[4],
	"client_id", ARGV[5],
	"seq", seq,
	"created_at", ARGV[6])
redis.call("ZADD", KEYS[2], seq, ARGV[1])
if ARGV[5] ~= "" then
	redis.call("HSET", KEYS[3], ARGV[5], ARGV[1])
end
return {seq, ARGV[1]}
`)

// AppendMessage stores the message under a new id with the next sequence
// number of its conversation. Messages carrying a client id that was already
// stored return the stored message and false.
func (r *Redis) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, bool, error) {
	convID := msg.ConversationID
	m := message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		ClientID:       msg.ClientID,
		CreatedAt:      time.Now().UnixNano(),
	}

	keys := []string{seqKey(convID), timelineKey(convID), clientIDsKey(convID), messageKey(m.ID)}
	res, err := appendScript.Run(ctx, r.cli, keys,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.ClientID, m.CreatedAt,
	).Slice()
	if err != nil {
		return chat.Message{}, false, fmt.Errorf("redis insert message: %w", err)
	}
	if len(res) != 2 {
		return chat.Message{}, false, fmt.Errorf("redis insert message: unexpected reply %v", res)
	}
	seq, _ := res[0].(int64)
	if seq == 0 {
		id, _ := res[1].(string)
		dup, err := r.getMessage(ctx, id)
		if err != nil {
			return chat.Message{}, false, err
		}
		return dup, false, nil
	}
	m.Seq = seq
	return m.ChatMessage(), true, nil
}

func (r *Redis) getMessage(ctx context.Context, id string) (chat.Message, error) {
	var m message
	if err := r.cli.HGetAll(ctx, messageKey(id)).Scan(&m); err != nil {
		return chat.Message{}, fmt.Errorf("redis get duplicate: %w", err)
	}
	return m.ChatMessage(), nil
}

// ListMessages returns the messages of a conversation in sequence order.
func (r *Redis) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	ids, err := r.cli.ZRange(ctx, timelineKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	out := make([]chat.Message, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds, err := r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(ctx, messageKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	for _, cmd := range cmds {
		var m message
		if err := cmd.(*redis.MapStringStringCmd).Scan(&m); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		out = append(out, m.ChatMessage())
	}
	return out, nil
}

var (
	_ chat.ConversationStore = (*Redis)(nil)
	_ chat.MessageStore      = (*Redis)(nil)
)
