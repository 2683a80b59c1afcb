package redis

import (
	"time"

	"github.com/feedline/messaging/chat"
)

// A conversation represents a conversation hash in Redis. Times are stored as
// unix nanoseconds.
type conversation struct {
	ID                  string `redis:"id"`
	UserA               string `redis:"user_a"`
	UserB               string `redis:"user_b"`
	LastMessageText     string `redis:"last_message_text"`
	LastMessageSenderID string `redis:"last_message_sender_id"`
	LastMessageSeq      int64  `redis:"last_message_seq"`
	LastMessageAt       int64  `redis:"last_message_at"`
	CreatedAt           int64  `redis:"created_at"`
	UpdatedAt           int64  `redis:"updated_at"`
}

func (c conversation) ChatConversation() chat.Conversation {
	out := chat.Conversation{
		ID:           c.ID,
		Participants: [2]string{c.UserA, c.UserB},
		CreatedAt:    fromNanos(c.CreatedAt),
		UpdatedAt:    fromNanos(c.UpdatedAt),
	}
	if c.LastMessageSeq > 0 {
		out.LastMessage = &chat.LastMessage{
			Text:      c.LastMessageText,
			SenderID:  c.LastMessageSenderID,
			Seq:       c.LastMessageSeq,
			CreatedAt: fromNanos(c.LastMessageAt),
		}
	}
	return out
}

// A message represents a message hash in Redis.
type message struct {
	ID             string `redis:"id"`
	ConversationID string `redis:"conversation_id"`
	SenderID       string `redis:"sender_id"`
	Text           string `redis:"text"`
	ClientID       string `redis:"client_id"`
	Seq            int64  `redis:"seq"`
	CreatedAt      int64  `redis:"created_at"`
}

func (m message) ChatMessage() chat.Message {
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		ClientID:       m.ClientID,
		Seq:            m.Seq,
		CreatedAt:      fromNanos(m.CreatedAt),
	}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
