package postgres

import (
	"time"

	"github.com/feedline/messaging/chat"
)

// A conversation represents a conversation in the database. UserA is always
// lexically smaller than UserB.
type conversation struct {
	ID                  string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	UserA               string    `bun:"user_a,notnull"`
	UserB               string    `bun:"user_b,notnull"`
	LastMessageText     string    `bun:",nullzero"`
	LastMessageSenderID string    `bun:",nullzero"`
	LastMessageSeq      int64     `bun:",notnull,default:0"`
	LastMessageAt       time.Time `bun:",nullzero"`
	CreatedAt           time.Time `bun:",nullzero,notnull,default:now()"`
	UpdatedAt           time.Time `bun:",nullzero,notnull,default:now()"`
}

func (c conversation) ChatConversation() chat.Conversation {
	out := chat.Conversation{
		ID:           c.ID,
		Participants: [2]string{c.UserA, c.UserB},
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	if c.LastMessageSeq > 0 {
		out.LastMessage = &chat.LastMessage{
			Text:      c.LastMessageText,
			SenderID:  c.LastMessageSenderID,
			Seq:       c.LastMessageSeq,
			CreatedAt: c.LastMessageAt.UTC(),
		}
	}
	return out
}

// A message represents a message in the database. Seq is assigned by the
// database and orders messages by insertion. CreatedAt uses the statement
// clock rather than the transaction start so it follows Seq.
type message struct {
	ID             string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Seq            int64     `bun:",autoincrement"`
	ConversationID string    `bun:",notnull,type:uuid"`
	SenderID       string    `bun:",notnull"`
	MessageText    string    `bun:"message_text,notnull"`
	ClientID       string    `bun:",nullzero"`
	CreatedAt      time.Time `bun:",nullzero,notnull,default:clock_timestamp()"`
}

func (m message) ChatMessage() chat.Message {
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.MessageText,
		ClientID:       m.ClientID,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}
