package chat

import "context"

// A ConversationStore persists conversations keyed by their canonical pair.
type ConversationStore interface {
	// FindConversation returns ErrNotFound when no conversation exists.
	FindConversation(ctx context.Context, pair Pair) (Conversation, error)
	// CreateConversation must be atomic on the pair and return
	// ErrConversationExists when the pair is already taken.
	CreateConversation(ctx context.Context, pair Pair) (Conversation, error)
	// UpdateLastMessage sets the cached last message and updated time and
	// reports whether it did. It is a no-op when the conversation already
	// mirrors msg or a newer message.
	UpdateLastMessage(ctx context.Context, msg Message) (bool, error)
	// ListConversations returns the conversations of userID that carry a
	// last message, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
}

// A MessageStore persists messages append-only per conversation.
type MessageStore interface {
	// AppendMessage stores msg and returns it with ID, Seq and CreatedAt set.
	// When msg.ClientID is set and a message with the same ClientID already
	// exists in the conversation, that message is returned instead and the
	// boolean is false. Seq order matches commit order within a conversation.
	AppendMessage(ctx context.Context, msg Message) (Message, bool, error)
	// ListMessages returns all messages of a conversation in append order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// A Deliverer pushes events to a user's live connection, if any. Deliver
// must not block on the transport and reports no errors.
type Deliverer interface {
	Deliver(userID string, ev Event)
}
