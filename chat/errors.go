package chat

import "errors"

var (
	// ErrInvalidParticipants is returned when a conversation would pair a
	// user with themselves or with an empty identity.
	ErrInvalidParticipants = errors.New("invalid conversation participants")

	// ErrEmptyMessage is returned for blank message text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrNotFound is returned when no conversation exists for a pair.
	ErrNotFound = errors.New("conversation not found")

	// ErrPersistence wraps any failure of the underlying stores.
	ErrPersistence = errors.New("persistence error")

	// ErrDelivery marks a failed push to a live connection. It is logged and
	// never returned from Service methods.
	ErrDelivery = errors.New("delivery error")

	// ErrConversationExists is returned by a ConversationStore when a
	// conversation for the pair was created concurrently.
	ErrConversationExists = errors.New("conversation already exists")
)
