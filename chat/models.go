package chat

import "time"

// EventNewMessage is the event type pushed to a recipient's live connection
// when a message addressed to them has been persisted.
const EventNewMessage = "newMessage"

// A Conversation is the durable record pairing exactly two users.
// Participants are stored in canonical (sorted) order.
type Conversation struct {
	ID           string       `json:"id"`
	Participants [2]string    `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Pair returns the canonical participant pair of the conversation.
func (c Conversation) Pair() Pair {
	return Pair{A: c.Participants[0], B: c.Participants[1]}
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// A LastMessage is the summary of the newest message cached on a conversation.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// A Message is a persisted, immutable direct message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	ClientID       string    `json:"client_message_id,omitempty"`
	Seq            int64     `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary returns the last-message summary mirroring m.
func (m Message) Summary() *LastMessage {
	return &LastMessage{
		Text:      m.Text,
		SenderID:  m.SenderID,
		Seq:       m.Seq,
		CreatedAt: m.CreatedAt,
	}
}

// A NewMessage is a request to send a message from SenderID to ReceiverID.
// ClientID is an optional client generated key that makes retries of the
// same send idempotent.
type NewMessage struct {
	SenderID   string
	ReceiverID string
	Text       string
	ClientID   string
}

// A Summary is the list view of a conversation from one participant's side.
// Participant is always the other user.
type Summary struct {
	ConversationID string       `json:"id"`
	Participant    string       `json:"participant"`
	LastMessage    *LastMessage `json:"last_message,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// An Event is pushed to live connections.
type Event struct {
	Type    string  `json:"type"`
	Message Message `json:"data"`
}
