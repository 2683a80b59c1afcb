package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/feedline/messaging/metrics"
	"golang.org/x/sync/singleflight"
)

// Service implements direct messaging between pairs of users.
type Service struct {
	Logger        *slog.Logger
	Conversations ConversationStore
	Messages      MessageStore
	Delivery      Deliverer

	// StoreTimeout bounds every store call. Zero means the caller's context
	// is used as is.
	StoreTimeout time.Duration

	creates singleflight.Group
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}

var errVanished = errors.New("conversation missing after create conflict")

func persistenceError(op string, err error) error {
	metrics.RecordStoreError(op)
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// GetOrCreateConversation returns the conversation between userA and userB,
// creating it on first contact. The argument order does not matter.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	pair, err := NewPair(userA, userB)
	if err != nil {
		return Conversation{}, err
	}

	// Concurrent first contact from the same process is collapsed into one
	// create; the store's uniqueness on the pair covers other processes.
	v, err, _ := s.creates.Do(pair.Key(), func() (any, error) {
		return s.getOrCreate(ctx, pair)
	})
	if err != nil {
		return Conversation{}, err
	}
	return v.(Conversation), nil
}

func (s *Service) getOrCreate(ctx context.Context, pair Pair) (Conversation, error) {
	conv, err := s.find(ctx, pair)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	sctx, cancel := s.storeContext(ctx)
	conv, err = s.Conversations.CreateConversation(sctx, pair)
	cancel()
	switch {
	case err == nil:
		s.Logger.Info("Conversation created", "conversation_id", conv.ID)
		return conv, nil
	case errors.Is(err, ErrConversationExists):
		// Lost the race against another writer; theirs is authoritative.
		conv, err = s.find(ctx, pair)
		if errors.Is(err, ErrNotFound) {
			return Conversation{}, persistenceError("find conversation", errVanished)
		}
		return conv, err
	default:
		return Conversation{}, persistenceError("create conversation", err)
	}
}

func (s *Service) find(ctx context.Context, pair Pair) (Conversation, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	conv, err := s.Conversations.FindConversation(sctx, pair)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Conversation{}, persistenceError("find conversation", err)
	}
	return conv, err
}

// SendMessage persists a message from nm.SenderID to nm.ReceiverID and pushes
// it to the receiver when they are online. The returned error only reflects
// validation and persistence; delivery is best effort.
func (s *Service) SendMessage(ctx context.Context, nm NewMessage) (Message, error) {
	if _, err := NewPair(nm.SenderID, nm.ReceiverID); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(nm.Text) == "" {
		return Message{}, ErrEmptyMessage
	}

	conv, err := s.GetOrCreateConversation(ctx, nm.SenderID, nm.ReceiverID)
	if err != nil {
		return Message{}, err
	}

	sctx, cancel := s.storeContext(ctx)
	msg, appended, err := s.Messages.AppendMessage(sctx, Message{
		ConversationID: conv.ID,
		SenderID:       nm.SenderID,
		Text:           nm.Text,
		ClientID:       nm.ClientID,
	})
	cancel()
	if err != nil {
		return Message{}, persistenceError("append message", err)
	}
	if appended {
		metrics.MessagesPersisted.Inc()
	}

	updated, err := s.updateLastMessage(ctx, msg)
	if err != nil {
		return Message{}, err
	}

	// A retry of a send that already completed changes nothing and must not
	// push the message a second time.
	if !appended && !updated {
		s.Logger.Debug("Duplicate send", "conversation_id", msg.ConversationID, "message_id", msg.ID)
		return msg, nil
	}
	s.Delivery.Deliver(nm.ReceiverID, Event{Type: EventNewMessage, Message: msg})
	return msg, nil
}

// updateLastMessage is retried once; the store update is monotonic on the
// message sequence so repeating it is harmless.
func (s *Service) updateLastMessage(ctx context.Context, msg Message) (bool, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		sctx, cancel := s.storeContext(ctx)
		var updated bool
		updated, err = s.Conversations.UpdateLastMessage(sctx, msg)
		cancel()
		if err == nil {
			return updated, nil
		}
		if ctx.Err() != nil {
			break
		}
		s.Logger.Warn("Could not update last message", "conversation_id", msg.ConversationID, "attempt", attempt+1, "error", err.Error())
	}
	return false, persistenceError("update last message", err)
}

// GetHistory returns the messages exchanged between userA and userB in the
// order they were appended. It never creates a conversation, and a
// conversation left without messages by a failed send reads as ErrNotFound.
func (s *Service) GetHistory(ctx context.Context, userA, userB string) ([]Message, error) {
	pair, err := NewPair(userA, userB)
	if err != nil {
		return nil, err
	}
	conv, err := s.find(ctx, pair)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	msgs, err := s.Messages.ListMessages(sctx, conv.ID)
	if err != nil {
		return nil, persistenceError("list messages", err)
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs, nil
}

// ListConversations returns the conversations userID takes part in, most
// recently updated first. Each summary names only the other participant.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Summary, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	convs, err := s.Conversations.ListConversations(sctx, userID)
	if err != nil {
		return nil, persistenceError("list conversations", err)
	}

	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, Summary{
			ConversationID: c.ID,
			Participant:    c.Other(userID),
			LastMessage:    c.LastMessage,
			UpdatedAt:      c.UpdatedAt,
		})
	}
	return out, nil
}
