package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/feedline/messaging/chat"
	"github.com/goccy/go-json"
)

// UserHeader carries the authenticated user id set by the auth gateway.
const UserHeader = "X-User-ID"

// Chat provides direct messaging between users.
type Chat interface {
	SendMessage(ctx context.Context, nm chat.NewMessage) (chat.Message, error)
	GetHistory(ctx context.Context, userA, userB string) ([]chat.Message, error)
	ListConversations(ctx context.Context, userID string) ([]chat.Summary, error)
}

// A Validator validates decoded request bodies.
type Validator interface {
	Struct(s any) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger   *slog.Logger
	Chat     Chat
	Validate Validator

	// Realtime serves the websocket endpoint and Metrics the Prometheus
	// endpoint. Either may be nil.
	Realtime http.Handler
	Metrics  http.Handler

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.health)
	mux.HandleFunc("GET /conversations", a.authenticated(a.listConversations))
	mux.HandleFunc("GET /messages/{receiverID}", a.authenticated(a.getMessages))
	mux.HandleFunc("POST /messages/{receiverID}", a.authenticated(a.createMessage))
	if a.Realtime != nil {
		mux.Handle("GET /ws", a.Realtime)
	}
	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics)
	}

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

type userKey struct{}

// authenticated rejects requests without a user identity and stores it in
// the request context.
func (a *API) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(UserHeader)
		if uid == "" {
			a.respondError(w, http.StatusUnauthorized, errors.New("missing "+UserHeader), "Missing user identity")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, uid)))
	}
}

func currentUser(r *http.Request) string {
	uid, _ := r.Context().Value(userKey{}).(string)
	return uid
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondChatError maps service errors to HTTP responses.
func (a *API) respondChatError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, chat.ErrInvalidParticipants):
		a.respondError(w, http.StatusBadRequest, err, "Cannot message yourself")
	case errors.Is(err, chat.ErrEmptyMessage):
		a.respondError(w, http.StatusBadRequest, err, "Message text is empty")
	case errors.Is(err, chat.ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "No conversation found")
	default:
		a.respondError(w, http.StatusInternalServerError, err, msg)
	}
}

type lastMessage struct {
	Text      string `json:"text"`
	SenderID  string `json:"sender_id"`
	CreatedAt string `json:"created_at"`
}

type message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toMessage(m chat.Message) message {
	return message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Text            string `json:"text" validate:"required,max=5000"`
		ClientMessageID string `json:"client_message_id" validate:"omitempty,max=128"`
	}

	var body request
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	if err := a.Validate.Struct(body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	msg, err := a.Chat.SendMessage(r.Context(), chat.NewMessage{
		SenderID:   currentUser(r),
		ReceiverID: r.PathValue("receiverID"),
		Text:       body.Text,
		ClientID:   body.ClientMessageID,
	})
	if err != nil {
		a.respondChatError(w, err, "Could not insert message")
		return
	}

	a.respond(w, http.StatusCreated, toMessage(msg))
}

func (a *API) getMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []message `json:"messages"`
	}

	msgs, err := a.Chat.GetHistory(r.Context(), currentUser(r), r.PathValue("receiverID"))
	if err != nil {
		a.respondChatError(w, err, "Could not list messages")
		return
	}

	out := make([]message, len(msgs))
	for i, msg := range msgs {
		out[i] = toMessage(msg)
	}
	a.respond(w, http.StatusOK, response{Messages: out})
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	type (
		conversation struct {
			ID          string       `json:"id"`
			Participant string       `json:"participant"`
			LastMessage *lastMessage `json:"last_message"`
			UpdatedAt   string       `json:"updated_at"`
		}
		response struct {
			Conversations []conversation `json:"conversations"`
		}
	)

	convs, err := a.Chat.ListConversations(r.Context(), currentUser(r))
	if err != nil {
		a.respondChatError(w, err, "Could not list conversations")
		return
	}

	out := make([]conversation, len(convs))
	for i, c := range convs {
		out[i] = conversation{
			ID:          c.ConversationID,
			Participant: c.Participant,
			UpdatedAt:   formatTime(c.UpdatedAt),
		}
		if c.LastMessage != nil {
			out[i].LastMessage = &lastMessage{
				Text:      c.LastMessage.Text,
				SenderID:  c.LastMessage.SenderID,
				CreatedAt: formatTime(c.LastMessage.CreatedAt),
			}
		}
	}
	a.respond(w, http.StatusOK, response{Conversations: out})
}
