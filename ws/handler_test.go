package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feedline/messaging/chat"
	"github.com/feedline/messaging/delivery"
	"github.com/feedline/messaging/presence"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"
)

func newServer(t *testing.T) (*httptest.Server, *presence.Registry[delivery.Conn]) {
	t.Helper()
	reg := presence.New[delivery.Conn]()
	srv := httptest.NewServer(&Handler{
		Logger:   slogt.New(t),
		Presence: reg,
	})
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Could not dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_MissingIdentity(t *testing.T) {
	srv, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial succeeded without an identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Got response %v, want 401", resp)
	}
}

func TestHandler_Deliver(t *testing.T) {
	srv, reg := newServer(t)
	conn := dial(t, srv, "bob")
	waitFor(t, func() bool {
		_, ok := reg.Lookup("bob")
		return ok
	})

	want := chat.Event{
		Type: chat.EventNewMessage,
		Message: chat.Message{
			ID:             "1",
			ConversationID: "conv",
			SenderID:       "alice",
			Text:           "yo",
			CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	r := &delivery.Router{Logger: slogt.New(t), Presence: reg}
	r.Deliver("bob", want)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got chat.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Diff (-got +want)\n%s", diff)
	}
	if !strings.Contains(string(data), `"type":"newMessage"`) {
		t.Errorf("Event %s lacks the newMessage type", data)
	}
}

func TestHandler_Ping(t *testing.T) {
	srv, _ := newServer(t)
	conn := dial(t, srv, "bob")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("Got %s, want pong", data)
	}
}

func TestHandler_ReplacesSession(t *testing.T) {
	srv, reg := newServer(t)
	first := dial(t, srv, "bob")
	waitFor(t, func() bool {
		_, ok := reg.Lookup("bob")
		return ok
	})
	c1, _ := reg.Lookup("bob")

	dial(t, srv, "bob")
	waitFor(t, func() bool {
		c, ok := reg.Lookup("bob")
		return ok && c != c1
	})

	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := first.ReadMessage()
	if !websocket.IsCloseError(err, CloseSessionReplaced) {
		t.Errorf("Got error %v, want close %d", err, CloseSessionReplaced)
	}

	// The replaced connection going away must not evict the new one.
	time.Sleep(50 * time.Millisecond)
	if c, ok := reg.Lookup("bob"); !ok || c == c1 {
		t.Error("New session was evicted by the replaced one")
	}
}

func TestHandler_UnregisterOnClose(t *testing.T) {
	srv, reg := newServer(t)
	conn := dial(t, srv, "bob")
	waitFor(t, func() bool {
		_, ok := reg.Lookup("bob")
		return ok
	})

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool {
		_, ok := reg.Lookup("bob")
		return !ok
	})
}

func TestConnection_SendAfterClose(t *testing.T) {
	srv, reg := newServer(t)
	dial(t, srv, "bob")
	waitFor(t, func() bool {
		_, ok := reg.Lookup("bob")
		return ok
	})
	c, _ := reg.Lookup("bob")
	conn := c.(*Connection)
	conn.Close(websocket.CloseNormalClosure, "")

	select {
	case <-conn.Done():
	default:
		t.Error("Done not closed after Close")
	}
	if err := conn.Send(chat.Event{Type: chat.EventNewMessage}); err == nil {
		t.Error("Send on a closed connection succeeded")
	}
}

func TestHandler_SlowClientDoesNotBlockDelivery(t *testing.T) {
	srv, reg := newServer(t)
	// The client never reads, so the server's socket buffers fill up.
	dial(t, srv, "bob")
	waitFor(t, func() bool {
		_, ok := reg.Lookup("bob")
		return ok
	})
	c, _ := reg.Lookup("bob")
	conn := c.(*Connection)

	r := &delivery.Router{Logger: slogt.New(t), Presence: reg}
	ev := chat.Event{
		Type:    chat.EventNewMessage,
		Message: chat.Message{ID: "1", SenderID: "alice", Text: strings.Repeat("x", 256<<10)},
	}

	var worst time.Duration
	for i := 0; i < 2*sendBuffer+100; i++ {
		start := time.Now()
		r.Deliver("bob", ev)
		if d := time.Since(start); d > worst {
			worst = d
		}
	}
	if worst > 500*time.Millisecond {
		t.Errorf("Deliver took %v on a slow client, want it not to block", worst)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Slow client was not disconnected")
	}
}
