package delivery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/feedline/messaging/chat"
	"github.com/feedline/messaging/metrics"
	"github.com/feedline/messaging/presence"
	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testconn struct {
	mu     sync.Mutex
	err    error
	events []chat.Event
}

func (c *testconn) Send(ev chat.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func deliveries(outcome string) float64 {
	return testutil.ToFloat64(metrics.Deliveries.WithLabelValues(outcome))
}

func TestRouter_Deliver(t *testing.T) {
	ev := chat.Event{
		Type: chat.EventNewMessage,
		Message: chat.Message{
			ID:             "1",
			ConversationID: "c",
			SenderID:       "alice",
			Text:           "hi",
			CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	tests := []struct {
		name        string
		conn        *testconn
		register    bool
		wantEvents  []chat.Event
		wantOutcome string
	}{
		{
			name:        "Online",
			conn:        &testconn{},
			register:    true,
			wantEvents:  []chat.Event{ev},
			wantOutcome: metrics.DeliveryDelivered,
		},
		{
			name:        "Offline",
			conn:        &testconn{},
			wantOutcome: metrics.DeliveryOffline,
		},
		{
			name:        "SendFails",
			conn:        &testconn{err: errors.New("buffer full")},
			register:    true,
			wantOutcome: metrics.DeliveryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := presence.New[Conn]()
			if tt.register {
				reg.Register("bob", tt.conn)
			}
			r := &Router{Logger: slogt.New(t), Presence: reg}

			before := deliveries(tt.wantOutcome)
			r.Deliver("bob", ev)

			if diff := cmp.Diff(tt.conn.events, tt.wantEvents); diff != "" {
				t.Errorf("Events diff (-got +want)\n%s", diff)
			}
			if got := deliveries(tt.wantOutcome) - before; got != 1 {
				t.Errorf("Got %v %s deliveries recorded, want 1", got, tt.wantOutcome)
			}
		})
	}
}

func TestRouter_DeliverOnlyToRecipient(t *testing.T) {
	reg := presence.New[Conn]()
	alice := &testconn{}
	bob := &testconn{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)
	r := &Router{Logger: slogt.New(t), Presence: reg}

	r.Deliver("bob", chat.Event{Type: chat.EventNewMessage, Message: chat.Message{ID: "1", Text: "yo"}})

	if len(alice.events) != 0 {
		t.Errorf("Sender received %d events, want 0", len(alice.events))
	}
	if len(bob.events) != 1 {
		t.Errorf("Recipient received %d events, want 1", len(bob.events))
	}
}
