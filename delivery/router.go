// Package delivery pushes events to users that are currently online.
package delivery

import (
	"fmt"
	"log/slog"

	"github.com/feedline/messaging/chat"
	"github.com/feedline/messaging/metrics"
	"github.com/feedline/messaging/presence"
)

// A Conn is a live connection able to receive events. Send must not block:
// implementations enqueue the event and return.
type Conn interface {
	Send(ev chat.Event) error
}

// Router delivers events to the connection registered for a user.
type Router struct {
	Logger   *slog.Logger
	Presence *presence.Registry[Conn]
}

// Deliver pushes ev to userID's connection. Absent users and failed pushes
// are logged and counted, never returned.
func (r *Router) Deliver(userID string, ev chat.Event) {
	conn, ok := r.Presence.Lookup(userID)
	if !ok {
		metrics.RecordDelivery(metrics.DeliveryOffline)
		r.Logger.Debug("Recipient offline", "user_id", userID, "type", ev.Type)
		return
	}
	if err := conn.Send(ev); err != nil {
		metrics.RecordDelivery(metrics.DeliveryFailed)
		err = fmt.Errorf("%w: %w", chat.ErrDelivery, err)
		r.Logger.Warn("Could not deliver event", "user_id", userID, "type", ev.Type, "error", err.Error())
		return
	}
	metrics.RecordDelivery(metrics.DeliveryDelivered)
}

var _ chat.Deliverer = (*Router)(nil)
