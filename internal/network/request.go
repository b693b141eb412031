// Package network implements the engine's control surface: non-blocking
// UDP ports, the binary request/notification protocol, the OSC endpoint,
// and the subscriber registry that fans notifications out to remote UIs.
package network

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/config"
)

// RequestKind enumerates the wire request variants.
type RequestKind uint8

const (
	RequestNone RequestKind = iota
	RequestPing
	RequestSubscribe
	RequestUnsubscribe
	RequestNotifySubscribers
	RequestShutdown
	RequestInitialize
	RequestChangeRouting
	RequestChangeConfiguration
	RequestControlAction
)

// Request is one decoded inbound datagram.
type Request struct {
	Kind RequestKind

	// Subscribe / Unsubscribe
	Subscriber SubscriberInfo

	// ChangeRouting
	RouteFrom, RouteTo uint8
	Connect            bool

	// ChangeConfiguration
	Configuration *config.SystemConfiguration

	// ControlAction
	Action bus.ControlAction
}

// SubscriberInfo describes one remote endpoint registered for
// notifications.
type SubscriberInfo struct {
	// Address is the "ip:port" the subscriber wants notifications sent to.
	Address string
	// Identifier names the subscriber across reconnects.
	Identifier uuid.UUID
	// Kinds is the bitmask of accepted message types.
	Kinds bus.MessageType
	// LastContact is the time of the subscriber's last inbound datagram.
	LastContact time.Time
}

// subscriberTimeout is how long a subscriber may stay silent before it is
// pruned on the next outbound notification.
const subscriberTimeout = 15 * time.Minute

// Stale reports whether the subscriber has been silent past the timeout.
func (s *SubscriberInfo) Stale(now time.Time) bool {
	return now.Sub(s.LastContact) >= subscriberTimeout
}
