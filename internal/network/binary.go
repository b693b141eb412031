package network

import (
	"log/slog"
	"time"

	"github.com/cuepilot/cuepilot/internal/bus"
)

// Endpoint is one control surface: the engine polls it for decoded
// requests and pushes notifications through it.
type Endpoint interface {
	// Poll drains pending datagrams into decoded requests, at most limit.
	Poll(limit int) []Request
	// Notify fans a message out to the endpoint's matching subscribers.
	Notify(m bus.Message)
	// Close releases the endpoint's socket.
	Close() error
}

// BinaryEndpoint speaks the size-class-prefixed binary framing over UDP.
type BinaryEndpoint struct {
	port     *Port
	registry Registry
	logger   *slog.Logger

	queued []Request
	recips []SubscriberInfo
	now    func() time.Time
}

// NewBinaryEndpoint binds the binary protocol endpoint.
func NewBinaryEndpoint(udpPort int, logger *slog.Logger) (*BinaryEndpoint, error) {
	port, err := NewPort(udpPort)
	if err != nil {
		return nil, err
	}
	e := &BinaryEndpoint{
		port:   port,
		logger: logger.With("subsystem", "binnet"),
		now:    time.Now,
	}
	e.logger.Info("binary endpoint listening", "addr", port.LocalAddr().String())
	return e, nil
}

// Poll drains pending datagrams: malformed frames are logged and
// discarded, subscription requests are absorbed into the registry, and
// everything decoded is handed to the engine.
func (e *BinaryEndpoint) Poll(limit int) []Request {
	out := e.queued
	e.queued = nil

	for len(out) < limit {
		data, src, ok := e.port.Recv()
		if !ok {
			break
		}
		now := e.now()
		e.registry.Touch(src.String(), now)

		req, err := DecodeRequest(data)
		if err != nil {
			e.logger.Warn("discarding malformed datagram",
				"src", src.String(),
				"error", err,
			)
			continue
		}

		switch req.Kind {
		case RequestSubscribe:
			if req.Subscriber.Address == "" {
				// Subscribers that do not advertise an address get
				// notifications on their source address.
				req.Subscriber.Address = src.String()
			}
			if e.registry.Subscribe(req.Subscriber, now) {
				e.logger.Info("new subscriber",
					"address", req.Subscriber.Address,
					"identifier", req.Subscriber.Identifier.String(),
					"kinds", uint16(req.Subscriber.Kinds),
				)
			}
			e.publishSubscribers()
			out = append(out, req, Request{Kind: RequestNotifySubscribers})
		case RequestUnsubscribe:
			addr := req.Subscriber.Address
			if addr == "" {
				addr = src.String()
			}
			e.registry.Unsubscribe(addr)
			e.publishSubscribers()
			out = append(out, req)
		default:
			out = append(out, req)
		}
	}
	return out
}

// publishSubscribers sends the subscriber list to everyone who asked.
func (e *BinaryEndpoint) publishSubscribers() {
	e.Notify(bus.Message{Type: bus.MsgNetworkChanged, Network: e.registry.Snapshot()})
}

// Notify prunes stale subscribers, then sends the message to each
// subscriber whose mask accepts its type. Send failures are logged and the
// subscriber retained; the timeout prune handles the truly gone.
func (e *BinaryEndpoint) Notify(m bus.Message) {
	e.registry.Prune(e.now())
	e.recips = e.registry.Recipients(m.Type, e.recips)
	if len(e.recips) == 0 {
		return
	}
	data, err := EncodeMessage(m)
	if err != nil {
		e.logger.Error("encoding notification", "type", uint16(m.Type), "error", err)
		return
	}
	e.sendRaw(data, m.Type)
}

// NotifyRaw sends a pre-framed payload (e.g. a configuration snapshot) to
// subscribers of the given type.
func (e *BinaryEndpoint) NotifyRaw(data []byte, t bus.MessageType) {
	e.registry.Prune(e.now())
	e.recips = e.registry.Recipients(t, e.recips)
	e.sendRaw(data, t)
}

func (e *BinaryEndpoint) sendRaw(data []byte, t bus.MessageType) {
	for _, sub := range e.recips {
		if err := e.port.Send(data, sub.Address); err != nil {
			e.logger.Warn("subscriber send failed",
				"address", sub.Address,
				"type", uint16(t),
				"error", err,
			)
		}
	}
}

// Subscribers exposes the registry size for status reporting.
func (e *BinaryEndpoint) Subscribers() int { return e.registry.Len() }

// Close releases the socket.
func (e *BinaryEndpoint) Close() error { return e.port.Close() }
