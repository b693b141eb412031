package network

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

// oscMaxChannels bounds the channel-indexed address expansion.
const oscMaxChannels = 32

// oscMaxOutputs bounds the routing destination expansion.
const oscMaxOutputs = 64

// OSCEndpoint speaks OSC 1.0 over UDP: the inbound control address space
// and the outbound notification paths. OSC subscribers register through
// /subscribe with the reply port as the argument.
type OSCEndpoint struct {
	port     *Port
	registry Registry
	logger   *slog.Logger

	queued  []Request
	recips  []SubscriberInfo
	lastCue *show.Cue
	now     func() time.Time
}

// NewOSCEndpoint binds the OSC endpoint.
func NewOSCEndpoint(udpPort int, logger *slog.Logger) (*OSCEndpoint, error) {
	port, err := NewPort(udpPort)
	if err != nil {
		return nil, err
	}
	e := &OSCEndpoint{
		port:   port,
		logger: logger.With("subsystem", "oscnet"),
		now:    time.Now,
	}
	e.logger.Info("osc endpoint listening", "addr", port.LocalAddr().String())
	return e, nil
}

// Poll drains pending datagrams, dispatching each OSC message through the
// address space. Undecodable packets and unknown addresses are discarded;
// bad argument types drop the message.
func (e *OSCEndpoint) Poll(limit int) []Request {
	out := e.queued
	e.queued = nil

	for len(out) < limit {
		data, src, ok := e.port.Recv()
		if !ok {
			break
		}
		e.registry.Touch(src.String(), e.now())

		packet, err := osc.ParsePacket(string(data))
		if err != nil {
			e.logger.Warn("discarding malformed osc packet",
				"src", src.String(),
				"error", err,
			)
			continue
		}
		e.handlePacket(packet, src)
		out = append(out, e.queued...)
		e.queued = e.queued[:0]
	}
	return out
}

func (e *OSCEndpoint) handlePacket(packet osc.Packet, src *net.UDPAddr) {
	switch p := packet.(type) {
	case *osc.Bundle:
		for _, elem := range p.Messages {
			e.handleMessage(elem, src)
		}
		for _, sub := range p.Bundles {
			e.handlePacket(sub, src)
		}
	case *osc.Message:
		e.handleMessage(p, src)
	}
}

// handleMessage walks the control address space. The inbound address may
// carry OSC wildcards; each concrete address is tested against it.
func (e *OSCEndpoint) handleMessage(m *osc.Message, src *net.UDPAddr) {
	push := func(a bus.ControlAction) {
		e.queued = append(e.queued, Request{Kind: RequestControlAction, Action: a})
	}

	if oscMatch(m.Address, "/subscribe") {
		port, ok := argInt(m, 0)
		if !ok {
			return
		}
		e.subscribe(src, int(port))
		return
	}

	type plain struct {
		addr string
		kind bus.ActionKind
	}
	for _, p := range []plain{
		{"/control/transport/start", bus.ActionTransportStart},
		{"/control/transport/stop", bus.ActionTransportStop},
		{"/control/transport/zero", bus.ActionTransportZero},
		{"/control/cue/+", bus.ActionLoadNextCue},
		{"/control/cue/-", bus.ActionLoadPreviousCue},
	} {
		if oscMatch(m.Address, p.addr) {
			push(bus.Action(p.kind))
			return
		}
	}

	if oscMatch(m.Address, "/control/transport/seek") {
		if dest, ok := argInt(m, 0); ok {
			push(bus.ControlAction{Kind: bus.ActionTransportSeekBeat, Beat: uint16(dest)})
		}
		return
	}
	if oscMatch(m.Address, "/control/transport/jump") {
		if dest, ok := argInt(m, 0); ok {
			push(bus.ControlAction{Kind: bus.ActionTransportJumpBeat, Beat: uint16(dest)})
		}
		return
	}
	if oscMatch(m.Address, "/control/cue/load") {
		if idx, ok := argInt(m, 0); ok {
			push(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: uint8(idx)})
		}
		return
	}

	// Channel-indexed editing addresses: test each concrete channel
	// address against the (possibly wildcarded) inbound pattern.
	for ch := 0; ch < oscMaxChannels; ch++ {
		if oscMatch(m.Address, fmt.Sprintf("/edit/channel/%d/gain", ch)) {
			if gain, ok := argFloat(m, 0); ok {
				push(bus.ControlAction{
					Kind: bus.ActionSetChannelGain, Channel: uint8(ch), Gain: gain,
				})
			}
		}
		if oscMatch(m.Address, fmt.Sprintf("/edit/channel/%d/mute", ch)) {
			if mute, ok := argBool(m, 0); ok {
				push(bus.ControlAction{
					Kind: bus.ActionSetChannelMute, Channel: uint8(ch), Mute: mute,
				})
			}
		}
		for to := 0; to < oscMaxOutputs; to++ {
			if oscMatch(m.Address, fmt.Sprintf("/edit/channel/%d/route/%d", ch, to)) {
				if patch, ok := argBool(m, 0); ok {
					e.queued = append(e.queued, Request{
						Kind:      RequestChangeRouting,
						RouteFrom: uint8(ch),
						RouteTo:   uint8(to),
						Connect:   patch,
					})
				}
			}
		}
	}
}

// subscribe registers an OSC subscriber replying to the sender's host at
// the advertised port. OSC subscribers receive every notification type the
// OSC surface can express.
func (e *OSCEndpoint) subscribe(src *net.UDPAddr, port int) {
	host := trimHost(src.IP.String())
	info := SubscriberInfo{
		Address: net.JoinHostPort(host, fmt.Sprint(port)),
		Kinds:   bus.MsgTransportData | bus.MsgBeatData | bus.MsgCueData | bus.MsgHeartbeat,
	}
	if e.registry.Subscribe(info, e.now()) {
		e.logger.Info("new osc subscriber", "address", info.Address)
	}
	e.queued = append(e.queued, Request{Kind: RequestSubscribe, Subscriber: info},
		Request{Kind: RequestNotifySubscribers})
}

// Notify translates a message onto the OSC notification paths and fans it
// out to matching subscribers.
func (e *OSCEndpoint) Notify(m bus.Message) {
	e.registry.Prune(e.now())
	e.recips = e.registry.Recipients(m.Type, e.recips)

	switch m.Type {
	case bus.MsgCueData:
		// Remember the cue so beat notifications can resolve count and bar.
		e.lastCue = m.Cue
	case bus.MsgBeatData, bus.MsgTransportData, bus.MsgHeartbeat:
	default:
		// The OSC surface has no representation for the other variants.
		return
	}
	if len(e.recips) == 0 {
		return
	}

	var msgs []*osc.Message
	switch m.Type {
	case bus.MsgTransportData:
		msgs = append(msgs, oscBool("/notification/transport/running", m.Transport.Running))
	case bus.MsgBeatData:
		msgs = append(msgs, oscInt("/notification/transport/beat/index", int32(m.Beat.BeatIdx)))
		if e.lastCue != nil {
			if beat, ok := e.lastCue.Beat(m.Beat.BeatIdx); ok {
				msgs = append(msgs,
					oscInt("/notification/transport/beat/count", int32(beat.Count)),
					oscInt("/notification/transport/beat/bar", int32(beat.Bar)),
				)
			}
		}
	case bus.MsgCueData:
		msgs = append(msgs,
			oscInt("/notification/cue/index", int32(m.CueIndex)),
			oscInt("/notification/cue/length", int32(m.Cue.Len())),
			oscString("/notification/cue/ident", m.Cue.Ident),
			oscString("/notification/cue/name", m.Cue.Name),
		)
	case bus.MsgHeartbeat:
		msgs = append(msgs, oscInt("/notification/heartbeat", int32(time.Now().Unix())))
	}

	for _, om := range msgs {
		data, err := om.MarshalBinary()
		if err != nil {
			e.logger.Error("encoding osc notification", "addr", om.Address, "error", err)
			continue
		}
		for _, sub := range e.recips {
			if err := e.port.Send(data, sub.Address); err != nil {
				e.logger.Warn("osc subscriber send failed",
					"address", sub.Address,
					"error", err,
				)
			}
		}
	}
}

// Close releases the socket.
func (e *OSCEndpoint) Close() error { return e.port.Close() }

func oscInt(addr string, v int32) *osc.Message {
	m := osc.NewMessage(addr)
	m.Append(v)
	return m
}

func oscBool(addr string, v bool) *osc.Message {
	m := osc.NewMessage(addr)
	m.Append(v)
	return m
}

func oscString(addr string, v string) *osc.Message {
	m := osc.NewMessage(addr)
	m.Append(v)
	return m
}

// Argument readers tolerate the common OSC numeric encodings.
func argInt(m *osc.Message, idx int) (int32, bool) {
	if idx >= len(m.Arguments) {
		return 0, false
	}
	switch v := m.Arguments[idx].(type) {
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float32:
		return int32(v), true
	default:
		return 0, false
	}
}

func argFloat(m *osc.Message, idx int) (float32, bool) {
	if idx >= len(m.Arguments) {
		return 0, false
	}
	switch v := m.Arguments[idx].(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	case int32:
		return float32(v), true
	default:
		return 0, false
	}
}

func argBool(m *osc.Message, idx int) (bool, bool) {
	if idx >= len(m.Arguments) {
		return false, false
	}
	switch v := m.Arguments[idx].(type) {
	case bool:
		return v, true
	case int32:
		return v != 0, true
	default:
		return false, false
	}
}

// trimHost strips a zone suffix from IPv6 hosts for stable addresses.
func trimHost(host string) string {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		return host[:i]
	}
	return host
}
