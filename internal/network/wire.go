package network

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/show"
)

// Size-class prefix bytes. Every binary frame starts with one, marking the
// frame as a small (fixed-size, high-frequency) or large payload so
// consumers can prioritize without parsing further.
const (
	classSmall = 0xE1
	classLarge = 0xD2
)

var (
	// ErrBadFrame means the datagram is not a valid binary frame.
	ErrBadFrame = errors.New("malformed binary frame")
	// ErrBadClass means the size-class byte is unknown.
	ErrBadClass = errors.New("unknown size-class byte")
)

// requestClass returns the size-class byte for a request kind.
func requestClass(kind RequestKind) byte {
	switch kind {
	case RequestSubscribe, RequestUnsubscribe, RequestChangeConfiguration:
		return classLarge
	default:
		return classSmall
	}
}

// EncodeRequest frames a request for the wire.
func EncodeRequest(req Request) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(requestClass(req.Kind))
	buf.WriteByte(byte(req.Kind))

	switch req.Kind {
	case RequestSubscribe, RequestUnsubscribe:
		buf.Write(req.Subscriber.Identifier[:])
		writeU16(&buf, uint16(req.Subscriber.Kinds))
		writeWireString(&buf, req.Subscriber.Address)
	case RequestChangeRouting:
		buf.WriteByte(req.RouteFrom)
		buf.WriteByte(req.RouteTo)
		writeBool(&buf, req.Connect)
	case RequestChangeConfiguration:
		data, err := json.Marshal(req.Configuration)
		if err != nil {
			return nil, fmt.Errorf("encoding configuration payload: %w", err)
		}
		writeU16(&buf, uint16(len(data)))
		buf.Write(data)
	case RequestControlAction:
		writeAction(&buf, req.Action)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses one datagram into a request.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) < 2 {
		return Request{}, ErrBadFrame
	}
	if data[0] != classSmall && data[0] != classLarge {
		return Request{}, ErrBadClass
	}
	req := Request{Kind: RequestKind(data[1])}
	r := bytes.NewReader(data[2:])

	switch req.Kind {
	case RequestPing, RequestNotifySubscribers, RequestShutdown, RequestInitialize:
		return req, nil
	case RequestSubscribe, RequestUnsubscribe:
		var ident [16]byte
		if _, err := io.ReadFull(r, ident[:]); err != nil {
			return req, fmt.Errorf("reading subscriber identifier: %w", err)
		}
		req.Subscriber.Identifier = uuid.UUID(ident)
		kinds, err := readU16(r)
		if err != nil {
			return req, fmt.Errorf("reading subscriber kinds: %w", err)
		}
		req.Subscriber.Kinds = bus.MessageType(kinds)
		if req.Subscriber.Address, err = readWireString(r); err != nil {
			return req, fmt.Errorf("reading subscriber address: %w", err)
		}
		return req, nil
	case RequestChangeRouting:
		var raw [3]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return req, fmt.Errorf("reading routing payload: %w", err)
		}
		req.RouteFrom, req.RouteTo, req.Connect = raw[0], raw[1], raw[2] != 0
		return req, nil
	case RequestChangeConfiguration:
		n, err := readU16(r)
		if err != nil {
			return req, fmt.Errorf("reading configuration length: %w", err)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return req, fmt.Errorf("reading configuration payload: %w", err)
		}
		var sc config.SystemConfiguration
		if err := json.Unmarshal(data, &sc); err != nil {
			return req, fmt.Errorf("decoding configuration payload: %w", err)
		}
		req.Configuration = &sc
		return req, nil
	case RequestControlAction:
		action, err := readAction(r)
		if err != nil {
			return req, fmt.Errorf("reading control action: %w", err)
		}
		req.Action = action
		return req, nil
	default:
		return req, fmt.Errorf("%w: request kind %d", ErrBadFrame, data[1])
	}
}

// messageClass returns the size-class byte for a message type.
func messageClass(t bus.MessageType) byte {
	if t.Small() {
		return classSmall
	}
	return classLarge
}

// EncodeMessage frames an outbound notification for the wire.
func EncodeMessage(m bus.Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(messageClass(m.Type))
	writeU16(&buf, uint16(m.Type))

	switch m.Type {
	case bus.MsgTransportData:
		writeTransport(&buf, m.Transport)
	case bus.MsgBeatData:
		writeBeat(&buf, m.Beat)
	case bus.MsgHeartbeat:
		var epoch [8]byte
		binary.BigEndian.PutUint64(epoch[:], uint64(time.Now().Unix()))
		buf.Write(epoch[:])
	case bus.MsgShutdownOccured:
		// No payload.
	case bus.MsgCueData:
		buf.WriteByte(uint8(m.CueIndex))
		if m.Cue == nil {
			return nil, errors.New("cue data message without cue")
		}
		if err := show.EncodeCue(&buf, m.Cue); err != nil {
			return nil, fmt.Errorf("encoding cue payload: %w", err)
		}
	case bus.MsgShowData:
		if m.Show == nil {
			return nil, errors.New("show data message without summary")
		}
		writeWireString(&buf, m.Show.Name)
		writeU16(&buf, uint16(m.Show.CueCount))
		for i := 0; i < m.Show.CueCount; i++ {
			writeWireString(&buf, m.Show.Idents[i])
			writeWireString(&buf, m.Show.Names[i])
		}
	case bus.MsgDriverStateChanged:
		if m.Driver == nil {
			return nil, errors.New("driver state message without state")
		}
		writeWireString(&buf, m.Driver.ClientName)
		writeWireString(&buf, m.Driver.OutputName)
		writeU32(&buf, uint32(m.Driver.SampleRate))
		writeU32(&buf, uint32(m.Driver.BufferSize))
		buf.WriteByte(uint8(m.Driver.NumSources))
		buf.WriteByte(uint8(m.Driver.NumOutputs))
		buf.WriteByte(uint8(len(m.Driver.Connections)))
		for _, conn := range m.Driver.Connections {
			buf.WriteByte(uint8(conn[0]))
			buf.WriteByte(uint8(conn[1]))
		}
	case bus.MsgNetworkChanged:
		if m.Network == nil {
			return nil, errors.New("network message without state")
		}
		buf.WriteByte(uint8(len(m.Network.Subscribers)))
		for _, sub := range m.Network.Subscribers {
			buf.Write(sub.Identifier[:])
			writeU16(&buf, uint16(sub.Kinds))
			writeWireString(&buf, sub.Address)
		}
	case bus.MsgConfigurationChanged:
		// The configuration payload lives outside the bus message; the
		// engine frames it with EncodeConfiguration instead.
		return nil, errors.New("configuration message needs EncodeConfiguration")
	case bus.MsgLog:
		if m.Log == nil {
			return nil, errors.New("log message without item")
		}
		buf.WriteByte(byte(m.Log.Level))
		buf.WriteByte(byte(m.Log.Subsystem))
		writeWireString(&buf, m.Log.Expand())
	default:
		return nil, fmt.Errorf("unencodable message type %#x", uint16(m.Type))
	}
	return buf.Bytes(), nil
}

// EncodeConfiguration frames a ConfigurationChanged notification.
func EncodeConfiguration(sc config.SystemConfiguration) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(classLarge)
	writeU16(&buf, uint16(bus.MsgConfigurationChanged))
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	writeU16(&buf, uint16(len(data)))
	buf.Write(data)
	return buf.Bytes(), nil
}

// writeAction encodes a control action as a fixed 13-byte record.
func writeAction(buf *bytes.Buffer, a bus.ControlAction) {
	buf.WriteByte(byte(a.Kind))
	writeU16(buf, a.Beat)
	buf.WriteByte(a.Cue)
	buf.WriteByte(a.Channel)
	writeU32(buf, math.Float32bits(a.Gain))
	writeBool(buf, a.Mute)
	buf.WriteByte(byte(a.JumpMode))
	writeU16(buf, a.Playrate)
}

func readAction(r io.Reader) (bus.ControlAction, error) {
	var raw [13]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return bus.ControlAction{}, err
	}
	return bus.ControlAction{
		Kind:     bus.ActionKind(raw[0]),
		Beat:     binary.BigEndian.Uint16(raw[1:3]),
		Cue:      raw[3],
		Channel:  raw[4],
		Gain:     math.Float32frombits(binary.BigEndian.Uint32(raw[5:9])),
		Mute:     raw[9] != 0,
		JumpMode: show.VLTAction(raw[10]),
		Playrate: binary.BigEndian.Uint16(raw[11:13]),
	}, nil
}

// writeTransport encodes the transport snapshot.
func writeTransport(buf *bytes.Buffer, t bus.TransportState) {
	writeBool(buf, t.Running)
	writeBool(buf, t.VLT)
	writeU16(buf, t.PlayratePercent)
	writeU16(buf, uint16(t.LTC.H))
	writeU16(buf, uint16(t.LTC.M))
	writeU16(buf, uint16(t.LTC.S))
	writeU16(buf, uint16(t.LTC.F))
	writeU16(buf, t.LTC.FrameProgress)
	writeU16(buf, t.LTC.FrameRate)
	writeU32(buf, t.USToNextBeat)
}

func writeBeat(buf *bytes.Buffer, b bus.BeatState) {
	writeU16(buf, b.BeatIdx)
	writeU16(buf, b.NextBeatIdx)
	buf.WriteByte(byte(b.RequestedVLT))
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var raw [2]byte
	binary.BigEndian.PutUint16(raw[:], v)
	buf.Write(raw[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], v)
	buf.Write(raw[:])
}

func readU16(r io.Reader) (uint16, error) {
	var raw [2]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(raw[:]), nil
}

func writeWireString(buf *bytes.Buffer, s string) {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func readWireString(r io.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
