package bus

import "github.com/cuepilot/cuepilot/internal/show"

// ActionKind enumerates the transport and configuration commands the engine
// understands. The set matches the wire protocol one to one.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionTransportStart
	ActionTransportStop
	ActionTransportZero
	ActionTransportSeekBeat
	ActionTransportJumpBeat
	ActionLoadCueByIndex
	ActionLoadPreviousCue
	ActionLoadNextCue
	ActionLoadCueFromSelfIndex
	ActionDumpStatus
	ActionSetChannelGain
	ActionSetChannelMute
	ActionChangeJumpMode
	ActionChangePlayrate
)

// String names the action for logs and command traces.
func (k ActionKind) String() string {
	switch k {
	case ActionTransportStart:
		return "TransportStart"
	case ActionTransportStop:
		return "TransportStop"
	case ActionTransportZero:
		return "TransportZero"
	case ActionTransportSeekBeat:
		return "TransportSeekBeat"
	case ActionTransportJumpBeat:
		return "TransportJumpBeat"
	case ActionLoadCueByIndex:
		return "LoadCueByIndex"
	case ActionLoadPreviousCue:
		return "LoadPreviousCue"
	case ActionLoadNextCue:
		return "LoadNextCue"
	case ActionLoadCueFromSelfIndex:
		return "LoadCueFromSelfIndex"
	case ActionDumpStatus:
		return "DumpStatus"
	case ActionSetChannelGain:
		return "SetChannelGain"
	case ActionSetChannelMute:
		return "SetChannelMute"
	case ActionChangeJumpMode:
		return "ChangeJumpMode"
	case ActionChangePlayrate:
		return "ChangePlayrate"
	default:
		return "None"
	}
}

// ControlAction is one command for the realtime plane. It is a flat value so
// enqueueing and draining never allocate; only the fields relevant to Kind
// are meaningful.
type ControlAction struct {
	Kind ActionKind

	Beat     uint16         // seek / jump destination
	Cue      uint8          // LoadCueByIndex
	Channel  uint8          // gain / mute
	Gain     float32        // dB
	Mute     bool           //
	JumpMode show.VLTAction // ChangeJumpMode
	Playrate uint16         // percent
}

// Action builds an argument-free control action.
func Action(kind ActionKind) ControlAction {
	return ControlAction{Kind: kind}
}
