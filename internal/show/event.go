package show

import "github.com/cuepilot/cuepilot/internal/ltc"

// EventKind discriminates the event descriptions a beat can carry.
type EventKind uint8

const (
	EventNone EventKind = iota
	// EventPlaybackStart arms clip playback on a channel.
	EventPlaybackStart
	// EventPlaybackStop disarms playback on a channel.
	EventPlaybackStop
	// EventTimecodeSet replaces the running timecode with Time.
	EventTimecodeSet
	// EventJump conditionally redirects the next beat index.
	EventJump
)

// VLTAction is an operation applied to the variable-length-transport flag.
type VLTAction uint8

const (
	VLTNone VLTAction = iota
	VLTToggle
	VLTSetOn
	VLTSetOff
)

// Apply returns the VLT flag after performing the action on v.
func (a VLTAction) Apply(v bool) bool {
	switch a {
	case VLTToggle:
		return !v
	case VLTSetOn:
		return true
	case VLTSetOff:
		return false
	default:
		return v
	}
}

// JumpRequirement gates a jump event against the VLT flag.
type JumpRequirement uint8

const (
	RequireNone JumpRequirement = iota
	RequireVLTOn
	RequireVLTOff
)

// Met reports whether the requirement holds for the given VLT flag.
func (r JumpRequirement) Met(vlt bool) bool {
	switch r {
	case RequireVLTOn:
		return vlt
	case RequireVLTOff:
		return !vlt
	default:
		return true
	}
}

// Event is a beat-addressed instruction. It is a flat value so the realtime
// path can pass events around without allocating; only the fields relevant
// to Kind are meaningful.
type Event struct {
	Location uint16
	Kind     EventKind

	// PlaybackStart / PlaybackStop
	Channel uint8
	Clip    uint8
	Sample  int32

	// TimecodeSet
	Time ltc.Instant

	// Jump
	Destination uint16
	Requirement JumpRequirement
	WhenJumped  VLTAction
	WhenPassed  VLTAction
}
