// Package bus defines the engine message fabric: the control actions,
// outbound messages and log items that travel between the control plane, the
// realtime audio plane and the notification plane, plus the lock-free queues
// that carry them.
package bus

import (
	"github.com/cuepilot/cuepilot/internal/ltc"
	"github.com/cuepilot/cuepilot/internal/show"
)

// TransportState is the run state of the transport, owned by the realtime
// thread and shipped out by value.
type TransportState struct {
	Running         bool
	VLT             bool
	PlayratePercent uint16
	LTC             ltc.Instant
	USToNextBeat    uint32
}

// DefaultTransport is the boot transport state: stopped, VLT off, playrate
// 100%.
func DefaultTransport() TransportState {
	return TransportState{PlayratePercent: 100, LTC: ltc.NewInstant(ltc.Rate25)}
}

// BeatState is the beat cursor of the metronome.
type BeatState struct {
	BeatIdx      uint16
	NextBeatIdx  uint16
	RequestedVLT show.VLTAction
}

// SourceStateKind discriminates per-source status snapshots.
type SourceStateKind uint8

const (
	SourceStateNone SourceStateKind = iota
	SourceStateBeat
	SourceStateTime
	SourceStatePlayback
)

// SourceState is a fixed-size status snapshot from one audio source.
type SourceState struct {
	Kind SourceStateKind

	// Beat status.
	Beat         BeatState
	USToNextBeat uint32

	// Time status.
	Time ltc.Instant

	// Playback status.
	CurrentClip   int32
	CurrentSample int32
	Playing       bool
}

// DriverState is a snapshot of the audio driver published as
// DriverStateChanged.
type DriverState struct {
	ClientName  string
	OutputName  string
	SampleRate  int
	BufferSize  int
	NumSources  int
	NumOutputs  int
	Connections [][2]int
}
