// Package audio implements the realtime engine core: the polymorphic audio
// source pipeline (metronome, timecode generator, per-channel playback), the
// lock-free clip store feeding it, the non-realtime loader, and the
// processor invoked by the audio driver every cycle.
//
// Everything reachable from Processor.Process runs on the driver's realtime
// thread and must not allocate, block, log, or perform I/O.
package audio

import (
	"errors"
	"math"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

// ErrSourceFailed is returned from SendBuffer when a source cannot produce
// its cycle buffer; the processor converts it into a Quit result.
var ErrSourceFailed = errors.New("audio source failed")

// Context is the shared per-cycle state handed to every source call. It is
// a cheap value rebuilt by the processor each cycle.
type Context struct {
	// TimeUS is the host audio clock at frame start, microseconds, monotonic.
	TimeUS     uint64
	FrameSize  int
	SampleRate int

	Beat      bus.BeatState
	Transport bus.TransportState
	Cue       *show.Cue
}

// SamplesToNextBeat converts the transport's us_to_next_beat into samples.
// The staged division avoids overflow at 48 kHz and 96 kHz rates.
func (ctx *Context) SamplesToNextBeat() uint32 {
	return (ctx.Transport.USToNextBeat / 10) * uint32(ctx.SampleRate/100) / 1000
}

// WillCrossBeat reports whether the next beat boundary falls inside this
// cycle's frame.
func (ctx *Context) WillCrossBeat() bool {
	return ctx.SamplesToNextBeat() < uint32(ctx.FrameSize)
}

// Source is the per-cycle buffer producer contract. Implementations are
// driven exclusively by the realtime thread.
type Source interface {
	// SendBuffer returns exactly ctx.FrameSize samples for this cycle, or an
	// error. The returned slice is valid only until the next call on the
	// same source. Must not allocate.
	SendBuffer(ctx *Context) ([]float32, error)

	// Command applies a control action. Every drained action is forwarded to
	// every source so each can react to the parts it cares about.
	Command(ctx *Context, action bus.ControlAction)

	// Status snapshots the source state for the combined status.
	Status(ctx *Context) bus.SourceState

	// EventWillOccur pre-fires an event located at the next beat when that
	// boundary falls inside the current cycle, letting sources arm a few
	// samples early.
	EventWillOccur(ctx *Context, ev show.Event)

	// EventOccurred fires once the beat cursor has advanced past the event.
	EventOccurred(ctx *Context, ev show.Event)

	// RateSensitive reports whether the source tracks playrate changes.
	// When the playrate is not 100%, the processor mutes every source that
	// does not.
	RateSensitive() bool
}

// maxFrameSize bounds the shared silence buffer; drivers with larger blocks
// are not supported.
const maxFrameSize = 2048

var zeroBuf [maxFrameSize]float32

// Silence returns a shared all-zero buffer of n samples. Callers must treat
// it as read-only.
func Silence(n int) []float32 {
	if n > maxFrameSize {
		n = maxFrameSize
	}
	return zeroBuf[:n]
}

// SourceConfig wraps a source with its mix settings: a gain in dB with a
// cached linear multiplier, and a mute gate.
type SourceConfig struct {
	Name   string
	Source Source

	gainDB   float32
	gainMult float32
	muted    bool
}

// NewSourceConfig wraps src at unity gain.
func NewSourceConfig(name string, src Source) *SourceConfig {
	return &SourceConfig{Name: name, Source: src, gainMult: 1.0}
}

// SetGain sets the gain in dB and refreshes the cached multiplier.
func (sc *SourceConfig) SetGain(db float32) {
	sc.gainDB = db
	sc.gainMult = float32(math.Pow(10, float64(db)/20))
}

// SetMute sets the mute gate without touching the stored gain.
func (sc *SourceConfig) SetMute(m bool) { sc.muted = m }

// Gain returns the configured gain in dB.
func (sc *SourceConfig) Gain() float32 { return sc.gainDB }

// GainMult returns the effective linear multiplier: the cached 10^(dB/20),
// or zero while muted.
func (sc *SourceConfig) GainMult() float32 {
	if sc.muted {
		return 0
	}
	return sc.gainMult
}
