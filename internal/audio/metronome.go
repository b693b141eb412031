package audio

import (
	"math"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

// Click waveform parameters. Two clicks are pre-rendered at init: index 0
// for downbeats (count == 1), index 1 for upbeats.
const (
	downbeatFreqHz = 2000
	upbeatFreqHz   = 1000
	clickMS        = 4
	clickAmplitude = 0.1
	clickBufLen    = 96000
)

// Metronome schedules beat ticks against the audio clock and emits click
// tones on beat boundaries. It owns the beat cursor: the processor adopts
// its BeatState as the transport's beat position each cycle.
type Metronome struct {
	clicks       [2][]float32
	lastBeatTime uint64
	// rebase marks that the next tick should fire immediately and rebase
	// the beat clock on the live audio clock (initial start, stop, jump).
	rebase bool
	state  bus.BeatState
}

// NewMetronome pre-renders the click waveforms for the given sample rate.
func NewMetronome(sampleRate int) *Metronome {
	m := &Metronome{rebase: true}
	for i, freq := range []int{downbeatFreqHz, upbeatFreqHz} {
		buf := make([]float32, clickBufLen)
		n := clickMS * sampleRate / 1000
		for s := 0; s < n && s < len(buf); s++ {
			buf[s] = float32(math.Sin(float64(s)*math.Pi*float64(freq)/
				(float64(sampleRate)/2))) * clickAmplitude
		}
		m.clicks[i] = buf
	}
	return m
}

// scheduledTime returns the audio-clock time of the next beat boundary, or
// math.MaxUint64 when the current beat does not exist.
func (m *Metronome) scheduledTime(ctx *Context) uint64 {
	if m.rebase {
		return 0
	}
	beat, ok := ctx.Cue.Beat(m.state.BeatIdx)
	if !ok {
		return math.MaxUint64
	}
	rate := uint64(ctx.Transport.PlayratePercent)
	if rate == 0 {
		rate = 100
	}
	return m.lastBeatTime + uint64(beat.LengthUS)*100/rate
}

// SendBuffer advances the beat cursor when its scheduled time has arrived
// and emits one cycle of the click waveform on the advancing cycle.
func (m *Metronome) SendBuffer(ctx *Context) ([]float32, error) {
	if !ctx.Transport.Running {
		return Silence(ctx.FrameSize), nil
	}

	scheduled := m.scheduledTime(ctx)
	if ctx.TimeUS < scheduled {
		return Silence(ctx.FrameSize), nil
	}

	m.state.BeatIdx = m.state.NextBeatIdx
	m.state.NextBeatIdx++
	if m.rebase {
		// First tick after a start or jump: rebase on the live clock.
		m.lastBeatTime = ctx.TimeUS
		m.rebase = false
	} else {
		m.lastBeatTime = scheduled
	}

	beat, ok := ctx.Cue.Beat(m.state.BeatIdx)
	if !ok {
		// Ran past the cue end; the processor notices and advances the cue.
		return Silence(ctx.FrameSize), nil
	}
	click := m.clicks[1]
	if beat.Count == 1 {
		click = m.clicks[0]
	}
	return click[:ctx.FrameSize], nil
}

// Command applies transport commands to the beat cursor.
func (m *Metronome) Command(_ *Context, action bus.ControlAction) {
	switch action.Kind {
	case bus.ActionTransportZero:
		m.state.BeatIdx = 0
		m.state.NextBeatIdx = 0
		m.lastBeatTime = 0
		m.rebase = true
	case bus.ActionTransportStop:
		// Dropping the base time makes the next start rebase on the clock.
		m.lastBeatTime = 0
		m.rebase = true
	case bus.ActionTransportSeekBeat:
		m.state.NextBeatIdx = action.Beat
	case bus.ActionTransportJumpBeat:
		m.state.NextBeatIdx = action.Beat
		m.lastBeatTime = 0
		m.rebase = true
	}
}

// Status reports the beat cursor and the microseconds until the next beat.
// The requested VLT action is consumed by this read: the processor applies
// it exactly once.
func (m *Metronome) Status(ctx *Context) bus.SourceState {
	scheduled := m.scheduledTime(ctx)
	var usToNext uint32
	if scheduled > ctx.TimeUS && scheduled < math.MaxUint64/2 {
		usToNext = uint32(scheduled - ctx.TimeUS)
	}
	st := bus.SourceState{Kind: bus.SourceStateBeat, Beat: m.state, USToNextBeat: usToNext}
	m.state.RequestedVLT = show.VLTNone
	return st
}

// EventWillOccur is a no-op; the metronome reacts only after the boundary.
func (m *Metronome) EventWillOccur(_ *Context, _ show.Event) {}

// EventOccurred evaluates jump events against the VLT flag once their beat
// has passed.
func (m *Metronome) EventOccurred(ctx *Context, ev show.Event) {
	if ev.Kind != show.EventJump {
		return
	}
	if ev.Requirement.Met(ctx.Transport.VLT) {
		m.state.NextBeatIdx = ev.Destination
		m.state.RequestedVLT = ev.WhenJumped
	} else {
		m.state.RequestedVLT = ev.WhenPassed
	}
}

// RateSensitive is true: the metronome is the one source that follows
// playrate changes.
func (m *Metronome) RateSensitive() bool { return true }
