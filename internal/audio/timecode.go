package audio

import (
	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/ltc"
	"github.com/cuepilot/cuepilot/internal/show"
)

// ringLen holds two LTC frames at the highest supported rate (96 kHz / 24
// fps = 4000 samples per frame).
const ringLen = 8192

// stopTimecodeHours is the sentinel: a TimecodeSet whose hour field exceeds
// this disables the generator.
const stopTimecodeHours = 24

// TimecodeSource renders SMPTE linear timecode as audio, tied to the
// transport clock. It keeps a two-frame ring buffer: the current frame in
// the first half, the next in the second, and plays out from the sub-frame
// offset given by the instant's frame progress.
type TimecodeSource struct {
	active    bool
	frameRate uint16
	flags     ltc.FrameFlags
	volume    float32
	userBits  uint32

	ring  [ringLen]float32
	prime bool

	time ltc.Instant
}

// NewTimecodeSource builds a generator at the given SMPTE frame rate.
func NewTimecodeSource(frameRate uint16) *TimecodeSource {
	return &TimecodeSource{
		frameRate: frameRate,
		volume:    1.0,
		prime:     true,
		time:      ltc.NewInstant(frameRate),
	}
}

func (t *TimecodeSource) samplesPerFrame(sampleRate int) int {
	return sampleRate / int(t.frameRate)
}

// renderInto renders the frame word for the instant into ring[off:off+spf].
func (t *TimecodeSource) renderInto(off, spf int) {
	word := ltc.Frame(t.time, t.flags, t.userBits)
	ltc.Render(t.ring[off:off+spf], word, spf/ltc.BitsPerFrame, t.volume)
}

// SendBuffer advances the timecode by this cycle's duration and returns the
// matching slice of the frame ring.
func (t *TimecodeSource) SendBuffer(ctx *Context) ([]float32, error) {
	last := t.time

	if t.active && ctx.Transport.Running {
		t.time.AddProgress(uint32(ctx.FrameSize) * uint32(t.frameRate) *
			65536 / uint32(ctx.SampleRate))
	}

	if !ctx.Transport.Running || !t.active {
		return Silence(ctx.FrameSize), nil
	}

	spf := t.samplesPerFrame(ctx.SampleRate)

	if t.prime {
		// Fresh position: render both halves of the ring.
		t.renderInto(0, spf)
		t.renderInto(spf, spf)
		t.prime = false
	} else if !last.SameFrame(t.time) {
		// Wrapped into a new frame: shift the ring left one frame and
		// render the new next frame into the second half.
		copy(t.ring[:spf], t.ring[spf:2*spf])
		t.renderInto(spf, spf)
	}

	sub := int(uint64(t.time.FrameProgress) * uint64(spf) / 65536)
	return t.ring[sub : sub+ctx.FrameSize], nil
}

// Command handles transport commands: zero resets the instant (adopting a
// beat-0 TimecodeSet when present), jump and seek recompute the instant by
// walking the cue's events.
func (t *TimecodeSource) Command(ctx *Context, action bus.ControlAction) {
	switch action.Kind {
	case bus.ActionTransportZero:
		t.time = ltc.NewInstant(t.frameRate)
		t.prime = true
		for _, ev := range ctx.Cue.EventsAt(0) {
			if ev.Kind == show.EventTimecodeSet {
				t.setInstant(ev.Time)
			}
		}
	case bus.ActionTransportStop:
		t.active = false
	case bus.ActionTransportStart:
		t.active = true
	case bus.ActionTransportJumpBeat:
		t.time = t.timeAtBeat(ctx.Cue, action.Beat)
		t.prime = true
	case bus.ActionTransportSeekBeat:
		t.time = t.timeAtBeat(ctx.Cue, action.Beat)
		t.time.SubUS(uint64(ctx.Transport.USToNextBeat))
		t.prime = true
	}
}

// setInstant adopts a TimecodeSet instant, honoring the stop sentinel.
func (t *TimecodeSource) setInstant(in ltc.Instant) {
	if in.H > stopTimecodeHours {
		t.active = false
		return
	}
	t.active = true
	t.time = ltc.Instant{
		H: in.H, M: in.M, S: in.S, F: in.F,
		FrameRate: t.frameRate,
	}
	t.prime = true
}

// timeAtBeat walks the cue's events up to beat, tracking the last
// TimecodeSet and the elapsed microseconds since it.
func (t *TimecodeSource) timeAtBeat(cue *show.Cue, beat uint16) ltc.Instant {
	time := ltc.NewInstant(t.frameRate)
	var offUS uint64
	for i := uint16(0); i < beat; i++ {
		for _, ev := range cue.EventsAt(i) {
			if ev.Kind == show.EventTimecodeSet {
				time.SetTime(ev.Time.H, ev.Time.M, ev.Time.S, ev.Time.F)
				offUS = 0
			}
		}
		b, ok := cue.Beat(i)
		if !ok {
			break
		}
		offUS += uint64(b.LengthUS)
	}
	time.AddUS(offUS)
	return time
}

// Status reports the current instant.
func (t *TimecodeSource) Status(_ *Context) bus.SourceState {
	return bus.SourceState{Kind: bus.SourceStateTime, Time: t.time}
}

// EventWillOccur adopts a TimecodeSet one cycle early, so the new frame
// starts clean at progress zero instead of changing mid-frame. This starts
// the frame up to one cycle early, well under the one-frame accuracy of LTC.
func (t *TimecodeSource) EventWillOccur(_ *Context, ev show.Event) {
	if ev.Kind != show.EventTimecodeSet {
		return
	}
	t.setInstant(ev.Time)
}

// EventOccurred is a no-op; the set was already adopted on pre-fire.
func (t *TimecodeSource) EventOccurred(_ *Context, _ show.Event) {}

// RateSensitive is false: timecode runs at wall rate and is muted while the
// playrate is altered.
func (t *TimecodeSource) RateSensitive() bool { return false }
