package audio

import (
	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

// PlaybackDevice plays decoded clips for one channel, sample-accurately
// aligned on beat boundaries. Arming happens on pre-fire: when the
// processor sees that the next beat boundary falls inside the current
// cycle, PlaybackStart events at that beat are delivered early so the first
// clip sample lands exactly on the downbeat.
type PlaybackDevice struct {
	channel uint8
	slots   []*ClipSlot

	active        bool
	currentClip   int
	currentSample int32

	lastUSToNext uint32
}

// NewPlaybackDevice builds the device for a channel over its clip slots.
func NewPlaybackDevice(channel uint8, slots []*ClipSlot) *PlaybackDevice {
	return &PlaybackDevice{channel: channel, slots: slots}
}

// SendBuffer emits the armed clip, pre-roll silence while the play head is
// negative, and silence otherwise.
func (d *PlaybackDevice) SendBuffer(ctx *Context) ([]float32, error) {
	d.lastUSToNext = ctx.Transport.USToNextBeat
	n := ctx.FrameSize

	if !ctx.Transport.Running || !d.active {
		return Silence(n), nil
	}
	if d.currentClip < 0 || d.currentClip >= len(d.slots) {
		d.active = false
		return Silence(n), ErrSourceFailed
	}

	clip := d.slots[d.currentClip].load()

	if d.currentSample <= -int32(n) {
		// Entirely inside the pre-roll.
		d.currentSample += int32(n)
		return Silence(n), nil
	}

	if int(d.currentSample)+n > len(clip.pcm) {
		// Clip exhausted; the tail cycle is silent.
		d.active = false
		return Silence(n), nil
	}

	if d.currentSample < 0 {
		// Boundary cycle: leading silence, then the clip head, so sample
		// zero of the clip lands on the beat sample.
		lead := int(-d.currentSample)
		buf := scratch(n)
		copy(buf[:lead], Silence(lead))
		copy(buf[lead:], clip.pcm[:n-lead])
		d.currentSample += int32(n)
		return buf, nil
	}

	start := int(d.currentSample)
	d.currentSample += int32(n)
	return clip.pcm[start : start+n], nil
}

// scratchBuf backs the partial-frame path of every playback device; the
// processor copies the returned slice before the next source runs, so
// sharing one buffer is safe on the single realtime thread.
var scratchBuf [maxFrameSize]float32

func scratch(n int) []float32 {
	return scratchBuf[:n]
}

// Command handles transport commands; jump and seek rebuild the play state
// by replaying the cue's playback events up to the target beat.
func (d *PlaybackDevice) Command(ctx *Context, action bus.ControlAction) {
	switch action.Kind {
	case bus.ActionTransportStop, bus.ActionTransportZero:
		d.active = false
	case bus.ActionTransportJumpBeat:
		d.currentClip, d.active, d.currentSample = d.stateAtBeat(ctx, action.Beat)
	case bus.ActionTransportSeekBeat:
		d.currentClip, d.active, d.currentSample = d.stateAtBeat(ctx, action.Beat)
		d.currentSample -= int32(uint64(d.lastUSToNext) * uint64(ctx.SampleRate) / 1_000_000)
	}
}

// stateAtBeat replays PlaybackStart/Stop events on this channel up to (not
// including) beat, accumulating elapsed time since the last start to place
// the play head. Non-realtime helper: only invoked from command handling.
func (d *PlaybackDevice) stateAtBeat(ctx *Context, beat uint16) (clip int, active bool, sample int32) {
	var offUS uint64
	for i := uint16(0); i < beat; i++ {
		for _, ev := range ctx.Cue.EventsAt(i) {
			switch ev.Kind {
			case show.EventPlaybackStart:
				if ev.Channel == d.channel {
					active = true
					sample = ev.Sample
					clip = d.slotFor(int(ev.Clip))
					offUS = 0
				}
			case show.EventPlaybackStop:
				if ev.Channel == d.channel {
					active = false
				}
			}
		}
		b, ok := ctx.Cue.Beat(i)
		if !ok {
			break
		}
		offUS += uint64(b.LengthUS)
	}
	sample += int32(offUS * uint64(ctx.SampleRate) / 1_000_000)
	return clip, active, sample
}

// slotFor returns the slot index currently publishing the external clip
// index, or 0 when absent.
func (d *PlaybackDevice) slotFor(clipIdx int) int {
	for i, s := range d.slots {
		if s.Index() == clipIdx {
			return i
		}
	}
	return 0
}

// Status reports the play head.
func (d *PlaybackDevice) Status(_ *Context) bus.SourceState {
	return bus.SourceState{
		Kind:          bus.SourceStatePlayback,
		CurrentClip:   int32(d.currentClip),
		CurrentSample: d.currentSample,
		Playing:       d.active,
	}
}

// EventWillOccur arms or disarms the device when a playback event on its
// channel is about to land on the next beat boundary.
func (d *PlaybackDevice) EventWillOccur(_ *Context, ev show.Event) {
	switch ev.Kind {
	case show.EventPlaybackStart:
		if ev.Channel != d.channel {
			return
		}
		d.active = true
		d.currentSample = ev.Sample
		for i, s := range d.slots {
			if s.Index() == int(ev.Clip) {
				d.currentClip = i
			} else {
				// A slot still holding another clip means the cue's media
				// is not fully published; arming would read the wrong PCM.
				d.active = false
			}
		}
	case show.EventPlaybackStop:
		if ev.Channel == d.channel {
			d.active = false
		}
	}
}

// EventOccurred is a no-op; arming happened on pre-fire.
func (d *PlaybackDevice) EventOccurred(_ *Context, _ show.Event) {}

// RateSensitive is false: clip playback does not follow playrate changes
// and is muted while the playrate is altered.
func (d *PlaybackDevice) RateSensitive() bool { return false }
