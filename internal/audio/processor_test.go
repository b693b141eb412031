package audio

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

const (
	testSampleRate = 48000
	testFrameSize  = 64
)

// rig drives a processor the way the audio driver would: fixed-size cycles
// against a deterministic clock.
type rig struct {
	t       *testing.T
	proc    *Processor
	bus     *bus.Bus
	showPtr atomic.Pointer[ShowBundle]
	store   *ClipStore
	out     [][]float32
	clockUS uint64
}

// newRig assembles metronome, timecode and one playback channel over the
// given show.
func newRig(t *testing.T, s *show.Show) *rig {
	t.Helper()
	r := &rig{t: t, bus: bus.New()}
	r.showPtr.Store(NewShowBundle(s))
	r.store = NewClipStore([]int{1})

	sources := []*SourceConfig{
		NewSourceConfig("metronome", NewMetronome(testSampleRate)),
		NewSourceConfig("timecode", NewTimecodeSource(25)),
		NewSourceConfig("playback_0", NewPlaybackDevice(0, r.store.Channel(0))),
	}
	r.proc = NewProcessor(sources, r.bus, &r.showPtr, testSampleRate)

	r.out = make([][]float32, len(sources))
	for i := range r.out {
		r.out[i] = make([]float32, testFrameSize)
	}
	return r
}

// boot queues the standard boot sequence: stop, load cue 0, zero.
func (r *rig) boot() {
	r.bus.Command(bus.Action(bus.ActionTransportStop))
	r.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 0})
	r.bus.Command(bus.Action(bus.ActionTransportZero))
	r.step()
}

func (r *rig) step() Result {
	res := r.proc.Process(r.clockUS, testFrameSize, r.out)
	if res == Quit {
		r.t.Fatalf("processor quit at %d µs", r.clockUS)
	}
	r.clockUS += testFrameSize * 1_000_000 / testSampleRate
	return res
}

func (r *rig) stepUntil(us uint64) {
	for r.clockUS < us {
		r.step()
	}
}

// drainMessages empties the outbound queue, returning the drained slice.
func (r *rig) drainMessages() []bus.Message {
	var out []bus.Message
	for {
		m, ok := r.bus.TryMessage()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

// fourBeatShow builds count cues of four 500 ms beats each.
func fourBeatShow(count int) *show.Show {
	s := &show.Show{Name: "test"}
	for c := 0; c < count; c++ {
		beats := make([]show.Beat, 4)
		for i := range beats {
			beats[i] = show.Beat{Count: uint8(i + 1), Bar: 1, LengthUS: 500_000}
		}
		s.Cues = append(s.Cues, show.NewCue("c", "cue", beats, nil))
	}
	return s
}

// Basic transport: start at t=0, beat 1 is reached by 600 ms, and the cue
// exhausts shortly after the last beat, stopping the transport and
// advancing to the next cue.
func TestTransportBasicRun(t *testing.T) {
	r := newRig(t, fourBeatShow(2))
	r.boot()

	r.bus.Command(bus.Action(bus.ActionTransportStart))
	r.stepUntil(600_000)

	if got := r.proc.Beat().BeatIdx; got != 1 {
		t.Errorf("at 600 ms: beat_idx = %d, want 1", got)
	}
	if !r.proc.Transport().Running {
		t.Error("transport should be running")
	}

	r.stepUntil(2_100_000)

	if r.proc.Transport().Running {
		t.Error("transport should have stopped on cue exhaustion")
	}
	if got := r.proc.CueIndex(); got != 1 {
		t.Errorf("cue index = %d, want 1 after exhaustion", got)
	}
}

// jumpShow returns one eight-beat cue with a conditional jump at beat 2.
func jumpShow() *show.Show {
	beats := make([]show.Beat, 8)
	for i := range beats {
		beats[i] = show.Beat{Count: uint8(i%4 + 1), Bar: uint16(i/4 + 1), LengthUS: 500_000}
	}
	cue := show.NewCue("j", "jump cue", beats, []show.Event{{
		Location:    2,
		Kind:        show.EventJump,
		Destination: 5,
		Requirement: show.RequireVLTOn,
		WhenJumped:  show.VLTSetOff,
		WhenPassed:  show.VLTNone,
	}})
	return &show.Show{Name: "jump", Cues: []show.Cue{cue}}
}

func TestJumpTakenWhenVLTOn(t *testing.T) {
	r := newRig(t, jumpShow())
	r.boot()

	r.bus.Command(bus.ControlAction{Kind: bus.ActionChangeJumpMode, JumpMode: show.VLTSetOn})
	r.bus.Command(bus.Action(bus.ActionTransportStart))

	// Beat 2 ticks at ~1.0 s; give the post-fire and the next compile a
	// little room.
	r.stepUntil(1_200_000)

	if got := r.proc.Beat().NextBeatIdx; got != 5 {
		t.Errorf("next_beat_idx = %d, want 5 (jump taken)", got)
	}
	if r.proc.Transport().VLT {
		t.Error("when_jumped = SetOff should have cleared VLT")
	}

	r.stepUntil(1_700_000)
	if got := r.proc.Beat().BeatIdx; got != 5 {
		t.Errorf("beat_idx = %d, want 5 after jump lands", got)
	}
}

func TestJumpPassedWhenVLTOff(t *testing.T) {
	r := newRig(t, jumpShow())
	r.boot()
	r.bus.Command(bus.Action(bus.ActionTransportStart))

	r.stepUntil(1_200_000)

	if got := r.proc.Beat().NextBeatIdx; got != 3 {
		t.Errorf("next_beat_idx = %d, want 3 (jump passed)", got)
	}
	if r.proc.Transport().VLT {
		t.Error("when_passed = None must leave VLT unchanged")
	}
}

// SetChannelGain is idempotent and the cached multiplier scales the
// produced buffer.
func TestChannelGainIdempotent(t *testing.T) {
	r := newRig(t, fourBeatShow(1))
	r.boot()

	for i := 0; i < 2; i++ {
		r.bus.Command(bus.ControlAction{
			Kind: bus.ActionSetChannelGain, Channel: 0, Gain: -6.0,
		})
	}
	r.bus.Command(bus.Action(bus.ActionTransportStart))
	r.step() // applies commands; first tick emits the downbeat click

	wantMult := float32(math.Pow(10, -6.0/20)) // ≈ 0.5012
	met := r.proc.sources[metronomeSourceIdx].Source.(*Metronome)
	for i, got := range r.out[metronomeSourceIdx] {
		want := met.clicks[0][i] * wantMult
		if diff := got - want; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("sample %d: got %g want %g", i, got, want)
		}
	}
}

// Loading a cue out of range leaves all state unchanged; in range it
// switches the cue and stops the transport.
func TestLoadCueByIndexBounds(t *testing.T) {
	r := newRig(t, fourBeatShow(2))
	r.boot()
	r.bus.Command(bus.Action(bus.ActionTransportStart))
	r.step()
	r.drainMessages()

	r.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 7})
	r.step()

	if got := r.proc.CueIndex(); got != 0 {
		t.Errorf("out-of-range load changed cue index to %d", got)
	}
	if !r.proc.Transport().Running {
		t.Error("out-of-range load must not stop the transport")
	}

	r.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 1})
	r.step()

	if got := r.proc.CueIndex(); got != 1 {
		t.Errorf("cue index = %d, want 1", got)
	}
	if r.proc.Transport().Running {
		t.Error("in-range load must stop the transport")
	}
}

// Each LoadCueByIndex produces exactly one CueData notification.
func TestLoadCueNotificationDeterministic(t *testing.T) {
	r := newRig(t, fourBeatShow(2))
	r.boot()
	r.drainMessages()

	r.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 1})
	r.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 1})
	r.step()

	var cues []bus.Message
	for _, m := range r.drainMessages() {
		if m.Type == bus.MsgCueData {
			cues = append(cues, m)
		}
	}
	if len(cues) != 2 {
		t.Fatalf("expected 2 cue notifications, got %d", len(cues))
	}
	if cues[0].CueIndex != cues[1].CueIndex || cues[0].Cue != cues[1].Cue {
		t.Error("repeated loads must carry identical payloads")
	}
}

// DumpStatus emits the full burst: transport, beat, cue and show.
func TestDumpStatusBurst(t *testing.T) {
	r := newRig(t, fourBeatShow(1))
	r.boot()
	r.drainMessages()

	r.bus.Command(bus.Action(bus.ActionDumpStatus))
	r.step()

	var mask bus.MessageType
	for _, m := range r.drainMessages() {
		mask |= m.Type
	}
	for _, want := range []bus.MessageType{
		bus.MsgTransportData, bus.MsgBeatData, bus.MsgCueData, bus.MsgShowData,
	} {
		if mask&want == 0 {
			t.Errorf("status burst missing type %#x", uint16(want))
		}
	}
}

// With an altered playrate only the metronome stays audible, and beats
// stretch by the inverse of the rate.
func TestPlayrateMutesNonMetronomeSources(t *testing.T) {
	r := newRig(t, fourBeatShow(1))
	r.boot()

	r.bus.Command(bus.ControlAction{Kind: bus.ActionChangePlayrate, Playrate: 50})
	r.bus.Command(bus.Action(bus.ActionTransportStart))
	r.step()

	// The start command armed the timecode generator; its output port must
	// still be silent while the playrate is altered.
	r.stepUntil(400_000)
	for i, v := range r.out[timecodeSourceIdx] {
		if v != 0 {
			t.Fatalf("timecode port sample %d nonzero under altered playrate: %g", i, v)
		}
	}

	// At 50% playrate a 500 ms beat lasts a second.
	r.stepUntil(600_000)
	if got := r.proc.Beat().BeatIdx; got != 0 {
		t.Errorf("beat_idx = %d at 600 ms, want 0 at half rate", got)
	}
	r.stepUntil(1_100_000)
	if got := r.proc.Beat().BeatIdx; got != 1 {
		t.Errorf("beat_idx = %d at 1.1 s, want 1 at half rate", got)
	}
}

// A source error surfaces as Quit from the cycle.
func TestSourceErrorQuits(t *testing.T) {
	r := newRig(t, fourBeatShow(1))
	r.boot()

	// Corrupt the playback device into an impossible slot index.
	dev := r.proc.sources[2].Source.(*PlaybackDevice)
	dev.active = true
	dev.currentClip = 99
	r.bus.Command(bus.Action(bus.ActionTransportStart))

	res := r.proc.Process(r.clockUS, testFrameSize, r.out)
	if res != Quit {
		t.Errorf("expected Quit on source error, got %v", res)
	}
}
