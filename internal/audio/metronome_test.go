package audio

import (
	"testing"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

func metronomeCtx(cue *show.Cue, timeUS uint64) *Context {
	return &Context{
		TimeUS:     timeUS,
		FrameSize:  64,
		SampleRate: 48000,
		Transport:  bus.TransportState{Running: true, PlayratePercent: 100},
		Cue:        cue,
	}
}

func TestTransportZeroResetsCursor(t *testing.T) {
	sh := fourBeatShow(1)
	m := NewMetronome(48000)
	ctx := metronomeCtx(&sh.Cues[0], 0)

	// Run a few ticks so there is state to reset.
	for i := uint64(0); i < 800_000; i += 1333 {
		ctx.TimeUS = i
		if _, err := m.SendBuffer(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if m.state.BeatIdx == 0 && m.state.NextBeatIdx == 0 {
		t.Fatal("expected the cursor to have advanced")
	}

	m.Command(ctx, bus.Action(bus.ActionTransportZero))

	if m.state.BeatIdx != 0 || m.state.NextBeatIdx != 0 {
		t.Errorf("cursor not zeroed: %+v", m.state)
	}
	if m.lastBeatTime != 0 || !m.rebase {
		t.Errorf("beat clock not reset: last=%d rebase=%v", m.lastBeatTime, m.rebase)
	}
}

func TestSeekMovesOnlyNextBeat(t *testing.T) {
	m := NewMetronome(48000)
	m.state.BeatIdx = 2
	m.state.NextBeatIdx = 3
	m.lastBeatTime = 1000
	m.rebase = false

	m.Command(nil, bus.ControlAction{Kind: bus.ActionTransportSeekBeat, Beat: 9})

	if m.state.NextBeatIdx != 9 {
		t.Errorf("next_beat_idx = %d, want 9", m.state.NextBeatIdx)
	}
	if m.state.BeatIdx != 2 || m.lastBeatTime != 1000 {
		t.Error("seek must not disturb the running beat clock")
	}
}

func TestJumpBeatRebasesClock(t *testing.T) {
	m := NewMetronome(48000)
	m.lastBeatTime = 1000
	m.rebase = false

	m.Command(nil, bus.ControlAction{Kind: bus.ActionTransportJumpBeat, Beat: 4})

	if m.state.NextBeatIdx != 4 || m.lastBeatTime != 0 || !m.rebase {
		t.Errorf("jump state wrong: %+v last=%d rebase=%v",
			m.state, m.lastBeatTime, m.rebase)
	}
}

// The downbeat click plays on count 1, the upbeat click otherwise.
func TestClickSelection(t *testing.T) {
	sh := fourBeatShow(1)
	m := NewMetronome(48000)
	ctx := metronomeCtx(&sh.Cues[0], 5000)

	buf, err := m.SendBuffer(ctx) // first tick lands on beat 0, count 1
	if err != nil {
		t.Fatal(err)
	}
	if buf[1] != m.clicks[0][1] {
		t.Error("first tick must play the downbeat click")
	}

	ctx.TimeUS += 500_000
	buf, err = m.SendBuffer(ctx) // beat 1, count 2
	if err != nil {
		t.Fatal(err)
	}
	if buf[1] != m.clicks[1][1] {
		t.Error("second tick must play the upbeat click")
	}
}

// Stopping drops the beat clock so a restart rebases on the live clock
// rather than sprinting through missed beats.
func TestStopRebasesNextStart(t *testing.T) {
	sh := fourBeatShow(1)
	m := NewMetronome(48000)
	ctx := metronomeCtx(&sh.Cues[0], 0)
	if _, err := m.SendBuffer(ctx); err != nil {
		t.Fatal(err)
	}

	m.Command(ctx, bus.Action(bus.ActionTransportStop))

	// Much later, a fresh start ticks immediately instead of replaying
	// the gap.
	ctx.TimeUS = 60_000_000
	if _, err := m.SendBuffer(ctx); err != nil {
		t.Fatal(err)
	}
	if m.lastBeatTime != 60_000_000 {
		t.Errorf("restart did not rebase: last=%d", m.lastBeatTime)
	}
}
