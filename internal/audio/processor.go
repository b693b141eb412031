package audio

import (
	"math"
	"sync/atomic"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/show"
)

// Result is the outcome of one realtime cycle.
type Result uint8

const (
	// Continue keeps the audio driver running.
	Continue Result = iota
	// Quit tells the driver to stop; a source failed irrecoverably.
	Quit
)

// Source layout: the metronome is always source 0 and the timecode
// generator source 1; playback channels follow.
const (
	metronomeSourceIdx = 0
	timecodeSourceIdx  = 1
)

// commandDrainLimit bounds per-cycle command work so a flooded queue cannot
// blow the realtime budget.
const commandDrainLimit = 64

// beatIdxSentinel guards the cue-exhaustion check against a beat index that
// wrapped below zero on a just-loaded cue.
const beatIdxSentinel = math.MaxUint16 / 2

// ShowBundle pairs a show with its precomputed notification summary so the
// realtime thread never has to build one.
type ShowBundle struct {
	Show    *show.Show
	Summary *show.Summary
}

// NewShowBundle precomputes the summary for a show.
func NewShowBundle(s *show.Show) *ShowBundle {
	sum := s.Lightweight()
	return &ShowBundle{Show: s, Summary: &sum}
}

// Processor is the realtime orchestrator: the audio driver invokes Process
// once per block on its realtime thread. Everything it touches is owned by
// that thread; the only shared edges are the bus queues and the published
// show pointer.
type Processor struct {
	sources []*SourceConfig
	bus     *bus.Bus

	// showPtr is published by the loader; the processor re-loads it at the
	// top of every cycle.
	showPtr *atomic.Pointer[ShowBundle]

	show   *ShowBundle
	cueIdx int

	transport bus.TransportState
	beat      bus.BeatState
	ctx       Context

	sampleRate    int
	statusChanged bool

	// preFiredBeat remembers which next-beat index already had its events
	// pre-fired, so a boundary spanning two cycles fires exactly once.
	preFiredBeat int
}

// NewProcessor assembles the realtime core over its sources. The sources
// slice must have the metronome at index 0 and the timecode source at
// index 1.
func NewProcessor(sources []*SourceConfig, b *bus.Bus, showPtr *atomic.Pointer[ShowBundle], sampleRate int) *Processor {
	return &Processor{
		sources:      sources,
		bus:          b,
		showPtr:      showPtr,
		transport:    bus.DefaultTransport(),
		sampleRate:   sampleRate,
		preFiredBeat: -1,
	}
}

// Transport returns the current transport state. Realtime thread only;
// tests drive it between cycles.
func (p *Processor) Transport() bus.TransportState { return p.transport }

// Beat returns the current beat cursor. Realtime thread only.
func (p *Processor) Beat() bus.BeatState { return p.beat }

// CueIndex returns the loaded cue's index. Realtime thread only.
func (p *Processor) CueIndex() int { return p.cueIdx }

// refreshShow adopts the latest published show and resolves the current
// cue pointer.
func (p *Processor) refreshShow() {
	sh := p.showPtr.Load()
	if sh != p.show {
		p.show = sh
		p.cueIdx = 0
	}
	if p.cueIdx >= len(p.show.Show.Cues) {
		p.cueIdx = 0
	}
}

func (p *Processor) currentCue() *show.Cue {
	if cue, ok := p.show.Show.Cue(p.cueIdx); ok {
		return cue
	}
	return &emptyCue
}

var emptyCue show.Cue

// updateContext rebuilds the per-cycle source context.
func (p *Processor) updateContext(nowUS uint64, frameSize int) {
	p.ctx = Context{
		TimeUS:     nowUS,
		FrameSize:  frameSize,
		SampleRate: p.sampleRate,
		Beat:       p.beat,
		Transport:  p.transport,
		Cue:        p.currentCue(),
	}
}

// Process runs one realtime cycle: drain commands, compile status, handle
// cue exhaustion, pre-fire upcoming events, produce audio into out (one
// buffer per source), post-fire passed events, and emit the transport
// notification.
func (p *Processor) Process(nowUS uint64, frameSize int, out [][]float32) Result {
	p.refreshShow()
	p.updateContext(nowUS, frameSize)

	for i := 0; i < commandDrainLimit; i++ {
		action, ok := p.bus.TryCommand()
		if !ok {
			break
		}
		p.handleCommand(action)
	}
	p.updateContext(nowUS, frameSize)

	p.compileStatuses()

	// Cue exhaustion: the beat cursor ran past the cue's last beat. Stop
	// and advance via loopback commands, applied on the next drain.
	if _, ok := p.ctx.Cue.Beat(p.beat.BeatIdx); !ok &&
		p.transport.Running && p.beat.BeatIdx < beatIdxSentinel {
		p.transport.Running = false
		p.bus.Command(bus.Action(bus.ActionTransportStop))
		p.bus.Command(bus.Action(bus.ActionLoadNextCue))
		p.bus.Command(bus.Action(bus.ActionTransportZero))
		p.bus.Log(bus.LogItem{
			Subsystem: bus.LogProcessor, Level: bus.LevelInfo,
			Code: bus.CodeCueExhausted, Arg1: int64(p.cueIdx),
		})
	}

	p.updateContext(nowUS, frameSize)

	// Pre-fire: events on the beat boundary that falls inside this frame.
	// The advancing cycle sees the same boundary again; the guard keeps
	// each beat's events from firing twice.
	if p.transport.Running && p.ctx.WillCrossBeat() &&
		p.preFiredBeat != int(p.beat.NextBeatIdx) {
		for _, ev := range p.ctx.Cue.EventsAt(p.beat.NextBeatIdx) {
			for _, sc := range p.sources {
				sc.Source.EventWillOccur(&p.ctx, ev)
			}
		}
		p.preFiredBeat = int(p.beat.NextBeatIdx)
	}

	beatBefore := p.beat.BeatIdx

	for i, sc := range p.sources {
		buf, err := sc.Source.SendBuffer(&p.ctx)
		if err != nil {
			p.bus.Log(bus.LogItem{
				Subsystem: bus.LogProcessor, Level: bus.LevelError,
				Code: bus.CodeSourceError, Arg1: int64(i),
			})
			return Quit
		}
		gain := sc.GainMult()
		if p.transport.PlayratePercent != 100 && !sc.Source.RateSensitive() {
			// Altered playrate is a rehearsal aid; only rate-following
			// sources stay audible.
			gain = 0
		}
		if i < len(out) {
			port := out[i]
			copy(port, buf)
			for s := range port {
				port[s] *= gain
			}
		}
	}

	// Post-fire: the metronome may have advanced the beat during
	// production.
	st := p.sources[metronomeSourceIdx].Source.Status(&p.ctx)
	if st.Beat.BeatIdx != beatBefore {
		p.beat.BeatIdx = st.Beat.BeatIdx
		p.beat.NextBeatIdx = st.Beat.NextBeatIdx
		for _, ev := range p.ctx.Cue.EventsAt(p.beat.BeatIdx) {
			for _, sc := range p.sources {
				sc.Source.EventOccurred(&p.ctx, ev)
			}
		}
		p.bus.Notify(bus.BeatData(p.beat))
	}

	if p.transport.Running || p.statusChanged {
		p.bus.Notify(bus.TransportData(p.transport))
		p.statusChanged = false
	}
	return Continue
}

// compileStatuses pulls each source's status and folds it into the
// transport: the metronome contributes the beat cursor and next-beat
// distance plus any requested VLT action, the timecode source contributes
// the running instant.
func (p *Processor) compileStatuses() {
	for i, sc := range p.sources {
		st := sc.Source.Status(&p.ctx)
		switch i {
		case metronomeSourceIdx:
			p.beat = st.Beat
			p.transport.USToNextBeat = st.USToNextBeat
			p.transport.VLT = st.Beat.RequestedVLT.Apply(p.transport.VLT)
		case timecodeSourceIdx:
			p.transport.LTC = st.Time
		}
	}
}

// handleCommand applies one control action to the processor state, then
// forwards it to every source for their own handling.
func (p *Processor) handleCommand(action bus.ControlAction) {
	p.bus.Log(bus.LogItem{
		Subsystem: bus.LogProcessor, Level: bus.LevelDebug,
		Code: bus.CodeCommand, Arg1: int64(action.Kind),
	})

	switch action.Kind {
	case bus.ActionTransportStart:
		p.transport.Running = true
		p.statusChanged = true
	case bus.ActionTransportStop:
		p.transport.Running = false
		p.statusChanged = true
	case bus.ActionTransportZero, bus.ActionTransportSeekBeat, bus.ActionTransportJumpBeat:
		p.statusChanged = true
		p.preFiredBeat = -1
	case bus.ActionLoadCueByIndex:
		p.loadCueByIndex(int(action.Cue))
	case bus.ActionLoadNextCue:
		if p.cueIdx+1 < len(p.show.Show.Cues) {
			p.loadCueByIndex(p.cueIdx + 1)
		}
	case bus.ActionLoadPreviousCue:
		if p.cueIdx > 0 {
			p.loadCueByIndex(p.cueIdx - 1)
		}
	case bus.ActionLoadCueFromSelfIndex:
		p.loadCueByIndex(p.cueIdx)
	case bus.ActionDumpStatus:
		p.sendAllStatus()
	case bus.ActionSetChannelGain:
		if int(action.Channel) < len(p.sources) {
			p.sources[action.Channel].SetGain(action.Gain)
			p.statusChanged = true
		}
	case bus.ActionSetChannelMute:
		if int(action.Channel) < len(p.sources) {
			p.sources[action.Channel].SetMute(action.Mute)
			p.statusChanged = true
		}
	case bus.ActionChangeJumpMode:
		p.transport.VLT = action.JumpMode.Apply(p.transport.VLT)
		p.statusChanged = true
	case bus.ActionChangePlayrate:
		if action.Playrate > 0 {
			p.transport.PlayratePercent = action.Playrate
			p.statusChanged = true
		}
	}

	for _, sc := range p.sources {
		sc.Source.Command(&p.ctx, action)
	}
}

// loadCueByIndex switches the current cue, stops the transport and zeroes
// the beat cursor via loopback, and announces the cue.
func (p *Processor) loadCueByIndex(idx int) {
	if idx < 0 || idx >= len(p.show.Show.Cues) {
		return
	}
	p.cueIdx = idx
	p.transport.Running = false
	p.statusChanged = true
	p.bus.Command(bus.Action(bus.ActionTransportStop))
	p.bus.Command(bus.Action(bus.ActionTransportZero))
	p.bus.Notify(bus.CueData(p.cueIdx, p.currentCue()))
}

// sendAllStatus emits the full status burst: transport, beat, cue and show.
func (p *Processor) sendAllStatus() {
	p.bus.Notify(bus.TransportData(p.transport))
	p.bus.Notify(bus.BeatData(p.beat))
	p.bus.Notify(bus.CueData(p.cueIdx, p.currentCue()))
	p.bus.Notify(bus.ShowData(p.show.Summary))
}
