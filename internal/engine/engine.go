// Package engine assembles the playback system: the bus, the realtime
// processor and its sources, the clip loader, the audio driver and the
// network endpoints, and runs the non-realtime control loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cuepilot/cuepilot/internal/audio"
	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/driver"
	"github.com/cuepilot/cuepilot/internal/logging"
	"github.com/cuepilot/cuepilot/internal/network"
	"github.com/cuepilot/cuepilot/internal/show"
)

const (
	// showFileName is the binary show file inside the data directory.
	showFileName = "clicks.show/show.bin"
	// mediaDirName holds the per-channel playback media.
	mediaDirName = "playback_media"
	// logDirName holds the rotated log files.
	logDirName = "logs"

	// loopInterval paces the control loop between polls.
	loopInterval = 5 * time.Millisecond
	// heartbeatInterval is the liveness signal period.
	heartbeatInterval = time.Second
	// pollLimit bounds requests taken from one endpoint per loop turn.
	pollLimit = 64

	// transportRateLimit caps TransportData notifications per second on
	// the wire; the realtime plane emits one per cycle while running.
	transportRateLimit = 30
)

// Engine owns every plane of the playback system.
type Engine struct {
	cfg    *config.Config
	sysCfg config.SystemConfiguration
	logger *slog.Logger

	bus     *bus.Bus
	showPtr atomic.Pointer[audio.ShowBundle]
	loader  *audio.PlaybackHandler
	proc    *audio.Processor
	drv     driver.Driver

	endpoints []network.Endpoint
	binary    *network.BinaryEndpoint

	loadCueCh chan *show.Cue
	limiter   *rate.Limiter
}

// New builds the engine: loads the show (falling back to the example on
// any failure), prepares the clip store and sources, and binds the
// network endpoints. The driver is chosen by configuration: a portaudio
// device normally, the manual driver when running headless.
func New(cfg *config.Config, sysCfg config.SystemConfiguration, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		sysCfg:    sysCfg,
		logger:    logger.With("subsystem", "engine"),
		bus:       bus.New(),
		loadCueCh: make(chan *show.Cue, 8),
		limiter:   rate.NewLimiter(rate.Limit(transportRateLimit), transportRateLimit),
	}

	sh := e.loadShow()
	e.showPtr.Store(audio.NewShowBundle(sh))

	e.loader = audio.NewPlaybackHandler(
		filepath.Join(cfg.DataDir, mediaDirName), sysCfg.NumChannels, logger)
	e.loader.PrepareShow(sh)

	sources := []*audio.SourceConfig{
		audio.NewSourceConfig("metronome", audio.NewMetronome(sysCfg.SampleRate)),
		audio.NewSourceConfig("timecode", audio.NewTimecodeSource(uint16(sysCfg.FrameRate))),
	}
	sources = append(sources, e.loader.Sources()...)
	for i, ch := range sysCfg.Channels {
		if i >= len(sources) {
			break
		}
		sources[i].SetGain(ch.GainDB)
		sources[i].SetMute(ch.Muted)
	}

	e.proc = audio.NewProcessor(sources, e.bus, &e.showPtr, sysCfg.SampleRate)

	if cfg.Headless {
		e.drv = driver.NewManual(sysCfg.ClientName, sysCfg.SampleRate,
			sysCfg.BufferSize, len(sources), sysCfg.NumChannels)
	} else {
		drv, err := driver.NewPortAudio(sysCfg.ClientName, sysCfg.SampleRate,
			sysCfg.BufferSize, len(sources))
		if err != nil {
			return nil, fmt.Errorf("opening audio driver: %w", err)
		}
		e.drv = drv
	}

	binEP, err := network.NewBinaryEndpoint(cfg.BinaryPort, logger)
	if err != nil {
		return nil, fmt.Errorf("binding binary endpoint: %w", err)
	}
	oscEP, err := network.NewOSCEndpoint(cfg.OSCPort, logger)
	if err != nil {
		_ = binEP.Close()
		return nil, fmt.Errorf("binding osc endpoint: %w", err)
	}
	e.binary = binEP
	e.endpoints = []network.Endpoint{binEP, oscEP}

	return e, nil
}

// loadShow reads the binary show file, falling back to the built-in
// example when the file is missing or malformed.
func (e *Engine) loadShow() *show.Show {
	path := filepath.Join(e.cfg.DataDir, showFileName)
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("show file unavailable, using example show", "path", path, "error", err)
		return show.Example()
	}
	defer f.Close()

	sh, err := show.Decode(f)
	if err != nil {
		e.logger.Warn("show file malformed, using example show", "path", path, "error", err)
		return show.Example()
	}
	e.logger.Info("show loaded", "path", path, "name", sh.Name, "cues", len(sh.Cues))
	return sh
}

// Bus exposes the message fabric (tests and the command line drive it).
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Driver exposes the audio driver.
func (e *Engine) Driver() driver.Driver { return e.drv }

// Run starts the audio driver and the auxiliary goroutines, then blocks in
// the control loop until the context is cancelled or a Shutdown request
// arrives. On exit the transport is stopped, the configuration persisted
// and the driver released.
func (e *Engine) Run(ctx context.Context) error {
	sink, err := logging.Open(filepath.Join(e.cfg.DataDir, logDirName))
	if err != nil {
		return fmt.Errorf("opening log sink: %w", err)
	}
	defer sink.Close()

	if err := e.drv.Start(e.processCallback); err != nil {
		return fmt.Errorf("starting audio driver: %w", err)
	}

	// Prime the realtime plane the way the original boots: load the first
	// cue, zeroed and stopped.
	e.bus.Command(bus.Action(bus.ActionTransportStop))
	e.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 0})
	e.bus.Command(bus.Action(bus.ActionTransportZero))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		logging.Drain(groupCtx, e.bus, sink, e.logger)
		return nil
	})
	group.Go(func() error {
		e.loaderLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		e.controlLoop(groupCtx, cancel)
		return nil
	})

	err = group.Wait()

	e.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// processCallback adapts the processor to the driver contract.
func (e *Engine) processCallback(nowUS uint64, frames int, out [][]float32) bool {
	return e.proc.Process(nowUS, frames, out) == audio.Continue
}

// loaderLoop decodes cue media off the control loop so WAV reads never
// stall request handling.
func (e *Engine) loaderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cue := <-e.loadCueCh:
			e.loader.LoadCue(cue)
		}
	}
}

// controlLoop is the main thread: poll endpoints for requests, drain
// outbound messages, emit heartbeats.
func (e *Engine) controlLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	// Headless runs have no device invoking the callback; the control loop
	// paces the manual driver against the wall clock instead.
	manual, _ := e.drv.(*driver.Manual)
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			for _, ep := range e.endpoints {
				ep.Notify(bus.Message{Type: bus.MsgHeartbeat})
			}
		case <-ticker.C:
			if manual != nil {
				manual.StepUntil(uint64(time.Since(start).Microseconds()))
			}
			for _, ep := range e.endpoints {
				for _, req := range ep.Poll(pollLimit) {
					if e.handleRequest(req) {
						cancel()
						return
					}
				}
			}
			e.drainMessages()
		}
	}
}

// handleRequest applies one decoded request. It reports true when the
// request asks the engine to exit.
func (e *Engine) handleRequest(req network.Request) bool {
	switch req.Kind {
	case network.RequestPing, network.RequestSubscribe, network.RequestUnsubscribe:
		// Subscription bookkeeping happened inside the endpoint.
	case network.RequestNotifySubscribers:
		e.bus.Command(bus.Action(bus.ActionDumpStatus))
		e.publishDriverState()
	case network.RequestShutdown:
		e.logger.Info("shutdown requested")
		return true
	case network.RequestInitialize:
		sh := e.loadShow()
		e.loader.PrepareShow(sh)
		e.showPtr.Store(audio.NewShowBundle(sh))
		e.bus.Command(bus.ControlAction{Kind: bus.ActionLoadCueByIndex, Cue: 0})
	case network.RequestChangeRouting:
		if err := e.drv.Route(int(req.RouteFrom), int(req.RouteTo), req.Connect); err != nil {
			e.logger.Warn("routing change failed",
				"from", req.RouteFrom, "to", req.RouteTo, "error", err)
		} else {
			e.publishDriverState()
		}
	case network.RequestChangeConfiguration:
		if req.Configuration != nil {
			e.applyConfiguration(*req.Configuration)
		}
	case network.RequestControlAction:
		e.trackChannelSettings(req.Action)
		e.bus.Command(req.Action)
	}
	return false
}

// trackChannelSettings mirrors gain and mute commands into the persistent
// configuration so they survive restarts.
func (e *Engine) trackChannelSettings(a bus.ControlAction) {
	if int(a.Channel) >= len(e.sysCfg.Channels) {
		return
	}
	switch a.Kind {
	case bus.ActionSetChannelGain:
		e.sysCfg.Channels[a.Channel].GainDB = a.Gain
	case bus.ActionSetChannelMute:
		e.sysCfg.Channels[a.Channel].Muted = a.Mute
	}
}

// applyConfiguration adopts a pushed configuration: gains are forwarded to
// the realtime plane, the file is rewritten, and subscribers notified.
// Fields that need a restart (sample rate, device) take effect next boot.
func (e *Engine) applyConfiguration(sc config.SystemConfiguration) {
	e.sysCfg = sc
	for i, ch := range sc.Channels {
		e.bus.Command(bus.ControlAction{
			Kind: bus.ActionSetChannelGain, Channel: uint8(i), Gain: ch.GainDB,
		})
		e.bus.Command(bus.ControlAction{
			Kind: bus.ActionSetChannelMute, Channel: uint8(i), Mute: ch.Muted,
		})
	}
	if err := config.WriteSystemConfiguration(e.cfg.ConfigPath, e.sysCfg); err != nil {
		e.logger.Error("persisting configuration", "error", err)
	}
	if data, err := network.EncodeConfiguration(e.sysCfg); err == nil {
		e.binary.NotifyRaw(data, bus.MsgConfigurationChanged)
	}
}

// publishDriverState pushes a driver snapshot to subscribers.
func (e *Engine) publishDriverState() {
	st := e.drv.Status()
	msg := bus.Message{Type: bus.MsgDriverStateChanged, Driver: &bus.DriverState{
		ClientName:  st.ClientName,
		OutputName:  st.OutputName,
		SampleRate:  st.SampleRate,
		BufferSize:  st.BufferSize,
		NumSources:  st.NumSources,
		NumOutputs:  st.NumOutputs,
		Connections: st.Connections,
	}}
	for _, ep := range e.endpoints {
		ep.Notify(msg)
	}
}

// drainMessages moves outbound messages from the bus to the endpoints.
// CueData doubles as the loader trigger: a cue reaching the wire is a cue
// whose media must be resident. TransportData is rate limited; the
// realtime plane emits one per cycle while running.
func (e *Engine) drainMessages() {
	for {
		msg, ok := e.bus.TryMessage()
		if !ok {
			return
		}
		if msg.Type == bus.MsgCueData && msg.Cue != nil {
			select {
			case e.loadCueCh <- msg.Cue:
			default:
				// Backlogged loader: displace the oldest queued cue so the
				// most recent load request is the one whose media arrives.
				select {
				case <-e.loadCueCh:
				default:
				}
				select {
				case e.loadCueCh <- msg.Cue:
				default:
				}
			}
		}
		if msg.Type == bus.MsgTransportData && !e.limiter.Allow() {
			continue
		}
		for _, ep := range e.endpoints {
			ep.Notify(msg)
		}
	}
}

// shutdown stops the transport, persists the configuration and releases
// the driver. Persistence failures are logged, never fatal.
func (e *Engine) shutdown() {
	e.bus.Command(bus.Action(bus.ActionTransportStop))

	for _, ep := range e.endpoints {
		ep.Notify(bus.Message{Type: bus.MsgShutdownOccured})
		_ = ep.Close()
	}

	if err := config.WriteSystemConfiguration(e.cfg.ConfigPath, e.sysCfg); err != nil {
		e.logger.Error("persisting configuration on shutdown", "error", err)
	}

	if err := e.drv.Stop(); err != nil {
		e.logger.Error("stopping audio driver", "error", err)
	}
	e.logger.Info("engine stopped")
}
