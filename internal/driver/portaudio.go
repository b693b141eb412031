package driver

import (
	"fmt"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudio adapts a portaudio output stream to the Driver contract. Engine
// sources are mixed onto device channels through the connection matrix, so
// routing works like patching ports on a patch bay even though the device
// exposes a single interleaved stream.
type PortAudio struct {
	clientName string
	sampleRate int
	bufferSize int
	numSources int

	// routes is swapped wholesale so the audio callback can read it
	// without locking.
	routes   atomic.Pointer[[][2]int]
	stream   *portaudio.Stream
	cb       ProcessFunc
	scratch  [][]float32
	deviceCh int
	clockUS  uint64
	quit     bool
}

// NewPortAudio initializes portaudio and prepares a stream on the default
// output device.
func NewPortAudio(clientName string, sampleRate, bufferSize, numSources int) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("resolving output device: %w", err)
	}
	d := &PortAudio{
		clientName: clientName,
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		numSources: numSources,
		deviceCh:   dev.MaxOutputChannels,
	}
	d.scratch = make([][]float32, numSources)
	for i := range d.scratch {
		d.scratch[i] = make([]float32, bufferSize)
	}
	// Default patch: source i to device channel i.
	var routes [][2]int
	for i := 0; i < numSources && i < d.deviceCh; i++ {
		routes = append(routes, [2]int{i, i})
	}
	d.routes.Store(&routes)
	return d, nil
}

// Start opens the stream and begins invoking the engine callback per block.
func (d *PortAudio) Start(cb ProcessFunc) error {
	d.cb = cb
	stream, err := portaudio.OpenDefaultStream(
		0, d.deviceCh, float64(d.sampleRate), d.bufferSize, d.process)
	if err != nil {
		return fmt.Errorf("opening portaudio stream: %w", err)
	}
	d.stream = stream
	if err := stream.Start(); err != nil {
		return fmt.Errorf("starting portaudio stream: %w", err)
	}
	return nil
}

// process is the portaudio callback: run the engine cycle into per-source
// scratch buffers, then mix them onto the interleaved device buffer
// following the connection matrix.
func (d *PortAudio) process(out []float32) {
	frames := len(out) / d.deviceCh
	if d.quit || d.cb == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}
	if !d.cb(d.clockUS, frames, d.scratch) {
		d.quit = true
	}
	d.clockUS += d.FramesToUS(frames)

	for i := range out {
		out[i] = 0
	}
	for _, conn := range *d.routes.Load() {
		src, ch := conn[0], conn[1]
		if src >= d.numSources || ch >= d.deviceCh {
			continue
		}
		buf := d.scratch[src]
		for f := 0; f < frames && f < len(buf); f++ {
			out[f*d.deviceCh+ch] += buf[f]
		}
	}
}

// Stop closes the stream and tears portaudio down.
func (d *PortAudio) Stop() error {
	if d.stream != nil {
		if err := d.stream.Stop(); err != nil {
			_ = d.stream.Close()
			_ = portaudio.Terminate()
			return fmt.Errorf("stopping portaudio stream: %w", err)
		}
		if err := d.stream.Close(); err != nil {
			_ = portaudio.Terminate()
			return fmt.Errorf("closing portaudio stream: %w", err)
		}
		d.stream = nil
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("terminating portaudio: %w", err)
	}
	return nil
}

func (d *PortAudio) SampleRate() int { return d.sampleRate }
func (d *PortAudio) BufferSize() int { return d.bufferSize }
func (d *PortAudio) NowUS() uint64   { return d.clockUS }

func (d *PortAudio) FramesToUS(frames int) uint64 {
	return uint64(frames) * 1_000_000 / uint64(d.sampleRate)
}

// Route patches an engine source onto a device channel. The matrix is
// replaced wholesale and published atomically, so the audio callback sees
// either the old patch or the new one, never a half-edit.
func (d *PortAudio) Route(from, to int, connect bool) error {
	if from < 0 || from >= d.numSources || to < 0 || to >= d.deviceCh {
		return fmt.Errorf("route %d -> %d out of range", from, to)
	}
	old := *d.routes.Load()
	next := make([][2]int, 0, len(old)+1)
	for _, conn := range old {
		if conn != [2]int{from, to} {
			next = append(next, conn)
		}
	}
	if connect {
		next = append(next, [2]int{from, to})
	}
	d.routes.Store(&next)
	return nil
}

// Status snapshots the stream geometry and connection matrix.
func (d *PortAudio) Status() State {
	st := State{
		ClientName: d.clientName,
		OutputName: "system",
		SampleRate: d.sampleRate,
		BufferSize: d.bufferSize,
		NumSources: d.numSources,
		NumOutputs: d.deviceCh,
	}
	st.Connections = append(st.Connections, *d.routes.Load()...)
	for i := 0; i < d.numSources; i++ {
		st.PortNames = append(st.PortNames, PortName(d.clientName, i))
	}
	for i := 0; i < d.deviceCh; i++ {
		st.SystemPorts = append(st.SystemPorts, fmt.Sprintf("%s:playback_%d", st.OutputName, i+1))
	}
	SortPortsNumeric(st.SystemPorts)
	return st
}
