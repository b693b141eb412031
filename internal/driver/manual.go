package driver

import (
	"errors"
	"fmt"
)

// Manual is a deterministic driver for tests and offline rendering: nothing
// runs until Step is called, and the clock advances exactly one block per
// step. It implements Driver.
type Manual struct {
	clientName string
	sampleRate int
	bufferSize int
	numSources int
	numOutputs int

	clockUS uint64
	cb      ProcessFunc
	out     [][]float32
	routes  map[[2]int]bool
}

// NewManual builds a manual driver with the given geometry.
func NewManual(clientName string, sampleRate, bufferSize, numSources, numOutputs int) *Manual {
	out := make([][]float32, numSources)
	for i := range out {
		out[i] = make([]float32, bufferSize)
	}
	return &Manual{
		clientName: clientName,
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		numSources: numSources,
		numOutputs: numOutputs,
		out:        out,
		routes:     make(map[[2]int]bool),
	}
}

// Start registers the callback; cycles only run on Step.
func (m *Manual) Start(cb ProcessFunc) error {
	if cb == nil {
		return errors.New("nil process callback")
	}
	m.cb = cb
	return nil
}

// Stop detaches the callback.
func (m *Manual) Stop() error {
	m.cb = nil
	return nil
}

// Step runs one cycle at the current clock, then advances the clock by one
// block. It reports whether the callback asked to continue.
func (m *Manual) Step() bool {
	if m.cb == nil {
		return false
	}
	ok := m.cb(m.clockUS, m.bufferSize, m.out)
	m.clockUS += m.FramesToUS(m.bufferSize)
	return ok
}

// StepUntil runs cycles until the clock reaches at least untilUS.
func (m *Manual) StepUntil(untilUS uint64) {
	for m.clockUS < untilUS {
		if !m.Step() {
			return
		}
	}
}

// SetClock moves the audio clock; the next Step runs at this time.
func (m *Manual) SetClock(us uint64) { m.clockUS = us }

// Output returns the buffer produced for source idx on the last Step.
func (m *Manual) Output(idx int) []float32 { return m.out[idx] }

func (m *Manual) SampleRate() int { return m.sampleRate }
func (m *Manual) BufferSize() int { return m.bufferSize }
func (m *Manual) NowUS() uint64   { return m.clockUS }

func (m *Manual) FramesToUS(frames int) uint64 {
	return uint64(frames) * 1_000_000 / uint64(m.sampleRate)
}

// Route records the patch in the connection matrix.
func (m *Manual) Route(from, to int, connect bool) error {
	if from < 0 || from >= m.numSources || to < 0 || to >= m.numOutputs {
		return fmt.Errorf("route %d -> %d out of range", from, to)
	}
	if connect {
		m.routes[[2]int{from, to}] = true
	} else {
		delete(m.routes, [2]int{from, to})
	}
	return nil
}

// Status snapshots the driver geometry and connection matrix.
func (m *Manual) Status() State {
	st := State{
		ClientName: m.clientName,
		OutputName: "system",
		SampleRate: m.sampleRate,
		BufferSize: m.bufferSize,
		NumSources: m.numSources,
		NumOutputs: m.numOutputs,
	}
	for conn := range m.routes {
		st.Connections = append(st.Connections, conn)
	}
	for i := 0; i < m.numSources; i++ {
		st.PortNames = append(st.PortNames, PortName(m.clientName, i))
	}
	for i := 0; i < m.numOutputs; i++ {
		st.SystemPorts = append(st.SystemPorts, fmt.Sprintf("%s:playback_%d", st.OutputName, i+1))
	}
	SortPortsNumeric(st.SystemPorts)
	return st
}
