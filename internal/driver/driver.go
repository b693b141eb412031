// Package driver abstracts the host audio system. The engine registers a
// realtime process callback; the driver invokes it once per block with one
// output buffer per engine port and a monotonic microsecond clock.
package driver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ProcessFunc is the realtime callback: nowUS is the audio clock at frame
// start, frames the block size, out one buffer per registered output port.
// Returning false stops the driver.
type ProcessFunc func(nowUS uint64, frames int, out [][]float32) bool

// State is a snapshot of the driver published to subscribers.
type State struct {
	ClientName  string
	OutputName  string
	SampleRate  int
	BufferSize  int
	NumSources  int
	NumOutputs  int
	Connections [][2]int

	// PortNames are the engine's registered output ports, "<client>:<N>".
	// SystemPorts are the host outputs, sorted by numeric suffix.
	PortNames   []string
	SystemPorts []string
}

// Driver is the host audio system contract.
type Driver interface {
	// Start registers the callback and begins invoking it per block.
	Start(cb ProcessFunc) error
	// Stop ends callback invocation and releases the device.
	Stop() error

	SampleRate() int
	BufferSize() int
	// NowUS returns the monotonic audio clock in microseconds.
	NowUS() uint64
	// FramesToUS converts a frame count to microseconds at the driver rate.
	FramesToUS(frames int) uint64

	// Route connects or disconnects engine port from to system output to.
	Route(from, to int, connect bool) error
	// Status snapshots the driver state.
	Status() State
}

// PortName builds an engine output port name: "<client>:<N>".
func PortName(client string, idx int) string {
	return fmt.Sprintf("%s:%d", client, idx)
}

// SortPortsNumeric orders system port names by their embedded numeric
// suffix, so "out_10" follows "out_9".
func SortPortsNumeric(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return portNumber(names[i]) < portNumber(names[j])
	})
}

// portNumber extracts the digits of a port name, zero when it has none.
func portNumber(name string) int {
	var digits strings.Builder
	for _, r := range name {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}
