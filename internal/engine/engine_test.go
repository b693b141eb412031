package engine

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuepilot/cuepilot/internal/bus"
	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/network"
	"github.com/cuepilot/cuepilot/internal/show"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// testConfig builds a headless engine config over temp dirs and the given
// UDP ports.
func testConfig(t *testing.T, binPort, oscPort int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:    dir,
		ConfigPath: filepath.Join(dir, "cuepilot.conf"),
		BinaryPort: binPort,
		OSCPort:    oscPort,
		LogLevel:   "error",
		LogFormat:  "text",
		Headless:   true,
	}
}

func TestEngineFallsBackToExampleShow(t *testing.T) {
	cfg := testConfig(t, 47311, 47312)
	sys := config.DefaultSystemConfiguration()
	sys.NumChannels = 1

	eng, err := New(cfg, sys, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, ep := range eng.endpoints {
			ep.Close()
		}
	}()

	bundle := eng.showPtr.Load()
	if bundle == nil || bundle.Show.Name != show.Example().Name {
		t.Errorf("expected the example show fallback, got %+v", bundle)
	}
}

func TestEngineLoadsShowFile(t *testing.T) {
	cfg := testConfig(t, 47313, 47314)
	sys := config.DefaultSystemConfiguration()
	sys.NumChannels = 1

	path := filepath.Join(cfg.DataDir, showFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	s := &show.Show{Name: "From Disk", Cues: show.Example().Cues}
	if err := show.Encode(f, s); err != nil {
		t.Fatal(err)
	}
	f.Close()

	eng, err := New(cfg, sys, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, ep := range eng.endpoints {
			ep.Close()
		}
	}()

	if got := eng.showPtr.Load().Show.Name; got != "From Disk" {
		t.Errorf("show name = %q, want %q", got, "From Disk")
	}
}

// End to end: boot headless, drive the transport over the binary wire,
// then shut down with a Shutdown request.
func TestEngineRunAndShutdownOverWire(t *testing.T) {
	cfg := testConfig(t, 47315, 47316)
	sys := config.DefaultSystemConfiguration()
	sys.NumChannels = 1

	eng, err := New(cfg, sys, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	conn, err := net.Dial("udp", "127.0.0.1:47315")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	send := func(req network.Request) {
		data, err := network.EncodeRequest(req)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Write(data); err != nil {
			t.Fatal(err)
		}
	}

	// Subscribe a listener, start the transport, and wait for a running
	// TransportData frame to come back over the wire.
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	send(network.Request{Kind: network.RequestSubscribe, Subscriber: network.SubscriberInfo{
		Address: listener.LocalAddr().String(),
		Kinds:   bus.MsgTransportData,
	}})
	send(network.Request{Kind: network.RequestControlAction,
		Action: bus.Action(bus.ActionTransportStart)})

	running := false
	deadline := time.Now().Add(3 * time.Second)
	buf := make([]byte, 64*1024)
	for !running && time.Now().Before(deadline) {
		listener.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := listener.ReadFrom(buf)
		if err != nil || n < 4 {
			continue
		}
		frame := buf[:n]
		if frame[0] == 0xE1 && binary.BigEndian.Uint16(frame[1:3]) == uint16(bus.MsgTransportData) {
			running = frame[3] == 1
		}
	}
	if !running {
		t.Error("never observed a running TransportData notification")
	}

	send(network.Request{Kind: network.RequestShutdown})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}

	// Shutdown persists the configuration.
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		t.Error("configuration not persisted on shutdown")
	}
}
