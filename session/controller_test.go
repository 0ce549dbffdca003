package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"midimon/midi"
	"midimon/output"
)

func testConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond}
}

func startController(t *testing.T, drv *fakeDriver, cfg Config) *Controller {
	t.Helper()

	c, err := New(cfg, drv, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(c.Shutdown)
	return c
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewRequiresDriver(t *testing.T) {
	if _, err := New(testConfig(), nil, testLogger()); err == nil {
		t.Error("New(nil driver) should fail")
	}
}

func TestControllerStartGuards(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c, err := New(testConfig(), drv, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	c.Shutdown()
	c.Shutdown() // idempotent

	if err := c.Start(); err == nil {
		t.Error("Start() after Shutdown() should fail")
	}
}

func TestControllerInitialRefresh(t *testing.T) {
	drv := newFakeDriver("DeviceB", "DeviceA")
	c := startController(t, drv, testConfig())

	waitFor(t, func() bool {
		return len(c.Ports().Ports) == 2
	}, "initial refresh never published the catalog")

	ports := c.Ports().Ports
	if ports[0] != "DeviceA" || ports[1] != "DeviceB" {
		t.Errorf("Ports = %v, want sorted [DeviceA DeviceB]", ports)
	}
}

func TestControllerConnectAndReceive(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c := startController(t, drv, testConfig())

	c.Connect(midi.SlotOne, "DeviceA")

	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never connected")

	snap := c.Ports()
	if got := snap.Slots[midi.SlotOne.Index()].Name; got != "DeviceA" {
		t.Errorf("slot name = %q, want DeviceA", got)
	}
	if !snap.Slots[midi.SlotOne.Index()].Listed {
		t.Error("connected port should be listed")
	}

	stream := drv.port("DeviceA").lastStream()
	stream.emit(100, []byte{0x90, 0x40, 0x64})
	stream.emit(200, []byte{0x90, 0x40, 0x64})
	stream.emit(300, []byte{0x80, 0x40, 0x00})

	waitFor(t, func() bool {
		return c.Log().Len() == 2
	}, "messages never reached the log")

	entries := c.Log().Snapshot()
	if entries[0].Repetitions != 2 {
		t.Errorf("first entry Repetitions = %d, want 2", entries[0].Repetitions)
	}
	if entries[0].Slot != midi.SlotOne {
		t.Errorf("entry Slot = %v, want %v", entries[0].Slot, midi.SlotOne)
	}

	stats := c.Stats()
	if stats.Received != 3 {
		t.Errorf("Stats.Received = %d, want 3", stats.Received)
	}
	if stats.Entries != 2 {
		t.Errorf("Stats.Entries = %d, want 2", stats.Entries)
	}
}

func TestControllerConnectUnknownPort(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c := startController(t, drv, testConfig())

	c.Connect(midi.SlotOne, "Missing")

	var err error
	waitFor(t, func() bool {
		err = c.PopError()
		return err != nil
	}, "connect failure never surfaced on the error queue")

	var notFound *PortNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("PopError() = %v, want PortNotFoundError", err)
	}
	if c.Ports().Slots[midi.SlotOne.Index()].Connected {
		t.Error("failed connect must leave the slot disconnected")
	}
}

func TestControllerRefreshKeepsConnection(t *testing.T) {
	drv := newFakeDriver("DeviceA", "DeviceB")
	c := startController(t, drv, testConfig())

	c.Connect(midi.SlotOne, "DeviceA")
	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never connected")

	// Port disappears from enumeration while the stream is live.
	portA := drv.port("DeviceA")
	drv.removePort("DeviceA")
	c.RefreshPorts()

	waitFor(t, func() bool {
		return !c.Ports().Slots[midi.SlotOne.Index()].Listed
	}, "refresh never dropped the vanished port from the catalog")

	slot := c.Ports().Slots[midi.SlotOne.Index()]
	if slot.Name != "DeviceA" {
		t.Errorf("selection = %q, want DeviceA retained", slot.Name)
	}
	if !slot.Connected {
		t.Error("live connection must survive a refresh that misses its port")
	}
	if got := portA.liveStreams(); got != 1 {
		t.Errorf("liveStreams = %d, want 1", got)
	}
}

func TestControllerDisconnect(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c := startController(t, drv, testConfig())

	c.Connect(midi.SlotOne, "DeviceA")
	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never connected")

	c.Disconnect(midi.SlotOne)
	waitFor(t, func() bool {
		return !c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never disconnected")

	if got := c.Ports().Slots[midi.SlotOne.Index()].Name; got != "" {
		t.Errorf("selection = %q, want cleared", got)
	}
	if got := drv.port("DeviceA").liveStreams(); got != 0 {
		t.Errorf("liveStreams = %d, want 0", got)
	}
}

func TestControllerRepaintSignal(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c, err := New(testConfig(), drv, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var repaints atomic.Int64
	c.SetRepaintFunc(func() { repaints.Add(1) })

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Shutdown()

	c.Connect(midi.SlotOne, "DeviceA")
	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never connected")

	drv.port("DeviceA").lastStream().emit(1, []byte{0x90, 0x40, 0x64})

	waitFor(t, func() bool {
		return repaints.Load() > 0
	}, "log update never signalled a repaint")
}

func TestControllerEventCallback(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c, err := New(testConfig(), drv, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var (
		mu     sync.Mutex
		events []output.Event
	)
	c.SetEventCallback(func(ev output.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Shutdown()

	c.Connect(midi.SlotOne, "DeviceA")
	c.Disconnect(midi.SlotOne)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 2
	}, "session events never reached the callback")

	mu.Lock()
	defer mu.Unlock()
	if events[0].Type != output.EventConnected || events[0].Port != "DeviceA" {
		t.Errorf("first event = %+v, want connected to DeviceA", events[0])
	}
	if events[1].Type != output.EventDisconnected {
		t.Errorf("second event = %+v, want disconnected", events[1])
	}
}

func TestControllerAutoConnect(t *testing.T) {
	drv := newFakeDriver("DeviceB", "DeviceA")
	cfg := testConfig()
	cfg.AutoConnect = true
	c := startController(t, drv, cfg)

	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "auto-connect never bound slot one")

	// First port in sorted order wins.
	if got := c.Ports().Slots[midi.SlotOne.Index()].Name; got != "DeviceA" {
		t.Errorf("auto-connected to %q, want DeviceA", got)
	}
}

func TestControllerMalformedCounter(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c := startController(t, drv, testConfig())

	c.Connect(midi.SlotOne, "DeviceA")
	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never connected")

	// A lone data byte cannot decode; it is still logged as raw bytes.
	drv.port("DeviceA").lastStream().emit(1, []byte{0x40})

	waitFor(t, func() bool {
		return c.Log().Len() == 1
	}, "malformed message never reached the log")

	if got := c.Stats().Malformed; got != 1 {
		t.Errorf("Stats.Malformed = %d, want 1", got)
	}
	if !c.Log().Snapshot()[0].Malformed {
		t.Error("entry should be marked malformed")
	}
}

func TestControllerShutdownClosesStreams(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c := startController(t, drv, testConfig())

	c.Connect(midi.SlotOne, "DeviceA")
	waitFor(t, func() bool {
		return c.Ports().Slots[midi.SlotOne.Index()].Connected
	}, "slot one never connected")

	c.Shutdown()

	if got := drv.port("DeviceA").liveStreams(); got != 0 {
		t.Errorf("liveStreams after Shutdown = %d, want 0", got)
	}
	if c.Ports().Slots[midi.SlotOne.Index()].Connected {
		t.Error("final snapshot should show the slot disconnected")
	}
}

func TestControllerShutdownDrainsQueuedRequests(t *testing.T) {
	drv := newFakeDriver("DeviceA", "DeviceB")
	gate := make(chan struct{})
	drv.setEnumGate(gate)

	c, err := New(testConfig(), drv, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The loop is held in its initial refresh, so these stack up in order.
	c.Connect(midi.SlotOne, "DeviceA")
	c.Connect(midi.SlotTwo, "DeviceB")
	c.RefreshPorts()

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()

	close(gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown() hung with requests queued ahead of it")
	}

	// Every queued request was served before the loop exited: both slots
	// opened a stream, and shutdown then closed them.
	for _, name := range []string{"DeviceA", "DeviceB"} {
		stream := drv.port(name).lastStream()
		if stream == nil {
			t.Fatalf("%s was never opened, queued connect was skipped", name)
		}
		if !stream.isClosed() {
			t.Errorf("%s stream still open after shutdown", name)
		}
	}
}

func TestControllerShutdownSurvivesFullRequestQueue(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	gate := make(chan struct{})
	drv.setEnumGate(gate)

	c, err := New(testConfig(), drv, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Fill the request queue to capacity while the loop is held.
	for i := 0; i < requestBuffer; i++ {
		c.RefreshPorts()
	}

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()

	close(gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown() hung with a full request queue")
	}
}

func TestControllerEnumerationFailure(t *testing.T) {
	drv := newFakeDriver("DeviceA")
	c := startController(t, drv, testConfig())

	waitFor(t, func() bool {
		return len(c.Ports().Ports) == 1
	}, "initial refresh never published the catalog")

	drv.setEnumErr(errors.New("backend gone"))
	c.RefreshPorts()

	var err error
	waitFor(t, func() bool {
		err = c.PopError()
		return err != nil
	}, "enumeration failure never surfaced")

	// The previous snapshot stays in place.
	if got := len(c.Ports().Ports); got != 1 {
		t.Errorf("Ports = %d entries, want 1 retained", got)
	}
}
