// Package serialdrv backs the driver interface with raw serial ports for
// hardware MIDI over UART. The wire is a plain byte stream, so incoming
// chunks are reassembled into complete MIDI messages by a running-status
// aware framer before the callback sees them.
package serialdrv

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.bug.st/serial"

	"midimon/driver"
)

const (
	// MIDIBaudRate is the fixed UART rate of the MIDI hardware spec.
	MIDIBaudRate = 31250

	// DefaultReadTimeout keeps the read loop responsive to Close without
	// burning CPU on an idle line.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Config tunes the serial backend.
type Config struct {
	BaudRate    int           // 0 = MIDIBaudRate
	ReadTimeout time.Duration // 0 = DefaultReadTimeout
}

// Driver enumerates the host's serial ports as MIDI inputs.
type Driver struct {
	cfg Config
}

// New returns a serial-backed driver.
func New(cfg Config) *Driver {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = MIDIBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Driver{cfg: cfg}
}

// Enumerate lists the serial device nodes present on the host, sorted by
// name.
func (d *Driver) Enumerate() ([]driver.Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(names)

	ports := make([]driver.Port, 0, len(names))
	for _, name := range names {
		ports = append(ports, &port{device: name, cfg: d.cfg})
	}
	return ports, nil
}

// String identifies the backend.
func (d *Driver) String() string {
	return "serial"
}

// Close is a no-op; serial ports hold no shared library state.
func (d *Driver) Close() error {
	return nil
}

type port struct {
	device string
	cfg    Config
}

func (p *port) Name() string {
	return p.device
}

func (p *port) Open(label string, onMessage driver.MessageFunc) (driver.Stream, error) {
	mode := &serial.Mode{
		BaudRate: p.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	sp, err := serial.Open(p.device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.device, err)
	}

	if err := sp.SetReadTimeout(p.cfg.ReadTimeout); err != nil {
		sp.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", p.device, err)
	}

	s := &stream{
		port:    sp,
		stopped: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop(onMessage)

	return s, nil
}

type stream struct {
	port    serial.Port
	stopped chan struct{}
	wg      sync.WaitGroup
}

// readLoop reads raw chunks and feeds them through the framer. Timestamps
// are measured from stream open, matching the device-relative clock the
// other backends report.
func (s *stream) readLoop(onMessage driver.MessageFunc) {
	defer s.wg.Done()

	var fr Framer
	start := time.Now()
	buf := make([]byte, 256)

	for {
		select {
		case <-s.stopped:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			// Port closed or gone; Close reclaims it either way.
			return
		}
		if n == 0 {
			// Read timeout, loop back to check for shutdown.
			continue
		}

		ts := uint64(time.Since(start).Microseconds())
		for _, msg := range fr.Push(buf[:n]) {
			onMessage(ts, msg)
		}
	}
}

func (s *stream) Close() error {
	close(s.stopped)
	err := s.port.Close()
	s.wg.Wait()
	return err
}
