// Package portmididrv backs the driver interface with the PortMidi C
// library via github.com/rakyll/portmidi. PortMidi delivers parsed events
// rather than raw bytes, so each event is re-encoded to its wire form before
// the callback sees it.
package portmididrv

import (
	"fmt"

	"github.com/rakyll/portmidi"

	"midimon/driver"
)

const inputBufferSize = 1024

// Driver enumerates PortMidi input devices.
type Driver struct{}

// New initializes the PortMidi library.
func New() (*Driver, error) {
	if err := portmidi.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portmidi: %w", err)
	}
	return &Driver{}, nil
}

// Enumerate returns the PortMidi devices that accept input.
func (d *Driver) Enumerate() ([]driver.Port, error) {
	count := portmidi.CountDevices()

	ports := make([]driver.Port, 0, count)
	for i := 0; i < count; i++ {
		id := portmidi.DeviceID(i)
		info := portmidi.Info(id)
		if info == nil || !info.IsInputAvailable {
			continue
		}
		ports = append(ports, &port{id: id, name: info.Name})
	}
	return ports, nil
}

// String identifies the backend.
func (d *Driver) String() string {
	return "portmidi"
}

// Close terminates the PortMidi library.
func (d *Driver) Close() error {
	return portmidi.Terminate()
}

type port struct {
	id   portmidi.DeviceID
	name string
}

func (p *port) Name() string {
	return p.name
}

func (p *port) Open(label string, onMessage driver.MessageFunc) (driver.Stream, error) {
	in, err := portmidi.NewInputStream(p.id, inputBufferSize)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", p.name, err)
	}

	s := &stream{in: in, stopped: make(chan struct{})}
	go s.pump(onMessage)
	return s, nil
}

type stream struct {
	in      *portmidi.Stream
	stopped chan struct{}
}

// pump forwards PortMidi events to the message callback until the event
// channel is closed by Close.
func (s *stream) pump(onMessage driver.MessageFunc) {
	events := s.in.Listen()
	for {
		select {
		case <-s.stopped:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			onMessage(uint64(ev.Timestamp)*1000, encode(ev))
		}
	}
}

func (s *stream) Close() error {
	close(s.stopped)
	return s.in.Close()
}

// encode rebuilds the raw wire bytes of a PortMidi event. Channel voice
// messages carry their data in Status/Data1/Data2; SysEx payloads arrive
// already framed in SysEx.
func encode(ev portmidi.Event) []byte {
	if len(ev.SysEx) > 0 {
		raw := make([]byte, len(ev.SysEx))
		copy(raw, ev.SysEx)
		return raw
	}

	status := byte(ev.Status)
	switch {
	case status >= 0xF8: // system real-time, no data bytes
		return []byte{status}
	case status&0xF0 == 0xC0 || status&0xF0 == 0xD0: // program change, channel pressure
		return []byte{status, byte(ev.Data1)}
	default:
		return []byte{status, byte(ev.Data1), byte(ev.Data2)}
	}
}
