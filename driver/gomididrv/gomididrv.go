// Package gomididrv backs the driver interface with gitlab.com/gomidi/midi,
// the default backend. The process must register a gomidi driver (e.g. by
// importing one of its platform driver packages) before New is called.
package gomididrv

import (
	"fmt"
	"log/slog"

	"gitlab.com/gomidi/midi/v2/drivers"

	"midimon/driver"
)

// Driver wraps the registered gomidi driver.
type Driver struct {
	drv    drivers.Driver
	logger *slog.Logger
}

// New returns a Driver backed by the registered gomidi driver, or an error
// if no driver has been registered in this process.
func New(logger *slog.Logger) (*Driver, error) {
	drv := drivers.Get()
	if drv == nil {
		return nil, fmt.Errorf("no gomidi driver registered")
	}
	return &Driver{drv: drv, logger: logger}, nil
}

// Enumerate returns the input ports the gomidi driver currently sees.
func (d *Driver) Enumerate() ([]driver.Port, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}

	ports := make([]driver.Port, 0, len(ins))
	for _, in := range ins {
		ports = append(ports, &port{in: in, logger: d.logger})
	}
	return ports, nil
}

// String returns the underlying gomidi driver name.
func (d *Driver) String() string {
	return d.drv.String()
}

// Close shuts down the gomidi driver.
func (d *Driver) Close() error {
	return d.drv.Close()
}

type port struct {
	in     drivers.In
	logger *slog.Logger
}

func (p *port) Name() string {
	return p.in.String()
}

func (p *port) Open(label string, onMessage driver.MessageFunc) (driver.Stream, error) {
	if err := p.in.Open(); err != nil {
		return nil, fmt.Errorf("open input %q: %w", p.in.String(), err)
	}

	logger := p.logger
	stop, err := p.in.Listen(func(msg []byte, milliseconds int32) {
		onMessage(uint64(milliseconds)*1000, msg)
	}, drivers.ListenConfig{
		SysEx: true,
		OnErr: func(err error) {
			logger.Warn("MIDI input error", "port", label, "error", err)
		},
	})
	if err != nil {
		p.in.Close()
		return nil, fmt.Errorf("listen on %q: %w", p.in.String(), err)
	}

	return &stream{in: p.in, stop: stop}, nil
}

type stream struct {
	in   drivers.In
	stop func()
}

func (s *stream) Close() error {
	s.stop()
	return s.in.Close()
}
