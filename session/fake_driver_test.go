package session

import (
	"fmt"
	"sync"

	"midimon/driver"
)

// fakeDriver is an in-memory backend for tests. Ports are added and removed
// between enumerations to simulate devices appearing and vanishing; streams
// record the installed callback so tests can emit messages as the device
// thread would.
type fakeDriver struct {
	mu       sync.Mutex
	ports    []*fakePort
	enumErr  error
	enumGate chan struct{}
	enums    int
}

func newFakeDriver(names ...string) *fakeDriver {
	d := &fakeDriver{}
	for _, name := range names {
		d.ports = append(d.ports, &fakePort{name: name})
	}
	return d
}

func (d *fakeDriver) Enumerate() ([]driver.Port, error) {
	d.mu.Lock()
	gate := d.enumGate
	d.mu.Unlock()
	if gate != nil {
		// Hold the caller until the test releases the gate.
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.enums++
	if d.enumErr != nil {
		return nil, d.enumErr
	}

	ports := make([]driver.Port, len(d.ports))
	for i, p := range d.ports {
		ports[i] = p
	}
	return ports, nil
}

func (d *fakeDriver) String() string { return "fake" }
func (d *fakeDriver) Close() error   { return nil }

func (d *fakeDriver) setEnumErr(err error) {
	d.mu.Lock()
	d.enumErr = err
	d.mu.Unlock()
}

// setEnumGate makes every Enumerate call block until gate is closed.
func (d *fakeDriver) setEnumGate(gate chan struct{}) {
	d.mu.Lock()
	d.enumGate = gate
	d.mu.Unlock()
}

func (d *fakeDriver) removePort(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, p := range d.ports {
		if p.name == name {
			d.ports = append(d.ports[:i], d.ports[i+1:]...)
			return
		}
	}
}

func (d *fakeDriver) port(name string) *fakePort {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

type fakePort struct {
	name    string
	openErr error

	mu      sync.Mutex
	streams []*fakeStream
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) Open(label string, onMessage driver.MessageFunc) (driver.Stream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}

	s := &fakeStream{port: p, cb: onMessage, label: label}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

// liveStreams counts the port's streams that have not been closed.
func (p *fakePort) liveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.streams {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func (p *fakePort) lastStream() *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

type fakeStream struct {
	port  *fakePort
	cb    driver.MessageFunc
	label string

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stream closed twice")
	}
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit delivers a message as the device callback thread would.
func (s *fakeStream) emit(ts uint64, data []byte) {
	s.cb(ts, data)
}
