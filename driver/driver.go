// Package driver defines the narrow capability set midimon consumes from a
// MIDI backend: enumerate input ports, open a live stream with a message
// callback, close it again. Implementations live in the subpackages
// (gomididrv, portmididrv, serialdrv) and are selected by configuration.
package driver

// MessageFunc is invoked by the backend for every complete MIDI message
// received on an open stream. It runs on a backend-owned goroutine and must
// not block; data is only valid for the duration of the call and must be
// copied if retained. timestamp is device-relative, monotonic, in
// microseconds.
type MessageFunc func(timestamp uint64, data []byte)

// Driver enumerates the MIDI input ports currently visible on the host.
type Driver interface {
	// Enumerate returns a fresh snapshot of input ports. Returned ports are
	// only valid until the next Enumerate call.
	Enumerate() ([]Port, error)

	// String names the backend for logging.
	String() string

	// Close releases backend resources. Open streams must be closed first.
	Close() error
}

// Port is an enumerable input endpoint, identified by name.
type Port interface {
	Name() string

	// Open starts a live stream on the port. label identifies this client to
	// the backend (where supported). onMessage is installed as the
	// per-message callback.
	Open(label string, onMessage MessageFunc) (Stream, error)
}

// Stream is an open connection delivering messages to the callback passed to
// Open. Close stops delivery and reclaims the underlying port for reuse.
type Stream interface {
	Close() error
}
