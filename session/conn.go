package session

import (
	"fmt"
	"log/slog"

	"midimon/driver"
	"midimon/midi"
)

// connState tags the per-slot connection value. stateTransitioning only
// exists inside a connect/disconnect call while stream ownership is being
// handed over; observing it at rest is a programming error.
type connState uint8

const (
	stateDisconnected connState = iota
	stateConnected
	stateTransitioning
)

type connection struct {
	state  connState
	stream driver.Stream
}

// Connections owns the two slot connections. At most one live stream exists
// per slot at all times. Owned by the controller goroutine; no locking.
type Connections struct {
	clientName string
	logger     *slog.Logger
	slots      [midi.NumSlots]connection
}

// NewConnections returns a Connections with both slots disconnected.
func NewConnections(clientName string, logger *slog.Logger) *Connections {
	return &Connections{
		clientName: clientName,
		logger:     logger,
	}
}

// Connect binds slot to the named catalog port and installs onMessage as
// its callback. Any existing connection on the slot is closed first, so a
// successful return guarantees the slot's single live stream is the new
// one. On open failure the slot is left disconnected with no selection.
func (m *Connections) Connect(cat *Catalog, slot midi.Slot, name string, onMessage driver.MessageFunc) error {
	if err := m.Disconnect(cat, slot); err != nil {
		// The old stream is gone either way; report and keep going.
		m.logger.Warn("Closing previous connection failed", "slot", slot, "error", err)
	}

	port, ok := cat.Get(name)
	if !ok {
		return &PortNotFoundError{Name: name}
	}

	c := m.slot(slot)
	c.state = stateTransitioning

	label := fmt.Sprintf("%s %s in", m.clientName, slot)
	stream, err := port.Open(label, onMessage)
	if err != nil {
		c.state = stateDisconnected
		cat.clearSelected(slot)
		return &OpenError{Name: name, Err: err}
	}

	c.stream = stream
	c.state = stateConnected
	cat.setSelected(slot, name)

	m.logger.Info("Connected input", "slot", slot, "port", name)
	return nil
}

// Disconnect closes the slot's stream, reclaiming the underlying port, and
// clears the slot's selection. A no-op, not an error, when already
// disconnected.
func (m *Connections) Disconnect(cat *Catalog, slot midi.Slot) error {
	c := m.slot(slot)
	if c.state != stateConnected {
		return nil
	}

	c.state = stateTransitioning
	stream := c.stream
	c.stream = nil

	err := stream.Close()
	c.state = stateDisconnected
	cat.clearSelected(slot)

	if err != nil {
		return fmt.Errorf("closing slot %s: %w", slot, err)
	}

	m.logger.Debug("Disconnected input", "slot", slot)
	return nil
}

// Connected reports whether slot has a live stream.
func (m *Connections) Connected(slot midi.Slot) bool {
	return m.slot(slot).state == stateConnected
}

// CloseAll disconnects every slot; called when the controller exits.
func (m *Connections) CloseAll(cat *Catalog) {
	for s := 0; s < midi.NumSlots; s++ {
		slot := midi.Slot(s)
		if err := m.Disconnect(cat, slot); err != nil {
			m.logger.Warn("Close on shutdown failed", "slot", slot, "error", err)
		}
	}
}

func (m *Connections) slot(slot midi.Slot) *connection {
	c := &m.slots[slot.Index()]
	if c.state == stateTransitioning {
		panic(fmt.Sprintf("slot %s observed mid-transition", slot))
	}
	return c
}
