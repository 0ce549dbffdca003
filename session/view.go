package session

import (
	"sync"

	"midimon/midi"
)

// SlotStatus describes one slot in a published snapshot. Name is the
// current selection; Listed and Connected are independent facts: a selected
// port may stay connected after vanishing from the catalog, and a selection
// can be listed without a live stream.
type SlotStatus struct {
	Name      string `json:"name,omitempty"`
	Listed    bool   `json:"listed"`
	Connected bool   `json:"connected"`
}

// PortsSnapshot is a read-only view of the catalog and slot states.
type PortsSnapshot struct {
	Ports []string                  `json:"ports"`
	Slots [midi.NumSlots]SlotStatus `json:"slots"`
}

// portsView is the published side of the catalog: the controller goroutine
// writes it after every catalog or connection change, the presentation
// layer reads copies. The lock is scoped to the copy.
type portsView struct {
	mu   sync.Mutex
	snap PortsSnapshot
}

// publish replaces the view with the current catalog and connection state.
func (v *portsView) publish(cat *Catalog, conns *Connections) {
	snap := PortsSnapshot{Ports: cat.List()}
	for s := 0; s < midi.NumSlots; s++ {
		slot := midi.Slot(s)
		name := cat.Selected(slot)
		snap.Slots[s] = SlotStatus{
			Name:      name,
			Listed:    name != "" && cat.Listed(name),
			Connected: conns.Connected(slot),
		}
	}

	v.mu.Lock()
	v.snap = snap
	v.mu.Unlock()
}

// snapshot returns the last published view.
func (v *portsView) snapshot() PortsSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := v.snap
	snap.Ports = make([]string, len(v.snap.Ports))
	copy(snap.Ports, v.snap.Ports)
	return snap
}
