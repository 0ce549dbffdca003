package session

import (
	"fmt"
	"sort"
	"strings"

	"midimon/driver"
	"midimon/midi"
)

// bridgePrefix is prepended to port names by some driver bridges; it is
// stripped before loopback filtering and display.
const bridgePrefix = "Midi-Bridge:"

// Catalog is the name-to-handle mapping of currently visible input ports,
// plus the per-slot selection. Handles are only valid until the next
// Refresh. The catalog is owned by the controller goroutine and is not safe
// for concurrent use; the presentation layer reads the published PortsView
// instead.
type Catalog struct {
	clientName string
	names      []string
	handles    map[string]driver.Port
	selected   [midi.NumSlots]string // "" = no selection
}

// NewCatalog returns an empty catalog. Ports whose name starts with
// clientName are excluded on refresh to avoid monitoring our own loopback.
func NewCatalog(clientName string) *Catalog {
	return &Catalog{
		clientName: clientName,
		handles:    make(map[string]driver.Port),
	}
}

// Refresh rebuilds the catalog wholesale from a fresh enumeration. On
// enumeration failure the previous snapshot is kept untouched. Selections
// are never modified by a refresh: whether a selected name is currently
// enumerable is an independent fact, reported by Listed.
func (c *Catalog) Refresh(drv driver.Driver) error {
	ports, err := drv.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerate ports: %w", err)
	}

	c.names = c.names[:0]
	c.handles = make(map[string]driver.Port, len(ports))

	for _, port := range ports {
		name := port.Name()
		if strings.HasPrefix(name, c.clientName) {
			continue
		}
		name = strings.TrimPrefix(name, bridgePrefix)
		if _, dup := c.handles[name]; dup {
			continue
		}
		c.handles[name] = port
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	return nil
}

// Get resolves a port name to its current handle.
func (c *Catalog) Get(name string) (driver.Port, bool) {
	port, ok := c.handles[name]
	return port, ok
}

// List returns the catalog's port names in order.
func (c *Catalog) List() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// Listed reports whether name is present in the current snapshot.
func (c *Catalog) Listed(name string) bool {
	_, ok := c.handles[name]
	return ok
}

// Selected returns the port name most recently connected on slot, or ""
// when the slot has no selection.
func (c *Catalog) Selected(slot midi.Slot) string {
	return c.selected[slot.Index()]
}

func (c *Catalog) setSelected(slot midi.Slot, name string) {
	c.selected[slot.Index()] = name
}

func (c *Catalog) clearSelected(slot midi.Slot) {
	c.selected[slot.Index()] = ""
}
