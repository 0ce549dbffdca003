// Package midi carries the message types flowing from the driver callbacks
// to the session controller, and the decoder that renders raw bytes into
// display text.
package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Slot is one of the two fixed input slots a port can be bound to.
type Slot uint8

const (
	SlotOne Slot = iota
	SlotTwo
)

// NumSlots is the fixed slot cardinality.
const NumSlots = 2

// Index returns the slot's array index.
func (s Slot) Index() int {
	return int(s)
}

func (s Slot) String() string {
	switch s {
	case SlotOne:
		return "1"
	case SlotTwo:
		return "2"
	default:
		return "?"
	}
}

// ParseSlot maps the wire/API representation back to a Slot.
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "1":
		return SlotOne, nil
	case "2":
		return SlotTwo, nil
	default:
		return 0, fmt.Errorf("invalid slot %q", s)
	}
}

// Event is one received MIDI message, decoded at construction time on the
// driver callback goroutine. Raw is an immutable copy of the wire bytes;
// Text holds the decoded rendering, or the decode error text when Malformed
// is set.
type Event struct {
	Timestamp uint64
	Slot      Slot
	Raw       []byte
	Text      string
	Malformed bool
}

// NewEvent copies the raw buffer and decodes it. A decode failure is not an
// error to the caller; it yields a malformed event that still carries the
// bytes.
func NewEvent(timestamp uint64, slot Slot, data []byte) Event {
	raw := make([]byte, len(data))
	copy(raw, data)

	ev := Event{
		Timestamp: timestamp,
		Slot:      slot,
		Raw:       raw,
	}

	text, err := Decode(raw)
	if err != nil {
		ev.Text = err.Error()
		ev.Malformed = true
	} else {
		ev.Text = text
	}
	return ev
}

// Decode renders raw MIDI bytes as human-readable text. It is pure and
// total: it never panics and always returns, failing only for empty or
// unrecognizable byte sequences.
func Decode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty MIDI message")
	}

	msg := gomidi.Message(raw)
	if msg.Type() == gomidi.UnknownMsg {
		return "", fmt.Errorf("unknown MIDI message % X", raw)
	}
	return msg.String(), nil
}
