package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"midimon/midi"
)

// MaxRepetitions caps the run-length count of a log entry. Further
// repetitions leave the entry unchanged.
const MaxRepetitions = 99

const maxRepetitionsExceeded = ">99"

// Entry is one coalesced log row. Field names in the JSON export follow the
// columns of the on-screen list.
type Entry struct {
	Timestamp   uint64    `json:"timestamp"`
	Slot        midi.Slot `json:"port"`
	Repetitions uint8     `json:"repetitions"`
	Text        string    `json:"parsed"`
	Malformed   bool      `json:"error,omitempty"`
	Raw         []byte    `json:"buffer"`
}

// matches reports whether ev would coalesce into this entry. Equality is by
// slot and raw bytes only; the decoded text is derived from the bytes, so
// comparing it would be redundant.
func (e *Entry) matches(ev midi.Event) bool {
	return e.Slot == ev.Slot && bytes.Equal(e.Raw, ev.Raw)
}

// RepetitionsLabel renders the repetition count for display: empty for a
// single occurrence, ">99" past the cap.
func (e *Entry) RepetitionsLabel() string {
	switch {
	case e.Repetitions <= 1:
		return ""
	case e.Repetitions > MaxRepetitions:
		return maxRepetitionsExceeded
	default:
		return fmt.Sprintf("x%d", e.Repetitions)
	}
}

// Log is the shared, lock-guarded message log. The controller goroutine is
// the only writer; the presentation layer reads snapshots. The lock is held
// only for the duration of a single push batch or copy, never across driver
// calls.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Push coalesces ev into the log and reports whether anything visible
// changed. Only the newest entry is a merge candidate: an identical message
// separated by any other message starts a new entry. This is repeated-burst
// suppression, not general deduplication.
func (l *Log) Push(ev midi.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.push(ev)
}

// PushBatch pushes a batch of events under one lock hold and reports
// whether any of them changed the log.
func (l *Log) PushBatch(evs []midi.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := false
	for _, ev := range evs {
		if l.push(ev) {
			updated = true
		}
	}
	return updated
}

func (l *Log) push(ev midi.Event) bool {
	if n := len(l.entries); n > 0 {
		last := &l.entries[n-1]
		if last.matches(ev) {
			if last.Repetitions < MaxRepetitions {
				last.Repetitions++
				return true
			}
			return false
		}
	}

	l.entries = append(l.entries, Entry{
		Timestamp:   ev.Timestamp,
		Slot:        ev.Slot,
		Repetitions: 1,
		Text:        ev.Text,
		Malformed:   ev.Malformed,
		Raw:         ev.Raw,
	})
	return true
}

// Snapshot returns a copy of the log for read-only presentation. Entry.Raw
// buffers are shared with the log and must not be mutated.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Len returns the number of coalesced entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear discards all entries. This is the only way entries are ever
// removed.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// WriteJSON exports the log as indented JSON.
func (l *Log) WriteJSON(w io.Writer) error {
	entries := l.Snapshot()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode message log: %w", err)
	}
	return nil
}
