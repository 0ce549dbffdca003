package serialdrv

// Framer reassembles a raw MIDI byte stream into complete messages. It
// tracks running status (data bytes without a preceding status byte reuse
// the last channel-voice status) and collects SysEx payloads until the end
// marker. System real-time bytes may interleave anywhere, including inside
// a SysEx, and are emitted immediately as one-byte messages.
type Framer struct {
	status  byte   // current running status, 0 when none
	pending []byte // partially assembled message
	sysex   []byte // partially assembled SysEx, nil when not in SysEx
}

const (
	sysexStart = 0xF0
	sysexEnd   = 0xF7
)

// Push consumes a chunk of stream bytes and returns the complete messages it
// finished. Returned slices are freshly allocated and safe to retain.
func (f *Framer) Push(chunk []byte) [][]byte {
	var out [][]byte

	for _, b := range chunk {
		switch {
		case b >= 0xF8:
			// Real-time: emit immediately, no effect on running state.
			out = append(out, []byte{b})

		case f.sysex != nil:
			if b == sysexEnd {
				msg := append(f.sysex, sysexEnd)
				f.sysex = nil
				out = append(out, msg)
			} else if b >= 0x80 {
				// Status byte terminates an unfinished SysEx; the truncated
				// payload is dropped and the byte reprocessed below.
				f.sysex = nil
				out = append(out, f.consumeStatus(b)...)
			} else {
				f.sysex = append(f.sysex, b)
			}

		case b >= 0x80:
			out = append(out, f.consumeStatus(b)...)

		default:
			out = append(out, f.consumeData(b)...)
		}
	}

	return out
}

func (f *Framer) consumeStatus(b byte) [][]byte {
	f.pending = f.pending[:0]

	if b == sysexStart {
		f.status = 0
		f.sysex = []byte{sysexStart}
		return nil
	}

	if b < 0xF0 {
		f.status = b
	} else {
		// System common cancels running status.
		f.status = 0
	}

	if dataLen(b) == 0 {
		return [][]byte{{b}}
	}
	f.pending = append(f.pending, b)
	return nil
}

func (f *Framer) consumeData(b byte) [][]byte {
	if len(f.pending) == 0 {
		if f.status == 0 {
			// Stray data byte with no status to attach to.
			return nil
		}
		// Running status: start a new message with the remembered status.
		f.pending = append(f.pending, f.status)
	}

	f.pending = append(f.pending, b)

	status := f.pending[0]
	if len(f.pending)-1 == dataLen(status) {
		msg := make([]byte, len(f.pending))
		copy(msg, f.pending)
		f.pending = f.pending[:0]
		return [][]byte{msg}
	}
	return nil
}

// dataLen returns the number of data bytes that follow a status byte.
func dataLen(status byte) int {
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 2
	case 0xC0, 0xD0:
		return 1
	}

	switch status {
	case 0xF1, 0xF3: // MTC quarter frame, song select
		return 1
	case 0xF2: // song position pointer
		return 2
	default:
		return 0
	}
}
