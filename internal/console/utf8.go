package console

import "unicode/utf8"

// BoundaryBuffer keeps multi-byte UTF-8 sequences from being split across
// two output messages.  Each session owns one; it is not safe for
// concurrent use.
type BoundaryBuffer struct {
	pending []byte // incomplete trailing sequence from the last chunk, 0–3 bytes
}

// Process returns the part of chunk that can be emitted without cutting a
// character in half.  An incomplete sequence at the end is held back and
// prepended to the next chunk.  The result may alias chunk and is only
// valid until the next call.
//
// When the tail is a run of continuation bytes with no leading byte in
// reach, the chunk is emitted unmodified.
func (b *BoundaryBuffer) Process(chunk []byte) []byte {
	data := chunk
	if len(b.pending) > 0 {
		data = make([]byte, 0, len(b.pending)+len(chunk))
		data = append(data, b.pending...)
		data = append(data, chunk...)
		b.pending = b.pending[:0]
	}

	if cut := splitPoint(data); cut < len(data) {
		b.pending = append(b.pending[:0], data[cut:]...)
		data = data[:cut]
	}
	return data
}

// Pending reports how many bytes are currently withheld.
func (b *BoundaryBuffer) Pending() int { return len(b.pending) }

// Flush returns and clears the withheld fragment.  Call it once the
// stream has ended.
func (b *BoundaryBuffer) Flush() []byte {
	if len(b.pending) == 0 {
		return nil
	}
	out := append([]byte(nil), b.pending...)
	b.pending = b.pending[:0]
	return out
}

// Reset drops any withheld fragment.
func (b *BoundaryBuffer) Reset() { b.pending = b.pending[:0] }

// splitPoint returns the offset of an incomplete trailing sequence in p,
// or len(p) if p ends on a character boundary.  Only the last
// utf8.UTFMax bytes are inspected.
func splitPoint(p []byte) int {
	stop := len(p) - utf8.UTFMax
	if stop < 0 {
		stop = 0
	}
	for i := len(p) - 1; i >= stop; i-- {
		c := p[i]
		if c&0xC0 == 0x80 {
			continue
		}
		if c < 0xC0 {
			return len(p)
		}
		if len(p)-i < seqLen(c) {
			return i
		}
		return len(p)
	}
	return len(p)
}

// seqLen returns the sequence length announced by leading byte c.
func seqLen(c byte) int {
	switch {
	case c >= 0xF8:
		return 1 // not a valid leader; never withhold
	case c >= 0xF0:
		return 4
	case c >= 0xE0:
		return 3
	default:
		return 2
	}
}
