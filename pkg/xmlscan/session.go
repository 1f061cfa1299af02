package xmlscan

import "bytes"

// Session is the mutable state of one scan pass: the working buffer, the
// buffer's base offset within the stream, and the running record count.
// It lives for exactly one run, is mutated only by the Window and the
// boundary scanner, and is discarded when the run ends. A resumed run
// constructs a fresh Session seeded with the checkpointed offset and count.
type Session struct {
	Pattern TagPattern

	buf  []byte
	base uint64 // absolute stream offset of buf[0]

	records  uint64 // boundaries yielded so far, absolute numbering
	consumed uint64 // bytes retired from the buffer, including garbage

	// pending defers dropping a yielded record's bytes until the next
	// scan, so the caller's raw slice stays valid across the callback.
	pending int
}

// NewSession creates scan state starting at the given absolute stream
// offset with the given number of records already accounted for. A fresh
// pass uses (pat, 0, 0).
func NewSession(pat TagPattern, startOffset, startRecord uint64) *Session {
	return &Session{
		Pattern: pat,
		base:    startOffset,
		records: startRecord,
	}
}

// Base returns the absolute stream offset of the first buffered byte.
func (s *Session) Base() uint64 { return s.base }

// Records returns how many records this session has yielded, counting from
// the seed value.
func (s *Session) Records() uint64 { return s.records }

// BufferedLen returns the current working-buffer length.
func (s *Session) BufferedLen() int { return s.pendingTrimmedLen() }

func (s *Session) pendingTrimmedLen() int { return len(s.buf) - s.pending }

// append adds a chunk of stream bytes to the working buffer, compacting
// any deferred consumption first.
func (s *Session) append(chunk []byte) {
	s.compact()
	s.buf = append(s.buf, chunk...)
}

// scan yields the next complete record in the buffer, if any. The returned
// slice aliases the working buffer and is valid only until the next scan or
// append call.
func (s *Session) scan() (Boundary, []byte, bool) {
	s.compact()

	start, end, ok := FindNext(s.buf, 0, s.Pattern)
	if !ok {
		return Boundary{}, nil, false
	}

	s.records++
	b := Boundary{
		Number: s.records,
		Start:  s.base + uint64(start),
		End:    s.base + uint64(end),
	}
	raw := s.buf[start:end]
	s.pending = end
	return b, raw, true
}

// compact retires the deferred prefix, sliding the unconsumed remainder to
// the front of the buffer so capacity is reused.
func (s *Session) compact() {
	if s.pending == 0 {
		return
	}
	n := copy(s.buf, s.buf[s.pending:])
	s.buf = s.buf[:n]
	s.base += uint64(s.pending)
	s.consumed += uint64(s.pending)
	s.pending = 0
}

// trimGarbage discards buffered bytes that cannot belong to any record:
// everything before the next potential opening tag, or all but a small tail
// when no opening tag is present (the tail covers a tag straddling the
// chunk boundary). Returns how many bytes were dropped.
func (s *Session) trimGarbage() int {
	s.compact()

	p := nextOpen(s.buf, 0, s.Pattern)
	if p < 0 {
		// Keep enough bytes that an opening tag split across chunks is
		// still recognized once the rest arrives.
		keep := s.Pattern.OpenLen()
		if len(s.buf) <= keep {
			return 0
		}
		p = len(s.buf) - keep
	}
	if p == 0 {
		return 0
	}

	n := copy(s.buf, s.buf[p:])
	s.buf = s.buf[:n]
	s.base += uint64(p)
	s.consumed += uint64(p)
	return p
}

// hasOpenTag reports whether the remaining buffer contains a confirmed
// record opening, or ends partway through one. At end of stream this
// distinguishes trailing container markup from a truncated record,
// including a record cut off inside its opening tag.
func (s *Session) hasOpenTag() bool {
	s.compact()
	if nextOpen(s.buf, 0, s.Pattern) >= 0 {
		return true
	}
	return s.trailingPartialOpen()
}

// trailingPartialOpen reports whether the buffer ends with a leading
// fragment of the record's opening tag. Mid-stream the fragment would
// complete with the next chunk; at end of stream it means the tag itself
// was cut off.
func (s *Session) trailingPartialOpen() bool {
	open := s.Pattern.open
	n := len(open)
	if n > len(s.buf) {
		n = len(s.buf)
	}
	for ; n > 0; n-- {
		if bytes.Equal(s.buf[len(s.buf)-n:], open[:n]) {
			return true
		}
	}
	return false
}
