package xmlscan

import "bytes"

// Boundary is the [Start, End) byte range of one complete record, in
// absolute stream offsets, together with its ordinal position in the
// document. Boundaries are transient scan output and are never persisted.
type Boundary struct {
	Number uint64
	Start  uint64
	End    uint64
}

// FindNext locates the next complete record in buf at or after from and
// returns its buffer-relative [start, end) range. ok is false when the
// buffer holds no complete record: either no opening tag is present at all,
// or a record has opened but its matching close is beyond the end of buf.
// In both cases the caller should append more bytes and retry; a record is
// never emitted partially.
//
// Matching is exact on the qualified name: the opening pattern must be
// followed by whitespace, '>' or '/', so "<Record" does not match
// "<RecordIdentifier". Occurrences of the record's own tag nested inside a
// record are handled by depth counting, and self-closing occurrences leave
// the depth unchanged.
func FindNext(buf []byte, from int, pat TagPattern) (start, end int, ok bool) {
	start = nextOpen(buf, from, pat)
	if start < 0 {
		return 0, 0, false
	}

	depth := 0
	i := start
	for i < len(buf) {
		j := bytes.IndexByte(buf[i:], '<')
		if j < 0 {
			break
		}
		i += j

		if openAt(buf, i, pat) {
			gt := bytes.IndexByte(buf[i:], '>')
			if gt < 0 {
				// Opening tag truncated by the buffer edge.
				return 0, 0, false
			}
			gt += i
			if buf[gt-1] == '/' {
				// Self-closing: a whole record when it is the record
				// itself, a no-op for nested occurrences.
				if depth == 0 {
					return start, gt + 1, true
				}
			} else {
				depth++
			}
			i = gt + 1
			continue
		}

		if bytes.HasPrefix(buf[i:], pat.close) {
			depth--
			e := i + len(pat.close)
			if depth == 0 {
				return start, e, true
			}
			i = e
			continue
		}

		i++
	}

	return 0, 0, false
}

// nextOpen returns the index of the next opening tag of pat at or after
// from, or -1. A candidate only counts when the name is terminated by a
// legal delimiter; a pattern sitting flush against the end of buf is
// rejected because the delimiter byte has not arrived yet.
func nextOpen(buf []byte, from int, pat TagPattern) int {
	i := from
	for {
		j := bytes.Index(buf[i:], pat.open)
		if j < 0 {
			return -1
		}
		i += j
		if openAt(buf, i, pat) {
			return i
		}
		i++
	}
}

// openAt reports whether an opening tag of pat starts exactly at i.
func openAt(buf []byte, i int, pat TagPattern) bool {
	if !bytes.HasPrefix(buf[i:], pat.open) {
		return false
	}
	d := i + len(pat.open)
	return d < len(buf) && isTagDelim(buf[d])
}
