// Package xmlscan implements chunked boundary scanning over very large
// XML-like documents: it frames complete record elements out of a stream
// read in bounded-size windows, without ever holding the whole document
// in memory.
package xmlscan

import "bytes"

// DefaultHeadSize is how many leading bytes of a source are inspected when
// deriving the record element's qualified tag form.
const DefaultHeadSize = 8 * 1024

// TagPattern holds the exact byte patterns the boundary scanner matches
// against for one record element. It is derived once per session from the
// document head and passed into the scanner as configuration.
type TagPattern struct {
	// Local is the record element's local name, e.g. "Record".
	Local string

	// Prefix is the namespace prefix qualifying the record element,
	// empty when the document uses the unprefixed form.
	Prefix string

	open  []byte // "<Prefix:Local" or "<Local"
	close []byte // "</Prefix:Local>" or "</Local>"
}

// NewTagPattern builds the pattern for a local name and optional prefix.
func NewTagPattern(local, prefix string) TagPattern {
	qualified := local
	if prefix != "" {
		qualified = prefix + ":" + local
	}
	return TagPattern{
		Local:  local,
		Prefix: prefix,
		open:   []byte("<" + qualified),
		close:  []byte("</" + qualified + ">"),
	}
}

// Qualified returns the tag name as it appears in the document.
func (p TagPattern) Qualified() string {
	if p.Prefix == "" {
		return p.Local
	}
	return p.Prefix + ":" + p.Local
}

// OpenLen returns the length of the opening-tag prefix pattern. The buffer
// manager uses it to size the tail it must retain when a tag may straddle
// a chunk boundary.
func (p TagPattern) OpenLen() int { return len(p.open) }

// DetectPattern inspects a bounded prefix of the document for the first
// occurrence of the record element and returns the tag pattern to match,
// qualified with whatever namespace prefix that occurrence carries. When
// the head holds no occurrence (a long header can push the first record
// past it), the prefix is taken from the container element instead: its
// own qualified name, or the first xmlns: binding it declares.
func DetectPattern(head []byte, local string) TagPattern {
	name := []byte(local)

	for i := 0; i+1 < len(head); {
		j := bytes.IndexByte(head[i:], '<')
		if j < 0 {
			break
		}
		i += j + 1
		if i >= len(head) {
			break
		}

		// Skip closing tags, declarations, comments and PIs.
		switch head[i] {
		case '/', '!', '?':
			continue
		}

		// Read the element name.
		nameEnd := i
		for nameEnd < len(head) && isNameByte(head[nameEnd]) {
			nameEnd++
		}
		if nameEnd >= len(head) || !isTagDelim(head[nameEnd]) {
			continue
		}
		elem := head[i:nameEnd]

		if bytes.Equal(elem, name) {
			return NewTagPattern(local, "")
		}
		if k := bytes.LastIndexByte(elem, ':'); k > 0 && bytes.Equal(elem[k+1:], name) {
			return NewTagPattern(local, string(elem[:k]))
		}
	}

	return NewTagPattern(local, containerPrefix(head))
}

// containerPrefix derives the namespace prefix bound on the first element
// in head. A prefix on the element name itself wins; otherwise the first
// xmlns: declaration in its attribute list is used. Returns "" when the
// container is unprefixed and declares no prefixed namespace.
func containerPrefix(head []byte) string {
	for i := 0; i+1 < len(head); {
		j := bytes.IndexByte(head[i:], '<')
		if j < 0 {
			return ""
		}
		i += j + 1
		if i >= len(head) {
			return ""
		}
		switch head[i] {
		case '/', '!', '?':
			continue
		}

		nameEnd := i
		for nameEnd < len(head) && isNameByte(head[nameEnd]) {
			nameEnd++
		}
		if nameEnd >= len(head) || !isTagDelim(head[nameEnd]) {
			continue
		}
		elem := head[i:nameEnd]
		if k := bytes.LastIndexByte(elem, ':'); k > 0 {
			return string(elem[:k])
		}

		gt := bytes.IndexByte(head[nameEnd:], '>')
		if gt < 0 {
			return ""
		}
		return declaredPrefix(head[nameEnd : nameEnd+gt])
	}
	return ""
}

// declaredPrefix extracts the prefix of the first xmlns:<p>= declaration
// in an element's attribute region.
func declaredPrefix(attrs []byte) string {
	decl := []byte("xmlns:")
	for off := 0; off < len(attrs); {
		k := bytes.Index(attrs[off:], decl)
		if k < 0 {
			return ""
		}
		p := off + k + len(decl)
		pEnd := p
		for pEnd < len(attrs) && attrs[pEnd] != ':' && isNameByte(attrs[pEnd]) {
			pEnd++
		}
		if pEnd > p && pEnd < len(attrs) && attrs[pEnd] == '=' {
			return string(attrs[p:pEnd])
		}
		off = pEnd + 1
	}
	return ""
}

// isNameByte reports whether b can appear inside an element name. Colons
// are included so qualified names are read as one token.
func isNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == ':', b == '_', b == '-', b == '.':
		return true
	}
	return false
}

// isTagDelim reports whether b legally terminates an element name inside
// a tag: whitespace before attributes, '>' closing the tag, or '/' of a
// self-closing tag.
func isTagDelim(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}
