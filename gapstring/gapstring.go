package gapstring

// GapString represents a byte stream reassembled from capture data in which
// some ranges were never observed. Conceptually it is a []byte where any
// position may instead be "missing": the length of a missing range is known
// (from sequence-number arithmetic) but its contents are not.
//
// Internally a GapString is an ordered list of segments, each either a view
// on a byte slice or a gap of a given length. Appending byte data does NOT
// copy it, so the caller must ensure the underlying memory stays valid and
// unmodified. Copying a GapString or passing it by value is cheap, like
// copying a slice.
//
// The zero value is an empty GapString ready to use.
type GapString struct {
	seg    []segment
	length int64
}

// A segment is a run of present bytes (data != nil) or a gap of gap bytes.
type segment struct {
	data []byte
	gap  int64
}

func (s segment) len() int64 {
	if s.data != nil {
		return int64(len(s.data))
	}
	return s.gap
}

// New returns a GapString viewing data, without copying it.
func New(data []byte) GapString {
	if len(data) == 0 {
		return GapString{}
	}
	return GapString{
		seg:    []segment{{data: data}},
		length: int64(len(data)),
	}
}

// Gap returns a GapString consisting of a single gap of n bytes.
func Gap(n int64) GapString {
	if n <= 0 {
		return GapString{}
	}
	return GapString{
		seg:    []segment{{gap: n}},
		length: n,
	}
}

// Append adds a run of present bytes to the end. The data is not copied.
func (g *GapString) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	g.seg = append(g.seg, segment{data: data})
	g.length += int64(len(data))
}

// AppendGap adds n missing bytes to the end. Adjacent gaps are merged.
// n <= 0 is a no-op.
func (g *GapString) AppendGap(n int64) {
	if n <= 0 {
		return
	}
	if last := len(g.seg) - 1; last >= 0 && g.seg[last].data == nil {
		g.seg[last].gap += n
	} else {
		g.seg = append(g.seg, segment{gap: n})
	}
	g.length += n
}

// Extend appends all of other's segments to g.
func (g *GapString) Extend(other GapString) {
	for _, s := range other.seg {
		if s.data != nil {
			g.Append(s.data)
		} else {
			g.AppendGap(s.gap)
		}
	}
}

// Len returns the total length, present and missing bytes both counted.
func (g GapString) Len() int64 {
	return g.length
}

// GapLen returns the number of missing bytes.
func (g GapString) GapLen() int64 {
	var n int64
	for _, s := range g.seg {
		if s.data == nil {
			n += s.gap
		}
	}
	return n
}

// At returns the byte at index i. ok is false if i is out of range or falls
// inside a gap.
func (g GapString) At(i int64) (b byte, ok bool) {
	if i < 0 {
		return 0, false
	}
	for _, s := range g.seg {
		l := s.len()
		if i < l {
			if s.data == nil {
				return 0, false
			}
			return s.data[i], true
		}
		i -= l
	}
	return 0, false
}

// Slice returns g[start:end) (end not inclusive). Segments are split as
// needed; gap spans keep their length. An invalid range yields an empty
// GapString.
func (g GapString) Slice(start, end int64) GapString {
	if start < 0 || start >= end || start >= g.length {
		return GapString{}
	}
	if end > g.length {
		end = g.length
	}

	var out GapString
	pos := int64(0)
	for _, s := range g.seg {
		l := s.len()
		if pos+l <= start {
			pos += l
			continue
		}
		if pos >= end {
			break
		}
		from := int64(0)
		if start > pos {
			from = start - pos
		}
		to := l
		if end < pos+l {
			to = end - pos
		}
		if s.data != nil {
			out.Append(s.data[from:to])
		} else {
			out.AppendGap(to - from)
		}
		pos += l
	}
	return out
}

// Truncate returns the first n bytes. n at or past the end returns the whole
// GapString.
func (g GapString) Truncate(n int64) GapString {
	if n >= g.length {
		return g
	}
	return g.Slice(0, n)
}

// Bytes renders the whole GapString as a copy, substituting fill for each
// missing byte.
func (g GapString) Bytes(fill byte) []byte {
	out := make([]byte, 0, g.length)
	for _, s := range g.seg {
		if s.data != nil {
			out = append(out, s.data...)
		} else {
			for i := int64(0); i < s.gap; i++ {
				out = append(out, fill)
			}
		}
	}
	return out
}

// String renders the GapString with '?' standing in for missing bytes.
func (g GapString) String() string {
	return string(g.Bytes('?'))
}

// Equal reports whether two GapStrings describe the same byte stream. Segment
// boundaries do not matter; only the sequence of (value, present) pairs does.
func (g GapString) Equal(other GapString) bool {
	if g.length != other.length {
		return false
	}
	for i := int64(0); i < g.length; i++ {
		a, aok := g.At(i)
		b, bok := other.At(i)
		if aok != bok || a != b {
			return false
		}
	}
	return true
}
