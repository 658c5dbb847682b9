package gapstring

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrGap is returned by Reader methods when the requested bytes fall inside a
// missing range. The reader position is unchanged, so the caller can Skip past
// the hole or give up on the record.
var ErrGap = errors.New("gapstring: read crosses missing bytes")

// Reader provides sequential binary reads over a GapString, for writing
// protocol parsers directly against reassembled capture data. All multi-byte
// reads are big-endian, matching network order.
type Reader struct {
	g   GapString
	pos int64
}

// CreateReader returns a Reader positioned at the start of g.
func (g GapString) CreateReader() *Reader {
	return &Reader{g: g}
}

// Pos returns the current read position.
func (r *Reader) Pos() int64 {
	return r.pos
}

// Remaining returns the number of unread bytes, gaps included.
func (r *Reader) Remaining() int64 {
	return r.g.Len() - r.pos
}

// Skip advances past n bytes without inspecting them. Skipping may cross
// gaps. Skipping past the end leaves the reader at the end.
func (r *Reader) Skip(n int64) {
	r.pos += n
	if r.pos > r.g.Len() {
		r.pos = r.g.Len()
	}
	if r.pos < 0 {
		r.pos = 0
	}
}

// ReadByte returns the next byte. io.EOF at the end of data, ErrGap if the
// byte is missing.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= r.g.Len() {
		return 0, io.EOF
	}
	b, ok := r.g.At(r.pos)
	if !ok {
		return 0, ErrGap
	}
	r.pos++
	return b, nil
}

// Read fills out with the next len(out) bytes. A short read at the end of
// data returns io.EOF; a read touching any missing byte returns ErrGap and
// consumes nothing.
func (r *Reader) Read(out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	want := int64(len(out))
	if r.pos+want > r.g.Len() {
		return 0, io.EOF
	}
	sub := r.g.Slice(r.pos, r.pos+want)
	if sub.GapLen() > 0 {
		return 0, ErrGap
	}
	copy(out, sub.Bytes(0))
	r.pos += want
	return int(want), nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if _, err := r.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := r.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadString reads a string of the given length.
func (r *Reader) ReadString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadGapString reads the next n bytes as a GapString, gaps preserved.
// Returns io.EOF without consuming anything if fewer than n bytes remain.
func (r *Reader) ReadGapString(n int64) (GapString, error) {
	if n < 0 || r.pos+n > r.g.Len() {
		return GapString{}, io.EOF
	}
	sub := r.g.Slice(r.pos, r.pos+n)
	r.pos += n
	return sub, nil
}

// Rest returns everything from the current position to the end and advances
// the reader to the end.
func (r *Reader) Rest() GapString {
	sub := r.g.Slice(r.pos, r.g.Len())
	r.pos = r.g.Len()
	return sub
}
