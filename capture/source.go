package capture

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// ErrExhausted reports the end of a capture source. It marks normal
// completion, not a failure.
var ErrExhausted = errors.New("capture exhausted")

// SourcePos names a byte position in a capture file, usable to resume a
// later run from the same place via the "path:::offset" source syntax.
type SourcePos struct {
	File   string
	Offset int64
}

// ParseSourceSpec splits a capture source spec. The syntax is "<path>" or
// "<path>:::<byte_offset>" to resume partway through a file.
func ParseSourceSpec(spec string) (path string, offset int64, err error) {
	parts := strings.SplitN(spec, ":::", 2)
	path = parts[0]
	if len(parts) == 2 {
		offset, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return "", 0, errors.Wrapf(err, "bad offset in source spec %q", spec)
		}
	}
	return path, offset, nil
}

// Source is a pull-based reader over one pcap file. It owns its file
// descriptor.
type Source struct {
	path string
	f    *os.File
	r    *pcapgo.Reader
}

// Open opens a capture source spec. When the spec carries an offset, reading
// resumes from that absolute byte position, after the pcap global header has
// been consumed.
func Open(spec string) (*Source, error) {
	path, offset, err := ParseSourceSpec(spec)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open capture %s", path)
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to read pcap header of %s", path)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "failed to seek %s to %d", path, offset)
		}
	}

	return &Source{path: path, f: f, r: r}, nil
}

func (s *Source) Path() string {
	return s.path
}

// Pos reports the current byte offset, taken before the next record so that
// "path:::offset" resumes at that record.
func (s *Source) Pos() SourcePos {
	off, err := s.f.Seek(0, io.SeekCurrent)
	if err != nil {
		off = -1
	}
	return SourcePos{File: s.path, Offset: off}
}

// Read returns the next raw capture record. ErrExhausted at end of file;
// other errors are real I/O or format failures and end the source.
func (s *Source) Read() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.r.ReadPacketData()
	if err == io.EOF {
		return nil, gopacket.CaptureInfo{}, ErrExhausted
	}
	if err != nil {
		return nil, gopacket.CaptureInfo{}, errors.Wrapf(err, "read %s", s.path)
	}
	return data, ci, nil
}

func (s *Source) Close() error {
	return s.f.Close()
}
