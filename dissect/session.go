package dissect

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mel2oo/go-reseq/capture"
	"github.com/mel2oo/go-reseq/gapstring"
	"github.com/mel2oo/go-reseq/gnet"
)

// Session accumulates one flow's emissions and carves them into protocol
// messages with its codec. A partial message at the end of one burst is
// buffered, keyed by the sending address, and completed by the next burst in
// the same direction.
type Session struct {
	ID uuid.UUID

	// Process is invoked for every completed message. The default shows the
	// message on stdout; protocol work replaces it.
	Process func(*Message)

	// OnDone, if set, runs when the session is closed.
	OnDone func()

	codec *Codec
	log   *zap.Logger

	first   *gnet.Frame
	last    [2]*gnet.Frame // per direction, 1 = from server
	pending map[uint32]*pendingData
	count   int
	lastPos capture.SourcePos

	srcDir, dstDir string
	files          []*os.File
}

type pendingData struct {
	first *gnet.Frame
	data  gapstring.GapString
}

type SessionOption func(*Session)

func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// WithOutputRoot overrides the TRANSFERS-derived root for this session's
// extracted files.
func WithOutputRoot(root string) SessionOption {
	return func(s *Session) {
		s.srcDir = filepath.Join(root, s.first.Src().IP().String())
		s.dstDir = filepath.Join(root, s.first.Dst().IP().String())
	}
}

// NewSession creates a session for the flow that frame begins. The per-host
// output directories are created up front.
func NewSession(codec *Codec, frame *gnet.Frame, opts ...SessionOption) (*Session, error) {
	root := TransfersRoot()
	s := &Session{
		ID:      uuid.New(),
		codec:   codec,
		log:     zap.NewNop(),
		first:   frame,
		pending: make(map[uint32]*pendingData),
		srcDir:  filepath.Join(root, frame.Src().IP().String()),
		dstDir:  filepath.Join(root, frame.Dst().IP().String()),
	}
	for _, o := range opts {
		o(s)
	}
	s.Process = func(m *Message) {
		m.Show(os.Stdout)
	}

	for _, d := range []string{s.srcDir, s.dstDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create output dir %s", d)
		}
	}
	return s, nil
}

// Handle ingests one data burst. frame may be nil when the burst is all
// drops; the direction's previous frame then stands in for it.
func (s *Session) Handle(isServer bool, frame *gnet.Frame, gs gapstring.GapString, pos capture.SourcePos) error {
	idx := 0
	if isServer {
		idx = 1
	}
	if frame != nil {
		s.last[idx] = frame
	}
	frame = s.last[idx]
	s.lastPos = pos
	if frame == nil {
		return errors.Errorf("data burst with no attributable frame (near %s:::%d)",
			pos.File, pos.Offset)
	}

	saddr := frame.Src().Addr
	p := s.pending[saddr]
	if p == nil {
		p = &pendingData{first: frame}
	} else {
		delete(s.pending, saddr)
	}
	p.data.Extend(gs)

	for p.data.Len() > 0 {
		m, rest, err := s.codec.handleOne(p.first, p.data)
		if errors.Is(err, ErrNeedMoreData) {
			s.pending[saddr] = p
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "dissect near %s:::%d", pos.File, pos.Offset)
		}
		s.Process(m)
		p.data = rest
	}
	s.count++
	return nil
}

// Drained reports whether no partial message is buffered in either
// direction.
func (s *Session) Drained() bool {
	for _, p := range s.pending {
		if p.data.Len() > 0 {
			return false
		}
	}
	return true
}

// MessageCount returns the number of completed bursts handled.
func (s *Session) MessageCount() int {
	return s.count
}

// LastPos reports where in the source captures the session last consumed
// data, for resuming or debugging a dissector.
func (s *Session) LastPos() capture.SourcePos {
	return s.lastPos
}

// OpenOut creates an output file for content extracted from this session,
// named after the flow endpoints, under the source host's directory with a
// hard link under the destination host's. The file is closed by Close.
func (s *Session) OpenOut(name string) (*os.File, error) {
	frame := s.first
	fn := fmt.Sprintf("%d-%s~%d-%s~%d---%s",
		frame.Timestamp.Unix(),
		frame.Src().IP(), frame.Src().Port,
		frame.Dst().IP(), frame.Dst().Port,
		url.PathEscape(name))

	full := filepath.Join(s.srcDir, fn)
	linked := filepath.Join(s.dstDir, fn)

	f, err := os.Create(full)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", full)
	}

	// Replace any stale link from an earlier run.
	os.Remove(linked)
	if err := os.Link(full, linked); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to link %s", linked)
	}

	s.log.Info("writing transfer", zap.String("file", fn))
	s.files = append(s.files, f)
	return f, nil
}

// Close runs the OnDone hook and releases every file OpenOut produced.
func (s *Session) Close() error {
	if s.OnDone != nil {
		s.OnDone()
	}
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	return firstErr
}
