package dissect

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mel2oo/go-reseq/dispatch"
	"github.com/mel2oo/go-reseq/gnet"
	"github.com/mel2oo/go-reseq/reseq"
)

// Table routes dispatcher conversations to per-flow sessions. Sessions are
// created on a flow's first emission and torn down once both directions have
// closed and no partial message remains buffered.
type Table struct {
	codec *Codec
	log   *zap.Logger
	opts  []SessionOption

	// NewSession, if set, replaces the default session construction so
	// callers can install Process/OnDone hooks.
	NewSession func(*gnet.Frame) (*Session, error)

	sessions map[gnet.FlowKey]*Session
}

func NewTable(codec *Codec, log *zap.Logger, opts ...SessionOption) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{
		codec:    codec,
		log:      log,
		opts:     opts,
		sessions: make(map[gnet.FlowKey]*Session),
	}
}

// Handle feeds one conversation emission to its session.
func (t *Table) Handle(conv dispatch.Conversation) error {
	s := t.sessions[conv.Key]
	if s == nil {
		first := conv.Emission.First
		if first == nil {
			// An all-drops emission before any attributable frame; nothing
			// to key a session on yet.
			t.log.Warn("dropping unattributable emission",
				zap.Uint32("flow", uint32(conv.Key)),
				zap.Int64("bytes", conv.Emission.Data.Len()))
			return nil
		}
		var err error
		if t.NewSession != nil {
			s, err = t.NewSession(first)
		} else {
			s, err = NewSession(t.codec, first, append([]SessionOption{WithSessionLogger(t.log)}, t.opts...)...)
		}
		if err != nil {
			return errors.Wrap(err, "failed to create session")
		}
		t.sessions[conv.Key] = s
	}

	isServer := conv.Emission.Dir == reseq.ServerToClient
	if err := s.Handle(isServer, conv.Emission.First, conv.Emission.Data, conv.Pos); err != nil {
		return err
	}

	if conv.Closed && s.Drained() {
		delete(t.sessions, conv.Key)
		return s.Close()
	}
	return nil
}

// Close tears down every remaining session, for use once the dispatcher is
// exhausted.
func (t *Table) Close() error {
	var firstErr error
	for key, s := range t.sessions {
		delete(t.sessions, key)
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
