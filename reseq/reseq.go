package reseq

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mel2oo/go-reseq/gapstring"
	"github.com/mel2oo/go-reseq/gnet"
	"github.com/mel2oo/go-reseq/optionals"
)

// Direction tells which endpoint's bytes an emission carries.
type Direction int

const (
	// Bytes the client sent to the server.
	ClientToServer Direction = 0
	// Bytes the server sent to the client.
	ServerToClient Direction = 1
)

func (d Direction) String() string {
	if d == ClientToServer {
		return "client->server"
	}
	return "server->client"
}

// An Emission is a run of bytes newly committed to one direction of the
// conversation, produced when the opposite endpoint acknowledges them. First
// is the lowest-sequence frame buffered for that direction when the emission
// was made (it need not carry data, nor lie inside the acknowledged range), or
// nil when nothing was buffered.
type Emission struct {
	Dir   Direction
	First *gnet.Frame
	Data  gapstring.GapString
}

// A gap this large between buffered segments usually means capture loss
// worth telling the operator about.
const largeGapThreshold = 6000

// DefaultMaxPending bounds per-direction buffered payload bytes. A peer that
// never acknowledges would otherwise grow the pending map without limit.
const DefaultMaxPending = 64 << 20

type state int

const (
	stateHandshake state = iota
	stateEstablished
	stateDrop
)

// Resequencer reconstructs one bidirectional TCP conversation from frames
// fed in capture order. Out-of-order segments are buffered until
// acknowledged, retransmissions are dropped, and uncaptured ranges surface as
// gaps in the emitted GapStrings.
//
// 32-bit sequence wraparound is not handled: a conversation that carries
// 4 GiB in one direction will resequence incorrectly past the wrap.
type Resequencer struct {
	// BidiID uniquely identifies this conversation. A reused port gets a
	// fresh ID, so two conversations on the same 4-tuple stay distinct.
	BidiID uuid.UUID

	log        *zap.Logger
	maxPending int64

	state     state
	cli, srv  gnet.Endpoint
	first     *gnet.Frame
	key       gnet.FlowKey
	midstream bool

	// Per direction index (0 = from client, 1 = from server):
	pending      [2]map[uint32]*gnet.Frame
	pendingBytes [2]int64
	lastack      [2]uint32
	closed       [2]bool
}

type Option func(*Resequencer)

func WithLogger(log *zap.Logger) Option {
	return func(r *Resequencer) {
		r.log = log
	}
}

// WithMaxPending overrides the per-direction buffered-bytes cap.
func WithMaxPending(n int64) Option {
	return func(r *Resequencer) {
		r.maxPending = n
	}
}

func New(opts ...Option) *Resequencer {
	r := &Resequencer{
		log:        zap.NewNop(),
		maxPending: DefaultMaxPending,
	}
	for _, o := range opts {
		o(r)
	}
	r.reset()
	return r
}

// reset puts the resequencer back in handshake state with a fresh identity.
// Used at construction and on port reuse.
func (r *Resequencer) reset() {
	r.BidiID = uuid.New()
	r.state = stateHandshake
	r.cli, r.srv = gnet.Endpoint{}, gnet.Endpoint{}
	r.first = nil
	r.key = 0
	r.midstream = false
	r.pending = [2]map[uint32]*gnet.Frame{{}, {}}
	r.pendingBytes = [2]int64{}
	r.lastack = [2]uint32{}
	r.closed = [2]bool{}
}

// Midstream reports whether the first observed frame was not part of a
// complete three-way handshake.
func (r *Resequencer) Midstream() bool {
	return r.midstream
}

// Closed reports whether both directions have shut down (FIN both ways, RST,
// or pending overflow).
func (r *Resequencer) Closed() bool {
	return r.closed[0] && r.closed[1]
}

// Client and Server identify the conversation endpoints once known.
func (r *Resequencer) Client() gnet.Endpoint { return r.cli }
func (r *Resequencer) Server() gnet.Endpoint { return r.srv }

// First returns the first frame observed for this conversation.
func (r *Resequencer) First() *gnet.Frame { return r.first }

// Key returns the flow key of the first observed frame.
func (r *Resequencer) Key() gnet.FlowKey { return r.key }

// Handle ingests one TCP frame and possibly produces an emission for the
// opposite direction. Frames for other flows must not be passed in.
func (r *Resequencer) Handle(pkt *gnet.Frame) optionals.Optional[Emission] {
	switch r.state {
	case stateHandshake:
		return r.handleHandshake(pkt)
	case stateEstablished:
		return r.handlePacket(pkt)
	default:
		return r.handleDrop(pkt)
	}
}

func (r *Resequencer) handleHandshake(pkt *gnet.Frame) optionals.Optional[Emission] {
	if r.first == nil {
		r.first = pkt
		r.key = pkt.FlowKey()
	}

	switch pkt.TCP.Flags {
	case gnet.SYN:
		r.cli, r.srv = pkt.Src(), pkt.Dst()
		return optionals.None[Emission]()
	case gnet.SYN | gnet.ACK:
		// The final handshake ACK will move us out of handshake state;
		// this frame is processed in place without the transition.
		r.cli, r.srv = pkt.Dst(), pkt.Src()
		r.lastack = [2]uint32{pkt.TCP.Seq + 1, pkt.TCP.Ack}
		return r.handlePacket(pkt)
	case gnet.ACK:
		if len(pkt.Payload) == 0 {
			r.cli, r.srv = pkt.Src(), pkt.Dst()
			r.lastack = [2]uint32{pkt.TCP.Ack, pkt.TCP.Seq}
			r.state = stateEstablished
			return r.Handle(pkt)
		}
		// A data-carrying ACK as the first frame is not a handshake
		// completion; treat it as a mid-stream start.
		fallthrough
	default:
		// In the middle of a session, do the best we can.
		r.log.Warn("starting mid-stream",
			zap.Stringer("src", pkt.Src()),
			zap.Stringer("dst", pkt.Dst()),
			zap.String("flags", gnet.FlagString(pkt.TCP.Flags)))
		r.midstream = true
		r.cli, r.srv = pkt.Src(), pkt.Dst()
		r.lastack = [2]uint32{pkt.TCP.Ack, pkt.TCP.Seq}
		r.state = stateEstablished
		return r.Handle(pkt)
	}
}

func (r *Resequencer) handlePacket(pkt *gnet.Frame) optionals.Optional[Emission] {
	// Which way is this going? 0 == from client.
	idx := 0
	if pkt.Src() == r.srv {
		idx = 1
	}
	xdi := 1 - idx

	if pkt.TCP.Flags&gnet.RST != 0 {
		// Handle RST before wonky sequence numbers screw up the algorithm.
		r.closed = [2]bool{true, true}
		r.state = stateDrop
		return optionals.Some(r.bundlePending(xdi, pkt, r.lastack[idx]))
	}

	if old, dup := r.pending[idx][pkt.TCP.Seq]; dup {
		r.pendingBytes[idx] -= int64(len(old.Payload))
	}
	r.pendingBytes[idx] += int64(len(pkt.Payload))
	r.pending[idx][pkt.TCP.Seq] = pkt

	if r.pendingBytes[idx] > r.maxPending {
		r.log.Warn("pending buffer overflow, dropping flow",
			zap.Stringer("src", pkt.Src()),
			zap.Stringer("dst", pkt.Dst()),
			zap.Int64("buffered", r.pendingBytes[idx]),
			zap.Int64("max", r.maxPending))
		r.closed = [2]bool{true, true}
		r.state = stateDrop
		r.pending = [2]map[uint32]*gnet.Frame{{}, {}}
		r.pendingBytes = [2]int64{}
		return optionals.None[Emission]()
	}

	// Does this ACK past the last output sequence number?
	seq := r.lastack[idx]
	r.lastack[idx] = pkt.TCP.Ack
	if pkt.TCP.Ack > seq {
		return optionals.Some(r.bundlePending(xdi, pkt, seq))
	}
	return optionals.None[Emission]()
}

func (r *Resequencer) handleDrop(pkt *gnet.Frame) optionals.Optional[Emission] {
	if pkt.TCP.Flags&gnet.SYN != 0 {
		// Port reuse: same 4-tuple, new conversation.
		r.reset()
		return r.Handle(pkt)
	}

	if len(pkt.Payload) > 0 {
		r.log.Warn("spurious frame after shutdown",
			zap.String("frame", pkt.String()),
			zap.String("flags", gnet.FlagString(pkt.TCP.Flags)))
	}
	return optionals.None[Emission]()
}

// bundlePending drains direction xdi's buffered frames up to pkt's
// acknowledgement number, starting from output position seq. Holes between
// buffered segments and at the end become gaps.
func (r *Resequencer) bundlePending(xdi int, pkt *gnet.Frame, seq uint32) Emission {
	pending := r.pending[xdi]

	keys := maps.Keys(pending)
	slices.Sort(keys)

	em := Emission{Dir: Direction(xdi)}
	if len(keys) > 0 {
		em.First = pending[keys[0]]
	}

	for _, key := range keys {
		if key >= pkt.TCP.Ack {
			// In the future.
			break
		}
		frame := pending[key]
		if key > seq {
			// Dropped frame(s).
			if int64(key-seq) > largeGapThreshold {
				r.log.Warn("large gap in stream",
					zap.Stringer("dir", Direction(xdi)),
					zap.Uint32("missing", key-seq))
			}
			em.Data.AppendGap(int64(key - seq))
			seq = key
		}
		if key == seq {
			em.Data.Append(frame.Payload)
			seq += uint32(len(frame.Payload))
			r.pendingBytes[xdi] -= int64(len(frame.Payload))
			delete(pending, key)
		} else if key < seq {
			// Hopefully just a retransmit. Anyway we've already claimed to
			// have data (or a drop) for this range.
			r.pendingBytes[xdi] -= int64(len(frame.Payload))
			delete(pending, key)
		}
		if frame.TCP.Flags&gnet.FIN != 0 {
			seq++
		}
		if frame.TCP.Flags&(gnet.FIN|gnet.ACK) == gnet.FIN|gnet.ACK {
			r.closed[xdi] = true
			if r.closed[0] && r.closed[1] {
				r.state = stateDrop
			}
		}
	}

	if seq != pkt.TCP.Ack {
		// Drop at the end. A reset can carry an acknowledgement number
		// behind seq; that produces no gap.
		if pkt.TCP.Ack > seq {
			if int64(pkt.TCP.Ack-seq) > largeGapThreshold {
				r.log.Warn("large gap at end of stream",
					zap.Stringer("dir", Direction(xdi)),
					zap.String("frame", pkt.String()),
					zap.Uint32("missing", pkt.TCP.Ack-seq))
			}
			em.Data.AppendGap(int64(pkt.TCP.Ack - seq))
		}
	}

	return em
}
