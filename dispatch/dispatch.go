package dispatch

import (
	"container/heap"
	"context"

	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mel2oo/go-reseq/capture"
	"github.com/mel2oo/go-reseq/gnet"
	"github.com/mel2oo/go-reseq/reseq"
	"github.com/mel2oo/go-reseq/slices"
)

// A Conversation is one resequencer emission routed back to the caller, with
// enough context to identify the flow and to resume the capture later.
type Conversation struct {
	Key      gnet.FlowKey
	BidiID   uuid.UUID
	Emission reseq.Emission

	// Closed is set once both directions of the flow have shut down.
	Closed bool

	// Pos is the position of the frame that produced this emission, in
	// "path:::offset" terms.
	Pos capture.SourcePos
}

// Dispatcher merges any number of capture sources into a single
// timestamp-ordered frame stream and routes TCP frames to per-flow
// resequencers. It owns its sources and the flow table; flows live until the
// dispatcher is closed.
type Dispatcher struct {
	log     *zap.Logger
	onFrame func(*gnet.Frame)
	resOpts []reseq.Option

	sources []*sourceState
	heap    frameHeap
	flows   map[gnet.FlowKey]*reseq.Resequencer
}

type sourceState struct {
	src   *capture.Source
	order int // insertion order, breaks timestamp ties
	dead  bool
}

type Option func(*Dispatcher)

func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithFrameCallback delivers every decoded non-TCP frame (and TCP frames
// too, ahead of resequencing) to fn. Dissection of other protocols hangs off
// this hook.
func WithFrameCallback(fn func(*gnet.Frame)) Option {
	return func(d *Dispatcher) {
		d.onFrame = fn
	}
}

// WithResequencerOptions forwards options to every flow's resequencer.
func WithResequencerOptions(opts ...reseq.Option) Option {
	return func(d *Dispatcher) {
		d.resOpts = append(d.resOpts, opts...)
	}
}

// New opens every source spec and primes the merge heap. On error all
// already-opened sources are closed.
func New(specs []string, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		log:   zap.NewNop(),
		flows: make(map[gnet.FlowKey]*reseq.Resequencer),
	}
	for _, o := range opts {
		o(d)
	}

	for _, spec := range specs {
		if err := d.AddSource(spec); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// AddSource opens one more capture source and schedules its first frame.
func (d *Dispatcher) AddSource(spec string) error {
	src, err := capture.Open(spec)
	if err != nil {
		return err
	}
	st := &sourceState{src: src, order: len(d.sources)}
	d.sources = append(d.sources, st)
	d.refill(st)
	return nil
}

// Sources lists the paths of the merged captures, in insertion order.
func (d *Dispatcher) Sources() []string {
	return slices.Map(d.sources, func(st *sourceState) string {
		return st.src.Path()
	})
}

// refill reads the next record from st and pushes it onto the heap. Reader
// errors end the source but not the dispatcher.
func (d *Dispatcher) refill(st *sourceState) {
	if st.dead {
		return
	}
	pos := st.src.Pos()
	data, ci, err := st.src.Read()
	if err != nil {
		st.dead = true
		if !errors.Is(err, capture.ErrExhausted) {
			d.log.Warn("capture source failed",
				zap.String("source", st.src.Path()),
				zap.Error(err))
		}
		return
	}
	heap.Push(&d.heap, &heapEntry{ci: ci, data: data, pos: pos, st: st})
}

// Next returns the next conversation emission across all sources, in
// capture-timestamp order. It returns capture.ErrExhausted once every source
// has drained, and ctx.Err() if the context ends between frames.
func (d *Dispatcher) Next(ctx context.Context) (Conversation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Conversation{}, err
		}
		if d.heap.Len() == 0 {
			return Conversation{}, capture.ErrExhausted
		}

		e := heap.Pop(&d.heap).(*heapEntry)
		d.refill(e.st)

		frame, err := gnet.DecodeFrame(e.ci, e.data)
		if err != nil {
			// Skip the frame, keep the merge going.
			d.log.Warn("skipping frame",
				zap.String("source", e.st.src.Path()),
				zap.Error(err))
			continue
		}

		if d.onFrame != nil {
			d.onFrame(frame)
		}
		if !frame.IsTCP() {
			continue
		}

		key := frame.FlowKey()
		res := d.flows[key]
		if res == nil {
			res = reseq.New(append([]reseq.Option{reseq.WithLogger(d.log)}, d.resOpts...)...)
			d.flows[key] = res
		}

		if em, ok := res.Handle(frame).Get(); ok {
			return Conversation{
				Key:      key,
				BidiID:   res.BidiID,
				Emission: em,
				Closed:   res.Closed(),
				Pos:      e.pos,
			}, nil
		}
	}
}

// Close releases all sources. The flow table is dropped with the dispatcher.
func (d *Dispatcher) Close() error {
	var firstErr error
	for _, st := range d.sources {
		if err := st.src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.sources = nil
	return firstErr
}

// frameHeap orders buffered frames by capture timestamp, ties broken by
// source insertion order so the merge is stable.
type frameHeap []*heapEntry

type heapEntry struct {
	ci   gopacket.CaptureInfo
	data []byte
	pos  capture.SourcePos
	st   *sourceState
}

func (h frameHeap) Len() int { return len(h) }

func (h frameHeap) Less(i, j int) bool {
	ti, tj := h[i].ci.Timestamp, h[j].ci.Timestamp
	if ti.Equal(tj) {
		return h[i].st.order < h[j].st.order
	}
	return ti.Before(tj)
}

func (h frameHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frameHeap) Push(x interface{}) {
	*h = append(*h, x.(*heapEntry))
}

func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
