package dissect

import (
	"fmt"
	"io"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mel2oo/go-reseq/gapstring"
	"github.com/mel2oo/go-reseq/gnet"
)

// NoOpcode marks a message that carries no opcode; such messages skip
// handler dispatch.
const NoOpcode = -1

// A Message is one application-layer protocol message recovered from a
// conversation. The scaffold fills Opcode and Payload; opcode handlers
// populate Params and Subpackets as the protocol gets reverse-engineered.
type Message struct {
	Proto      string
	Opcode     int
	OpcodeDesc string
	Params     map[string]interface{}
	Payload    gapstring.GapString
	Subpackets []*Message

	// The frame that began this message, for addressing and timing.
	First *gnet.Frame
}

// Set records a named field decoded from the message.
func (m *Message) Set(key string, value interface{}) {
	if m.Params == nil {
		m.Params = make(map[string]interface{})
	}
	m.Params[key] = value
}

// Get returns a named field, or nil.
func (m *Message) Get(key string) interface{} {
	return m.Params[key]
}

// Show writes a human-readable dump: header line, addressing, params in key
// order, then subpackets or a payload hexdump.
func (m *Message) Show(w io.Writer) {
	fmt.Fprintf(w, "%s %3d: %s\n", m.Proto, m.Opcode, m.OpcodeDesc)
	if m.First != nil {
		fmt.Fprintf(w, "    %s -> %s (%s)\n",
			m.First.Src(), m.First.Dst(),
			m.First.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"))
	}

	keys := maps.Keys(m.Params)
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %12s: %v\n", k, m.Params[k])
	}

	if len(m.Subpackets) > 0 {
		for _, sub := range m.Subpackets {
			sub.Show(w)
		}
	} else if m.Payload.Len() > 0 {
		m.Payload.HexDump(w)
	}
}

// SplitFunc consumes exactly one message from the head of data. It returns
// the parsed message and the bytes that belong to subsequent messages, or
// ErrNeedMoreData when data is an incomplete prefix (the session re-buffers
// data verbatim in that case).
type SplitFunc func(first *gnet.Frame, data gapstring.GapString) (*Message, gapstring.GapString, error)

// A Codec describes one binary protocol: how to split the reassembled byte
// stream into messages, and a handler per opcode. The handler's description
// doubles as the message's OpcodeDesc.
type Codec struct {
	name     string
	split    SplitFunc
	handlers map[int]opcodeHandler
}

type opcodeHandler struct {
	desc string
	fn   func(*Message) error
}

// NewCodec builds a codec. A nil split takes each burst whole: the entire
// buffer becomes one message's payload with no opcode.
func NewCodec(name string, split SplitFunc) *Codec {
	if split == nil {
		split = rawSplit
	}
	return &Codec{
		name:     name,
		split:    split,
		handlers: make(map[int]opcodeHandler),
	}
}

func rawSplit(first *gnet.Frame, data gapstring.GapString) (*Message, gapstring.GapString, error) {
	return &Message{
		Opcode:  NoOpcode,
		Payload: data,
		First:   first,
	}, gapstring.GapString{}, nil
}

func (c *Codec) Name() string {
	return c.name
}

// Register installs the handler for one opcode. desc becomes the
// OpcodeDesc of matching messages.
func (c *Codec) Register(opcode int, desc string, fn func(*Message) error) {
	c.handlers[opcode] = opcodeHandler{desc: desc, fn: fn}
}

// handleOne splits one message off data and dispatches its opcode handler.
func (c *Codec) handleOne(first *gnet.Frame, data gapstring.GapString) (*Message, gapstring.GapString, error) {
	m, rest, err := c.split(first, data)
	if err != nil {
		return nil, data, err
	}
	m.Proto = c.name

	if m.Opcode != NoOpcode {
		h, ok := c.handlers[m.Opcode]
		if !ok {
			return nil, data, &UnknownOpcodeError{Codec: c.name, Opcode: m.Opcode}
		}
		if m.OpcodeDesc == "" {
			m.OpcodeDesc = h.desc
		}
		if h.fn != nil {
			if err := h.fn(m); err != nil {
				return nil, data, err
			}
		}
	}
	return m, rest, nil
}
