package dissect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mel2oo/go-reseq/capture"
	"github.com/mel2oo/go-reseq/gapstring"
	"github.com/mel2oo/go-reseq/gnet"
)

var (
	dsCli = gnet.Endpoint{Addr: 0x0a000001, Port: 51000}
	dsSrv = gnet.Endpoint{Addr: 0x0a000002, Port: 9000}
)

func clientFrame() *gnet.Frame {
	return &gnet.Frame{
		Timestamp: time.Unix(1700000000, 0),
		EtherType: gnet.EthertypeIPv4,
		IPv4: &gnet.IPv4{
			Protocol: gnet.IPProtoTCP,
			SrcAddr:  dsCli.Addr,
			DstAddr:  dsSrv.Addr,
		},
		TCP: &gnet.TCP{SrcPort: dsCli.Port, DstPort: dsSrv.Port},
	}
}

// tlvSplit parses [1-byte opcode][1-byte length][payload] records.
func tlvSplit(first *gnet.Frame, data gapstring.GapString) (*Message, gapstring.GapString, error) {
	r := data.CreateReader()
	op, err := r.ReadByte()
	if err != nil {
		return nil, data, ErrNeedMoreData
	}
	n, err := r.ReadByte()
	if err != nil {
		return nil, data, ErrNeedMoreData
	}
	payload, err := r.ReadGapString(int64(n))
	if err != nil {
		return nil, data, ErrNeedMoreData
	}
	return &Message{
		Opcode:  int(op),
		Payload: payload,
		First:   first,
	}, r.Rest(), nil
}

func tlvCodec() *Codec {
	c := NewCodec("TLV", tlvSplit)
	c.Register(1, "echo request", func(m *Message) error {
		m.Set("text", m.Payload.String())
		return nil
	})
	c.Register(2, "status", nil)
	return c
}

func newTestSession(t *testing.T, codec *Codec) (*Session, *[]*Message) {
	t.Helper()
	s, err := NewSession(codec, clientFrame(), WithOutputRoot(t.TempDir()))
	require.NoError(t, err)

	msgs := &[]*Message{}
	s.Process = func(m *Message) {
		*msgs = append(*msgs, m)
	}
	return s, msgs
}

func TestSessionCarvesMessages(t *testing.T) {
	s, msgs := newTestSession(t, tlvCodec())

	var gs gapstring.GapString
	gs.Append([]byte{1, 2, 'h', 'i', 2, 1, 'k'})
	require.NoError(t, s.Handle(false, clientFrame(), gs, capture.SourcePos{}))

	require.Len(t, *msgs, 2)
	assert.Equal(t, 1, (*msgs)[0].Opcode)
	assert.Equal(t, "echo request", (*msgs)[0].OpcodeDesc)
	assert.Equal(t, "hi", (*msgs)[0].Get("text"))
	assert.Equal(t, 2, (*msgs)[1].Opcode)
	assert.Equal(t, "status", (*msgs)[1].OpcodeDesc)
	assert.True(t, s.Drained())
}

func TestSessionBuffersPartialMessage(t *testing.T) {
	s, msgs := newTestSession(t, tlvCodec())

	// A message split across two bursts in the same direction.
	var part1 gapstring.GapString
	part1.Append([]byte{1, 4, 'a', 'b'})
	require.NoError(t, s.Handle(false, clientFrame(), part1, capture.SourcePos{}))
	assert.Empty(t, *msgs)
	assert.False(t, s.Drained())

	var part2 gapstring.GapString
	part2.Append([]byte{'c', 'd'})
	require.NoError(t, s.Handle(false, clientFrame(), part2, capture.SourcePos{}))

	require.Len(t, *msgs, 1)
	assert.Equal(t, "abcd", (*msgs)[0].Payload.String())
	assert.True(t, s.Drained())
}

func TestSessionUnknownOpcode(t *testing.T) {
	s, _ := newTestSession(t, tlvCodec())

	var gs gapstring.GapString
	gs.Append([]byte{9, 0})
	err := s.Handle(false, clientFrame(), gs, capture.SourcePos{File: "x.pcap", Offset: 42})

	var unknown *UnknownOpcodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, 9, unknown.Opcode)
}

func TestRawCodecTakesBurstsWhole(t *testing.T) {
	s, msgs := newTestSession(t, NewCodec("Raw", nil))

	var gs gapstring.GapString
	gs.Append([]byte("anything"))
	gs.AppendGap(4)
	require.NoError(t, s.Handle(true, clientFrame(), gs, capture.SourcePos{}))

	require.Len(t, *msgs, 1)
	assert.Equal(t, NoOpcode, (*msgs)[0].Opcode)
	assert.EqualValues(t, 12, (*msgs)[0].Payload.Len())
	assert.True(t, s.Drained())
}

func TestSessionAllDropsBurstUsesLastFrame(t *testing.T) {
	s, msgs := newTestSession(t, NewCodec("Raw", nil))

	var first gapstring.GapString
	first.Append([]byte("seen"))
	require.NoError(t, s.Handle(false, clientFrame(), first, capture.SourcePos{}))

	// A burst of pure drops has no frame of its own.
	require.NoError(t, s.Handle(false, nil, gapstring.Gap(5), capture.SourcePos{}))
	require.Len(t, *msgs, 2)
	assert.EqualValues(t, 5, (*msgs)[1].Payload.GapLen())
}

func TestOpenOutNamingAndLink(t *testing.T) {
	root := t.TempDir()
	s, err := NewSession(NewCodec("Raw", nil), clientFrame(), WithOutputRoot(root))
	require.NoError(t, err)

	f, err := s.OpenOut("index.html")
	require.NoError(t, err)
	_, err = f.WriteString("content")
	require.NoError(t, err)

	name := "1700000000-10.0.0.1~51000-10.0.0.2~9000---index.html"
	srcPath := filepath.Join(root, "10.0.0.1", name)
	dstPath := filepath.Join(root, "10.0.0.2", name)

	srcInfo, err := os.Stat(srcPath)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.True(t, os.SameFile(srcInfo, dstInfo))

	require.NoError(t, s.Close())
}
