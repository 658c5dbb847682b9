package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mel2oo/go-reseq/gnet"
	"github.com/mel2oo/go-reseq/reseq"
)

func TestParseSourceSpec(t *testing.T) {
	testCases := []struct {
		spec   string
		path   string
		offset int64
		bad    bool
	}{
		{spec: "flows.pcap", path: "flows.pcap"},
		{spec: "flows.pcap:::1024", path: "flows.pcap", offset: 1024},
		{spec: "dir/flows.pcap:::0", path: "dir/flows.pcap"},
		{spec: "flows.pcap:::nope", bad: true},
	}
	for _, tc := range testCases {
		path, offset, err := ParseSourceSpec(tc.spec)
		if tc.bad {
			assert.Error(t, err, tc.spec)
			continue
		}
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.path, path, tc.spec)
		assert.Equal(t, tc.offset, offset, tc.spec)
	}
}

var (
	synthCli = gnet.Endpoint{Addr: 0x0a000001, Port: 40000}
	synthSrv = gnet.Endpoint{Addr: 0x0a000002, Port: 443}
)

// writeFlow synthesizes a conversation into a fresh pcap file.
func writeFlow(t *testing.T, cliData, srvData []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "synth.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	ts := time.Unix(1700000000, 0)
	fw, err := NewFlowWriter(f, synthCli, synthSrv, ts)
	require.NoError(t, err)

	for i := 0; i < len(cliData) || i < len(srvData); i++ {
		if i < len(cliData) {
			ts = ts.Add(time.Millisecond)
			require.NoError(t, fw.Write(ts, true, []byte(cliData[i])))
		}
		if i < len(srvData) {
			ts = ts.Add(time.Millisecond)
			require.NoError(t, fw.Write(ts, false, []byte(srvData[i])))
		}
	}
	require.NoError(t, fw.Close())
	return path
}

// Feeding a synthesized flow back through the decoder and resequencer must
// reproduce the original payloads without gaps.
func TestSynthesizedRoundTrip(t *testing.T) {
	path := writeFlow(t, []string{"GET / HTTP/1.0\r\n\r\n"}, []string{"HTTP/1.0 200 OK\r\n\r\n"})

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	r := reseq.New()
	var got [2]string
	for {
		data, ci, err := src.Read()
		if err == ErrExhausted {
			break
		}
		require.NoError(t, err)

		frame, err := gnet.DecodeFrame(ci, data)
		require.NoError(t, err)
		require.True(t, frame.IsTCP())

		if em, ok := r.Handle(frame).Get(); ok {
			assert.EqualValues(t, 0, em.Data.GapLen())
			got[em.Dir] += em.Data.String()
		}
	}

	assert.Equal(t, "GET / HTTP/1.0\r\n\r\n", got[reseq.ClientToServer])
	assert.Equal(t, "HTTP/1.0 200 OK\r\n\r\n", got[reseq.ServerToClient])
	assert.False(t, r.Midstream())
	assert.True(t, r.Closed())
	assert.Equal(t, synthCli, r.Client())
	assert.Equal(t, synthSrv, r.Server())
}

func TestSynthesizedHeaders(t *testing.T) {
	path := writeFlow(t, []string{"x"}, nil)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	data, ci, err := src.Read()
	require.NoError(t, err)
	frame, err := gnet.DecodeFrame(ci, data)
	require.NoError(t, err)

	// First synthesized frame is the client SYN with the fixed envelope.
	assert.Equal(t, "11:11:11:11:11:11", frame.DstMAC.String())
	assert.Equal(t, "22:22:22:22:22:22", frame.SrcMAC.String())
	require.NotNil(t, frame.IPv4)
	assert.EqualValues(t, 0x4000, frame.IPv4.FragOff)
	assert.EqualValues(t, 6, frame.IPv4.TTL)
	require.NotNil(t, frame.TCP)
	assert.Equal(t, gnet.SYN, frame.TCP.Flags)
	assert.EqualValues(t, 0xff00, frame.TCP.Window)
	assert.EqualValues(t, 20, frame.TCP.DataOff)
	assert.Empty(t, frame.TCP.Options)
}

func TestSourceOffsetResume(t *testing.T) {
	path := writeFlow(t, []string{"hello"}, nil)

	// Read the whole capture once, recording each record's position.
	src, err := Open(path)
	require.NoError(t, err)
	var positions []SourcePos
	var frames int
	for {
		pos := src.Pos()
		if _, _, err := src.Read(); err != nil {
			require.Equal(t, ErrExhausted, err)
			break
		}
		positions = append(positions, pos)
		frames++
	}
	src.Close()
	require.Greater(t, frames, 2)

	// Resume from the position of the second record.
	resumed, err := Open(fmt.Sprintf("%s:::%d", positions[1].File, positions[1].Offset))
	require.NoError(t, err)
	defer resumed.Close()

	var rest int
	for {
		if _, _, err := resumed.Read(); err != nil {
			break
		}
		rest++
	}
	assert.Equal(t, frames-1, rest)
}
