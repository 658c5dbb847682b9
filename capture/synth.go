package capture

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/mel2oo/go-reseq/gnet"
)

// Payload bytes per synthesized data segment.
const maxSegment = 0xff00

var (
	synthDstMAC = net.HardwareAddr{0x11, 0x11, 0x11, 0x11, 0x11, 0x11}
	synthSrcMAC = net.HardwareAddr{0x22, 0x22, 0x22, 0x22, 0x22, 0x22}
)

// FlowWriter synthesizes a well-formed TCP conversation into a pcap: a
// three-way handshake up front, ACK-carrying data segments as Write is
// called, and a FIN teardown on Close. Useful for round-trip tests and for
// re-emitting a reconstructed stream as a capture other tools can read.
type FlowWriter struct {
	w   *pcapgo.Writer
	src side
	dst side

	lastTS time.Time
	closed bool
}

// side tracks the send state of one synthesized endpoint.
type side struct {
	ep  gnet.Endpoint
	id  uint16
	seq uint32
}

// NewFlowWriter writes the pcap global header and the synthesized handshake.
// src is the client endpoint, dst the server.
func NewFlowWriter(w io.Writer, src, dst gnet.Endpoint, start time.Time) (*FlowWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, errors.Wrap(err, "failed to write pcap header")
	}

	fw := &FlowWriter{
		w:   pw,
		src: side{ep: src, seq: 1},
		dst: side{ep: dst, seq: 1},
	}
	if err := fw.handshake(start); err != nil {
		return nil, err
	}
	return fw, nil
}

// packet builds one Ethernet/IPv4/TCP frame and advances the sending side's
// id and sequence state.
func (fw *FlowWriter) packet(fromClient bool, payload []byte, flags uint8) []byte {
	sender, receiver := &fw.src, &fw.dst
	if !fromClient {
		sender, receiver = &fw.dst, &fw.src
	}

	id := sender.id
	sender.id++
	seq := sender.seq
	sender.seq += uint32(len(payload))
	if flags&(gnet.SYN|gnet.FIN) != 0 {
		sender.seq++
	}
	ack := receiver.seq
	if flags&gnet.ACK == 0 {
		ack = 0
	}

	p := make([]byte, 14+20+20+len(payload))

	// Ethernet: fixed addresses, both directions alike.
	copy(p[0:6], synthDstMAC)
	copy(p[6:12], synthSrcMAC)
	binary.BigEndian.PutUint16(p[12:14], gnet.EthertypeIPv4)

	// IPv4: no options, don't-fragment, TTL 6.
	ip := p[14:34]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(40+len(payload)))
	binary.BigEndian.PutUint16(ip[4:6], id)
	binary.BigEndian.PutUint16(ip[6:8], 0x4000)
	ip[8] = 6
	ip[9] = gnet.IPProtoTCP
	binary.BigEndian.PutUint32(ip[12:16], sender.ep.Addr)
	binary.BigEndian.PutUint32(ip[16:20], receiver.ep.Addr)
	binary.BigEndian.PutUint16(ip[10:12], ipChecksum(ip))

	// TCP: data offset 5, window 0xff00, zero checksum.
	tcp := p[34:54]
	binary.BigEndian.PutUint16(tcp[0:2], sender.ep.Port)
	binary.BigEndian.PutUint16(tcp[2:4], receiver.ep.Port)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = 0x50
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], 0xff00)

	copy(p[54:], payload)
	return p
}

// ipChecksum is the one's-complement sum of the ten header words, carry
// folded once.
func ipChecksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i < 20; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(hdr[i : i+2]))
	}
	return uint16((sum+(sum>>16))&0xffff) ^ 0xffff
}

func (fw *FlowWriter) writePkt(ts time.Time, fromClient bool, payload []byte, flags uint8) error {
	p := fw.packet(fromClient, payload, flags)
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(p),
		Length:        len(p),
	}
	fw.lastTS = ts
	return errors.Wrap(fw.w.WritePacket(ci, p), "failed to write synthesized frame")
}

func (fw *FlowWriter) handshake(ts time.Time) error {
	if err := fw.writePkt(ts, true, nil, gnet.SYN); err != nil {
		return err
	}
	if err := fw.writePkt(ts, false, nil, gnet.SYN|gnet.ACK); err != nil {
		return err
	}
	return fw.writePkt(ts, true, nil, gnet.ACK)
}

// Write emits data from one side as ACK-carrying segments of at most 0xff00
// payload bytes each.
func (fw *FlowWriter) Write(ts time.Time, fromClient bool, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxSegment {
			n = maxSegment
		}
		if err := fw.writePkt(ts, fromClient, data[:n], gnet.ACK); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Close tears the synthesized conversation down with FIN|ACK both ways and a
// final ACK, stamped with the last write's timestamp.
func (fw *FlowWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true
	if err := fw.writePkt(fw.lastTS, true, nil, gnet.FIN|gnet.ACK); err != nil {
		return err
	}
	if err := fw.writePkt(fw.lastTS, false, nil, gnet.FIN|gnet.ACK); err != nil {
		return err
	}
	return fw.writePkt(fw.lastTS, true, nil, gnet.ACK)
}
