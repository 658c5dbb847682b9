package gnet

import (
	"fmt"
	"net"
	"time"
)

// Endpoint identifies one side of an IPv4 conversation. Port is 0 for
// protocols without ports (ICMP, ARP, unknown IP protocols).
type Endpoint struct {
	Addr uint32
	Port uint16
}

// IP returns the address in net.IP form.
func (e Endpoint) IP() net.IP {
	return net.IPv4(byte(e.Addr>>24), byte(e.Addr>>16), byte(e.Addr>>8), byte(e.Addr)).To4()
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP(), e.Port)
}

// IPv4 holds the fixed IPv4 header fields the analyzer cares about. Header
// options are skipped during decode and not retained.
type IPv4 struct {
	HeaderLen int // in bytes, from IHL
	TotalLen  uint16
	ID        uint16
	FragOff   uint16
	TTL       uint8
	Protocol  uint8
	SrcAddr   uint32
	DstAddr   uint32
}

// TCP holds the TCP header of a frame. Options are the raw bytes between the
// fixed header and the payload.
type TCP struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	DataOff int // in bytes
	Flags   uint8
	Window  uint16
	Options []byte
}

type UDP struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

type ICMP struct {
	Type uint8
	Code uint8
	ID   uint16
	Seq  uint16
}

// ARP holds an ARP packet body. Sender/target protocol addresses surface as
// the frame's source and destination.
type ARP struct {
	HardwareType uint16
	ProtocolType uint16
	HardwareLen  uint8
	ProtocolLen  uint8
	Op           uint16
	SenderHW     net.HardwareAddr
	SenderIP     uint32
	TargetHW     net.HardwareAddr
	TargetIP     uint32
}

// Frame is one capture record decoded into its relevant parts. Exactly one of
// ARP or IPv4 is set for known ethertypes; within IPv4, at most one of TCP,
// UDP, ICMP. Frames of unknown ethertypes or IP protocols keep their
// undecoded bytes in Payload.
type Frame struct {
	Timestamp time.Time

	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	EtherType uint16

	ARP  *ARP
	IPv4 *IPv4
	TCP  *TCP
	UDP  *UDP
	ICMP *ICMP

	// Transport payload, clamped to the captured bytes.
	Payload []byte
}

// Name describes the innermost decoded protocol.
func (f *Frame) Name() string {
	switch {
	case f.ARP != nil:
		return "ARP"
	case f.TCP != nil:
		return "TCP/IP"
	case f.UDP != nil:
		return "UDP/IP"
	case f.ICMP != nil:
		return "ICMP/IP"
	case f.IPv4 != nil:
		return fmt.Sprintf("IP protocol %d", f.IPv4.Protocol)
	default:
		return fmt.Sprintf("Ethernet type 0x%04x", f.EtherType)
	}
}

// Src returns the source endpoint. For ARP this is the sender protocol
// address; otherwise the IPv4 source. Port is 0 when the transport has none.
func (f *Frame) Src() Endpoint {
	switch {
	case f.ARP != nil:
		return Endpoint{Addr: f.ARP.SenderIP}
	case f.TCP != nil:
		return Endpoint{Addr: f.IPv4.SrcAddr, Port: f.TCP.SrcPort}
	case f.UDP != nil:
		return Endpoint{Addr: f.IPv4.SrcAddr, Port: f.UDP.SrcPort}
	case f.IPv4 != nil:
		return Endpoint{Addr: f.IPv4.SrcAddr}
	default:
		return Endpoint{}
	}
}

// Dst returns the destination endpoint, symmetric with Src.
func (f *Frame) Dst() Endpoint {
	switch {
	case f.ARP != nil:
		return Endpoint{Addr: f.ARP.TargetIP}
	case f.TCP != nil:
		return Endpoint{Addr: f.IPv4.DstAddr, Port: f.TCP.DstPort}
	case f.UDP != nil:
		return Endpoint{Addr: f.IPv4.DstAddr, Port: f.UDP.DstPort}
	case f.IPv4 != nil:
		return Endpoint{Addr: f.IPv4.DstAddr}
	default:
		return Endpoint{}
	}
}

// FlowKey is a symmetric hash over the 4-tuple: both directions of a
// conversation map to the same key. Distinct conversations can collide; users
// who need a collision-free key should pair this with the unordered 4-tuple.
type FlowKey uint32

// FlowKey computes the symmetric key for an IPv4 frame. Missing ports count
// as zero.
func (f *Frame) FlowKey() FlowKey {
	if f.IPv4 == nil {
		return 0
	}
	src, dst := f.Src(), f.Dst()
	return FlowKey(src.Addr ^ uint32(src.Port) ^ dst.Addr ^ uint32(dst.Port))
}

// IsTCP reports whether the frame carries a TCP segment.
func (f *Frame) IsTCP() bool {
	return f.TCP != nil
}

func (f *Frame) String() string {
	if f.TCP != nil {
		return fmt.Sprintf("<Frame %s %s(%08x) -> %s(%08x) length %d>",
			f.Name(), f.Src(), f.TCP.Seq, f.Dst(), f.TCP.Ack, len(f.Payload))
	}
	if f.ARP != nil {
		return fmt.Sprintf("<Frame ARP %s(%s) -> %s(%s)>",
			f.ARP.SenderHW, f.Src().IP(), f.ARP.TargetHW, f.Dst().IP())
	}
	if f.IPv4 != nil {
		return fmt.Sprintf("<Frame %s %s -> %s length %d>",
			f.Name(), f.Src(), f.Dst(), len(f.Payload))
	}
	return fmt.Sprintf("<Frame %s length %d>", f.Name(), len(f.Payload))
}
