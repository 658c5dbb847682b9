package gnet

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
)

// DecodeFrame turns one raw Ethernet capture record into a Frame. Unsupported
// ethertypes and IP protocols decode minimally, keeping their raw bytes in
// Payload. Truncated headers yield a *MalformedFrameError.
func DecodeFrame(ci gopacket.CaptureInfo, data []byte) (*Frame, error) {
	d := decoder{data: data}

	f := &Frame{Timestamp: ci.Timestamp}

	eth, err := d.take("Ethernet", 14)
	if err != nil {
		return nil, err
	}
	f.DstMAC = net.HardwareAddr(eth[0:6])
	f.SrcMAC = net.HardwareAddr(eth[6:12])
	f.EtherType = binary.BigEndian.Uint16(eth[12:14])

	if f.EtherType == EthertypeVLAN {
		tag, err := d.take("VLAN", 4)
		if err != nil {
			return nil, err
		}
		f.EtherType = binary.BigEndian.Uint16(tag[2:4])
	}

	switch f.EtherType {
	case EthertypeARP:
		return f, d.arp(f)
	case EthertypeIPv4:
		return f, d.ipv4(f)
	default:
		f.Payload = d.rest()
		return f, nil
	}
}

type decoder struct {
	data []byte
	off  int
}

// take returns the next n bytes, or a MalformedFrameError naming the layer.
func (d *decoder) take(layer string, n int) ([]byte, error) {
	if len(d.data)-d.off < n {
		return nil, &MalformedFrameError{
			Layer:  layer,
			Offset: d.off,
			Need:   n,
			Have:   len(d.data) - d.off,
		}
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) rest() []byte {
	b := d.data[d.off:]
	d.off = len(d.data)
	return b
}

// clamped returns up to n bytes of the remaining record; n past the capture
// boundary is clamped rather than an error, since a short snaplen is normal.
func (d *decoder) clamped(n int) []byte {
	if n < 0 {
		n = 0
	}
	avail := len(d.data) - d.off
	if n > avail {
		n = avail
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) arp(f *Frame) error {
	b, err := d.take("ARP", 28)
	if err != nil {
		return err
	}
	f.ARP = &ARP{
		HardwareType: binary.BigEndian.Uint16(b[0:2]),
		ProtocolType: binary.BigEndian.Uint16(b[2:4]),
		HardwareLen:  b[4],
		ProtocolLen:  b[5],
		Op:           binary.BigEndian.Uint16(b[6:8]),
		SenderHW:     net.HardwareAddr(b[8:14]),
		SenderIP:     binary.BigEndian.Uint32(b[14:18]),
		TargetHW:     net.HardwareAddr(b[18:24]),
		TargetIP:     binary.BigEndian.Uint32(b[24:28]),
	}
	return nil
}

func (d *decoder) ipv4(f *Frame) error {
	b, err := d.take("IPv4", 20)
	if err != nil {
		return err
	}
	ihl := int(b[0]&0x0f) * 4
	f.IPv4 = &IPv4{
		HeaderLen: ihl,
		TotalLen:  binary.BigEndian.Uint16(b[2:4]),
		ID:        binary.BigEndian.Uint16(b[4:6]),
		FragOff:   binary.BigEndian.Uint16(b[6:8]),
		TTL:       b[8],
		Protocol:  b[9],
		SrcAddr:   binary.BigEndian.Uint32(b[12:16]),
		DstAddr:   binary.BigEndian.Uint32(b[16:20]),
	}

	// Discard IP options.
	if ihl > 20 {
		if _, err := d.take("IPv4 options", ihl-20); err != nil {
			return err
		}
	}

	// Transport payload length from the IP total length, clamped to capture.
	ipPayload := int(f.IPv4.TotalLen) - ihl

	switch f.IPv4.Protocol {
	case IPProtoTCP:
		return d.tcp(f, ipPayload)
	case IPProtoUDP:
		return d.udp(f)
	case IPProtoICMP:
		return d.icmp(f, ipPayload)
	default:
		f.Payload = d.rest()
		return nil
	}
}

func (d *decoder) tcp(f *Frame, ipPayload int) error {
	b, err := d.take("TCP", 20)
	if err != nil {
		return err
	}
	dataOff := int(b[12]>>4) * 4
	f.TCP = &TCP{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		Ack:     binary.BigEndian.Uint32(b[8:12]),
		DataOff: dataOff,
		Flags:   b[13],
		Window:  binary.BigEndian.Uint16(b[14:16]),
	}
	if dataOff > 20 {
		opts, err := d.take("TCP options", dataOff-20)
		if err != nil {
			return err
		}
		f.TCP.Options = opts
	}
	f.Payload = d.clamped(ipPayload - dataOff)
	return nil
}

func (d *decoder) udp(f *Frame) error {
	b, err := d.take("UDP", 8)
	if err != nil {
		return err
	}
	f.UDP = &UDP{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Length:  binary.BigEndian.Uint16(b[4:6]),
	}
	f.Payload = d.clamped(int(f.UDP.Length) - 8)
	return nil
}

func (d *decoder) icmp(f *Frame, ipPayload int) error {
	b, err := d.take("ICMP", 8)
	if err != nil {
		return err
	}
	f.ICMP = &ICMP{
		Type: b[0],
		Code: b[1],
		ID:   binary.BigEndian.Uint16(b[4:6]),
		Seq:  binary.BigEndian.Uint16(b[6:8]),
	}
	f.Payload = d.clamped(ipPayload - 8)
	return nil
}
