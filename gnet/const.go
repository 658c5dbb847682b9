package gnet

// Ethernet frame types, after any VLAN tag has been stripped.
const (
	EthertypeIPv4 uint16 = 0x0800
	EthertypeARP  uint16 = 0x0806
	EthertypeVLAN uint16 = 0x8100
)

// IPv4 protocol numbers this decoder understands.
const (
	IPProtoICMP = 1
	IPProtoTCP  = 6
	IPProtoUDP  = 17
)

// TCP flag bits.
const (
	FIN uint8 = 1 << iota
	SYN
	RST
	PSH
	ACK
)

// FlagString renders flag bits as "SYN|ACK" style text for diagnostics.
func FlagString(flags uint8) string {
	names := []struct {
		bit  uint8
		name string
	}{
		{FIN, "FIN"},
		{SYN, "SYN"},
		{RST, "RST"},
		{PSH, "PSH"},
		{ACK, "ACK"},
	}
	out := ""
	for _, n := range names {
		if flags&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "0"
	}
	return out
}
