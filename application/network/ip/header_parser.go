// Package ip extracts the minimum IPv4 header detail the data plane needs
// without parsing or validating the rest of the packet.
package ip

import (
	"fmt"
	"net/netip"
)

// HeaderParser extracts the destination address from a raw IPv4 packet, the
// only field the TUN->UDP path needs to route an outbound packet to a
// session (spec §4.6, TUN listener: "parses only enough to extract the
// destination IPv4 address").
type HeaderParser interface {
	DestinationAddress(packet []byte) (netip.Addr, error)
	SourceAddress(packet []byte) (netip.Addr, error)
}

// DefaultHeaderParser reads the fixed-offset source/destination fields of
// an IPv4 header. It does not validate checksums, options, or total length
// beyond what is needed to avoid an out-of-bounds read.
type DefaultHeaderParser struct{}

const (
	minIPv4HeaderLen = 20
	versionIHLOffset = 0
	srcOffset        = 12
	dstOffset        = 16
)

var (
	ErrPacketTooShort = fmt.Errorf("ip: packet shorter than minimum IPv4 header")
	ErrNotIPv4        = fmt.Errorf("ip: not an IPv4 packet")
)

func (DefaultHeaderParser) DestinationAddress(packet []byte) (netip.Addr, error) {
	if err := validateIPv4(packet); err != nil {
		return netip.Addr{}, err
	}
	return addrFrom4(packet[dstOffset : dstOffset+4]), nil
}

func (DefaultHeaderParser) SourceAddress(packet []byte) (netip.Addr, error) {
	if err := validateIPv4(packet); err != nil {
		return netip.Addr{}, err
	}
	return addrFrom4(packet[srcOffset : srcOffset+4]), nil
}

func validateIPv4(packet []byte) error {
	if len(packet) < minIPv4HeaderLen {
		return ErrPacketTooShort
	}
	if packet[versionIHLOffset]>>4 != 4 {
		return ErrNotIPv4
	}
	return nil
}

func addrFrom4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

// ExtractSourceIP is a convenience wrapper used on the decrypt path, where
// only the source matters (roaming/allow-list validation).
func ExtractSourceIP(packet []byte) (netip.Addr, bool) {
	addr, err := (DefaultHeaderParser{}).SourceAddress(packet)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
