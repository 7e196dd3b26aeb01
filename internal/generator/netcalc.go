package generator

import (
	"fmt"
	"net/netip"
)

// IPToInt converts a dotted IPv4 address to its 32-bit big-endian value.
func IPToInt(ip string) (uint32, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", ip)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, fmt.Errorf("not an IPv4 address: %q", ip)
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// CIDRMask converts an IPv4 prefix length to a dotted netmask: 24 gives
// 255.255.255.0.
func CIDRMask(bits int) (string, error) {
	if bits < 0 || bits > 32 {
		return "", fmt.Errorf("prefix length %d outside 0-32", bits)
	}
	var mask uint32
	if bits > 0 {
		mask = ^uint32(0) << (32 - bits)
	}
	return fmt.Sprintf("%d.%d.%d.%d", mask>>24, mask>>16&0xff, mask>>8&0xff, mask&0xff), nil
}
