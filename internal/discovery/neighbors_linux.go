package discovery

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// unusable neighbor states carry no confirmed link-layer address.
const unusable = netlink.NUD_INCOMPLETE | netlink.NUD_FAILED | netlink.NUD_NOARP

// KernelNeighbors reads the kernel ARP and NDP caches over netlink. The
// sweep's connect attempts populate them for on-link hosts, and reading
// them needs no privileges.
type KernelNeighbors struct{}

func (KernelNeighbors) HardwareAddrs(ctx context.Context) (map[netip.Addr]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	neighs, err := netlink.NeighList(0, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}

	out := make(map[netip.Addr]string, len(neighs))
	for _, n := range neighs {
		if n.State&unusable != 0 || len(n.HardwareAddr) == 0 {
			continue
		}
		ip, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			continue
		}
		out[ip.Unmap()] = n.HardwareAddr.String()
	}
	return out, nil
}
