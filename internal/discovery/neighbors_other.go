//go:build !linux

package discovery

import (
	"context"
	"net/netip"
)

// KernelNeighbors is unavailable off Linux; scans run without MACs.
type KernelNeighbors struct{}

func (KernelNeighbors) HardwareAddrs(context.Context) (map[netip.Addr]string, error) {
	return nil, ErrNoNeighborTable
}
