package discovery

import (
	"context"
	"errors"
	"net/netip"
)

// ErrNoNeighborTable is returned where the platform exposes no neighbor
// table.
var ErrNoNeighborTable = errors.New("neighbor table not available on this platform")

// NeighborTable reports the link-layer addresses the host has learned for
// on-link peers, keyed by IP.
type NeighborTable interface {
	HardwareAddrs(ctx context.Context) (map[netip.Addr]string, error)
}

// StaticNeighbors is a fixed NeighborTable.
type StaticNeighbors map[netip.Addr]string

func (n StaticNeighbors) HardwareAddrs(context.Context) (map[netip.Addr]string, error) {
	return n, nil
}
