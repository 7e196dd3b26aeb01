// Package enforcement checks on the live network that zones which should be
// isolated actually are. It derives a zone-pair matrix from a policy,
// probes one representative device per zone on a bounded worker pool and
// scores the outcome.
package enforcement

import (
	"slices"

	"grimm.is/ztinspect/internal/policy"
)

// Pair is one probe target: traffic from Source's representative to
// Target's representative.
type Pair struct {
	SourceZone string
	TargetZone string
	Source     *policy.Device
	Target     *policy.Device
	// Control is the member of TargetZone used as the positive-control
	// origin. It is Target itself when the zone has one member.
	Control *policy.Device
}

// Plan lists every unordered zone pair in which both zones have at least one
// device. Zones are paired in name order; each zone is represented by its
// lowest-addressed device, so the plan is stable for a given membership.
func Plan(p *policy.Policy) []Pair {
	names := p.ZoneNames()
	var pairs []Pair
	for i, a := range names {
		src := representatives(p.Zones[a])
		if src == nil {
			continue
		}
		for _, b := range names[i+1:] {
			dst := representatives(p.Zones[b])
			if dst == nil {
				continue
			}
			control := dst[0]
			if len(dst) > 1 {
				control = dst[1]
			}
			pairs = append(pairs, Pair{
				SourceZone: a,
				TargetZone: b,
				Source:     src[0],
				Target:     dst[0],
				Control:    control,
			})
		}
	}
	return pairs
}

// representatives returns the zone's devices ordered by address, or nil for
// an empty zone.
func representatives(z *policy.Zone) []*policy.Device {
	if z == nil || len(z.Devices) == 0 {
		return nil
	}
	devs := slices.Clone(z.Devices)
	slices.SortFunc(devs, func(a, b *policy.Device) int { return a.IP.Compare(b.IP) })
	return devs
}
