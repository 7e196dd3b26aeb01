package policy

import "fmt"

// Rule is a directed edge in the zone graph. Source and Destination are
// zone names, resolved against the owning Policy's zone map on use.
type Rule struct {
	Source      string
	Destination string
	Action      Action
	Protocol    Protocol
	Port        PortRange
	Description string
	Enabled     bool
}

// RuleKey is the exact tuple rule de-duplication keys on.
type RuleKey struct {
	Source      string
	Destination string
	Action      Action
	Protocol    Protocol
	Port        PortRange
}

// Key returns the de-duplication tuple. An empty protocol is keyed as any.
func (r Rule) Key() RuleKey {
	proto := r.Protocol
	if proto == "" {
		proto = ProtoAny
	}
	return RuleKey{
		Source:      r.Source,
		Destination: r.Destination,
		Action:      r.Action,
		Protocol:    proto,
		Port:        r.Port,
	}
}

// IsIntraZone reports whether the rule governs traffic inside one zone.
func (r Rule) IsIntraZone() bool { return r.Source == r.Destination }

func (r Rule) String() string {
	s := fmt.Sprintf("%s -> %s %s %s", r.Source, r.Destination, r.Action, r.protocolOrAny())
	if !r.Port.IsZero() {
		s += "/" + r.Port.String()
	}
	if !r.Enabled {
		s += " (disabled)"
	}
	return s
}

func (r Rule) protocolOrAny() Protocol {
	if r.Protocol == "" {
		return ProtoAny
	}
	return r.Protocol
}
