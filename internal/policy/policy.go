package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"time"

	"grimm.is/ztinspect/internal/clock"
)

var (
	// ErrDuplicateZone is returned when a zone name is already taken.
	ErrDuplicateZone = errors.New("zone already exists")

	// ErrUnknownZone is returned when a name does not resolve to a zone.
	ErrUnknownZone = errors.New("unknown zone")
)

// Policy is the aggregate root: zones keyed by name plus an ordered rule list.
// Rule order is significant; generators treat earlier rules as higher precedence.
type Policy struct {
	Name        string
	Description string
	Zones       map[string]*Zone
	Rules       []Rule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New returns an empty policy stamped with the current time.
func New(name, description string) *Policy {
	now := clock.Now()
	return &Policy{
		Name:        name,
		Description: description,
		Zones:       make(map[string]*Zone),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (p *Policy) touch() {
	p.UpdatedAt = clock.Now()
}

// AddZone registers z under z.Name.
func (p *Policy) AddZone(z *Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	if p.Zones == nil {
		p.Zones = make(map[string]*Zone)
	}
	if _, ok := p.Zones[z.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateZone, z.Name)
	}
	if z.DefaultAction == "" {
		z.DefaultAction = ActionDeny
	}
	p.Zones[z.Name] = z
	p.touch()
	return nil
}

// RemoveZone deletes the zone and every rule that names it as source or
// destination. It reports whether the zone existed.
func (p *Policy) RemoveZone(name string) bool {
	if _, ok := p.Zones[name]; !ok {
		return false
	}
	delete(p.Zones, name)
	p.Rules = slices.DeleteFunc(p.Rules, func(r Rule) bool {
		return r.Source == name || r.Destination == name
	})
	p.touch()
	return true
}

// Zone returns the named zone or nil.
func (p *Policy) Zone(name string) *Zone {
	return p.Zones[name]
}

// ZoneNames returns the zone names in sorted order.
func (p *Policy) ZoneNames() []string {
	names := make([]string, 0, len(p.Zones))
	for name := range p.Zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdentifierClashes maps each Identifier shared by more than one zone to
// the sorted names of those zones.
func (p *Policy) IdentifierClashes() map[string][]string {
	byID := make(map[string][]string)
	for _, name := range p.ZoneNames() {
		id := Identifier(name)
		byID[id] = append(byID[id], name)
	}
	for id, names := range byID {
		if len(names) < 2 {
			delete(byID, id)
		}
	}
	return byID
}

// AddRule appends r. Both endpoints must already exist.
func (p *Policy) AddRule(r Rule) error {
	for _, name := range []string{r.Source, r.Destination} {
		if _, ok := p.Zones[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownZone, name)
		}
	}
	if r.Protocol == "" {
		r.Protocol = ProtoAny
	}
	p.Rules = append(p.Rules, r)
	p.touch()
	return nil
}

// RemoveRule deletes the rule at index. Reports whether the index was valid.
func (p *Policy) RemoveRule(index int) bool {
	if index < 0 || index >= len(p.Rules) {
		return false
	}
	p.Rules = slices.Delete(p.Rules, index, index+1)
	p.touch()
	return true
}

// SetRules replaces the rule list wholesale.
func (p *Policy) SetRules(rules []Rule) {
	p.Rules = rules
	p.touch()
}

// RulesBetween returns the rules from src to dst in policy order.
func (p *Policy) RulesBetween(src, dst string) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Source == src && r.Destination == dst {
			out = append(out, r)
		}
	}
	return out
}

// AssignDevice places d in the named zone, first removing any device with
// the same IP from every other zone so membership stays exclusive.
func (p *Policy) AssignDevice(zoneName string, d *Device) error {
	z, ok := p.Zones[zoneName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownZone, zoneName)
	}
	for name, other := range p.Zones {
		if name != zoneName {
			other.RemoveDevice(d.IP)
		}
	}
	if existing := z.Device(d.IP); existing != nil {
		*existing = *d.Clone()
	} else {
		z.Devices = append(z.Devices, d)
	}
	p.touch()
	return nil
}

// FindDevice returns the zone holding ip and the device itself.
func (p *Policy) FindDevice(ip netip.Addr) (*Zone, *Device) {
	for _, name := range p.ZoneNames() {
		z := p.Zones[name]
		if d := z.Device(ip); d != nil {
			return z, d
		}
	}
	return nil, nil
}

// DeviceCount is the total number of devices across zones.
func (p *Policy) DeviceCount() int {
	n := 0
	for _, z := range p.Zones {
		n += len(z.Devices)
	}
	return n
}

// Clone returns a deep copy safe to hand to a concurrent reader.
func (p *Policy) Clone() *Policy {
	c := &Policy{
		Name:        p.Name,
		Description: p.Description,
		Zones:       make(map[string]*Zone, len(p.Zones)),
		Rules:       slices.Clone(p.Rules),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	for name, z := range p.Zones {
		c.Zones[name] = z.Clone()
	}
	return c
}
