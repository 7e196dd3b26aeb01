package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

var (
	// ErrInvalidName is returned for empty zone names.
	ErrInvalidName = errors.New("zone name must not be empty")

	// ErrDuplicateDevice is returned when a zone already holds the IP.
	ErrDuplicateDevice = errors.New("device already in zone")
)

// Zone is a named security compartment.
type Zone struct {
	Name          string
	Type          ZoneType
	Description   string
	Devices       []*Device
	Color         string // presentation only
	DefaultAction Action
	NetworkRange  string // optional CIDR
	SecurityLevel int    // 1 (lowest) - 5 (highest), 0 = unset
}

// Identifier is the form of a zone name every firewall target accepts:
// lower-case, whitespace runs joined by "_", and every other character
// outside [a-z0-9_] replaced with "_".
func Identifier(name string) string {
	id := strings.Join(strings.Fields(strings.ToLower(name)), "_")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, id)
}

// NewZone returns an empty zone that denies by default.
func NewZone(name string, typ ZoneType) *Zone {
	return &Zone{
		Name:          name,
		Type:          typ,
		DefaultAction: ActionDeny,
	}
}

// Validate checks the zone's own fields.
func (z *Zone) Validate() error {
	if strings.TrimSpace(z.Name) == "" {
		return ErrInvalidName
	}
	if z.DefaultAction != "" && z.DefaultAction != ActionAllow && z.DefaultAction != ActionDeny {
		return fmt.Errorf("zone %q: default action must be allow or deny, got %q", z.Name, z.DefaultAction)
	}
	if z.NetworkRange != "" {
		if _, err := netip.ParsePrefix(z.NetworkRange); err != nil {
			return fmt.Errorf("zone %q: invalid network range %q", z.Name, z.NetworkRange)
		}
	}
	if z.SecurityLevel < 0 || z.SecurityLevel > 5 {
		return fmt.Errorf("zone %q: security level %d outside 1-5", z.Name, z.SecurityLevel)
	}
	return nil
}

// AddDevice appends d; a second device with the same IP is rejected.
func (z *Zone) AddDevice(d *Device) error {
	if z.Device(d.IP) != nil {
		return fmt.Errorf("%w: %s in %q", ErrDuplicateDevice, d.IP, z.Name)
	}
	z.Devices = append(z.Devices, d)
	return nil
}

// RemoveDevice drops the device with the given IP. Reports whether one was removed.
func (z *Zone) RemoveDevice(ip netip.Addr) bool {
	i := slices.IndexFunc(z.Devices, func(d *Device) bool { return d.IP == ip })
	if i < 0 {
		return false
	}
	z.Devices = slices.Delete(z.Devices, i, i+1)
	return true
}

// Device returns the member with the given IP, or nil.
func (z *Zone) Device(ip netip.Addr) *Device {
	for _, d := range z.Devices {
		if d.IP == ip {
			return d
		}
	}
	return nil
}

// DeviceCount is the number of members.
func (z *Zone) DeviceCount() int { return len(z.Devices) }

// Clone returns a deep copy.
func (z *Zone) Clone() *Zone {
	c := *z
	c.Devices = make([]*Device, len(z.Devices))
	for i, d := range z.Devices {
		c.Devices[i] = d.Clone()
	}
	return &c
}
