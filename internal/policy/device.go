package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"
)

var (
	// ErrInvalidIP is returned when a device address is not an IPv4/IPv6 literal.
	ErrInvalidIP = errors.New("invalid IP address")

	// ErrInvalidRisk is returned for risk scores outside [0,1].
	ErrInvalidRisk = errors.New("risk score must be within [0,1]")
)

// Device is one network endpoint as reported by discovery.
type Device struct {
	IP        netip.Addr
	MAC       string
	Hostname  string
	Vendor    string
	Type      DeviceType
	OpenPorts []int
	RiskScore float64

	OS        string
	Model     string
	FirstSeen time.Time
	LastSeen  time.Time
}

// NewDevice builds a Device. Construction fails unless ip parses as an
// IPv4 or IPv6 literal.
func NewDevice(ip string) (*Device, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	return &Device{
		IP:   addr.Unmap(),
		Type: DeviceUnknown,
	}, nil
}

// MustDevice is NewDevice for fixtures; it panics on a bad address.
func MustDevice(ip string) *Device {
	d, err := NewDevice(ip)
	if err != nil {
		panic(err)
	}
	return d
}

// Addr returns the device IP in string form.
func (d *Device) Addr() string { return d.IP.String() }

// SetRiskScore sets the risk score, rejecting values outside [0,1].
func (d *Device) SetRiskScore(v float64) error {
	if v < 0 || v > 1 || v != v {
		return fmt.Errorf("%w: %v", ErrInvalidRisk, v)
	}
	d.RiskScore = v
	return nil
}

// AddPort records an observed open port. OpenPorts stays sorted and unique.
func (d *Device) AddPort(p int) {
	i, found := slices.BinarySearch(d.OpenPorts, p)
	if found {
		return
	}
	d.OpenPorts = slices.Insert(d.OpenPorts, i, p)
}

// HasPort reports whether p was observed open.
func (d *Device) HasPort(p int) bool {
	_, found := slices.BinarySearch(d.OpenPorts, p)
	return found
}

// Clone returns a deep copy.
func (d *Device) Clone() *Device {
	c := *d
	c.OpenPorts = slices.Clone(d.OpenPorts)
	return &c
}

func normalizePorts(ports []int) ([]int, error) {
	if len(ports) == 0 {
		return nil, nil
	}
	out := slices.Clone(ports)
	for _, p := range out {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid open port %d", p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
