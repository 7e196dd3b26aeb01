// Package classify derives a device type, vendor and risk score from what
// discovery observed. It is heuristic: the policy core treats its output as
// opaque input.
package classify

import (
	"net/netip"
	"slices"
	"strings"

	"grimm.is/ztinspect/internal/policy"
)

// Signals is everything the classifier looks at.
type Signals struct {
	IP        netip.Addr
	Vendor    string
	Hostname  string
	OpenPorts []int
}

// SignalsOf extracts the signals of d.
func SignalsOf(d *policy.Device) Signals {
	return Signals{IP: d.IP, Vendor: d.Vendor, Hostname: d.Hostname, OpenPorts: d.OpenPorts}
}

// Pattern is one row of the classification table. Every non-empty criterion
// must hold for the row to match.
type Pattern struct {
	Type policy.DeviceType

	Vendors   []string // any of these substrings in the vendor, case-insensitive
	Hostnames []string // any of these substrings in the hostname
	AnyPort   []int    // at least one of these ports open
	Gateway   bool     // address ends in .1 or .254
	MaxPorts  int      // fewer than this many ports open, 0 = no limit
}

func (p Pattern) matches(s Signals) bool {
	if len(p.Vendors) > 0 && !containsAny(s.Vendor, p.Vendors) {
		return false
	}
	if len(p.Hostnames) > 0 && !containsAny(s.Hostname, p.Hostnames) {
		return false
	}
	if len(p.AnyPort) > 0 && !slices.ContainsFunc(p.AnyPort, func(port int) bool {
		return slices.Contains(s.OpenPorts, port)
	}) {
		return false
	}
	if p.Gateway && !isGateway(s.IP) {
		return false
	}
	if p.MaxPorts > 0 && len(s.OpenPorts) >= p.MaxPorts {
		return false
	}
	return true
}

// Patterns is evaluated top to bottom; the first match wins.
var Patterns = []Pattern{
	{Type: policy.DevicePrinter, AnyPort: []int{9100, 515}},
	{Type: policy.DevicePrinter, Vendors: []string{"canon", "epson", "brother"}},
	{Type: policy.DevicePrinter, Vendors: []string{"hewlett", "hp "}, AnyPort: []int{631}},

	{Type: policy.DeviceCamera, AnyPort: []int{554}},
	{Type: policy.DeviceCamera, Vendors: []string{"hikvision", "axis", "dahua"}},

	{Type: policy.DeviceRouter, Gateway: true},
	{Type: policy.DeviceRouter, AnyPort: []int{53, 67}},
	{Type: policy.DeviceRouter, Vendors: []string{"routerboard", "ubiquiti", "netgear"}},

	{Type: policy.DevicePhone, AnyPort: []int{62078}},
	{Type: policy.DevicePhone, Hostnames: []string{"iphone", "android", "galaxy", "pixel"}},
	{Type: policy.DevicePhone, Vendors: []string{"samsung"}},

	{Type: policy.DeviceTablet, Hostnames: []string{"ipad", "tablet"}},

	{Type: policy.DeviceServer, AnyPort: []int{3306, 5432, 6379, 27017, 25}},
	{Type: policy.DeviceServer, Vendors: []string{"vmware"}},

	{Type: policy.DeviceComputer, AnyPort: []int{22, 3389, 445}},
	{Type: policy.DeviceComputer, Vendors: []string{"microsoft", "apple", "raspberry"}},

	{Type: policy.DeviceIoT, Vendors: []string{"philips", "tp-link", "xiaomi", "espressif", "sonos", "google"}},
	{Type: policy.DeviceIoT, AnyPort: []int{1883, 8883}},
	{Type: policy.DeviceIoT, AnyPort: []int{80}, MaxPorts: 3},
}

// Classify returns the type of the first matching pattern, or unknown.
func Classify(s Signals) policy.DeviceType {
	for _, p := range Patterns {
		if p.matches(s) {
			return p.Type
		}
	}
	return policy.DeviceUnknown
}

// Annotate fills in d's vendor (when empty), type and risk score.
func Annotate(d *policy.Device) {
	if d.Vendor == "" {
		d.Vendor = VendorForMAC(d.MAC)
	}
	d.Type = Classify(SignalsOf(d))
	// RiskScore never leaves [0,1].
	_ = d.SetRiskScore(RiskScore(d))
}

func containsAny(s string, subs []string) bool {
	s = strings.ToLower(s)
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isGateway(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	last := ip.As4()[3]
	return last == 1 || last == 254
}
