// Package policy is the segmentation data model: devices grouped into zones,
// directed rules between zones, and the Policy aggregate that owns both.
//
// Rules refer to zones by name only. The Policy's zone map is the single
// source of truth and every mutation that removes a zone also removes the
// rules naming it, so a completed mutation never leaves a dangling reference.
//
// Nothing here is safe for concurrent mutation; the engine package guards a
// working Policy and hands out clones to concurrent readers.
package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceType is the classification tag attached to a Device.
type DeviceType string

const (
	DeviceRouter   DeviceType = "router"
	DeviceComputer DeviceType = "computer"
	DevicePhone    DeviceType = "phone"
	DeviceTablet   DeviceType = "tablet"
	DeviceIoT      DeviceType = "iot"
	DevicePrinter  DeviceType = "printer"
	DeviceCamera   DeviceType = "camera"
	DeviceServer   DeviceType = "server"
	DeviceUnknown  DeviceType = "unknown"
)

// DeviceTypes lists every valid DeviceType.
var DeviceTypes = []DeviceType{
	DeviceRouter, DeviceComputer, DevicePhone, DeviceTablet, DeviceIoT,
	DevicePrinter, DeviceCamera, DeviceServer, DeviceUnknown,
}

// ParseDeviceType accepts the canonical names. Empty maps to unknown and
// the legacy "switch" tag maps to router.
func ParseDeviceType(s string) (DeviceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return DeviceUnknown, nil
	case "switch":
		return DeviceRouter, nil
	}
	for _, t := range DeviceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return DeviceUnknown, fmt.Errorf("unknown device type %q", s)
}

// ZoneType is the posture tag of a Zone.
type ZoneType string

const (
	ZoneTrusted ZoneType = "trusted"
	ZoneIoT     ZoneType = "iot"
	ZoneGuest   ZoneType = "guest"
	ZoneServer  ZoneType = "server"
	ZoneDMZ     ZoneType = "dmz"
	ZoneCustom  ZoneType = "custom"
)

// ZoneTypes lists every valid ZoneType.
var ZoneTypes = []ZoneType{ZoneTrusted, ZoneIoT, ZoneGuest, ZoneServer, ZoneDMZ, ZoneCustom}

// ParseZoneType parses a zone type; empty maps to custom.
func ParseZoneType(s string) (ZoneType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ZoneCustom, nil
	}
	for _, t := range ZoneTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return ZoneCustom, fmt.Errorf("unknown zone type %q", s)
}

// Action is what a Rule does with matching traffic.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionLimit Action = "limit"
	ActionLog   Action = "log"
)

// ParseAction parses a rule action. "inspect" is accepted as log.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "accept":
		return ActionAllow, nil
	case "deny", "drop", "block":
		return ActionDeny, nil
	case "limit":
		return ActionLimit, nil
	case "log", "inspect":
		return ActionLog, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// IsDeny reports whether the action blocks traffic.
func (a Action) IsDeny() bool { return a == ActionDeny }

// IsAllow reports whether the action lets traffic through. Limit and log
// pass traffic (rate-limited or recorded), so they count as allow-type.
func (a Action) IsAllow() bool {
	return a == ActionAllow || a == ActionLimit || a == ActionLog
}

// Protocol is the L4 protocol a Rule matches.
type Protocol string

const (
	ProtoTCP  Protocol = "tcp"
	ProtoUDP  Protocol = "udp"
	ProtoICMP Protocol = "icmp"
	ProtoAny  Protocol = "any"
)

// ParseProtocol parses a protocol; empty maps to any.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return ProtoAny, nil
	case "tcp":
		return ProtoTCP, nil
	case "udp":
		return ProtoUDP, nil
	case "icmp":
		return ProtoICMP, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// IsAny reports whether p matches every protocol.
func (p Protocol) IsAny() bool { return p == ProtoAny || p == "" }

// PortRange is a single port (Lo == Hi) or an inclusive range.
// The zero value means "no port".
type PortRange struct {
	Lo uint16
	Hi uint16
}

// Port returns a single-port range.
func Port(p uint16) PortRange { return PortRange{Lo: p, Hi: p} }

// IsZero reports whether no port is set.
func (r PortRange) IsZero() bool { return r.Lo == 0 && r.Hi == 0 }

// IsRange reports whether r spans more than one port.
func (r PortRange) IsRange() bool { return r.Hi > r.Lo }

// String renders "80", "8000-8080" or "" for no port.
func (r PortRange) String() string {
	switch {
	case r.IsZero():
		return ""
	case r.IsRange():
		return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
	default:
		return strconv.Itoa(int(r.Lo))
	}
}

// ParsePortRange parses "", "443" or "8000-8080" (":" is accepted as the
// range separator too).
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, nil
	}
	sep := strings.IndexAny(s, "-:")
	if sep < 0 {
		p, err := parsePort(s)
		if err != nil {
			return PortRange{}, err
		}
		return Port(p), nil
	}
	lo, err := parsePort(s[:sep])
	if err != nil {
		return PortRange{}, err
	}
	hi, err := parsePort(s[sep+1:])
	if err != nil {
		return PortRange{}, err
	}
	if hi < lo {
		return PortRange{}, fmt.Errorf("port range %q is inverted", s)
	}
	return PortRange{Lo: lo, Hi: hi}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}
