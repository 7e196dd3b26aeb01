package generator

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strings"

	"grimm.is/ztinspect/internal/brand"
	"grimm.is/ztinspect/internal/clock"
	"grimm.is/ztinspect/internal/policy"
)

// Options tune the rendered output.
type Options struct {
	// Comment is added to the generated header.
	Comment string
	// LogDenied logs traffic before it is dropped, where the platform can.
	LogDenied bool
	// DefaultDrop closes each zone with a catch-all drop after the
	// explicit rules.
	DefaultDrop bool
}

// Projection is the template input. Every platform gets the same shape;
// the platform-specific fields are filled for the platforms that use them.
type Projection struct {
	Policy       string
	Description  string
	Platform     Platform
	PlatformName string
	Generator    string
	Version      string
	Timestamp    string
	Options      Options

	Zones   []ZoneView
	Rules   []RuleView
	HasIPv6 bool

	// Windows Firewall profiles the rules apply to.
	Profile string
	// Prefix for platform identifiers (chain names, rule names).
	Prefix string
}

// ZoneView is one zone as a template sees it.
type ZoneView struct {
	Name        string // normalized identifier
	DisplayName string
	Type        string
	Chain       string
	Addresses   []Address
	IPs         []string
	Network     string // CIDR when the zone declares a range
	NetworkAddr string
	NetworkBits int
	NetworkV4   bool
	Default     string // platform verb for the zone default action
}

// Address is a member address with the per-family command iptables-style
// platforms must use for it.
type Address struct {
	IP   string
	IPv6 bool
	Cmd  string
}

// RuleView is one enabled rule as a template sees it.
type RuleView struct {
	Name        string // platform identifier
	DisplayName string
	Src         string
	Dst         string
	SrcChain    string
	DstChain    string
	Action      string // policy action, upper-case
	Target      string // platform verb
	Log         bool
	Limit       bool
	Protocols   []string // one entry per protocol line; "" means any
	Port        string
	Description string
	Remote      []string // destination member addresses
	Local       []string // source member addresses
	SrcAddrs    []Address
	DstAddrs    []Address
}

// NormalizeName is the zone identifier used in chain, list and alias
// names. See policy.Identifier.
func NormalizeName(name string) string {
	return policy.Identifier(name)
}

// ChainName is the per-zone chain name used by iptables-style targets.
func ChainName(zone string) string {
	return "ZONE_" + strings.ToUpper(NormalizeName(zone))
}

// Project builds the platform projection of p. Only enabled rules are
// included. A rule naming a zone absent from p is an error.
func Project(p *policy.Policy, platform Platform, opts Options) (*Projection, error) {
	b := brand.Get()
	proj := &Projection{
		Policy:       p.Name,
		Description:  p.Description,
		Platform:     platform,
		PlatformName: platform.DisplayName(),
		Generator:    b.Name,
		Version:      brand.Version,
		Timestamp:    clock.Now().Format("2006-01-02 15:04:05"),
		Options:      opts,
		Prefix:       b.RulePrefix,
	}
	if platform == Windows {
		proj.Profile = "Domain,Private,Public"
	}

	clashes := p.IdentifierClashes()
	for _, id := range slices.Sorted(maps.Keys(clashes)) {
		return nil, fmt.Errorf("%w: zones %q all map to %q", ErrNameClash, clashes[id], id)
	}

	zones := make(map[string]ZoneView, len(p.Zones))
	for _, name := range p.ZoneNames() {
		zv := projectZone(p.Zones[name], platform)
		for _, a := range zv.Addresses {
			if a.IPv6 {
				proj.HasIPv6 = true
			}
		}
		zones[name] = zv
		proj.Zones = append(proj.Zones, zv)
	}

	names := make(map[string]int)
	for i, r := range p.Rules {
		if !r.Enabled {
			continue
		}
		src, ok := zones[r.Source]
		if !ok {
			return nil, fmt.Errorf("rule %d: %w: %q", i, policy.ErrUnknownZone, r.Source)
		}
		dst, ok := zones[r.Destination]
		if !ok {
			return nil, fmt.Errorf("rule %d: %w: %q", i, policy.ErrUnknownZone, r.Destination)
		}
		rv := projectRule(r, src, dst, platform)
		rv.Name = uniqueName(names, ruleName(b.RulePrefix, r, platform))
		proj.Rules = append(proj.Rules, rv)
	}
	return proj, nil
}

func projectZone(z *policy.Zone, platform Platform) ZoneView {
	zv := ZoneView{
		Name:        NormalizeName(z.Name),
		DisplayName: z.Name,
		Type:        string(z.Type),
		Chain:       ChainName(z.Name),
		Default:     target(platform, z.DefaultAction),
	}

	ips := make([]netip.Addr, 0, len(z.Devices))
	for _, d := range z.Devices {
		ips = append(ips, d.IP)
	}
	slices.SortFunc(ips, func(a, b netip.Addr) int { return a.Compare(b) })
	for _, ip := range ips {
		zv.Addresses = append(zv.Addresses, address(ip))
		zv.IPs = append(zv.IPs, ip.String())
	}

	if pfx, err := netip.ParsePrefix(z.NetworkRange); err == nil {
		pfx = pfx.Masked()
		zv.Network = pfx.String()
		zv.NetworkAddr = pfx.Addr().String()
		zv.NetworkBits = pfx.Bits()
		zv.NetworkV4 = pfx.Addr().Is4()
	}
	return zv
}

func address(ip netip.Addr) Address {
	a := Address{IP: ip.String(), IPv6: ip.Is6(), Cmd: "iptables"}
	if a.IPv6 {
		a.Cmd = "ip6tables"
	}
	return a
}

func projectRule(r policy.Rule, src, dst ZoneView, platform Platform) RuleView {
	rv := RuleView{
		DisplayName: r.Description,
		Src:         src.Name,
		Dst:         dst.Name,
		SrcChain:    src.Chain,
		DstChain:    dst.Chain,
		Action:      strings.ToUpper(string(r.Action)),
		Target:      target(platform, r.Action),
		Log:         r.Action == policy.ActionLog,
		Limit:       r.Action == policy.ActionLimit,
		Protocols:   protocols(r, platform),
		Port:        portSpec(r.Port, platform),
		Description: r.Description,
		SrcAddrs:    src.Addresses,
		DstAddrs:    dst.Addresses,
	}
	if r.Protocol == policy.ProtoICMP {
		rv.Port = ""
	}
	if rv.DisplayName == "" {
		rv.DisplayName = fmt.Sprintf("%s to %s", r.Source, r.Destination)
	}
	for _, a := range src.Addresses {
		rv.Local = append(rv.Local, a.IP)
	}
	for _, a := range dst.Addresses {
		rv.Remote = append(rv.Remote, a.IP)
	}
	return rv
}

// target maps a policy action to the platform's verb.
func target(platform Platform, a policy.Action) string {
	deny := a.IsDeny()
	switch platform {
	case Windows:
		if deny {
			return "Block"
		}
		return "Allow"
	case MikroTik:
		if deny {
			return "drop"
		}
		return "accept"
	case PfSense:
		if deny {
			return "block"
		}
		return "pass"
	default:
		if deny {
			return "DROP"
		}
		return "ACCEPT"
	}
}

// protocols expands a rule into the protocol lines a platform needs. A port
// without a concrete protocol becomes one tcp and one udp line, since no
// target matches a port without one.
func protocols(r policy.Rule, platform Platform) []string {
	if !r.Protocol.IsAny() {
		return []string{string(r.Protocol)}
	}
	if r.Port.IsZero() {
		return []string{""}
	}
	switch platform {
	case OpenWrt:
		return []string{"tcp udp"}
	case PfSense:
		return []string{"tcp/udp"}
	default:
		return []string{"tcp", "udp"}
	}
}

func portSpec(pr policy.PortRange, platform Platform) string {
	if pr.IsZero() {
		return ""
	}
	if pr.IsRange() && (platform == IPTables || platform == ASUSWRT) {
		return fmt.Sprintf("%d:%d", pr.Lo, pr.Hi)
	}
	return pr.String()
}

func ruleName(prefix string, r policy.Rule, platform Platform) string {
	if platform == Windows {
		return fmt.Sprintf("%s_%s_to_%s", prefix, r.Source, r.Destination)
	}
	return fmt.Sprintf("%s_%s_to_%s", prefix, NormalizeName(r.Source), NormalizeName(r.Destination))
}

// uniqueName suffixes repeated identifiers with _2, _3, ...
func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s_%d", name, n)
	}
	return name
}
