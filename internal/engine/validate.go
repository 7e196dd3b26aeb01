package engine

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strings"

	"grimm.is/ztinspect/internal/policy"
)

// Severity grades a Finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one structural defect reported by Validate.
type Finding struct {
	Severity Severity
	Zone     string // zone the finding is about, if any
	Rule     int    // rule index, or -1
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
}

// Findings is the result of Validate.
type Findings []Finding

// HasErrors reports whether any finding has error severity. This is the
// pass/fail gate for callers that need one.
func (fs Findings) HasErrors() bool {
	for _, f := range fs {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity findings.
func (fs Findings) Errors() Findings {
	return fs.filter(SeverityError)
}

// Warnings returns the warning-severity findings.
func (fs Findings) Warnings() Findings {
	return fs.filter(SeverityWarning)
}

func (fs Findings) filter(s Severity) Findings {
	var out Findings
	for _, f := range fs {
		if f.Severity == s {
			out = append(out, f)
		}
	}
	return out
}

func (fs Findings) String() string {
	lines := make([]string, len(fs))
	for i, f := range fs {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

// Validate inspects p and returns its structural defects. It never fails on
// a navigable policy; an empty result means nothing was found.
func Validate(p *policy.Policy) Findings {
	var fs Findings

	if len(p.Zones) == 0 {
		fs = append(fs, Finding{Severity: SeverityError, Rule: -1, Message: "no zones defined"})
	}

	owner := make(map[netip.Addr]string)
	for _, name := range p.ZoneNames() {
		z := p.Zones[name]
		if z.DeviceCount() == 0 {
			fs = append(fs, Finding{
				Severity: SeverityWarning,
				Zone:     name,
				Rule:     -1,
				Message:  fmt.Sprintf("zone %q has no devices", name),
			})
		}

		var prefix netip.Prefix
		if z.NetworkRange != "" {
			prefix, _ = netip.ParsePrefix(z.NetworkRange)
		}
		for _, d := range z.Devices {
			if other, dup := owner[d.IP]; dup {
				fs = append(fs, Finding{
					Severity: SeverityError,
					Zone:     name,
					Rule:     -1,
					Message:  fmt.Sprintf("device %s is a member of both %q and %q", d.IP, other, name),
				})
				continue
			}
			owner[d.IP] = name
			if prefix.IsValid() && !prefix.Contains(d.IP) {
				fs = append(fs, Finding{
					Severity: SeverityWarning,
					Zone:     name,
					Rule:     -1,
					Message:  fmt.Sprintf("device %s is outside zone %q network %s", d.IP, name, prefix),
				})
			}
		}
	}

	clashes := p.IdentifierClashes()
	for _, id := range slices.Sorted(maps.Keys(clashes)) {
		names := clashes[id]
		fs = append(fs, Finding{
			Severity: SeverityError,
			Zone:     names[0],
			Rule:     -1,
			Message:  fmt.Sprintf("zones %q share the firewall identifier %q", names, id),
		})
	}

	for i, r := range p.Rules {
		for _, ref := range []string{r.Source, r.Destination} {
			if _, ok := p.Zones[ref]; ok {
				continue
			}
			fs = append(fs, Finding{
				Severity: SeverityError,
				Zone:     ref,
				Rule:     i,
				Message:  fmt.Sprintf("rule %d (%s) references unknown zone %q", i, r, ref),
			})
		}
	}

	return fs
}
