package engine

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"grimm.is/ztinspect/internal/policy"
)

// ErrNoZones is returned by rule synthesis on a policy without zones.
var ErrNoZones = errors.New("no zones defined")

// GenerateDefaultRules replaces p's rules with the zero-trust baseline: a
// deny rule for every ordered pair of distinct zones followed by one allow
// rule per zone for its internal traffic. Zones are visited in name order,
// so the result depends only on the zone set.
func GenerateDefaultRules(p *policy.Policy) error {
	names := p.ZoneNames()
	if len(names) == 0 {
		return ErrNoZones
	}

	n := len(names)
	rules := make([]policy.Rule, 0, n*n)
	for _, src := range names {
		for _, dst := range names {
			if src == dst {
				continue
			}
			rules = append(rules, policy.Rule{
				Source:      src,
				Destination: dst,
				Action:      policy.ActionDeny,
				Protocol:    policy.ProtoAny,
				Description: fmt.Sprintf("Deny traffic from %s to %s", src, dst),
				Enabled:     true,
			})
		}
	}
	for _, name := range names {
		rules = append(rules, policy.Rule{
			Source:      name,
			Destination: name,
			Action:      policy.ActionAllow,
			Protocol:    policy.ProtoAny,
			Description: fmt.Sprintf("Allow internal traffic within %s", name),
			Enabled:     true,
		})
	}

	p.SetRules(rules)
	return nil
}

// OptimizeRules drops exact duplicates (same source, destination, action,
// protocol and port; the first occurrence wins) and stably re-orders the
// survivors most-specific first: a concrete protocol before any, a port
// before none, deny before allow. It returns the number of rules removed.
// Running it twice is a no-op.
func OptimizeRules(p *policy.Policy) int {
	seen := make(map[policy.RuleKey]struct{}, len(p.Rules))
	kept := make([]policy.Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, r)
	}

	slices.SortStableFunc(kept, func(a, b policy.Rule) int {
		return specificity(a) - specificity(b)
	})

	removed := len(p.Rules) - len(kept)
	p.SetRules(kept)
	return removed
}

// specificity ranks a rule; lower sorts first.
func specificity(r policy.Rule) int {
	rank := 0
	if r.Protocol.IsAny() {
		rank += 4
	}
	if r.Port.IsZero() {
		rank += 2
	}
	if !r.Action.IsDeny() {
		rank++
	}
	return rank
}

// FindConflicts reports every zone pair that carries both an allow-type and
// a deny-type rule. Protocol and port scoping are not considered, so two
// rules that never overlap on the wire are still reported. Messages are
// sorted.
func FindConflicts(p *policy.Policy) []string {
	type pair struct{ src, dst string }
	type seen struct{ allow, deny bool }

	pairs := make(map[pair]*seen)
	for _, r := range p.Rules {
		k := pair{r.Source, r.Destination}
		s := pairs[k]
		if s == nil {
			s = &seen{}
			pairs[k] = s
		}
		switch {
		case r.Action.IsDeny():
			s.deny = true
		case r.Action.IsAllow():
			s.allow = true
		}
	}

	var out []string
	for k, s := range pairs {
		if s.allow && s.deny {
			out = append(out, fmt.Sprintf("conflicting allow and deny rules between %s and %s", k.src, k.dst))
		}
	}
	sort.Strings(out)
	return out
}
