package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/tabwriter"

	"grimm.is/ztinspect/internal/classify"
	"grimm.is/ztinspect/internal/discovery"
	"grimm.is/ztinspect/internal/engine"
	"grimm.is/ztinspect/internal/i18n"
	"grimm.is/ztinspect/internal/policy"
)

// DefaultPolicyName names a policy created by a scan.
const DefaultPolicyName = "home"

// ScanOptions select the network and the zone that receives new devices.
type ScanOptions struct {
	// Network overrides scan.network from the settings file.
	Network string
	// Zone, when set, receives every discovered device that is not already
	// assigned to another zone. The policy is then saved.
	Zone string
	// ZoneType is used when Zone has to be created. Empty means custom.
	ZoneType string

	// ScannerOptions are appended to the scanner built from the settings.
	ScannerOptions []discovery.Option
}

// RunScan sweeps a network, classifies every host it finds and optionally
// assigns them to a zone.
func RunScan(ctx context.Context, env *Env, opts ScanOptions) error {
	sc := env.Config.Scan
	network := opts.Network
	if network == "" {
		network = sc.Network
	}

	scanOpts := []discovery.Option{
		discovery.WithHub(env.Hub),
		discovery.WithLogger(env.Logger.WithComponent("discovery")),
		discovery.WithNeighbors(discovery.KernelNeighbors{}),
	}
	if sc.Resolver != "" {
		scanOpts = append(scanOpts, discovery.WithResolver(discovery.NewDNSResolver(sc.Resolver)))
	} else {
		scanOpts = append(scanOpts, discovery.WithResolver(discovery.SystemResolver{}))
	}
	scanOpts = append(scanOpts, opts.ScannerOptions...)

	scanner := discovery.New(discovery.Config{
		Ports:       sc.Ports,
		Timeout:     sc.TimeoutDuration(),
		Concurrency: sc.Concurrency,
	}, scanOpts...)

	devices, scanErr := scanner.Scan(ctx, network)
	if scanErr != nil && devices == nil {
		return scanErr
	}
	fillKnownMACs(env, devices)
	for _, d := range devices {
		classify.Annotate(d)
	}
	env.Metrics.ObserveScan(network, len(devices))

	env.printf(i18n.MsgScanFound, len(devices), network)
	printDevices(env, devices)

	if scanErr != nil {
		return scanErr
	}
	if opts.Zone == "" || len(devices) == 0 {
		return nil
	}
	return assignDevices(env, opts, devices)
}

// fillKnownMACs copies hardware addresses recorded in the policy file onto
// devices the neighbor table had no entry for, so the vendor lookup sees them.
func fillKnownMACs(env *Env, devices []*policy.Device) {
	p, err := engine.ReadPolicy(env.PolicyFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			env.Logger.Warn("policy file unreadable, known MACs not used", "file", env.PolicyFile, "error", err)
		}
		return
	}
	for _, d := range devices {
		if d.MAC != "" {
			continue
		}
		if _, known := p.FindDevice(d.IP); known != nil {
			d.MAC = known.MAC
		}
	}
}

func assignDevices(env *Env, opts ScanOptions, devices []*policy.Device) error {
	if err := env.LoadOrCreatePolicy(DefaultPolicyName); err != nil {
		return err
	}

	typ, err := policy.ParseZoneType(opts.ZoneType)
	if err != nil {
		return err
	}

	var assigned, kept int
	err = env.Engine.Mutate(func(p *policy.Policy) error {
		if p.Zone(opts.Zone) == nil {
			z := policy.NewZone(opts.Zone, typ)
			env.Config.StyleZone(z)
			if err := p.AddZone(z); err != nil {
				return err
			}
		}
		for _, d := range devices {
			z, existing := p.FindDevice(d.IP)
			if z != nil && z.Name != opts.Zone {
				kept++
				continue
			}
			if existing != nil {
				d.FirstSeen = existing.FirstSeen
				if d.MAC == "" {
					d.MAC = existing.MAC
				}
			}
			if err := p.AssignDevice(opts.Zone, d); err != nil {
				return err
			}
			assigned++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if kept > 0 {
		env.Logger.Info("devices already assigned elsewhere were left in place", "count", kept)
	}

	if err := env.Engine.SaveCurrent(env.PolicyFile); err != nil {
		return err
	}
	env.printf(i18n.MsgScanAssigned, assigned, opts.Zone)
	env.printf(i18n.MsgPolicySaved, env.PolicyFile)
	return nil
}

func printDevices(env *Env, devices []*policy.Device) {
	if len(devices) == 0 {
		return
	}
	w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IP\tHOSTNAME\tVENDOR\tTYPE\tPORTS\tRISK")
	for _, d := range devices {
		ports := make([]string, len(d.OpenPorts))
		for i, p := range d.OpenPorts {
			ports[i] = fmt.Sprint(p)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			d.Addr(), dash(d.Hostname), dash(d.Vendor), d.Type,
			strings.Join(ports, ","), d.RiskScore)
	}
	w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
