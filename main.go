package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/ztinspect/cmd"
	"grimm.is/ztinspect/internal/brand"
	"grimm.is/ztinspect/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	fs := flag.NewFlagSet(brand.BinaryName, flag.ExitOnError)
	fs.Usage = func() { printUsage(fs) }

	configFile := fs.String("config", brand.DefaultConfigPath(), "Settings file (HCL)")
	policyFile := fs.String("policy", "", "Policy file (overrides policy_file)")
	quiet := fs.Bool("q", false, "Suppress progress output")

	scan := fs.Bool("scan", false, "Sweep a network for devices")
	network := fs.String("network", "", "Network to sweep (CIDR)")
	zone := fs.String("zone", "", "Assign discovered devices to this zone and save the policy")
	zoneType := fs.String("zone-type", "", "Type of the zone when -zone creates it")

	export := fs.String("export", "", "Generate firewall configuration for a platform")
	out := fs.String("out", "", "Export file (default <export_dir>/<policy>_<platform>.<ext>)")
	diff := fs.Bool("diff", false, "Show changes against the existing export instead of writing it")
	logDenied := fs.Bool("log-denied", false, "Log traffic before it is dropped, where the platform supports it")
	defaultDrop := fs.Bool("default-drop", false, "Close every zone with a catch-all drop rule")

	validate := fs.Bool("validate", false, "Test isolation between every pair of zones")
	workers := fs.Int("workers", 0, "Concurrent zone pairs")
	timeout := fs.Duration("timeout", 0, "Per-probe timeout")
	port := fs.Int("port", 0, "TCP port probed on each target")

	check := fs.Bool("check", false, "Report structural problems and rule conflicts")
	defaults := fs.Bool("defaults", false, "Replace the rules with the default set and save")
	instructions := fs.String("instructions", "", "Print the steps for applying an export on a platform")
	hist := fs.Bool("history", false, "List recent validation runs")
	histLimit := fs.Int("limit", 20, "Runs listed by -history")
	runID := fs.String("run", "", "Show the pair outcomes of one run (with -history)")

	fs.Parse(os.Args[1:])

	modes := 0
	for _, set := range []bool{*scan, *export != "", *validate, *check, *defaults, *instructions != "", *hist} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		printUsage(fs)
		os.Exit(2)
	}

	if *instructions != "" {
		if err := cmd.RunInstructions(os.Stdout, *instructions); err != nil {
			fail("Instructions failed", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := cmd.Setup(cmd.Options{
		ConfigFile: *configFile,
		PolicyFile: *policyFile,
		Quiet:      *quiet,
	})
	if err != nil {
		fail("Configuration error", err)
	}

	var (
		runErr error
		label  string
	)
	switch {
	case *scan:
		label = "Scan failed"
		runErr = cmd.RunScan(ctx, env, cmd.ScanOptions{
			Network:  *network,
			Zone:     *zone,
			ZoneType: *zoneType,
		})

	case *export != "":
		label = "Export failed"
		opts := cmd.ExportOptions{Platform: *export, Out: *out, Diff: *diff}
		opts.Generator.LogDenied = *logDenied
		opts.Generator.DefaultDrop = *defaultDrop
		runErr = cmd.RunExport(env, opts)

	case *validate:
		label = "Validation failed"
		_, runErr = cmd.RunValidate(ctx, env, cmd.ValidateOptions{
			Workers: *workers,
			Timeout: *timeout,
			Port:    *port,
		})

	case *check:
		label = "Check failed"
		_, runErr = cmd.RunCheck(env)

	case *defaults:
		label = "Defaults failed"
		runErr = cmd.RunDefaults(env)

	case *hist:
		label = "History failed"
		_, runErr = cmd.RunHistory(ctx, env, cmd.HistoryOptions{Limit: *histLimit, RunID: *runID})
	}

	if err := env.Close(); err != nil {
		env.Logger.Warn("metrics not written", "error", err)
	}
	if runErr != nil {
		stop()
		fail(label, runErr)
	}
}

func fail(label string, err error) {
	printer.Fprintf(os.Stderr, "%s: %v\n", label, err)
	os.Exit(1)
}

func printUsage(fs *flag.FlagSet) {
	name := brand.BinaryName
	printer.Fprintf(os.Stderr, "%s %s - %s\n\n", brand.Name, brand.Version, brand.Description)
	fmt.Fprintf(os.Stderr, `Usage:
  %[1]s [-config f] [-policy f] -scan [-network cidr] [-zone name [-zone-type t]]
  %[1]s [-policy f] -export <platform> [-out file] [-diff]
  %[1]s [-policy f] -validate [-workers n] [-timeout d] [-port p]
  %[1]s [-policy f] -check
  %[1]s [-policy f] -defaults
  %[1]s -instructions <platform>
  %[1]s -history [-limit n | -run id]

Platforms: openwrt, windows, iptables, mikrotik, asuswrt, pfsense

Flags:
`, name)
	fs.PrintDefaults()
}
