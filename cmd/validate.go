package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"grimm.is/ztinspect/internal/clock"
	"grimm.is/ztinspect/internal/enforcement"
	"grimm.is/ztinspect/internal/history"
	"grimm.is/ztinspect/internal/i18n"
	"grimm.is/ztinspect/internal/probe"
)

// ValidateOptions override the validation block of the settings file. Zero
// values keep the configured setting.
type ValidateOptions struct {
	Workers int
	Timeout time.Duration
	Port    int

	// Prober replaces the local network prober.
	Prober probe.Prober
}

var reportColors = strings.NewReplacer(
	"[PASS]", color.GreenString("[PASS]"),
	"[FAIL]", color.RedString("[FAIL]"),
	"[ERROR]", color.YellowString("[ERROR]"),
)

// RunValidate probes isolation between every pair of zones, prints the
// report and records the run in the history database. A cancelled run is
// still reported and recorded, then its error is returned.
func RunValidate(ctx context.Context, env *Env, opts ValidateOptions) (*enforcement.Result, error) {
	if err := env.LoadPolicy(); err != nil {
		return nil, err
	}
	snap, err := env.Engine.Snapshot()
	if err != nil {
		return nil, err
	}

	vc := env.Config.Validation
	vopts := enforcement.Options{
		Workers:         vc.Workers,
		Timeout:         vc.TimeoutDuration(),
		Port:            vc.Port,
		PositiveControl: vc.PositiveControl,
	}
	if opts.Workers > 0 {
		vopts.Workers = opts.Workers
	}
	if opts.Timeout > 0 {
		vopts.Timeout = opts.Timeout
	}
	if opts.Port > 0 {
		vopts.Port = opts.Port
	}

	prober := opts.Prober
	if prober == nil {
		np := probe.NewNetProber(env.Logger.WithComponent("probe"))
		np.Privileged = vc.PrivilegedICMP
		prober = np
	}

	v := enforcement.New(prober, vopts,
		enforcement.WithHub(env.Hub),
		enforcement.WithRecorder(env.Metrics),
		enforcement.WithLogger(env.Logger.WithComponent("enforcement")),
	)

	res, runErr := v.Run(ctx, snap)
	if res == nil {
		return nil, runErr
	}

	fmt.Fprint(env.out, reportColors.Replace(enforcement.Report(res)))
	env.printf(i18n.MsgScore, res.Score, res.Passed, res.Total)

	if err := recordRun(env, res); err != nil {
		env.Logger.Warn("validation run not recorded", "error", err)
	}
	return res, runErr
}

func recordRun(env *Env, res *enforcement.Result) error {
	store, err := history.Open(env.Config.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()
	// The run is recorded even when the caller's context was cancelled.
	ctx := context.Background()
	if err := store.Record(ctx, res); err != nil {
		return err
	}

	keep := env.Config.RetentionDuration()
	if keep == 0 {
		return nil
	}
	removed, err := store.Prune(ctx, clock.Now().Add(-keep))
	if err != nil {
		return err
	}
	if removed > 0 {
		env.Logger.Info("pruned validation history", "runs", removed, "older_than", keep)
	}
	return nil
}

