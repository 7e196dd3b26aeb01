package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"grimm.is/ztinspect/internal/history"
	"grimm.is/ztinspect/internal/i18n"
)

// HistoryOptions filter the run listing.
type HistoryOptions struct {
	Policy string
	Limit  int
	// RunID shows the pair outcomes of one run instead of the listing.
	RunID  string
}

// RunHistory lists recent validation runs, newest first.
func RunHistory(ctx context.Context, env *Env, opts HistoryOptions) ([]history.Run, error) {
	store, err := history.Open(env.Config.HistoryDB)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if opts.RunID != "" {
		run, err := showRun(ctx, env, store, opts.RunID)
		if err != nil {
			return nil, err
		}
		return []history.Run{*run}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := store.Recent(ctx, opts.Policy, limit)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		env.printf(i18n.MsgNoHistory)
		return nil, nil
	}

	env.printf(i18n.MsgHistoryHeader)
	w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPOLICY\tSCORE\tPASSED\tFAILED\tERRORS\tID")
	for _, r := range runs {
		score := fmt.Sprintf("%.1f%%", r.Score)
		if r.Cancelled {
			score += " (cancelled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Policy, score,
			r.Passed, r.Failed, r.Errors, r.ID)
	}
	w.Flush()
	return runs, nil
}

func showRun(ctx context.Context, env *Env, store *history.Store, id string) (*history.Run, error) {
	run, pairs, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	env.printf(i18n.MsgRunDetail, run.ID, run.Policy,
		run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Score, run.Total)

	w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tSOURCE\tTARGET\tREACHABLE\tPORT\tTIME\tERROR")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s (%s)\t%s (%s)\t%t\t%t\t%s\t%s\n",
			p.Status, p.SourceZone, dash(p.SourceIP), p.TargetZone, dash(p.TargetIP),
			p.Reachable, p.PortOpen, p.Duration, dash(p.Error))
	}
	w.Flush()
	return run, nil
}
