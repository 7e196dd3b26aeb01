package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"

	"grimm.is/ztinspect/internal/engine"
	"grimm.is/ztinspect/internal/i18n"
)

// ErrPolicyInvalid is returned by RunCheck when error-severity findings
// exist.
var ErrPolicyInvalid = errors.New("policy has errors")

// RunCheck inspects the policy for structural defects and rule conflicts.
func RunCheck(env *Env) (engine.Findings, error) {
	if err := env.LoadPolicy(); err != nil {
		return nil, err
	}
	findings, err := env.Engine.ValidateCurrent()
	if err != nil {
		return nil, err
	}
	conflicts, err := env.Engine.Conflicts()
	if err != nil {
		return nil, err
	}

	if len(findings) == 0 && len(conflicts) == 0 {
		env.printf(i18n.MsgCheckClean)
		return findings, nil
	}

	if len(findings) > 0 {
		w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEVERITY\tZONE\tRULE\tMESSAGE")
		for _, f := range findings {
			sev := color.YellowString("%s", f.Severity)
			if f.Severity == engine.SeverityError {
				sev = color.RedString("%s", f.Severity)
			}
			rule := "-"
			if f.Rule >= 0 {
				rule = fmt.Sprint(f.Rule)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sev, dash(f.Zone), rule, f.Message)
		}
		w.Flush()
	}
	env.printf(i18n.MsgCheckSummary, len(findings.Errors()), len(findings.Warnings()))

	if len(conflicts) > 0 {
		env.printf(i18n.MsgConflicts, len(conflicts))
		for _, c := range conflicts {
			fmt.Fprintf(env.out, "  %s\n", c)
		}
	}

	if findings.HasErrors() {
		return findings, ErrPolicyInvalid
	}
	return findings, nil
}
