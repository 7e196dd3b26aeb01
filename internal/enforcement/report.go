package enforcement

import (
	"fmt"
	"strings"
	"time"
)

// Report renders a plain-text summary of r.
func Report(r *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Zone Isolation Validation Report\n")
	fmt.Fprintf(&b, "================================\n")
	fmt.Fprintf(&b, "Policy: %s\n", r.Policy)
	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	fmt.Fprintf(&b, "Started: %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Total Tests: %d\n", r.Total)
	fmt.Fprintf(&b, "Passed: %d\n", r.Passed)
	fmt.Fprintf(&b, "Failed: %d\n", r.Failed)
	if r.Errors > 0 {
		fmt.Fprintf(&b, "Errors: %d\n", r.Errors)
	}
	if r.Inconclusive > 0 {
		fmt.Fprintf(&b, "Inconclusive: %d (excluded from score)\n", r.Inconclusive)
	}
	fmt.Fprintf(&b, "Isolation Score: %.1f%%\n", r.Score)
	if r.Cancelled() {
		fmt.Fprintf(&b, "Cancelled: %d of %d pairs probed\n", len(r.Pairs), r.Planned)
	}

	if len(r.Pairs) == 0 {
		return b.String()
	}
	b.WriteString("\nResults:\n")
	for _, pr := range r.Pairs {
		fmt.Fprintf(&b, "  %-14s %s (%s) <-> %s (%s)\n",
			statusTag(pr.Status), pr.SourceZone, pr.Source.Addr(), pr.TargetZone, pr.Target.Addr())
		switch pr.Status {
		case StatusFailed:
			fmt.Fprintf(&b, "      ping: %s, tcp/%d: %s\n", answer(pr.Reachable), r.Port, openClosed(pr.PortOpen))
		case StatusError:
			fmt.Fprintf(&b, "      %v\n", pr.Err)
		case StatusInconclusive:
			fmt.Fprintf(&b, "      target did not answer from %s\n", pr.Control.Addr())
		}
	}
	return b.String()
}

func statusTag(s Status) string {
	switch s {
	case StatusPassed:
		return "[PASS]"
	case StatusFailed:
		return "[FAIL]"
	case StatusError:
		return "[ERROR]"
	default:
		return "[INCONCLUSIVE]"
	}
}

func answer(ok bool) string {
	if ok {
		return "answered"
	}
	return "no answer"
}

func openClosed(ok bool) string {
	if ok {
		return "open"
	}
	return "closed"
}
