package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/ztinspect/internal/i18n"
)

// printDiff shows what writing generated to path would change.
func printDiff(env *Env, path, generated string) error {
	existing, err := readExisting(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if existing == generated {
		env.printf(i18n.MsgNoDiff, path)
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(existing),
		B:        difflib.SplitLines(generated),
		FromFile: path,
		ToFile:   "generated",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Errorf("failed to generate diff: %w", err)
	}

	for _, line := range difflib.SplitLines(text) {
		switch {
		case len(line) > 0 && line[0] == '+' && !isHeader(line):
			fmt.Fprint(env.out, color.GreenString("%s", line))
		case len(line) > 0 && line[0] == '-' && !isHeader(line):
			fmt.Fprint(env.out, color.RedString("%s", line))
		default:
			fmt.Fprint(env.out, line)
		}
	}
	return nil
}

func isHeader(line string) bool {
	return len(line) >= 4 && (line[:4] == "+++ " || line[:4] == "--- ")
}
