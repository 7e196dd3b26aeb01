package cmd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/ztinspect/internal/engine"
	"grimm.is/ztinspect/internal/generator"
	"grimm.is/ztinspect/internal/i18n"
)

// ExportOptions select the target platform and the output file.
type ExportOptions struct {
	Platform string
	// Out defaults to <export_dir>/<policy>_<platform><ext>.
	Out string
	// Diff prints a unified diff against the existing Out instead of
	// writing it.
	Diff bool

	Generator generator.Options
}

// RunExport renders the policy for a platform and writes it to disk.
func RunExport(env *Env, opts ExportOptions) error {
	plat, err := generator.ParsePlatform(opts.Platform)
	if err != nil {
		return err
	}
	if err := env.LoadPolicy(); err != nil {
		return err
	}
	snap, err := env.Engine.Snapshot()
	if err != nil {
		return err
	}

	ts, err := generator.NewTemplateSet()
	if err != nil {
		return err
	}
	gen := generator.New(ts,
		generator.WithHub(env.Hub),
		generator.WithLogger(env.Logger.WithComponent("generator")),
	)

	exp, err := gen.Export(snap, string(plat), opts.Generator)
	if err != nil {
		return err
	}
	out, rules := exp.Text, exp.Rules
	env.Metrics.ObserveExport(string(plat), rules, len(out))

	path := opts.Out
	if path == "" {
		path = ExportPath(env.Config.ExportDir, snap.Name, plat)
	}

	if opts.Diff {
		return printDiff(env, path, out)
	}

	if err := engine.WriteFileAtomic(path, []byte(out), 0o644); err != nil {
		return err
	}
	env.Logger.Audit("export", "config", map[string]any{"platform": string(plat), "path": path, "rules": rules})
	env.printf(i18n.MsgConfigWritten, plat.DisplayName(), path, len(out))
	return nil
}

// ExportPath is the default file name for an export of policyName.
func ExportPath(dir, policyName string, plat generator.Platform) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, policyName)
	if name == "" {
		name = "policy"
	}
	return filepath.Join(dir, name+"_"+string(plat)+plat.FileExtension())
}

func readExisting(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}
