package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/fatih/color"

	"grimm.is/ztinspect/internal/classify"
	"grimm.is/ztinspect/internal/config"
	"grimm.is/ztinspect/internal/engine"
	"grimm.is/ztinspect/internal/events"
	"grimm.is/ztinspect/internal/i18n"
	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/metrics"
)

// Printer localizes everything the commands print.
var Printer = i18n.NewCLIPrinter()

// Options are the settings every command shares.
type Options struct {
	ConfigFile string
	// PolicyFile overrides policy_file from the settings file.
	PolicyFile string
	// Out receives command output, ErrOut progress lines. Nil means
	// stdout and stderr.
	Out    io.Writer
	ErrOut io.Writer
	// Quiet suppresses progress lines.
	Quiet bool
}

// Env is the wiring shared by every command: settings, logger, event hub,
// policy engine and metrics.
type Env struct {
	Config     *config.Config
	Logger     *logging.Logger
	Hub        *events.Hub
	Engine     *engine.Engine
	Metrics    *metrics.Registry
	PolicyFile string

	out    io.Writer
	errOut io.Writer

	sub *events.Subscription
	wg  sync.WaitGroup
}

// Setup loads the settings file and builds an Env. Call Close when the
// command is done.
func Setup(opts Options) (*Env, error) {
	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	env := &Env{
		Config:     cfg,
		Hub:        events.NewHub(),
		Metrics:    metrics.New(),
		PolicyFile: cfg.PolicyFile,
		out:        opts.Out,
		errOut:     opts.ErrOut,
	}
	if opts.PolicyFile != "" {
		env.PolicyFile = opts.PolicyFile
	}
	if env.out == nil {
		env.out = os.Stdout
	}
	if env.errOut == nil {
		env.errOut = os.Stderr
	}

	env.Logger = logging.New(logging.Config{
		Level:  level,
		Output: env.errOut,
		JSON:   cfg.LogJSON,
	})
	logging.SetDefault(env.Logger)
	env.Logger.Debug("settings loaded", "file", opts.ConfigFile, "settings", cfg)

	if cfg.OUIFile != "" {
		if err := loadOUI(cfg.OUIFile); err != nil {
			return nil, err
		}
		env.Logger.Debug("vendor table replaced", "file", cfg.OUIFile)
	}

	env.Engine = engine.New(
		engine.WithHub(env.Hub),
		engine.WithLogger(env.Logger.WithComponent("engine")),
	)

	if !opts.Quiet {
		env.watch()
	}
	return env, nil
}

// LoadPolicy reads the policy file into the engine.
func (e *Env) LoadPolicy() error {
	_, err := e.Engine.LoadPolicy(e.PolicyFile)
	return err
}

// LoadOrCreatePolicy reads the policy file, starting an empty policy named
// name when the file does not exist yet.
func (e *Env) LoadOrCreatePolicy(name string) error {
	err := e.LoadPolicy()
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	e.Logger.Info("starting new policy", "file", e.PolicyFile, "name", name)
	e.Engine.CreatePolicy(name, "")
	return nil
}

// Close stops progress output and writes the metrics textfile when one is
// configured.
func (e *Env) Close() error {
	if e.sub != nil {
		e.sub.Close()
		e.wg.Wait()
		e.sub = nil
	}
	if e.Config.MetricsFile == "" {
		return nil
	}
	return e.Metrics.WriteTextfile(e.Config.MetricsFile)
}

func loadOUI(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vendor table: %w", err)
	}
	defer f.Close()
	tbl, err := classify.ParseOUI(f)
	if err != nil {
		return fmt.Errorf("parse vendor table %s: %w", path, err)
	}
	classify.SetOUITable(tbl)
	return nil
}

func (e *Env) watch() {
	e.sub = e.Hub.Subscribe(64,
		events.EventScanProgress,
		events.EventEngineProgress,
		events.EventValidateProgress,
	)
	progress := color.New(color.FgCyan).FprintfFunc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range e.sub.C {
			if data, ok := ev.Data.(events.ProgressData); ok {
				progress(e.errOut, "[%s] %3.0f%% %s\n", data.Phase, data.Percent, data.Message)
			}
		}
	}()
}

func (e *Env) printf(format string, args ...any) {
	Printer.Fprintf(e.out, format, args...)
}

