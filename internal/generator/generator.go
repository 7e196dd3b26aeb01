package generator

import (
	"errors"
	"sync"

	"grimm.is/ztinspect/internal/events"
	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/policy"
)

// Generator renders policies through a Renderer.
type Generator struct {
	renderer Renderer
	hub      *events.Hub
	logger   *logging.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithHub publishes an event for every successful export.
func WithHub(hub *events.Hub) Option {
	return func(g *Generator) { g.hub = hub }
}

// WithLogger overrides the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New creates a Generator over r.
func New(r Renderer, opts ...Option) *Generator {
	g := &Generator{renderer: r}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.WithComponent("generator")
	}
	return g
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
	defaultErr  error
)

// Default returns a Generator over the embedded templates.
func Default() (*Generator, error) {
	defaultOnce.Do(func() {
		var ts *TemplateSet
		ts, defaultErr = NewTemplateSet()
		if defaultErr == nil {
			defaultGen = New(ts)
		}
	})
	return defaultGen, defaultErr
}

// Export is a rendered configuration.
type Export struct {
	Platform Platform
	Text     string
	// Rules is the number of enabled rules the text enforces.
	Rules int
}

// Export renders p for the named platform.
func (g *Generator) Export(p *policy.Policy, platform string, opts Options) (*Export, error) {
	plat, err := ParsePlatform(platform)
	if err != nil {
		return nil, err
	}

	proj, err := Project(p, plat, opts)
	if err != nil {
		return nil, &ConfigGenerationError{Platform: plat, Err: err}
	}

	out, err := g.renderer.Render(plat.TemplateName(), proj)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, &TemplateNotFoundError{Platform: plat, Template: plat.TemplateName()}
		}
		return nil, &ConfigGenerationError{Platform: plat, Err: err}
	}

	g.logger.Debug("config generated", "platform", plat, "rules", len(proj.Rules), "bytes", len(out))
	g.hub.EmitConfigGenerated(string(plat), len(proj.Rules), len(out))
	return &Export{Platform: plat, Text: out, Rules: len(proj.Rules)}, nil
}

// Generate renders p for the named platform. On any error the returned
// text is empty.
func (g *Generator) Generate(p *policy.Policy, platform string, opts Options) (string, error) {
	exp, err := g.Export(p, platform, opts)
	if err != nil {
		return "", err
	}
	return exp.Text, nil
}

// Generate renders p with the default Generator.
func Generate(p *policy.Policy, platform string, opts Options) (string, error) {
	g, err := Default()
	if err != nil {
		return "", err
	}
	return g.Generate(p, platform, opts)
}
