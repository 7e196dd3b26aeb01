// Package engine owns the working segmentation policy. It creates, loads and
// saves policies, inspects them for structural defects, synthesizes the
// default-deny rule set, optimizes rule order and reports zone-pair
// conflicts.
//
// The working policy is guarded by a read/write lock. Mutations go through
// Mutate; validation and generation passes work on Snapshot clones so a
// structural change can never race an in-flight pass.
package engine

import (
	"errors"
	"sync"

	"grimm.is/ztinspect/internal/events"
	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/policy"
)

// ErrNoPolicy is returned when an operation needs a working policy and none
// has been created or loaded.
var ErrNoPolicy = errors.New("no working policy")

// Engine holds the working policy.
type Engine struct {
	mu      sync.RWMutex
	current *policy.Policy

	hub    *events.Hub
	logger *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHub routes progress events to hub.
func WithHub(hub *events.Hub) Option {
	return func(e *Engine) { e.hub = hub }
}

// WithLogger overrides the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine with no working policy.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.WithComponent("engine")
	}
	return e
}

// CreatePolicy starts a new empty policy and makes it the working policy.
func (e *Engine) CreatePolicy(name, description string) *policy.Policy {
	p := policy.New(name, description)

	e.mu.Lock()
	e.current = p
	e.mu.Unlock()

	e.logger.Info("policy created", "name", name)
	return p
}

// SetCurrent replaces the working policy.
func (e *Engine) SetCurrent(p *policy.Policy) {
	e.mu.Lock()
	e.current = p
	e.mu.Unlock()
}

// Current returns the working policy itself, or nil. Callers that hand the
// result to another goroutine should use Snapshot instead.
func (e *Engine) Current() *policy.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Snapshot returns a deep copy of the working policy taken under the read lock.
func (e *Engine) Snapshot() (*policy.Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil, ErrNoPolicy
	}
	return e.current.Clone(), nil
}

// View runs fn with read access to the working policy.
func (e *Engine) View(fn func(p *policy.Policy)) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return ErrNoPolicy
	}
	fn(e.current)
	return nil
}

// Mutate runs fn with exclusive access to the working policy. fn works on a
// clone which only replaces the working policy when fn succeeds, so a failed
// mutation leaves no partial change behind.
func (e *Engine) Mutate(fn func(p *policy.Policy) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ErrNoPolicy
	}
	work := e.current.Clone()
	if err := fn(work); err != nil {
		return err
	}
	e.current = work
	return nil
}

// ValidateCurrent inspects a snapshot of the working policy.
func (e *Engine) ValidateCurrent() (Findings, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	e.progress("validate", "inspecting policy "+snap.Name, 0)
	findings := Validate(snap)
	e.progress("validate", "inspection complete", 100)
	if findings.HasErrors() {
		e.logger.Warn("policy has errors", "policy", snap.Name, "errors", len(findings.Errors()))
	}
	return findings, nil
}

// ApplyDefaults replaces the working policy's rules with the default set and
// optimizes the result.
func (e *Engine) ApplyDefaults() error {
	e.progress("defaults", "generating default rules", 0)
	err := e.Mutate(func(p *policy.Policy) error {
		if err := GenerateDefaultRules(p); err != nil {
			return err
		}
		e.progress("defaults", "optimizing rules", 50)
		OptimizeRules(p)
		return nil
	})
	if err != nil {
		return err
	}
	e.progress("defaults", "default rules ready", 100)
	return nil
}

// Optimize de-duplicates and re-orders the working policy's rules.
func (e *Engine) Optimize() (removed int, err error) {
	err = e.Mutate(func(p *policy.Policy) error {
		removed = OptimizeRules(p)
		return nil
	})
	if err == nil {
		e.logger.Debug("rules optimized", "removed", removed)
	}
	return removed, err
}

// Conflicts reports conflicts in a snapshot of the working policy.
func (e *Engine) Conflicts() ([]string, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return FindConflicts(snap), nil
}

func (e *Engine) progress(phase, message string, percent float64) {
	e.hub.EmitProgress(events.EventEngineProgress, "engine", phase, message, percent)
}
