package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"grimm.is/ztinspect/internal/policy"
)

// PersistenceError reports a failed load or save. Err is the underlying I/O
// or decode failure; decode failures wrap policy.ErrMalformed.
type PersistenceError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s policy %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// LoadPolicy reads the policy at path (JSON, or YAML for .yaml/.yml) and
// makes it the working policy. On failure the working policy is unchanged.
func (e *Engine) LoadPolicy(path string) (*policy.Policy, error) {
	p, err := ReadPolicy(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.current = p
	e.mu.Unlock()

	e.logger.Info("policy loaded", "name", p.Name, "path", path, "zones", len(p.Zones), "rules", len(p.Rules))
	return p, nil
}

// SavePolicy writes p to path in canonical form.
func (e *Engine) SavePolicy(p *policy.Policy, path string) error {
	if err := WritePolicy(p, path); err != nil {
		return err
	}
	e.logger.Audit("save", "policy", map[string]any{"name": p.Name, "path": path})
	return nil
}

// SaveCurrent writes a snapshot of the working policy to path.
func (e *Engine) SaveCurrent(path string) error {
	snap, err := e.Snapshot()
	if err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	return e.SavePolicy(snap, path)
}

// ReadPolicy decodes the policy file at path without touching any engine.
func ReadPolicy(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	p, err := policy.Decode(data, policy.FormatForPath(path))
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	return p, nil
}

// WritePolicy encodes p in the format the extension names and publishes it
// at path atomically.
func WritePolicy(p *policy.Policy, path string) error {
	data, err := policy.Encode(p, policy.FormatForPath(path))
	if err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// WriteFileAtomic writes to a temp file in the target directory, syncs it
// and renames it over path. Readers see either the old file or the new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
