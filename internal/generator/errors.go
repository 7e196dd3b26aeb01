package generator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplateNotFound is the signal a Renderer returns for an unknown template.
var ErrTemplateNotFound = errors.New("template not found")

// ErrNameClash is returned when distinct zones normalize to one identifier
// and would share chains or address lists.
var ErrNameClash = errors.New("zone names clash")

// UnsupportedPlatformError is returned for a platform outside the closed set.
type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	names := make([]string, 0, len(displayNames))
	for _, p := range Platforms() {
		names = append(names, string(p))
	}
	return fmt.Sprintf("unsupported platform %q (supported: %s)", e.Platform, strings.Join(names, ", "))
}

// TemplateNotFoundError is returned when no template is registered for a
// supported platform.
type TemplateNotFoundError struct {
	Platform Platform
	Template string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("no template %s registered for platform %s", e.Template, e.Platform)
}

func (e *TemplateNotFoundError) Unwrap() error {
	return ErrTemplateNotFound
}

// ConfigGenerationError wraps any failure while projecting or rendering.
type ConfigGenerationError struct {
	Platform Platform
	Err      error
}

func (e *ConfigGenerationError) Error() string {
	return fmt.Sprintf("generate %s config: %v", e.Platform, e.Err)
}

func (e *ConfigGenerationError) Unwrap() error {
	return e.Err
}
