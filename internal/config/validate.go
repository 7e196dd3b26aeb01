package config

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/policy"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default), "warning"
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any entry is error-severity.
func (e ValidationErrors) HasErrors() bool {
	for _, err := range e {
		if err.Severity != "warning" {
			return true
		}
	}
	return false
}

var colorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate checks the settings after defaults were applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	if c.HistoryRetention != "" {
		if d, err := time.ParseDuration(c.HistoryRetention); err != nil || d <= 0 {
			add("history_retention", "invalid duration %q", c.HistoryRetention)
		}
	}

	if v := c.Validation; v != nil {
		if v.Workers < 1 || v.Workers > 256 {
			add("validation.workers", "must be between 1 and 256, got %d", v.Workers)
		}
		if d, err := time.ParseDuration(v.Timeout); err != nil || d <= 0 {
			add("validation.timeout", "invalid duration %q", v.Timeout)
		}
		if v.Port < 1 || v.Port > 65535 {
			add("validation.port", "must be between 1 and 65535, got %d", v.Port)
		}
	}

	if s := c.Scan; s != nil {
		if _, err := netip.ParsePrefix(s.Network); err != nil {
			add("scan.network", "invalid CIDR %q", s.Network)
		}
		for _, p := range s.Ports {
			if p < 1 || p > 65535 {
				add("scan.ports", "invalid port %d", p)
			}
		}
		if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
			add("scan.timeout", "invalid duration %q", s.Timeout)
		}
		if s.Concurrency < 1 {
			add("scan.concurrency", "must be positive, got %d", s.Concurrency)
		}
	}

	seen := map[string]bool{}
	for _, zs := range c.ZoneStyles {
		field := fmt.Sprintf("zone_style.%s", zs.Type)
		if _, err := policy.ParseZoneType(zs.Type); err != nil {
			add(field, "%v", err)
		}
		if seen[strings.ToLower(zs.Type)] {
			errs = append(errs, ValidationError{Field: field, Message: "declared more than once", Severity: "warning"})
		}
		seen[strings.ToLower(zs.Type)] = true
		if zs.Color != "" && !colorRegex.MatchString(zs.Color) {
			add(field+".color", "expected #RRGGBB, got %q", zs.Color)
		}
		if zs.SecurityLevel < 0 || zs.SecurityLevel > 5 {
			add(field+".security_level", "must be between 1 and 5, got %d", zs.SecurityLevel)
		}
	}
	return errs
}
