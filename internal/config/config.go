// Package config loads the tool settings file (ztinspect.hcl).
//
// Every setting is optional. A missing file yields the defaults, and the
// `env` variable exposes the process environment to expressions:
//
//	policy_file = "${env.HOME}/zones/policy.json"
//
//	validation {
//	  workers          = 8
//	  timeout          = "2s"
//	  positive_control = true
//	}
//
//	zone_style "iot" {
//	  color          = "#9C27B0"
//	  security_level = 2
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/ztinspect/internal/brand"
	"grimm.is/ztinspect/internal/policy"
)

// Config is the decoded settings file.
type Config struct {
	LogLevel    string `hcl:"log_level,optional"`
	LogJSON     bool   `hcl:"log_json,optional"`
	PolicyFile  string `hcl:"policy_file,optional"`
	ExportDir   string `hcl:"export_dir,optional"`
	HistoryDB   string `hcl:"history_db,optional"`
	MetricsFile string `hcl:"metrics_file,optional"`

	// OUIFile replaces the built-in vendor table (IEEE oui.txt format).
	OUIFile string `hcl:"oui_file,optional"`

	// HistoryRetention drops stored runs older than this after each
	// validation. Empty keeps everything.
	HistoryRetention string `hcl:"history_retention,optional"`

	Validation *Validation  `hcl:"validation,block"`
	Scan       *Scan        `hcl:"scan,block"`
	ZoneStyles []*ZoneStyle `hcl:"zone_style,block"`
}

// Validation tunes isolation testing.
type Validation struct {
	Workers         int    `hcl:"workers,optional"`
	Timeout         string `hcl:"timeout,optional"`
	Port            int    `hcl:"port,optional"`
	PositiveControl bool   `hcl:"positive_control,optional"`
	PrivilegedICMP  bool   `hcl:"privileged_icmp,optional"`
}

// TimeoutDuration parses Timeout; callers run Validate first.
func (v *Validation) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(v.Timeout)
	return d
}

// Scan tunes discovery.
type Scan struct {
	Network     string `hcl:"network,optional"`
	Ports       []int  `hcl:"ports,optional"`
	Timeout     string `hcl:"timeout,optional"`
	Concurrency int    `hcl:"concurrency,optional"`
	Resolver    string `hcl:"resolver,optional"` // DNS server for PTR lookups, empty = system
}

// TimeoutDuration parses Timeout; callers run Validate first.
func (s *Scan) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// ZoneStyle is the presentation hint for one zone type.
type ZoneStyle struct {
	Type          string `hcl:"type,label"`
	Color         string `hcl:"color,optional"`
	SecurityLevel int    `hcl:"security_level,optional"`
}

// DefaultZoneStyles maps each zone type to its default color and
// security level.
var DefaultZoneStyles = map[policy.ZoneType]ZoneStyle{
	policy.ZoneTrusted: {Type: "trusted", Color: "#4CAF50", SecurityLevel: 5},
	policy.ZoneDMZ:     {Type: "dmz", Color: "#FFC107", SecurityLevel: 3},
	policy.ZoneIoT:     {Type: "iot", Color: "#9C27B0", SecurityLevel: 2},
	policy.ZoneGuest:   {Type: "guest", Color: "#2196F3", SecurityLevel: 1},
	policy.ZoneServer:  {Type: "server", Color: "#F44336", SecurityLevel: 4},
	policy.ZoneCustom:  {Type: "custom", Color: "#9E9E9E", SecurityLevel: 3},
}

// Default returns the settings used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PolicyFile == "" {
		c.PolicyFile = brand.PolicyFileName
	}
	if c.ExportDir == "" {
		c.ExportDir = brand.DefaultExportDir
	}
	if c.HistoryDB == "" {
		c.HistoryDB = brand.DefaultHistoryPath()
	}

	if c.Validation == nil {
		c.Validation = &Validation{}
	}
	if c.Validation.Workers == 0 {
		c.Validation.Workers = 5
	}
	if c.Validation.Timeout == "" {
		c.Validation.Timeout = "3s"
	}
	if c.Validation.Port == 0 {
		c.Validation.Port = 80
	}

	if c.Scan == nil {
		c.Scan = &Scan{}
	}
	if c.Scan.Network == "" {
		c.Scan.Network = "192.168.1.0/24"
	}
	if c.Scan.Timeout == "" {
		c.Scan.Timeout = "1s"
	}
	if c.Scan.Concurrency == 0 {
		c.Scan.Concurrency = 64
	}
}

// RetentionDuration parses HistoryRetention; zero means keep all runs.
func (c *Config) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(c.HistoryRetention)
	return d
}

// StyleFor returns the configured style for typ, falling back to the
// built-in default for that type.
func (c *Config) StyleFor(typ policy.ZoneType) ZoneStyle {
	style := DefaultZoneStyles[typ]
	if style.Type == "" {
		style = DefaultZoneStyles[policy.ZoneCustom]
	}
	for _, zs := range c.ZoneStyles {
		if !strings.EqualFold(zs.Type, string(typ)) {
			continue
		}
		if zs.Color != "" {
			style.Color = zs.Color
		}
		if zs.SecurityLevel != 0 {
			style.SecurityLevel = zs.SecurityLevel
		}
	}
	return style
}

// StyleZone fills z's color and security level when they are unset.
func (c *Config) StyleZone(z *policy.Zone) {
	style := c.StyleFor(z.Type)
	if z.Color == "" {
		z.Color = style.Color
	}
	if z.SecurityLevel == 0 {
		z.SecurityLevel = style.SecurityLevel
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("policy=%s export=%s history=%s workers=%d timeout=%s",
		c.PolicyFile, c.ExportDir, c.HistoryDB, c.Validation.Workers, c.Validation.Timeout)
}
