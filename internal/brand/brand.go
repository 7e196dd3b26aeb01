// Package brand holds the product identity: the names that appear in
// generated firewall artifacts, default file names and the environment
// variables that relocate the config and state directories.
//
// The values come from brand.json, embedded at compile time.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand is the decoded brand.json.
type Brand struct {
	Name            string `json:"name"`
	BinaryName      string `json:"binaryName"`
	Description     string `json:"description"`
	EnvPrefix       string `json:"envPrefix"`
	ConfigFileName  string `json:"configFileName"`
	PolicyFileName  string `json:"policyFileName"`
	HistoryFileName string `json:"historyFileName"`
	ExportDir       string `json:"exportDir"`
	// RulePrefix names and groups generated firewall rules so they can be
	// found and removed on the device.
	RulePrefix string `json:"rulePrefix"`
}

var b = mustLoad(brandJSON)

func mustLoad(data []byte) Brand {
	var v Brand
	if err := json.Unmarshal(data, &v); err != nil {
		panic("brand.json: " + err.Error())
	}
	return v
}

var (
	Name             = b.Name
	BinaryName       = b.BinaryName
	Description      = b.Description
	ConfigFileName   = b.ConfigFileName
	PolicyFileName   = b.PolicyFileName
	HistoryFileName  = b.HistoryFileName
	DefaultExportDir = b.ExportDir
	RulePrefix       = b.RulePrefix

	// Version is set at build time via -ldflags "-X .../brand.Version=...".
	Version = "dev"
)

// Get returns the whole brand.
func Get() Brand {
	return b
}

// GetConfigDir is $<PREFIX>_CONFIG_DIR, else <user config dir>/<binary>.
// It falls back to the working directory when the home directory is
// unknown.
func GetConfigDir() string {
	if dir := os.Getenv(b.EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, b.BinaryName)
	}
	return "."
}

// GetStateDir is $<PREFIX>_STATE_DIR, else $XDG_STATE_HOME/<binary>, else
// ~/.local/state/<binary>. It falls back to the working directory when the
// home directory is unknown.
func GetStateDir() string {
	if dir := os.Getenv(b.EnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, b.BinaryName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", b.BinaryName)
	}
	return "."
}

// DefaultConfigPath is the settings file read when -config is not given.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// DefaultHistoryPath is the validation history database used when the
// settings file does not name one.
func DefaultHistoryPath() string {
	return filepath.Join(GetStateDir(), HistoryFileName)
}
