// Package generator renders a segmentation policy into firewall
// configuration text for a fixed set of target platforms. The output is
// meant for an operator or a deployment pipeline; nothing here applies it.
package generator

import (
	"strings"
)

// Platform identifies a supported configuration target.
type Platform string

const (
	OpenWrt  Platform = "openwrt"
	Windows  Platform = "windows"
	IPTables Platform = "iptables"
	MikroTik Platform = "mikrotik"
	ASUSWRT  Platform = "asuswrt"
	PfSense  Platform = "pfsense"
)

var displayNames = map[Platform]string{
	OpenWrt:  "OpenWrt / LEDE",
	Windows:  "Windows Firewall",
	IPTables: "IPTables (Linux)",
	MikroTik: "MikroTik RouterOS",
	ASUSWRT:  "ASUSWRT",
	PfSense:  "pfSense / OPNsense",
}

// Platforms lists every supported target in display order.
func Platforms() []Platform {
	return []Platform{OpenWrt, Windows, IPTables, MikroTik, ASUSWRT, PfSense}
}

// ParsePlatform resolves a platform name, case-insensitively.
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := displayNames[p]; !ok {
		return "", &UnsupportedPlatformError{Platform: name}
	}
	return p, nil
}

// DisplayName is the human-readable platform name.
func (p Platform) DisplayName() string {
	return displayNames[p]
}

// TemplateName is the template a platform renders through.
func (p Platform) TemplateName() string {
	return string(p) + ".tmpl"
}

// FileExtension is the conventional extension for exported files.
func (p Platform) FileExtension() string {
	switch p {
	case Windows:
		return ".ps1"
	case IPTables, ASUSWRT:
		return ".sh"
	case MikroTik:
		return ".rsc"
	case PfSense:
		return ".xml"
	default:
		return ".conf"
	}
}
