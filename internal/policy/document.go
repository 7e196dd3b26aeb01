package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrMalformed marks a persisted document that cannot be rebuilt into a Policy.
var ErrMalformed = errors.New("malformed policy document")

// Format selects the on-disk encoding. JSON is canonical; YAML is accepted
// for hand-written policies and uses the same field names.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks a format from the file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Document is the canonical persisted shape.
type Document struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	CreatedAt   string             `json:"created_at" yaml:"created_at"`
	UpdatedAt   string             `json:"updated_at" yaml:"updated_at"`
	Zones       map[string]ZoneDoc `json:"zones" yaml:"zones"`
	Rules       []RuleDoc          `json:"rules" yaml:"rules"`
}

// ZoneDoc is one entry of Document.Zones.
type ZoneDoc struct {
	ZoneType      string      `json:"zone_type" yaml:"zone_type"`
	Description   string      `json:"description" yaml:"description"`
	Color         string      `json:"color,omitempty" yaml:"color,omitempty"`
	DefaultAction string      `json:"default_action,omitempty" yaml:"default_action,omitempty"`
	NetworkRange  string      `json:"network_range,omitempty" yaml:"network_range,omitempty"`
	SecurityLevel int         `json:"security_level,omitempty" yaml:"security_level,omitempty"`
	Devices       []DeviceDoc `json:"devices" yaml:"devices"`
}

// DeviceDoc is one zone member.
type DeviceDoc struct {
	IPAddress  string  `json:"ip_address" yaml:"ip_address"`
	MACAddress string  `json:"mac_address,omitempty" yaml:"mac_address,omitempty"`
	Hostname   string  `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Vendor     string  `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	DeviceType string  `json:"device_type" yaml:"device_type"`
	OpenPorts  []int   `json:"open_ports,omitempty" yaml:"open_ports,omitempty"`
	RiskScore  float64 `json:"risk_score,omitempty" yaml:"risk_score,omitempty"`
	OS         string  `json:"os,omitempty" yaml:"os,omitempty"`
	Model      string  `json:"model,omitempty" yaml:"model,omitempty"`
	FirstSeen  string  `json:"first_seen,omitempty" yaml:"first_seen,omitempty"`
	LastSeen   string  `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
}

// RuleDoc is one entry of Document.Rules.
type RuleDoc struct {
	SourceZone      string    `json:"source_zone" yaml:"source_zone"`
	DestinationZone string    `json:"destination_zone" yaml:"destination_zone"`
	Action          string    `json:"action" yaml:"action"`
	Protocol        string    `json:"protocol" yaml:"protocol"`
	Port            PortField `json:"port,omitempty" yaml:"port,omitempty"`
	Description     string    `json:"description" yaml:"description"`
	Enabled         *bool     `json:"enabled" yaml:"enabled"`
}

// PortField holds a port or range. It decodes from a JSON string or number
// so documents written by older tools that stored ports as integers load.
type PortField string

// UnmarshalJSON accepts "443", "8000-8080", 443 or null.
func (p *PortField) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*p = PortField(str)
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a string or integer, got %s", s)
	}
	*p = PortField(strconv.Itoa(n))
	return nil
}

// ToDocument converts p to its persisted shape.
func ToDocument(p *Policy) *Document {
	doc := &Document{
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
		Zones:       make(map[string]ZoneDoc, len(p.Zones)),
		Rules:       make([]RuleDoc, 0, len(p.Rules)),
	}
	for name, z := range p.Zones {
		zd := ZoneDoc{
			ZoneType:      string(z.Type),
			Description:   z.Description,
			Color:         z.Color,
			DefaultAction: string(z.DefaultAction),
			NetworkRange:  z.NetworkRange,
			SecurityLevel: z.SecurityLevel,
			Devices:       make([]DeviceDoc, 0, len(z.Devices)),
		}
		for _, d := range z.Devices {
			zd.Devices = append(zd.Devices, DeviceDoc{
				IPAddress:  d.IP.String(),
				MACAddress: d.MAC,
				Hostname:   d.Hostname,
				Vendor:     d.Vendor,
				DeviceType: string(d.Type),
				OpenPorts:  d.OpenPorts,
				RiskScore:  d.RiskScore,
				OS:         d.OS,
				Model:      d.Model,
				FirstSeen:  formatTime(d.FirstSeen),
				LastSeen:   formatTime(d.LastSeen),
			})
		}
		doc.Zones[name] = zd
	}
	for _, r := range p.Rules {
		enabled := r.Enabled
		doc.Rules = append(doc.Rules, RuleDoc{
			SourceZone:      r.Source,
			DestinationZone: r.Destination,
			Action:          string(r.Action),
			Protocol:        string(r.protocolOrAny()),
			Port:            PortField(r.Port.String()),
			Description:     r.Description,
			Enabled:         &enabled,
		})
	}
	return doc
}

// Encode serializes p in the requested format.
func Encode(p *Policy, format Format) ([]byte, error) {
	doc := ToDocument(p)
	if format == FormatYAML {
		return yaml.Marshal(doc)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses data and rebuilds the Policy. Zones are rebuilt before
// rules; a rule naming a zone absent from the same document is rejected.
func Decode(data []byte, format Format) (*Policy, error) {
	var doc Document
	var err error
	if format == FormatYAML {
		err = yaml.UnmarshalStrict(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromDocument(&doc)
}

// FromDocument rebuilds a Policy from its persisted shape.
func FromDocument(doc *Document) (*Policy, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("%w: missing policy name", ErrMalformed)
	}

	p := &Policy{
		Name:        doc.Name,
		Description: doc.Description,
		Zones:       make(map[string]*Zone, len(doc.Zones)),
	}
	var err error
	if p.CreatedAt, err = parseTime(doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrMalformed, err)
	}
	if p.UpdatedAt, err = parseTime(doc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", ErrMalformed, err)
	}

	for name, zd := range doc.Zones {
		z, err := zoneFromDoc(name, zd)
		if err != nil {
			return nil, fmt.Errorf("%w: zone %q: %v", ErrMalformed, name, err)
		}
		p.Zones[name] = z
	}

	// Membership is exclusive across zones.
	seen := make(map[string]string)
	for _, name := range p.ZoneNames() {
		for _, d := range p.Zones[name].Devices {
			if other, dup := seen[d.IP.String()]; dup {
				return nil, fmt.Errorf("%w: device %s appears in zones %q and %q", ErrMalformed, d.IP, other, name)
			}
			seen[d.IP.String()] = name
		}
	}

	p.Rules = make([]Rule, 0, len(doc.Rules))
	for i, rd := range doc.Rules {
		r, err := ruleFromDoc(rd)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrMalformed, i, err)
		}
		for _, ref := range []string{r.Source, r.Destination} {
			if _, ok := p.Zones[ref]; !ok {
				return nil, fmt.Errorf("%w: rule %d references unknown zone %q", ErrMalformed, i, ref)
			}
		}
		p.Rules = append(p.Rules, r)
	}
	return p, nil
}

func zoneFromDoc(name string, zd ZoneDoc) (*Zone, error) {
	typ, err := ParseZoneType(zd.ZoneType)
	if err != nil {
		return nil, err
	}
	z := &Zone{
		Name:          name,
		Type:          typ,
		Description:   zd.Description,
		Color:         zd.Color,
		NetworkRange:  zd.NetworkRange,
		SecurityLevel: zd.SecurityLevel,
		DefaultAction: ActionDeny,
	}
	if zd.DefaultAction != "" {
		a, err := ParseAction(zd.DefaultAction)
		if err != nil {
			return nil, err
		}
		z.DefaultAction = a
	}
	if err := z.Validate(); err != nil {
		return nil, err
	}
	for j, dd := range zd.Devices {
		d, err := deviceFromDoc(dd)
		if err != nil {
			return nil, fmt.Errorf("device %d: %v", j, err)
		}
		if err := z.AddDevice(d); err != nil {
			return nil, err
		}
	}
	return z, nil
}

func deviceFromDoc(dd DeviceDoc) (*Device, error) {
	if dd.IPAddress == "" {
		return nil, errors.New("missing ip_address")
	}
	d, err := NewDevice(dd.IPAddress)
	if err != nil {
		return nil, err
	}
	if d.Type, err = ParseDeviceType(dd.DeviceType); err != nil {
		return nil, err
	}
	if err := d.SetRiskScore(dd.RiskScore); err != nil {
		return nil, err
	}
	if d.OpenPorts, err = normalizePorts(dd.OpenPorts); err != nil {
		return nil, err
	}
	d.MAC = dd.MACAddress
	d.Hostname = dd.Hostname
	d.Vendor = dd.Vendor
	d.OS = dd.OS
	d.Model = dd.Model
	if d.FirstSeen, err = parseTime(dd.FirstSeen); err != nil {
		return nil, fmt.Errorf("first_seen: %v", err)
	}
	if d.LastSeen, err = parseTime(dd.LastSeen); err != nil {
		return nil, fmt.Errorf("last_seen: %v", err)
	}
	return d, nil
}

func ruleFromDoc(rd RuleDoc) (Rule, error) {
	if rd.SourceZone == "" || rd.DestinationZone == "" {
		return Rule{}, errors.New("missing source_zone or destination_zone")
	}
	if rd.Action == "" {
		return Rule{}, errors.New("missing action")
	}
	action, err := ParseAction(rd.Action)
	if err != nil {
		return Rule{}, err
	}
	proto, err := ParseProtocol(rd.Protocol)
	if err != nil {
		return Rule{}, err
	}
	port, err := ParsePortRange(string(rd.Port))
	if err != nil {
		return Rule{}, err
	}
	enabled := true
	if rd.Enabled != nil {
		enabled = *rd.Enabled
	}
	return Rule{
		Source:      rd.SourceZone,
		Destination: rd.DestinationZone,
		Action:      action,
		Protocol:    proto,
		Port:        port,
		Description: rd.Description,
		Enabled:     enabled,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// isoformat() without zone, as older exports wrote it
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
}
