package generator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/ztinspect/internal/clock"
	"grimm.is/ztinspect/internal/events"
	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/policy"
)

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(name string, data any) (string, error) {
	args := m.Called(name, data)
	return args.String(0), args.Error(1)
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p := policy.New("Home Net", "")

	trusted := policy.NewZone("Trusted LAN", policy.ZoneTrusted)
	require.NoError(t, p.AddZone(trusted))
	require.NoError(t, p.AssignDevice("Trusted LAN", policy.MustDevice("192.168.1.11")))
	require.NoError(t, p.AssignDevice("Trusted LAN", policy.MustDevice("192.168.1.10")))

	require.NoError(t, p.AddZone(policy.NewZone("IoT", policy.ZoneIoT)))
	require.NoError(t, p.AssignDevice("IoT", policy.MustDevice("192.168.20.5")))

	guest := policy.NewZone("Guest", policy.ZoneGuest)
	guest.NetworkRange = "192.168.30.0/24"
	require.NoError(t, p.AddZone(guest))

	require.NoError(t, p.AddRule(policy.Rule{
		Source: "Trusted LAN", Destination: "IoT", Action: policy.ActionDeny,
		Description: "Deny traffic from Trusted LAN to IoT", Enabled: true,
	}))
	require.NoError(t, p.AddRule(policy.Rule{
		Source: "Trusted LAN", Destination: "IoT", Action: policy.ActionAllow,
		Protocol: policy.ProtoTCP, Port: policy.Port(8883), Description: "MQTT", Enabled: true,
	}))
	require.NoError(t, p.AddRule(policy.Rule{
		Source: "IoT", Destination: "Trusted LAN", Action: policy.ActionAllow,
		Port: policy.Port(53), Enabled: true,
	}))
	require.NoError(t, p.AddRule(policy.Rule{
		Source: "Guest", Destination: "IoT", Action: policy.ActionAllow,
		Description: "DISABLED-MARKER", Enabled: false,
	}))
	return p
}

func newTestGenerator(t *testing.T, opts ...Option) *Generator {
	t.Helper()
	ts, err := NewTemplateSet()
	require.NoError(t, err)
	return New(ts, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestGenerate_UnsupportedPlatform(t *testing.T) {
	r := &mockRenderer{}
	g := New(r, WithLogger(logging.Discard()))

	out, err := g.Generate(testPolicy(t), "unknown-platform", Options{})
	assert.Empty(t, out)

	var upe *UnsupportedPlatformError
	require.True(t, errors.As(err, &upe))
	assert.Equal(t, "unknown-platform", upe.Platform)
	r.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
}

func TestGenerate_AllPlatforms(t *testing.T) {
	defer clock.SetDefault(clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))()
	g := newTestGenerator(t)
	p := testPolicy(t)

	for _, plat := range Platforms() {
		t.Run(string(plat), func(t *testing.T) {
			out, err := g.Generate(p, string(plat), Options{Comment: "lab export", LogDenied: true, DefaultDrop: true})
			require.NoError(t, err)
			assert.Contains(t, out, "Home Net")
			assert.Contains(t, out, "2025-06-01 12:00:00")
			assert.Contains(t, out, "lab export")
			assert.NotContains(t, out, "<no value>")
			assert.NotContains(t, out, "DISABLED-MARKER", "disabled rules are not projected")
		})
	}
}

func hostilePolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p := policy.New("lab\nreboot", "")
	require.NoError(t, p.AddZone(policy.NewZone("a;b", policy.ZoneCustom)))
	require.NoError(t, p.AssignDevice("a;b", policy.MustDevice("10.0.0.1")))
	require.NoError(t, p.AddZone(policy.NewZone("$(id)", policy.ZoneGuest)))
	require.NoError(t, p.AssignDevice("$(id)", policy.MustDevice("10.0.0.2")))
	require.NoError(t, p.AddRule(policy.Rule{
		Source: "a;b", Destination: "$(id)", Action: policy.ActionDeny,
		Description: "x\nRemove-Item -Recurse C:\\", Enabled: true,
	}))
	return p
}

func TestGenerate_TextStaysInComments(t *testing.T) {
	g := newTestGenerator(t)
	p := hostilePolicy(t)
	injected := []string{"reboot", `Remove-Item -Recurse C:\`, "rm -rf /"}

	for _, plat := range Platforms() {
		t.Run(string(plat), func(t *testing.T) {
			out, err := g.Generate(p, string(plat), Options{Comment: "note\r\nrm -rf /"})
			require.NoError(t, err)
			for _, line := range strings.Split(out, "\n") {
				line = strings.TrimSpace(line)
				for _, cmd := range injected {
					assert.False(t, strings.HasPrefix(line, cmd), "line %q", line)
				}
			}
		})
	}
}

func TestGenerate_ZoneNamesBecomeIdentifiers(t *testing.T) {
	g := newTestGenerator(t)
	out, err := g.Generate(hostilePolicy(t), "iptables", Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "iptables -N ZONE_A_B ")
	assert.Contains(t, out, "iptables -N ZONE___ID_ ")
	assert.NotContains(t, out, "a;b")
	assert.NotContains(t, out, "$(id)")
	assert.Contains(t, out, "--comment 'x Remove-Item -Recurse C:\\'")

	out, err = g.Generate(hostilePolicy(t), "mikrotik", Options{})
	require.NoError(t, err)
	assert.Contains(t, out, `comment="a;b"`)
	assert.Contains(t, out, `comment="\$(id)"`)
}

func TestGenerate_IdentifierClash(t *testing.T) {
	p := policy.New("clash", "")
	require.NoError(t, p.AddZone(policy.NewZone("Guest WiFi", policy.ZoneGuest)))
	require.NoError(t, p.AddZone(policy.NewZone("guest_wifi", policy.ZoneGuest)))

	_, err := newTestGenerator(t).Generate(p, "openwrt", Options{})
	var cge *ConfigGenerationError
	require.ErrorAs(t, err, &cge)
	assert.ErrorIs(t, err, ErrNameClash)
	assert.Contains(t, err.Error(), "guest_wifi")
}

func TestRouterOSQuote(t *testing.T) {
	assert.Equal(t, `"a\nb \"c\" \$d"`, routerOSQuote("a\nb \"c\" $d"))
}

func TestCommentText(t *testing.T) {
	assert.Equal(t, "a b c", commentText("a\r\nb\u2028c"))
	assert.Equal(t, "plain", commentText("plain"))
	got, err := xmlComment("a -- b\n--> <x>")
	require.NoError(t, err)
	assert.NotContains(t, got, "--")
	assert.NotContains(t, got, "\n")
	assert.NotContains(t, got, "<")
}

func TestGenerate_PlatformNameIsCaseInsensitive(t *testing.T) {
	out, err := newTestGenerator(t).Generate(testPolicy(t), "OpenWrt", Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "config zone")
}

func TestGenerate_OpenWrt(t *testing.T) {
	out, err := newTestGenerator(t).Generate(testPolicy(t), "openwrt", Options{})
	require.NoError(t, err)

	assert.Contains(t, out, "option name 'trusted_lan'")
	assert.Contains(t, out, "list subnet '192.168.1.10'")
	assert.Contains(t, out, "list subnet '192.168.30.0/255.255.255.0'")
	assert.Contains(t, out, "option src 'trusted_lan'\n\toption dest 'iot'\n\toption proto 'all'\n\toption target 'DROP'")
	assert.Contains(t, out, "option proto 'tcp'\n\toption dest_port '8883'\n\toption target 'ACCEPT'")
	assert.Contains(t, out, "option proto 'tcp udp'\n\toption dest_port '53'")
	assert.NotContains(t, out, "Trusted LAN'", "zone identifiers are normalized")
}

func TestGenerate_IPTables(t *testing.T) {
	out, err := newTestGenerator(t).Generate(testPolicy(t), "iptables", Options{LogDenied: true})
	require.NoError(t, err)

	assert.Contains(t, out, "#!/bin/sh")
	assert.Contains(t, out, "iptables -N ZONE_TRUSTED_LAN 2>/dev/null || iptables -F ZONE_TRUSTED_LAN")
	assert.Contains(t, out, "iptables -A FORWARD -s 192.168.1.10 -j ZONE_TRUSTED_LAN")
	assert.Contains(t, out, "iptables -A ZONE_TRUSTED_LAN -d 192.168.20.5 -m comment --comment 'Deny traffic from Trusted LAN to IoT' -j DROP")
	assert.Contains(t, out, "iptables -A ZONE_TRUSTED_LAN -d 192.168.20.5 -j LOG --log-prefix 'ZeroTrust DENY '")
	assert.Contains(t, out, "iptables -A ZONE_TRUSTED_LAN -d 192.168.20.5 -p tcp --dport 8883 -m comment --comment 'MQTT' -j ACCEPT")
	// any protocol with a port expands to tcp and udp
	assert.Contains(t, out, "iptables -A ZONE_IOT -d 192.168.1.10 -p tcp --dport 53 -j ACCEPT")
	assert.Contains(t, out, "iptables -A ZONE_IOT -d 192.168.1.10 -p udp --dport 53 -j ACCEPT")
	assert.Contains(t, out, "iptables -A ZONE_GUEST -j DROP")
	assert.NotContains(t, out, "ip6tables")
}

func TestGenerate_IPTablesIPv6(t *testing.T) {
	p := testPolicy(t)
	require.NoError(t, p.AssignDevice("IoT", policy.MustDevice("fd00::5")))

	out, err := newTestGenerator(t).Generate(p, "iptables", Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "ip6tables -N ZONE_IOT")
	assert.Contains(t, out, "ip6tables -A FORWARD -s fd00::5 -j ZONE_IOT")
	assert.Contains(t, out, "ip6tables -A ZONE_TRUSTED_LAN -d fd00::5")
}

func TestGenerate_Windows(t *testing.T) {
	out, err := newTestGenerator(t).Generate(testPolicy(t), "windows", Options{})
	require.NoError(t, err)

	assert.Contains(t, out, "New-NetFirewallRule -Name 'ZeroTrust_Trusted LAN_to_IoT'")
	assert.Contains(t, out, "New-NetFirewallRule -Name 'ZeroTrust_Trusted LAN_to_IoT_2'", "repeated pair names get a suffix")
	assert.Contains(t, out, "-Action Block")
	assert.Contains(t, out, "-RemoteAddress 192.168.20.5")
	assert.Contains(t, out, "-LocalAddress 192.168.1.10,192.168.1.11")
	assert.Contains(t, out, "-Profile Domain,Private,Public")
	assert.Contains(t, out, "-Protocol TCP")
	assert.Contains(t, out, "-DisplayName 'IoT to Trusted LAN'")
}

func TestGenerate_MikroTikAndPfSense(t *testing.T) {
	g := newTestGenerator(t)
	p := testPolicy(t)

	ros, err := g.Generate(p, "mikrotik", Options{})
	require.NoError(t, err)
	assert.Contains(t, ros, "add list=ZeroTrust_trusted_lan address=192.168.1.10")
	assert.Contains(t, ros, "add list=ZeroTrust_guest address=192.168.30.0/24")
	assert.Contains(t, ros, "src-address-list=ZeroTrust_trusted_lan dst-address-list=ZeroTrust_iot action=drop")

	xml, err := g.Generate(p, "pfsense", Options{})
	require.NoError(t, err)
	assert.Contains(t, xml, "<name>ZeroTrust_iot</name>")
	assert.Contains(t, xml, "<address>192.168.1.10 192.168.1.11</address>")
	assert.Contains(t, xml, "<type>block</type>")
	assert.Contains(t, xml, "<protocol>tcp/udp</protocol>")
}

func TestGenerate_TemplateNotFound(t *testing.T) {
	ts, err := ParseTemplates(map[string]string{"openwrt.tmpl": "ok"})
	require.NoError(t, err)
	g := New(ts, WithLogger(logging.Discard()))

	out, err := g.Generate(testPolicy(t), "windows", Options{})
	assert.Empty(t, out)

	var tnf *TemplateNotFoundError
	require.True(t, errors.As(err, &tnf))
	assert.Equal(t, Windows, tnf.Platform)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestGenerate_RenderFailureIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	r := &mockRenderer{}
	r.On("Render", "pfsense.tmpl", mock.AnythingOfType("*generator.Projection")).Return("partial", boom)
	g := New(r, WithLogger(logging.Discard()))

	out, err := g.Generate(testPolicy(t), "pfsense", Options{})
	assert.Empty(t, out, "no partial output")

	var cge *ConfigGenerationError
	require.True(t, errors.As(err, &cge))
	assert.Equal(t, PfSense, cge.Platform)
	assert.ErrorIs(t, err, boom)
	r.AssertExpectations(t)
}

func TestGenerate_TemplateExecutionError(t *testing.T) {
	ts, err := ParseTemplates(map[string]string{"iptables.tmpl": "{{.NoSuchField}}"})
	require.NoError(t, err)

	out, err := New(ts, WithLogger(logging.Discard())).Generate(testPolicy(t), "iptables", Options{})
	assert.Empty(t, out)
	var cge *ConfigGenerationError
	assert.True(t, errors.As(err, &cge))
}

func TestGenerate_DanglingRule(t *testing.T) {
	p := testPolicy(t)
	p.Rules = append(p.Rules, policy.Rule{Source: "IoT", Destination: "Ghost", Action: policy.ActionDeny, Enabled: true})

	out, err := newTestGenerator(t).Generate(p, "openwrt", Options{})
	assert.Empty(t, out)
	var cge *ConfigGenerationError
	require.True(t, errors.As(err, &cge))
	assert.ErrorIs(t, err, policy.ErrUnknownZone)
}

func TestGenerate_PublishesEvent(t *testing.T) {
	hub := events.NewHub()
	ch := hub.Subscribe(4, events.EventConfigGenerated).C

	out, err := newTestGenerator(t, WithHub(hub)).Generate(testPolicy(t), "iptables", Options{})
	require.NoError(t, err)

	require.Len(t, ch, 1)
	data := (<-ch).Data.(events.ConfigGeneratedData)
	assert.Equal(t, "iptables", data.Platform)
	assert.Equal(t, 3, data.Rules)
	assert.Equal(t, len(out), data.Bytes)
}

func TestExport_CountsEnabledRules(t *testing.T) {
	p := testPolicy(t)
	exp, err := newTestGenerator(t).Export(p, "OpenWrt", Options{})
	require.NoError(t, err)
	assert.Equal(t, OpenWrt, exp.Platform)
	assert.Equal(t, 3, exp.Rules)
	assert.NotEmpty(t, exp.Text)

	out, err := newTestGenerator(t).Generate(p, "openwrt", Options{})
	require.NoError(t, err)
	assert.Equal(t, exp.Text, out)
}

func TestProject_OnlyEnabledRules(t *testing.T) {
	proj, err := Project(testPolicy(t), OpenWrt, Options{})
	require.NoError(t, err)
	assert.Len(t, proj.Rules, 3)
	require.Len(t, proj.Zones, 3)
	assert.Equal(t, []string{"guest", "iot", "trusted_lan"}, []string{proj.Zones[0].Name, proj.Zones[1].Name, proj.Zones[2].Name})
	assert.Equal(t, []string{"192.168.1.10", "192.168.1.11"}, proj.Zones[2].IPs, "addresses sorted")
}

func TestNames(t *testing.T) {
	assert.Equal(t, "trusted_lan", NormalizeName("Trusted LAN"))
	assert.Equal(t, "home_office_2", NormalizeName("  Home  Office 2 "))
	assert.Equal(t, "a_b", NormalizeName("a;b"))
	assert.Equal(t, "k_che_1", NormalizeName("Küche\n1"))
	assert.Equal(t, "ZONE_TRUSTED_LAN", ChainName("Trusted LAN"))
}

func TestInstructions(t *testing.T) {
	for _, p := range Platforms() {
		text, err := Instructions(string(p))
		require.NoError(t, err, p)
		assert.NotEmpty(t, text)
		assert.NotEmpty(t, p.DisplayName())
	}
	_, err := Instructions("amiga")
	var upe *UnsupportedPlatformError
	assert.True(t, errors.As(err, &upe))
}
