package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"grimm.is/ztinspect/internal/classify"
	"grimm.is/ztinspect/internal/clock"
	"grimm.is/ztinspect/internal/discovery"
	"grimm.is/ztinspect/internal/enforcement"
	"grimm.is/ztinspect/internal/engine"
	"grimm.is/ztinspect/internal/history"
	"grimm.is/ztinspect/internal/i18n"
	"grimm.is/ztinspect/internal/policy"
	"grimm.is/ztinspect/internal/probe"
)

func TestMain(m *testing.M) {
	Printer = i18n.NewPrinter(language.English)
	color.NoColor = true
	os.Exit(m.Run())
}

type testEnv struct {
	*Env
	dir string
	out *bytes.Buffer
}

// newTestEnv writes a settings file that keeps every path inside a temp
// dir. extra is appended to it.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	hcl := fmt.Sprintf(`
log_level    = "error"
policy_file  = %q
export_dir   = %q
history_db   = %q
metrics_file = %q
%s
`,
		filepath.Join(dir, "policy.json"),
		filepath.Join(dir, "exports"),
		filepath.Join(dir, "history.db"),
		filepath.Join(dir, "ztinspect.prom"),
		extra)
	cfgPath := filepath.Join(dir, "ztinspect.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(hcl), 0o644))

	out := &bytes.Buffer{}
	env, err := Setup(Options{ConfigFile: cfgPath, Out: out, ErrOut: io.Discard, Quiet: true})
	require.NoError(t, err)
	return &testEnv{Env: env, dir: dir, out: out}
}

func (te *testEnv) writePolicy(t *testing.T, p *policy.Policy) {
	t.Helper()
	require.NoError(t, engine.WritePolicy(p, te.PolicyFile))
}

func homePolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p := policy.New("home", "")
	for _, z := range []struct {
		name string
		typ  policy.ZoneType
		ip   string
	}{
		{"trusted", policy.ZoneTrusted, "192.168.1.10"},
		{"iot", policy.ZoneIoT, "192.168.20.5"},
		{"guest", policy.ZoneGuest, "192.168.30.7"},
	} {
		require.NoError(t, p.AddZone(policy.NewZone(z.name, z.typ)))
		require.NoError(t, p.AssignDevice(z.name, policy.MustDevice(z.ip)))
	}
	return p
}

func TestSetup(t *testing.T) {
	env, err := Setup(Options{
		ConfigFile: filepath.Join(t.TempDir(), "missing.hcl"),
		PolicyFile: "custom.json",
		Out:        io.Discard,
		ErrOut:     io.Discard,
	})
	require.NoError(t, err)
	assert.Equal(t, "custom.json", env.PolicyFile)
	assert.Equal(t, 5, env.Config.Validation.Workers)
	require.NoError(t, env.Close())

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.hcl")
	require.NoError(t, os.WriteFile(bad, []byte(`validation { workers = "many" }`), 0o644))
	_, err = Setup(Options{ConfigFile: bad, Out: io.Discard, ErrOut: io.Discard})
	assert.Error(t, err)
}

func TestSetup_VendorTable(t *testing.T) {
	dir := t.TempDir()
	oui := filepath.Join(dir, "oui.txt")
	require.NoError(t, os.WriteFile(oui, []byte("AA-BB-CC   (hex)\t\tLab Devices Inc.\n"), 0o644))
	t.Cleanup(func() { classify.SetOUITable(nil) })

	te := newTestEnv(t, fmt.Sprintf("oui_file = %q", oui))
	defer te.Close()
	assert.Equal(t, "Lab Devices Inc.", classify.VendorForMAC("aa:bb:cc:01:02:03"))

	classify.SetOUITable(nil)
	assert.Equal(t, "Apple, Inc.", classify.VendorForMAC("00:1b:63:00:00:01"))

	cfg := filepath.Join(dir, "missing-oui.hcl")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf("oui_file = %q", filepath.Join(dir, "nope.txt"))), 0o644))
	_, err := Setup(Options{ConfigFile: cfg, Out: io.Discard, ErrOut: io.Discard, Quiet: true})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadPolicy_Missing(t *testing.T) {
	te := newTestEnv(t, "")
	assert.Error(t, te.LoadPolicy())

	require.NoError(t, te.LoadOrCreatePolicy("lab"))
	assert.Equal(t, "lab", te.Engine.Current().Name)
}

type stubResolver struct{ name string }

func (r stubResolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	return r.name, nil
}

func listen(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRunScan(t *testing.T) {
	port := listen(t)
	te := newTestEnv(t, fmt.Sprintf(`scan {
  ports   = [%d]
  timeout = "500ms"
}`, port))

	err := RunScan(context.Background(), te.Env, ScanOptions{
		Network:        "127.0.0.1/32",
		Zone:           "lab",
		ZoneType:       "server",
		ScannerOptions: []discovery.Option{discovery.WithResolver(stubResolver{name: "nas.lan"})},
	})
	require.NoError(t, err)
	assert.Contains(t, te.out.String(), "Found 1 devices on 127.0.0.1/32")
	assert.Contains(t, te.out.String(), "nas.lan")
	assert.Contains(t, te.out.String(), `Assigned 1 devices to zone "lab"`)

	p, err := engine.ReadPolicy(te.PolicyFile)
	require.NoError(t, err)
	require.NotNil(t, p.Zone("lab"))
	assert.Equal(t, "home", p.Name)
	assert.Equal(t, policy.ZoneServer, p.Zone("lab").Type)
	assert.Equal(t, "#F44336", p.Zone("lab").Color)
	assert.Equal(t, 4, p.Zone("lab").SecurityLevel)
	require.Len(t, p.Zone("lab").Devices, 1)
	assert.Equal(t, "nas.lan", p.Zone("lab").Devices[0].Hostname)
}

func TestRunScan_KeepsExistingAssignment(t *testing.T) {
	port := listen(t)
	te := newTestEnv(t, fmt.Sprintf(`scan {
  ports   = [%d]
  timeout = "500ms"
}`, port))

	p := policy.New("home", "")
	require.NoError(t, p.AddZone(policy.NewZone("iot", policy.ZoneIoT)))
	require.NoError(t, p.AssignDevice("iot", policy.MustDevice("127.0.0.1")))
	te.writePolicy(t, p)

	require.NoError(t, RunScan(context.Background(), te.Env, ScanOptions{
		Network:        "127.0.0.1/32",
		Zone:           "lab",
		ScannerOptions: []discovery.Option{discovery.WithResolver(stubResolver{})},
	}))

	got, err := engine.ReadPolicy(te.PolicyFile)
	require.NoError(t, err)
	z, _ := got.FindDevice(policy.MustDevice("127.0.0.1").IP)
	require.NotNil(t, z)
	assert.Equal(t, "iot", z.Name)
	assert.Equal(t, policy.ZoneCustom, got.Zone("lab").Type)
	assert.Contains(t, te.out.String(), `Assigned 0 devices to zone "lab"`)
}

func TestRunScan_NeighborMACDrivesType(t *testing.T) {
	port := listen(t)
	te := newTestEnv(t, fmt.Sprintf(`scan {
  ports   = [%d]
  timeout = "500ms"
}`, port))

	neighbors := discovery.StaticNeighbors{netip.MustParseAddr("127.0.0.1"): "00:00:48:01:02:03"}
	require.NoError(t, RunScan(context.Background(), te.Env, ScanOptions{
		Network:        "127.0.0.1/32",
		Zone:           "office",
		ScannerOptions: []discovery.Option{discovery.WithResolver(stubResolver{}), discovery.WithNeighbors(neighbors)},
	}))
	assert.Contains(t, te.out.String(), "Seiko Epson Corporation")

	p, err := engine.ReadPolicy(te.PolicyFile)
	require.NoError(t, err)
	_, d := p.FindDevice(netip.MustParseAddr("127.0.0.1"))
	require.NotNil(t, d)
	assert.Equal(t, "00:00:48:01:02:03", d.MAC)
	assert.Equal(t, "Seiko Epson Corporation", d.Vendor)
	assert.Equal(t, policy.DevicePrinter, d.Type)
}

func TestRunScan_KnownMACDrivesType(t *testing.T) {
	port := listen(t)
	te := newTestEnv(t, fmt.Sprintf(`scan {
  ports   = [%d]
  timeout = "500ms"
}`, port))

	p := policy.New("home", "")
	require.NoError(t, p.AddZone(policy.NewZone("office", policy.ZoneTrusted)))
	known := policy.MustDevice("127.0.0.1")
	known.MAC = "00:80:77:aa:bb:cc"
	require.NoError(t, p.AssignDevice("office", known))
	te.writePolicy(t, p)

	require.NoError(t, RunScan(context.Background(), te.Env, ScanOptions{
		Network:        "127.0.0.1/32",
		ScannerOptions: []discovery.Option{discovery.WithResolver(stubResolver{}), discovery.WithNeighbors(discovery.StaticNeighbors{})},
	}))
	assert.Contains(t, te.out.String(), "Brother Industries, Ltd.")
	assert.Contains(t, te.out.String(), string(policy.DevicePrinter))
}

func TestRunScan_InvalidNetwork(t *testing.T) {
	te := newTestEnv(t, "")
	assert.Error(t, RunScan(context.Background(), te.Env, ScanOptions{Network: "not-a-cidr"}))
}

func TestRunExport(t *testing.T) {
	restore := clock.SetDefault(clock.NewMockClock(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)))
	defer restore()

	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))
	require.NoError(t, RunDefaults(te.Env))

	require.NoError(t, RunExport(te.Env, ExportOptions{Platform: "iptables"}))
	path := filepath.Join(te.dir, "exports", "home_iptables.sh")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Contains(t, te.out.String(), "IPTables (Linux) configuration written to "+path)

	te.out.Reset()
	require.NoError(t, RunExport(te.Env, ExportOptions{Platform: "iptables", Diff: true}))
	assert.Contains(t, te.out.String(), "No changes against "+path)

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nstale\n"), 0o644))
	te.out.Reset()
	require.NoError(t, RunExport(te.Env, ExportOptions{Platform: "iptables", Diff: true}))
	assert.Contains(t, te.out.String(), "--- "+path)
	assert.Contains(t, te.out.String(), "-stale")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nstale\n", string(after), "diff must not write")

	require.NoError(t, te.Close())
	prom, err := os.ReadFile(filepath.Join(te.dir, "ztinspect.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `ztinspect_config_exports_total{platform="iptables"} 3`)
}

func TestRunExport_RecordsRuleCount(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))
	require.NoError(t, RunDefaults(te.Env))

	snap, err := te.Engine.Snapshot()
	require.NoError(t, err)
	enabled := 0
	for _, r := range snap.Rules {
		if r.Enabled {
			enabled++
		}
	}
	require.Positive(t, enabled)

	require.NoError(t, RunExport(te.Env, ExportOptions{Platform: "openwrt"}))
	assert.Equal(t, float64(enabled), testutil.ToFloat64(te.Metrics.ExportRules.WithLabelValues("openwrt")))
}

func TestRunExport_Errors(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))

	err := RunExport(te.Env, ExportOptions{Platform: "junos"})
	assert.ErrorContains(t, err, "junos")

	missing := newTestEnv(t, "")
	assert.Error(t, RunExport(missing.Env, ExportOptions{Platform: "openwrt"}))
}

func TestExportPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "my_home_openwrt.conf"), ExportPath("out", "my home", "openwrt"))
	assert.Equal(t, filepath.Join("out", "policy_windows.ps1"), ExportPath("out", "", "windows"))
}

type stubProber struct {
	reachable bool
	err       error
}

func (p stubProber) Reachable(ctx context.Context, source, target string, timeout time.Duration) (bool, error) {
	return p.reachable, p.err
}

func (p stubProber) PortOpen(ctx context.Context, target string, port int, timeout time.Duration) (bool, error) {
	return false, nil
}

func TestRunValidateAndHistory(t *testing.T) {
	te := newTestEnv(t, `validation {
  workers = 2
  timeout = "1s"
}`)
	te.writePolicy(t, homePolicy(t))

	res, err := RunValidate(context.Background(), te.Env, ValidateOptions{
		Port:   8080,
		Prober: stubProber{},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 8080, res.Port)
	assert.Equal(t, 100.0, res.Score)
	assert.Contains(t, te.out.String(), "[PASS]")
	assert.Contains(t, te.out.String(), "Isolation Score: 100.0% (3 of 3 pairs isolated)")

	res, err = RunValidate(context.Background(), te.Env, ValidateOptions{Prober: stubProber{reachable: true}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	assert.Contains(t, te.out.String(), "[FAIL]")

	te.out.Reset()
	runs, err := RunHistory(context.Background(), te.Env, HistoryOptions{Policy: "home"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, res.ID, runs[0].ID)
	assert.Contains(t, te.out.String(), "Recent validation runs:")
	assert.Contains(t, te.out.String(), "0.0%")

	te.out.Reset()
	runs, err = RunHistory(context.Background(), te.Env, HistoryOptions{RunID: res.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Failed)
	assert.Contains(t, te.out.String(), "Run "+res.ID+" of home")
	assert.Contains(t, te.out.String(), "STATUS")
	assert.Equal(t, 3, strings.Count(te.out.String(), "failed"))

	_, err = RunHistory(context.Background(), te.Env, HistoryOptions{RunID: "no-such-run"})
	assert.ErrorIs(t, err, history.ErrRunNotFound)
}

func TestRunValidate_PrunesHistory(t *testing.T) {
	mc := clock.NewMockClock(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	t.Cleanup(clock.SetDefault(mc))

	te := newTestEnv(t, `history_retention = "24h"`)
	te.writePolicy(t, homePolicy(t))

	first, err := RunValidate(context.Background(), te.Env, ValidateOptions{Prober: stubProber{}})
	require.NoError(t, err)

	mc.Advance(48 * time.Hour)
	second, err := RunValidate(context.Background(), te.Env, ValidateOptions{Prober: stubProber{}})
	require.NoError(t, err)

	runs, err := RunHistory(context.Background(), te.Env, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.NotEqual(t, first.ID, runs[0].ID)
}

func TestRunValidate_ExecutionFailureIsAnError(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))

	denied := &probe.ExecutionError{Op: "icmp", Err: os.ErrPermission}
	res, err := RunValidate(context.Background(), te.Env, ValidateOptions{Prober: stubProber{err: denied}})
	require.ErrorIs(t, err, enforcement.ErrProbeFailed)
	assert.ErrorIs(t, err, os.ErrPermission)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Errors)
	assert.Contains(t, te.out.String(), "[ERROR]", "the report is still printed")

	runs, err := RunHistory(context.Background(), te.Env, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1, "the run is still recorded")
	assert.Equal(t, 3, runs[0].Errors)
}

func TestRunValidate_Cancelled(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := RunValidate(ctx, te.Env, ValidateOptions{Prober: stubProber{}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled())

	runs, err := RunHistory(context.Background(), te.Env, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Cancelled)
}

func TestRunHistory_Empty(t *testing.T) {
	te := newTestEnv(t, "")
	runs, err := RunHistory(context.Background(), te.Env, HistoryOptions{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Equal(t, "No validation runs recorded\n", te.out.String())
}

func TestRunCheck(t *testing.T) {
	te := newTestEnv(t, "")
	p := homePolicy(t)
	require.NoError(t, p.AddZone(policy.NewZone("lab", policy.ZoneServer)))
	require.NoError(t, p.AddRule(policy.Rule{Source: "iot", Destination: "lab", Action: policy.ActionAllow, Enabled: true}))
	require.NoError(t, p.AddRule(policy.Rule{Source: "iot", Destination: "lab", Action: policy.ActionDeny, Enabled: true}))
	te.writePolicy(t, p)

	findings, err := RunCheck(te.Env)
	require.NoError(t, err)
	assert.Len(t, findings.Warnings(), 1)
	out := te.out.String()
	assert.Contains(t, out, `zone "lab" has no devices`)
	assert.Contains(t, out, "0 errors, 1 warnings")
	assert.Contains(t, out, "1 conflicting rule pairs")
}

func TestRunCheck_Errors(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, policy.New("empty", ""))

	findings, err := RunCheck(te.Env)
	assert.ErrorIs(t, err, ErrPolicyInvalid)
	assert.True(t, findings.HasErrors())
	assert.Contains(t, te.out.String(), "no zones defined")
}

func TestRunCheck_Clean(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))

	_, err := RunCheck(te.Env)
	require.NoError(t, err)
	assert.Equal(t, "No problems found\n", te.out.String())
}

func TestRunDefaults(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, homePolicy(t))

	require.NoError(t, RunDefaults(te.Env))
	assert.Contains(t, te.out.String(), "Policy saved to "+te.PolicyFile)

	p, err := engine.ReadPolicy(te.PolicyFile)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Rules)
	assert.Contains(t, te.out.String(), fmt.Sprintf("Generated %d rules", len(p.Rules)))
}

func TestRunDefaults_NoZones(t *testing.T) {
	te := newTestEnv(t, "")
	te.writePolicy(t, policy.New("empty", ""))
	assert.Error(t, RunDefaults(te.Env))
}

func TestRunInstructions(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunInstructions(&out, "MikroTik"))
	assert.True(t, strings.HasPrefix(out.String(), "MikroTik RouterOS\n\n"))
	assert.Contains(t, out.String(), "/import file-name=")

	assert.Error(t, RunInstructions(&out, "junos"))
}
