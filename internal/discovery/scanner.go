// Package discovery finds live hosts on a subnet with a TCP connect sweep
// and turns them into policy devices.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"grimm.is/ztinspect/internal/clock"
	"grimm.is/ztinspect/internal/events"
	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/policy"
)

var (
	// ErrScanInProgress is returned when Scan is called on a busy scanner.
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrNetworkTooLarge is returned for prefixes wider than MaxHosts.
	ErrNetworkTooLarge = errors.New("network too large to sweep")
)

// MaxHosts bounds the number of addresses a single sweep will probe.
const MaxHosts = 1 << 16

// DefaultPorts are probed when the config names none.
var DefaultPorts = []int{22, 23, 80, 443, 3389, 8080, 8443, 9100, 515, 631, 21, 25, 53}

// Config holds scanner settings.
type Config struct {
	Ports       []int
	Timeout     time.Duration // per connect
	Concurrency int           // hosts probed at once
}

// DefaultConfig returns the default port list, a 1s connect timeout and 64
// concurrent hosts.
func DefaultConfig() Config {
	return Config{
		Ports:       slices.Clone(DefaultPorts),
		Timeout:     time.Second,
		Concurrency: 64,
	}
}

// Dialer is the subset of net.Dialer the sweep uses.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Scanner sweeps networks. A Scanner runs one sweep at a time.
type Scanner struct {
	cfg       Config
	resolver  Resolver
	neighbors NeighborTable
	dialer    Dialer
	hub       *events.Hub
	logger    *logging.Logger

	scanning atomic.Bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithResolver enables reverse lookups through r.
func WithResolver(r Resolver) Option {
	return func(s *Scanner) { s.resolver = r }
}

// WithNeighbors fills device MACs from nt after the sweep. Hosts nt knows
// inside the swept network are reported even when no port answered.
func WithNeighbors(nt NeighborTable) Option {
	return func(s *Scanner) { s.neighbors = nt }
}

// WithDialer replaces the connect dialer.
func WithDialer(d Dialer) Option {
	return func(s *Scanner) { s.dialer = d }
}

// WithHub publishes scan progress and hits to hub.
func WithHub(hub *events.Hub) Option {
	return func(s *Scanner) { s.hub = hub }
}

// WithLogger overrides the component logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a Scanner. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Scanner {
	def := DefaultConfig()
	if len(cfg.Ports) == 0 {
		cfg.Ports = def.Ports
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	s := &Scanner{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.dialer == nil {
		s.dialer = &net.Dialer{Timeout: cfg.Timeout}
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("discovery")
	}
	return s
}

// IsScanning reports whether a sweep is running.
func (s *Scanner) IsScanning() bool {
	return s.scanning.Load()
}

// Scan probes every host address in cidr and returns one device per host
// with at least one open port, plus hosts the neighbor table knows, ordered
// by address. On cancellation the devices found so far are returned with
// ctx.Err().
func (s *Scanner) Scan(ctx context.Context, cidr string) ([]*policy.Device, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid network %q: %w", cidr, err)
	}
	hosts, err := Hosts(prefix)
	if err != nil {
		return nil, err
	}

	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	start := clock.Now()
	s.logger.Info("starting network scan", "network", prefix.String(), "hosts", len(hosts), "ports", len(s.cfg.Ports))
	s.progress(fmt.Sprintf("sweeping %s", prefix), 0)

	var (
		mu      sync.Mutex
		devices []*policy.Device
		wg      sync.WaitGroup
		done    atomic.Int64
	)
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))

	for _, ip := range hosts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			if d := s.scanHost(ctx, ip); d != nil {
				mu.Lock()
				devices = append(devices, d)
				mu.Unlock()
				s.hub.EmitDeviceSeen(d.Addr(), d.Hostname, d.OpenPorts)
			}
			n := done.Add(1)
			s.progress(fmt.Sprintf("scanned %s", ip), float64(n)/float64(len(hosts))*100)
		}()
	}
	wg.Wait()

	if s.neighbors != nil && ctx.Err() == nil {
		devices = s.addNeighbors(ctx, prefix, devices)
	}

	slices.SortFunc(devices, func(a, b *policy.Device) int { return a.IP.Compare(b.IP) })
	s.logger.Info("network scan complete", "network", prefix.String(), "found", len(devices), "duration", clock.Since(start))

	if err := ctx.Err(); err != nil {
		return devices, err
	}
	return devices, nil
}

// ScanHost probes a single address. It returns nil when no port answered.
func (s *Scanner) ScanHost(ctx context.Context, ip string) (*policy.Device, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", policy.ErrInvalidIP, ip)
	}
	return s.scanHost(ctx, addr.Unmap()), nil
}

func (s *Scanner) scanHost(ctx context.Context, ip netip.Addr) *policy.Device {
	var (
		mu   sync.Mutex
		open []int
		wg   sync.WaitGroup
	)
	for _, port := range s.cfg.Ports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.portOpen(ctx, ip, port) {
				mu.Lock()
				open = append(open, port)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(open) == 0 {
		return nil
	}

	d := s.newDevice(ctx, ip)
	for _, p := range open {
		d.AddPort(p)
	}
	return d
}

// addNeighbors sets the MAC of every found device the neighbor table knows
// and appends the table's other hosts inside prefix.
func (s *Scanner) addNeighbors(ctx context.Context, prefix netip.Prefix, devices []*policy.Device) []*policy.Device {
	macs, err := s.neighbors.HardwareAddrs(ctx)
	if err != nil {
		s.logger.Debug("neighbor table unavailable", "error", err)
		return devices
	}

	seen := make(map[netip.Addr]bool, len(devices))
	for _, d := range devices {
		seen[d.IP] = true
		if mac, ok := macs[d.IP]; ok && d.MAC == "" {
			d.MAC = mac
		}
	}
	for ip, mac := range macs {
		if seen[ip] || !prefix.Contains(ip) {
			continue
		}
		d := s.newDevice(ctx, ip)
		d.MAC = mac
		devices = append(devices, d)
		s.hub.EmitDeviceSeen(d.Addr(), d.Hostname, nil)
	}
	return devices
}

func (s *Scanner) newDevice(ctx context.Context, ip netip.Addr) *policy.Device {
	now := clock.Now()
	d := &policy.Device{
		IP:        ip,
		Type:      policy.DeviceUnknown,
		FirstSeen: now,
		LastSeen:  now,
	}
	if s.resolver != nil {
		name, err := s.resolver.LookupPTR(ctx, ip.String())
		if err != nil {
			s.logger.Debug("reverse lookup failed", "ip", ip.String(), "error", err)
		} else {
			d.Hostname = name
		}
	}
	return d
}

func (s *Scanner) portOpen(ctx context.Context, ip netip.Addr, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Scanner) progress(message string, percent float64) {
	s.hub.EmitProgress(events.EventScanProgress, "discovery", "scan", message, percent)
}

// Hosts lists the host addresses of prefix. For IPv4 prefixes shorter than
// /31 the network and broadcast addresses are skipped.
func Hosts(prefix netip.Prefix) ([]netip.Addr, error) {
	prefix = prefix.Masked()
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 32 || 1<<hostBits > MaxHosts {
		return nil, fmt.Errorf("%w: %s", ErrNetworkTooLarge, prefix)
	}

	var hosts []netip.Addr
	for ip := prefix.Addr(); prefix.Contains(ip); ip = ip.Next() {
		hosts = append(hosts, ip)
		if !ip.Next().IsValid() {
			break
		}
	}
	if prefix.Addr().Is4() && hostBits >= 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts, nil
}
