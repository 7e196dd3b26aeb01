// Package probe implements the two connectivity checks isolation testing
// relies on: an ICMP echo (via pro-bing) and a TCP connect.
//
// A probe that gets no answer reports false with a nil error. Only a
// failure of the probing mechanism itself, such as a socket the OS refuses
// to open, is returned as an *ExecutionError so callers never mistake a
// broken prober for a blocked path.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"grimm.is/ztinspect/internal/logging"
)

// Prober is what the enforcement validator calls.
type Prober interface {
	// Reachable reports whether target answers an ICMP echo sent on
	// behalf of source.
	Reachable(ctx context.Context, source, target string, timeout time.Duration) (bool, error)
	// PortOpen reports whether a TCP connection to target:port succeeds.
	PortOpen(ctx context.Context, target string, port int, timeout time.Duration) (bool, error)
}

// ExecutionError means the probe could not run at all.
type ExecutionError struct {
	Op     string // "icmp" or "tcp"
	Target string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s probe to %s could not run: %v", e.Op, e.Target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// DefaultTimeout bounds a probe when the caller passes no timeout.
const DefaultTimeout = 3 * time.Second

// NetProber probes from the local host.
type NetProber struct {
	// Privileged uses raw ICMP sockets instead of unprivileged UDP pings.
	Privileged bool
	// BindSource sends probes from the source address. It must then be
	// an address of the local host.
	BindSource bool
	// Count is the number of echo requests per reachability probe.
	Count int

	logger *logging.Logger
}

// NewNetProber returns a prober sending one unprivileged echo per probe.
func NewNetProber(logger *logging.Logger) *NetProber {
	if logger == nil {
		logger = logging.WithComponent("probe")
	}
	return &NetProber{Count: 1, logger: logger}
}

// Reachable sends Count echo requests to target and waits up to timeout.
func (p *NetProber) Reachable(ctx context.Context, source, target string, timeout time.Duration) (bool, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		// Unresolvable target: nothing answers, which is the isolated signal.
		p.logger.Debug("ping target unresolved", "target", target, "error", err)
		return false, nil
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pinger.Count = max(p.Count, 1)
	pinger.Timeout = timeout
	pinger.Interval = min(timeout, time.Second)
	pinger.SetPrivileged(p.Privileged)
	if p.BindSource && source != "" {
		pinger.Source = source
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, &ExecutionError{Op: "icmp", Target: target, Err: err}
	}

	stats := pinger.Statistics()
	p.logger.Debug("ping", "source", source, "target", target, "sent", stats.PacketsSent, "recv", stats.PacketsRecv)
	return stats.PacketsRecv > 0, nil
}

// PortOpen attempts a TCP connect to target:port within timeout.
func (p *NetProber) PortOpen(ctx context.Context, target string, port int, timeout time.Duration) (bool, error) {
	if port < 1 || port > 65535 {
		return false, &ExecutionError{Op: "tcp", Target: target, Err: fmt.Errorf("invalid port %d", port)}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(target, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isExecutionFailure(err) {
			return false, &ExecutionError{Op: "tcp", Target: addr, Err: err}
		}
		p.logger.Debug("tcp probe closed", "target", addr, "error", err)
		return false, nil
	}
	conn.Close()
	return true, nil
}

// isExecutionFailure separates local resource and permission failures from
// the network answering "no".
func isExecutionFailure(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.EMFILE,
		syscall.ENFILE,
		syscall.ENOBUFS,
		syscall.EACCES,
		syscall.EADDRNOTAVAIL,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
