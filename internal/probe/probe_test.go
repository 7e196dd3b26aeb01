package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ztinspect/internal/logging"
	"grimm.is/ztinspect/internal/testutil"
)

func TestPortOpen_Listening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	p := NewNetProber(logging.Discard())

	open, err := p.PortOpen(context.Background(), "127.0.0.1", port, time.Second)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestPortOpen_Closed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	open, err := NewNetProber(logging.Discard()).PortOpen(context.Background(), "127.0.0.1", port, time.Second)
	assert.NoError(t, err, "refused is a result, not a failure")
	assert.False(t, open)
}

func TestPortOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	open, err := NewNetProber(logging.Discard()).PortOpen(ctx, "127.0.0.1", 9, time.Second)
	assert.NoError(t, err)
	assert.False(t, open)
}

func TestPortOpen_InvalidPort(t *testing.T) {
	_, err := NewNetProber(logging.Discard()).PortOpen(context.Background(), "127.0.0.1", 0, time.Second)
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "tcp", execErr.Op)
}

func TestIsExecutionFailure(t *testing.T) {
	wrap := func(errno syscall.Errno) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("socket: %w", errno)}
	}
	assert.True(t, isExecutionFailure(wrap(syscall.EMFILE)))
	assert.True(t, isExecutionFailure(wrap(syscall.EACCES)))
	assert.False(t, isExecutionFailure(wrap(syscall.ECONNREFUSED)))
	assert.False(t, isExecutionFailure(wrap(syscall.EHOSTUNREACH)))
	assert.False(t, isExecutionFailure(context.DeadlineExceeded))
}

func TestExecutionError(t *testing.T) {
	cause := errors.New("operation not permitted")
	err := error(&ExecutionError{Op: "icmp", Target: "10.0.0.1", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "icmp probe to 10.0.0.1 could not run")
}

func TestReachable_Loopback(t *testing.T) {
	testutil.RequireICMP(t)

	p := NewNetProber(logging.Discard())
	ok, err := p.Reachable(context.Background(), "", "127.0.0.1", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReachable_UnresolvableTarget(t *testing.T) {
	p := NewNetProber(logging.Discard())
	ok, err := p.Reachable(context.Background(), "", "no-such-host.invalid", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
