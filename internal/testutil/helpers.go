package testutil

import (
	"os"
	"testing"
)

// RequireICMP skips the test unless ZTINSPECT_ICMP_TEST is set. Echo probes
// need either CAP_NET_RAW or a ping_group_range that covers the test user,
// which most CI sandboxes do not grant.
func RequireICMP(t *testing.T) {
	t.Helper()
	if os.Getenv("ZTINSPECT_ICMP_TEST") == "" {
		t.Skip("Skipping test: requires ZTINSPECT_ICMP_TEST environment")
	}
}
