package netdev

import (
	"fmt"
	"os"
)

const ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

// DisableKernelForwarding turns off the kernel IPv4 forwarding path so the
// kernel and this process do not race on the same frames.
func DisableKernelForwarding() error {
	if err := os.WriteFile(ipForwardPath, []byte("0\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ipForwardPath, err)
	}
	return nil
}
