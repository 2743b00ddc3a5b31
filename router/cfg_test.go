package router

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urouted.yaml")
	data := `
interfaces:
  receive: enp0s8
  send: enp0s9
next_hop: 169.254.238.208
arp:
  capacity: 128
  pending_limit: 64KB
  retry_attempts: 2
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "enp0s8", cfg.Interfaces.Receive)
	require.Equal(t, "enp0s9", cfg.Interfaces.Send)
	require.Equal(t, "169.254.238.208", cfg.NextHop)
	require.Equal(t, 128, cfg.ARP.Capacity)
	require.Equal(t, 64*datasize.KB, cfg.ARP.PendingLimit)
	require.Equal(t, 2, cfg.ARP.RetryAttempts)
	require.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)

	// Untouched fields keep their defaults.
	require.Equal(t, 500*time.Millisecond, cfg.ARP.RetryInitial)
	require.True(t, cfg.Promiscuous)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
