package router

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/urouted/urouted/common/logging"
	"github.com/urouted/urouted/router/internal/arpcache"
)

// Config is the router configuration.
type Config struct {
	// Interfaces names the two ports.
	Interfaces InterfacesConfig `yaml:"interfaces"`
	// NextHop is the IPv4 address of the upstream router used for
	// destinations outside both directly attached subnets.
	NextHop string `yaml:"next_hop"`
	// Promiscuous puts both interfaces into promiscuous mode.
	Promiscuous bool `yaml:"promiscuous"`
	// ARP configures the resolution cache.
	ARP ARPConfig `yaml:"arp"`
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
}

// InterfacesConfig names the attached ports.
type InterfacesConfig struct {
	// Receive is the interface facing the inner network (port 0).
	Receive string `yaml:"receive"`
	// Send is the interface facing the next hop (port 1).
	Send string `yaml:"send"`
}

// ARPConfig configures the resolution cache and its retransmit schedule.
type ARPConfig struct {
	// Capacity is the number of slots in the cache table.
	Capacity int `yaml:"capacity"`
	// PendingLimit caps the bytes buffered behind a single unresolved
	// next hop. The oldest frame is dropped on overflow.
	PendingLimit datasize.ByteSize `yaml:"pending_limit"`
	// RetryInitial is the delay before the first ARP retransmit.
	RetryInitial time.Duration `yaml:"retry_initial"`
	// RetryMax bounds the retransmit interval.
	RetryMax time.Duration `yaml:"retry_max"`
	// RetryAttempts is the total request budget before giving up.
	RetryAttempts int `yaml:"retry_attempts"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Interfaces: InterfacesConfig{
			Receive: "eth0",
			Send:    "eth1",
		},
		Promiscuous: true,
		ARP: ARPConfig{
			Capacity:      arpcache.DefaultCapacity,
			PendingLimit:  datasize.MB,
			RetryInitial:  500 * time.Millisecond,
			RetryMax:      5 * time.Second,
			RetryAttempts: arpcache.DefaultRetryAttempts,
		},
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig loads configuration from a YAML file at the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}
