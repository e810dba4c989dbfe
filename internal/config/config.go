// Package config defines configuration structures and loading logic for
// resolvd. It supports YAML configuration files with validation and
// sensible defaults, and can be reloaded at runtime on SIGHUP.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"resolvd/internal/utils"
)

type Config struct {
	LogLevel string    `yaml:"logLevel"`
	DNS      DNSConfig `yaml:"dns"`
}

type DNSConfig struct {
	// Mode selects the caching plugin: "default" (no plugin), "none",
	// "dnsmasq" or "unbound".
	Mode string `yaml:"mode"`

	// RcManager selects how the resolver file is maintained: "symlink",
	// "file", "resolvconf", "netconfig", "unmanaged" or "none".
	// Empty means the platform default.
	RcManager string `yaml:"rcManager"`

	// ResolvConfPath is the system resolver file.
	ResolvConfPath string `yaml:"resolvConfPath"`

	// RunDir holds resolvd's private resolver copy and plugin state.
	RunDir string `yaml:"runDir"`

	ResolvconfPath string `yaml:"resolvconfPath"`
	NetconfigPath  string `yaml:"netconfigPath"`
	DnsmasqPath    string `yaml:"dnsmasqPath"`

	// HelperTimeout bounds how long a resolvconf/netconfig invocation
	// may block the control loop.
	HelperTimeout time.Duration `yaml:"helperTimeout"`

	// Global, when set, replaces all per-interface DNS information.
	Global *GlobalDNS `yaml:"global"`
}

// GlobalDNS overrides per-interface DNS facts entirely. Only its own
// searches, options and default-domain nameservers are used.
type GlobalDNS struct {
	Searches    []string `yaml:"searches"`
	Options     []string `yaml:"options"`
	Nameservers []string `yaml:"nameservers"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	// Set defaults
	cfg := &Config{
		LogLevel: "info",
		DNS: DNSConfig{
			Mode:           "default",
			ResolvConfPath: "/etc/resolv.conf",
			RunDir:         "/run/resolvd",
			ResolvconfPath: "/sbin/resolvconf",
			NetconfigPath:  "/sbin/netconfig",
			DnsmasqPath:    "/usr/sbin/dnsmasq",
			HelperTimeout:  1 * time.Second,
		},
	}

	// If no path specified, try default locations
	if path == "" {
		for _, p := range []string{"./config.yaml", "/etc/resolvd/config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	// If we have a config file, load it
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		data, err := utils.ReadAllLimited(f, utils.MaxConfigFileSize)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the coordinator cannot act on. An unknown
// rc-manager name is allowed here; the manager warns and falls back to
// the platform default so a typo never leaves DNS unconfigured.
func (c *Config) Validate() error {
	switch c.DNS.Mode {
	case "", "default", "none", "dnsmasq", "unbound":
	default:
		return fmt.Errorf("unknown dns mode %q", c.DNS.Mode)
	}
	if c.DNS.ResolvConfPath == "" {
		return fmt.Errorf("resolvConfPath must not be empty")
	}
	if c.DNS.RunDir == "" {
		return fmt.Errorf("runDir must not be empty")
	}
	if c.DNS.HelperTimeout <= 0 {
		return fmt.Errorf("helperTimeout must be positive")
	}
	if g := c.DNS.Global; g != nil && len(g.Nameservers) == 0 {
		return fmt.Errorf("global DNS override needs at least one nameserver")
	}
	return nil
}
