package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

var allowedMethods = map[string]struct{}{
	"auto":     {},
	"download": {},
	"git":      {},
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var allowedLogFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}

	u, err := url.Parse(cfg.Registry.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("REG_CONFIG: invalid registry base_url %q", cfg.Registry.BaseURL)
	}
	for _, ip := range cfg.Registry.FallbackIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("REG_CONFIG: invalid fallback ip %q", ip)
		}
	}
	if _, _, err := net.SplitHostPort(cfg.Registry.Resolver); err != nil {
		return fmt.Errorf("REG_CONFIG: invalid resolver %q: %v", cfg.Registry.Resolver, err)
	}
	if err := validDuration("REG_CONFIG", "timeout", cfg.Registry.Timeout); err != nil {
		return err
	}

	if len(cfg.Installer.Command) == 0 || strings.TrimSpace(cfg.Installer.Command[0]) == "" {
		return fmt.Errorf("INS_CONFIG: installer command is required")
	}
	if _, ok := allowedMethods[cfg.Installer.Method]; !ok {
		return fmt.Errorf("INS_CONFIG: unsupported method %q", cfg.Installer.Method)
	}
	if err := validDuration("INS_CONFIG", "timeout", cfg.Installer.Timeout); err != nil {
		return err
	}
	if cfg.Installer.PrimaryBranch == cfg.Installer.SecondaryBranch {
		return fmt.Errorf("INS_CONFIG: primary and secondary branch must differ")
	}

	if cfg.Storage.Root == "" || cfg.Storage.Dest == "" {
		return fmt.Errorf("DOC_CONFIG_STORAGE: missing storage root/dest")
	}

	if cfg.Lookup.Manifest == "" || strings.Contains(cfg.Lookup.Manifest, "/") {
		return fmt.Errorf("LKP_CONFIG: invalid manifest name %q", cfg.Lookup.Manifest)
	}
	if err := validDuration("LKP_CONFIG", "timeout", cfg.Lookup.Timeout); err != nil {
		return err
	}

	names := map[string]struct{}{}
	for _, l := range cfg.Links {
		if strings.TrimSpace(l.Name) == "" || strings.TrimSpace(l.Dir) == "" {
			return fmt.Errorf("LNK_CONFIG: link name and dir are required")
		}
		if _, ok := names[l.Name]; ok {
			return fmt.Errorf("LNK_CONFIG: duplicate link %q", l.Name)
		}
		names[l.Name] = struct{}{}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("SRV_CONFIG: invalid port %d", cfg.Server.Port)
	}
	if _, ok := allowedLogLevels[cfg.Logging.Level]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: invalid level %q", cfg.Logging.Level)
	}
	if _, ok := allowedLogFormats[cfg.Logging.Format]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: invalid format %q", cfg.Logging.Format)
	}
	return nil
}

func validDuration(code, field, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid %s %q: %v", code, field, v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: %s must be positive", code, field)
	}
	return nil
}

// The timeout accessors rely on Validate having accepted the duration strings.
func (c Config) RegistryTimeout() time.Duration  { return mustDuration(c.Registry.Timeout) }
func (c Config) InstallerTimeout() time.Duration { return mustDuration(c.Installer.Timeout) }
func (c Config) LookupTimeout() time.Duration    { return mustDuration(c.Lookup.Timeout) }

func mustDuration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
