package config

const (
	SchemaVersion = 1
)

// Build metadata, set via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	defaultRegistryURL = "https://skills.sh"
	defaultResolver    = "8.8.8.8:53"
	defaultInstaller   = "~/.codex/skills/.system/skill-installer/scripts/install-skill-from-github.py"
)

var defaultFallbackIPs = []string{"64.239.109.193", "64.239.123.129"}

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Registry: RegistryConfig{
			BaseURL:     defaultRegistryURL,
			FallbackIPs: append([]string(nil), defaultFallbackIPs...),
			Resolver:    defaultResolver,
			Timeout:     "30s",
		},
		Installer: InstallerConfig{
			Command:         []string{"python3", defaultInstaller},
			Method:          "git",
			Timeout:         "40s",
			PrimaryBranch:   "main",
			SecondaryBranch: "master",
		},
		Storage: StorageConfig{
			Root: "~/.agents",
			Dest: "~/.agents/skills",
		},
		Lookup: LookupConfig{
			APIBase:  "https://api.github.com",
			Manifest: "SKILL.md",
			TokenEnv: []string{"GITHUB_TOKEN", "GH_TOKEN"},
			Timeout:  "30s",
		},
		Links: []LinkConfig{
			{Name: "codex", Dir: "~/.codex/skills", Enabled: true},
			{Name: "claude", Dir: "~/.claude/skills", Enabled: true},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5199,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
