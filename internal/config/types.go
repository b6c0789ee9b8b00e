package config

// Config is the v1 configuration document.
type Config struct {
	Version   int             `toml:"version"`
	Registry  RegistryConfig  `toml:"registry"`
	Installer InstallerConfig `toml:"installer"`
	Storage   StorageConfig   `toml:"storage"`
	Lookup    LookupConfig    `toml:"lookup"`
	Links     []LinkConfig    `toml:"links"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
}

type RegistryConfig struct {
	BaseURL     string   `toml:"base_url"`
	FallbackIPs []string `toml:"fallback_ips"`
	Resolver    string   `toml:"resolver"`
	Timeout     string   `toml:"timeout"`
}

type InstallerConfig struct {
	Command         []string `toml:"command"`
	Method          string   `toml:"method"`
	Timeout         string   `toml:"timeout"`
	PrimaryBranch   string   `toml:"primary_branch"`
	SecondaryBranch string   `toml:"secondary_branch"`
}

// StorageConfig locates every persisted document. Empty document paths are
// derived from Root.
type StorageConfig struct {
	Root   string `toml:"root"`
	Dest   string `toml:"dest"`
	State  string `toml:"state"`
	Report string `toml:"report"`
	Log    string `toml:"log"`
	Job    string `toml:"job"`
	Audit  string `toml:"audit"`
}

type LookupConfig struct {
	APIBase   string   `toml:"api_base"`
	Manifest  string   `toml:"manifest"`
	TokenEnv  []string `toml:"token_env"`
	Timeout   string   `toml:"timeout"`
	UserAgent string   `toml:"user_agent,omitempty"`
}

// LinkConfig names a consumer directory that receives a symlink for every
// installed skill.
type LinkConfig struct {
	Name    string `toml:"name" json:"name"`
	Dir     string `toml:"dir" json:"dir"`
	Enabled bool   `toml:"enabled" json:"enabled"`
}

type ServerConfig struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	UIDir string `toml:"ui_dir,omitempty"`
	// Workspace is reported by /api/paths as the root holding custom and
	// shared skill trees.
	Workspace string `toml:"workspace,omitempty"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
