package config

func Normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Registry.BaseURL == "" {
		cfg.Registry.BaseURL = def.Registry.BaseURL
	}
	if cfg.Registry.FallbackIPs == nil {
		cfg.Registry.FallbackIPs = def.Registry.FallbackIPs
	}
	if cfg.Registry.Resolver == "" {
		cfg.Registry.Resolver = def.Registry.Resolver
	}
	if cfg.Registry.Timeout == "" {
		cfg.Registry.Timeout = def.Registry.Timeout
	}
	if len(cfg.Installer.Command) == 0 {
		cfg.Installer.Command = def.Installer.Command
	}
	if cfg.Installer.Method == "" {
		cfg.Installer.Method = def.Installer.Method
	}
	if cfg.Installer.Timeout == "" {
		cfg.Installer.Timeout = def.Installer.Timeout
	}
	if cfg.Installer.PrimaryBranch == "" {
		cfg.Installer.PrimaryBranch = def.Installer.PrimaryBranch
	}
	if cfg.Installer.SecondaryBranch == "" {
		cfg.Installer.SecondaryBranch = def.Installer.SecondaryBranch
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = def.Storage.Root
	}
	if cfg.Storage.Dest == "" {
		cfg.Storage.Dest = cfg.Storage.Root + "/skills"
	}
	if cfg.Lookup.APIBase == "" {
		cfg.Lookup.APIBase = def.Lookup.APIBase
	}
	if cfg.Lookup.Manifest == "" {
		cfg.Lookup.Manifest = def.Lookup.Manifest
	}
	if cfg.Lookup.TokenEnv == nil {
		cfg.Lookup.TokenEnv = def.Lookup.TokenEnv
	}
	if cfg.Lookup.Timeout == "" {
		cfg.Lookup.Timeout = def.Lookup.Timeout
	}
	if cfg.Links == nil {
		cfg.Links = def.Links
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	return cfg
}
