package config

import "strings"

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "~/.shellpm"
	}
	if cfg.Install.Jobs == 0 {
		cfg.Install.Jobs = 16
	}
	cfg.Install.Protocol = strings.ToLower(strings.TrimSpace(cfg.Install.Protocol))
	if cfg.Install.Protocol == "" {
		cfg.Install.Protocol = ProtocolHTTPS
	}
	if cfg.Install.DefaultRef == "" {
		cfg.Install.DefaultRef = "master"
	}
	if cfg.Git.Host == "" {
		cfg.Git.Host = "github.com"
	}
	cfg.Git.Mirror = strings.TrimRight(cfg.Git.Mirror, "/")
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = "https://api.github.com"
	}
	cfg.GitHub.APIURL = strings.TrimRight(cfg.GitHub.APIURL, "/")
	if cfg.Hooks.Policy == "" {
		cfg.Hooks.Policy = HookPolicyAllow
	}
	if cfg.Hooks.Timeout == "" {
		cfg.Hooks.Timeout = "10m"
	}
	if len(cfg.Load.DefaultGlobs) == 0 {
		cfg.Load.DefaultGlobs = defaultGlobs()
	}
	if cfg.Declarations.File == "" {
		cfg.Declarations.File = "~/.shellpm/plugins"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Self.Repo == "" {
		cfg.Self.Repo = "shellpm/shellpm"
	}
	return cfg
}
