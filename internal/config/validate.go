package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

var allowedProtocols = map[string]struct{}{
	ProtocolHTTPS: {},
	ProtocolSSH:   {},
}

var allowedHookPolicies = map[string]struct{}{
	HookPolicyAllow: {},
	HookPolicyDeny:  {},
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("DOC_CONFIG_STORAGE: missing storage root")
	}
	if cfg.Install.Jobs < 1 {
		return fmt.Errorf("DOC_CONFIG_INSTALL: jobs must be at least 1, got %d", cfg.Install.Jobs)
	}
	if _, ok := allowedProtocols[cfg.Install.Protocol]; !ok {
		return fmt.Errorf("DOC_CONFIG_INSTALL: unsupported protocol %q", cfg.Install.Protocol)
	}
	if strings.ContainsAny(cfg.Install.DefaultRef, " \t\n") {
		return fmt.Errorf("DOC_CONFIG_INSTALL: invalid default ref %q", cfg.Install.DefaultRef)
	}
	if _, ok := allowedHookPolicies[cfg.Hooks.Policy]; !ok {
		return fmt.Errorf("DOC_CONFIG_HOOKS: unsupported hook policy %q", cfg.Hooks.Policy)
	}
	if d, err := time.ParseDuration(cfg.Hooks.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("DOC_CONFIG_HOOKS: invalid hook timeout %q", cfg.Hooks.Timeout)
	}
	for _, pattern := range cfg.Load.DefaultGlobs {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("DOC_CONFIG_LOAD: invalid default glob %q: %w", pattern, err)
		}
	}
	if cfg.Declarations.File == "" {
		return fmt.Errorf("DOC_CONFIG_DECLARATIONS: missing declarations file")
	}
	if _, ok := allowedLogLevels[cfg.Logging.Level]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: unsupported log level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("DOC_CONFIG_LOGGING: unsupported log format %q", cfg.Logging.Format)
	}
	if strings.Count(cfg.Self.Repo, "/") != 1 {
		return fmt.Errorf("DOC_CONFIG_SELF: self repo must be owner/name, got %q", cfg.Self.Repo)
	}
	return nil
}

// HookTimeout returns the parsed hook timeout. Validate guarantees it parses.
func (c Config) HookTimeout() time.Duration {
	d, err := time.ParseDuration(c.Hooks.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}
