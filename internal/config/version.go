package config

// Build information, set with -ldflags "-X shellpm/internal/config.Version=...".
var (
	Version = "v0.0.0-dev"
	Commit  = "none"
	Date    = "unknown"
)
