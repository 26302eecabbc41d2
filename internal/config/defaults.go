package config

const (
	SchemaVersion = 1
)

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Storage: StorageConfig{
			Root: "~/.shellpm",
		},
		Install: InstallConfig{
			Jobs:       16,
			Shallow:    true,
			Protocol:   ProtocolHTTPS,
			DefaultRef: "master",
		},
		Git: GitConfig{
			Host: "github.com",
		},
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
		},
		Hooks: HooksConfig{
			Policy:  HookPolicyAllow,
			Timeout: "10m",
		},
		Load: LoadConfig{
			DefaultGlobs: defaultGlobs(),
		},
		Declarations: DeclarationsConfig{
			File: "~/.shellpm/plugins",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Self: SelfConfig{
			Repo: "shellpm/shellpm",
		},
	}
}

func defaultGlobs() []string {
	return []string{"*.plugin.zsh", "init.zsh", "*.zsh", "*.sh"}
}
