package config

// Config is the frozen v1 global schema.
type Config struct {
	Version      int                `toml:"version"`
	Storage      StorageConfig      `toml:"storage"`
	Install      InstallConfig      `toml:"install"`
	Git          GitConfig          `toml:"git"`
	GitHub       GitHubConfig       `toml:"github"`
	Hooks        HooksConfig        `toml:"hooks"`
	Load         LoadConfig         `toml:"load"`
	Declarations DeclarationsConfig `toml:"declarations"`
	Logging      LoggingConfig      `toml:"logging"`
	Self         SelfConfig         `toml:"self"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

// InstallConfig controls the install/update scheduler.
type InstallConfig struct {
	Jobs       int    `toml:"jobs" json:"jobs"`
	Shallow    bool   `toml:"shallow" json:"shallow"`
	Protocol   string `toml:"protocol" json:"protocol"`
	DefaultRef string `toml:"default_ref" json:"defaultRef"`
}

type GitConfig struct {
	Host string `toml:"host"`
	// Mirror, when set, replaces host based URLs with <mirror>/<owner>/<name>.
	Mirror string `toml:"mirror,omitempty"`
}

type GitHubConfig struct {
	APIURL   string `toml:"api_url"`
	TokenEnv string `toml:"token_env,omitempty"`
}

type HooksConfig struct {
	Policy  string `toml:"policy"`
	Timeout string `toml:"timeout"`
}

type LoadConfig struct {
	DefaultGlobs []string `toml:"default_globs"`
}

type DeclarationsConfig struct {
	File string `toml:"file"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SelfConfig names the release repository shellpm updates itself from.
type SelfConfig struct {
	Repo string `toml:"repo"`
}

const (
	ProtocolHTTPS = "https"
	ProtocolSSH   = "ssh"

	HookPolicyAllow = "allow"
	HookPolicyDeny  = "deny"
)
