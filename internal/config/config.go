// Package config loads the BridgeWarden configuration. The file is YAML
// and therefore also accepts plain JSON. A missing file yields defaults:
// network disabled, approvals required, balanced profile.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Approvals controls the source-approval policy.
type Approvals struct {
	RequireApproval   bool     `yaml:"require_approval" json:"require_approval"`
	AllowedWebDomains []string `yaml:"allowed_web_domains" json:"allowed_web_domains"`
	AllowedRepoURLs   []string `yaml:"allowed_repo_urls" json:"allowed_repo_urls"`
}

// Network controls outbound access and resource limits.
type Network struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	TimeoutSeconds   float64  `yaml:"timeout_seconds" json:"timeout_seconds"`
	WebMaxBytes      int64    `yaml:"web_max_bytes" json:"web_max_bytes"`
	RepoMaxBytes     int64    `yaml:"repo_max_bytes" json:"repo_max_bytes"`
	RepoMaxFileBytes int64    `yaml:"repo_max_file_bytes" json:"repo_max_file_bytes"`
	RepoMaxFiles     int      `yaml:"repo_max_files" json:"repo_max_files"`
	AllowedWebHosts  []string `yaml:"allowed_web_hosts" json:"allowed_web_hosts"`
	AllowedRepoHosts []string `yaml:"allowed_repo_hosts" json:"allowed_repo_hosts"`
	AllowLocalhost   bool     `yaml:"allow_localhost" json:"allow_localhost"`
}

// Config is the root configuration object.
type Config struct {
	Profile   string    `yaml:"profile" json:"profile"`
	DataDir   string    `yaml:"data_dir" json:"data_dir"`
	BaseDir   string    `yaml:"base_dir" json:"base_dir"`
	Approvals Approvals `yaml:"approvals" json:"approvals"`
	Network   Network   `yaml:"network" json:"network"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Profile: "balanced",
		Approvals: Approvals{
			RequireApproval: true,
		},
		Network: Network{
			Enabled:          false,
			TimeoutSeconds:   10,
			WebMaxBytes:      1 << 20,
			RepoMaxBytes:     10 << 20,
			RepoMaxFileBytes: 256 << 10,
			RepoMaxFiles:     2000,
		},
	}
}

// DefaultPath returns ~/.bridgewarden/config.yaml, falling back to the
// working directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bridgewarden.yaml"
	}
	return filepath.Join(home, ".bridgewarden", "config.yaml")
}

// DefaultDataDir returns ~/.bridgewarden/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bridgewarden")
	}
	return filepath.Join(home, ".bridgewarden", "data")
}

// Load reads configuration from path. Empty path means DefaultPath; a
// missing file returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return withDirDefaults(Default()), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return withDirDefaults(cfg), nil
}

func withDirDefaults(cfg Config) Config {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	return cfg
}

// Validate rejects nonsensical limits before they reach the fetchers.
func (c Config) Validate() error {
	switch c.Profile {
	case "strict", "balanced", "permissive":
	default:
		return fmt.Errorf("config: unknown profile %q", c.Profile)
	}
	if c.Network.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: network.timeout_seconds must be positive")
	}
	for name, v := range map[string]int64{
		"network.web_max_bytes":       c.Network.WebMaxBytes,
		"network.repo_max_bytes":      c.Network.RepoMaxBytes,
		"network.repo_max_file_bytes": c.Network.RepoMaxFileBytes,
		"network.repo_max_files":      int64(c.Network.RepoMaxFiles),
	} {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	return nil
}

// QuarantineDir, AuditLogPath, ApprovalsDir, and ReposDir define the
// persisted layout under the data directory.
func (c Config) QuarantineDir() string { return filepath.Join(c.DataDir, "quarantine") }
func (c Config) AuditLogPath() string  { return filepath.Join(c.DataDir, "logs", "audit.jsonl") }
func (c Config) ApprovalsDir() string  { return filepath.Join(c.DataDir, "approvals") }
func (c Config) ReposDir() string      { return filepath.Join(c.DataDir, "repos") }

// ExampleYAML is the commented starter config written by init-config.
const ExampleYAML = `# BridgeWarden configuration.
# The file is YAML, so plain JSON works too.

# Policy profile: strict | balanced | permissive
profile: balanced

# Where quarantine records, approvals, repos, and logs live.
# data_dir: ~/.bridgewarden/data

# Base directory for bw_read_file paths.
# base_dir: .

approvals:
  # New web domains and repo URLs need human approval before fetching.
  require_approval: true
  allowed_web_domains: []
  allowed_repo_urls: []

network:
  # Outbound fetching is off until explicitly enabled.
  enabled: false
  timeout_seconds: 10
  web_max_bytes: 1048576
  repo_max_bytes: 10485760
  repo_max_file_bytes: 262144
  repo_max_files: 2000
  allowed_web_hosts: []
  allowed_repo_hosts: []
`
