// Package config loads and validates the buildrelay TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the full server configuration.
type Config struct {
	Name      string                   `toml:"name"`
	Port      int                      `toml:"port"`
	BasePath  string                   `toml:"base_path"`
	LogPath   string                   `toml:"log_path"`
	HistoryDB string                   `toml:"history_db"`
	SSL       SSLConfig                `toml:"ssl"`
	Auth      AuthConfig               `toml:"auth"`
	Events    EventsConfig             `toml:"events"`
	Retention RetentionConfig          `toml:"retention"`
	Metrics   MetricsConfig            `toml:"metrics"`
	Projects  map[string]ProjectConfig `toml:"projects"`
}

// SSLConfig controls TLS termination for the HTTP listener.
type SSLConfig struct {
	EnableSSL          bool   `toml:"enable_ssl"`
	CertificatePath    string `toml:"certificate_path"`
	CertificateKeyPath string `toml:"certificate_key_path"`
}

// AuthConfig is an authorization policy, either server-wide or per project.
type AuthConfig struct {
	AuthType         string   `toml:"auth_type"`    // "token", "address", "both"
	AddressType      string   `toml:"address_type"` // "ip", "hostname"
	AllowedAddresses []string `toml:"allowed_addresses"`
	AllowedTokens    []string `toml:"allowed_tokens"`
}

// EventsConfig enables the optional NATS lifecycle event publisher.
type EventsConfig struct {
	Enabled       bool   `toml:"enabled"`
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// RetentionConfig controls the janitor that prunes archived results and
// on-disk log files.
type RetentionConfig struct {
	Enabled       bool   `toml:"enabled"`
	MaxAge        string `toml:"max_age"`
	SweepInterval string `toml:"sweep_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ProjectConfig defines one tenant: its endpoints, auth, limits, and pipeline.
type ProjectConfig struct {
	AllowMultiBuild  bool        `toml:"allow_multi_build"`
	MaxPendingBuild  int         `toml:"max_pending_build"`
	BaseEndpointPath string      `toml:"base_endpoint_path"`
	UniqueBuildKey   string      `toml:"unique_build_key"`
	Auth             *AuthConfig `toml:"auth"`
	API              APIConfig   `toml:"api"`
	Build            BuildConfig `toml:"build"`
}

// APIConfig holds the per-operation endpoint definitions. An empty endpoint
// string disables the route.
type APIConfig struct {
	Build      EndpointConfig `toml:"build"`
	IsBuilding EndpointConfig `toml:"is_building"`
	Abort      EndpointConfig `toml:"abort"`
	Cleanup    EndpointConfig `toml:"cleanup"`
	Socket     EndpointConfig `toml:"socket"`
}

// EndpointConfig describes one HTTP operation of a project.
type EndpointConfig struct {
	Endpoint     string        `toml:"endpoint"`
	Method       string        `toml:"method"`
	Payload      []string      `toml:"payload"`
	ReturnFields []ReturnField `toml:"return_fields"`
}

// ReturnField is a custom response field resolved through the variable rules.
// When Name is empty the raw Value template doubles as the key.
type ReturnField struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

// BuildConfig is a project's shell pipeline.
type BuildConfig struct {
	ProjectPath  string          `toml:"project_path"`
	OnSuccess    string          `toml:"on_success"`
	OnFailure    string          `toml:"on_failure"`
	Commands     []CommandConfig `toml:"commands"`
	RunOnSuccess []CommandConfig `toml:"run_on_success"`
	RunOnFailure []CommandConfig `toml:"run_on_failure"`
}

// Command on_error policies.
const (
	OnErrorAbort    = "abort"
	OnErrorContinue = "continue"
)

// CommandConfig is one command template in a pipeline.
type CommandConfig struct {
	Command    string `toml:"command"`
	Title      string `toml:"title"`
	OnError    string `toml:"on_error"`
	SendToSock bool   `toml:"send_to_sock"`
}

// Load reads, expands, parses, and validates the configuration file.
// A load failure is fatal to startup; callers should not continue on error.
func Load(configPath string) (*Config, error) {
	// Best effort .env load so tokens and webhook URLs can live outside the
	// config file. Missing .env is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the raw TOML content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogPath == "" {
		c.LogPath = "./logs"
	}
	if c.HistoryDB == "" {
		c.HistoryDB = "./buildrelay.db"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "buildrelay.build"
	}
	if c.Retention.MaxAge == "" {
		c.Retention.MaxAge = "720h"
	}
	if c.Retention.SweepInterval == "" {
		c.Retention.SweepInterval = "1h"
	}
	for name, p := range c.Projects {
		if p.MaxPendingBuild == 0 {
			p.MaxPendingBuild = 5
		}
		for i := range p.Build.Commands {
			if p.Build.Commands[i].OnError == "" {
				p.Build.Commands[i].OnError = OnErrorAbort
			}
		}
		c.Projects[name] = p
	}
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Auth.AuthType {
	case "token", "address", "both":
	default:
		return fmt.Errorf("invalid auth_type %q (want token, address, or both)", c.Auth.AuthType)
	}
	if c.SSL.EnableSSL && (c.SSL.CertificatePath == "" || c.SSL.CertificateKeyPath == "") {
		return fmt.Errorf("ssl enabled but certificate_path or certificate_key_path missing")
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events enabled but nats_url missing")
	}
	if c.Retention.Enabled {
		if _, err := time.ParseDuration(c.Retention.MaxAge); err != nil {
			return fmt.Errorf("invalid retention max_age: %w", err)
		}
		if _, err := time.ParseDuration(c.Retention.SweepInterval); err != nil {
			return fmt.Errorf("invalid retention sweep_interval: %w", err)
		}
	}
	for name, p := range c.Projects {
		if p.UniqueBuildKey == "" {
			return fmt.Errorf("project %s: unique_build_key is required", name)
		}
		if p.BaseEndpointPath == "" {
			return fmt.Errorf("project %s: base_endpoint_path is required", name)
		}
		if p.MaxPendingBuild < 1 {
			return fmt.Errorf("project %s: max_pending_build must be positive", name)
		}
		if p.Auth != nil {
			switch p.Auth.AuthType {
			case "token", "address", "both":
			default:
				return fmt.Errorf("project %s: invalid auth_type %q", name, p.Auth.AuthType)
			}
		}
		for i, cmd := range p.Build.Commands {
			if cmd.Command == "" {
				return fmt.Errorf("project %s: command %d has no command string", name, i+1)
			}
			if cmd.OnError != OnErrorAbort && cmd.OnError != OnErrorContinue {
				return fmt.Errorf("project %s: command %d has invalid on_error %q", name, i+1, cmd.OnError)
			}
		}
	}
	return nil
}

// AuthFor returns the effective auth policy for a project, falling back to
// the server-level policy when the project defines none.
func (c *Config) AuthFor(projectName string) *AuthConfig {
	if p, ok := c.Projects[projectName]; ok && p.Auth != nil {
		return p.Auth
	}
	return &c.Auth
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Name:      "buildrelay",
		Port:      8080,
		LogPath:   "./logs",
		HistoryDB: "./buildrelay.db",
		Auth: AuthConfig{
			AuthType:      "token",
			AllowedTokens: []string{"CHANGE_ME"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Projects: map[string]ProjectConfig{
			"example": {
				AllowMultiBuild:  true,
				MaxPendingBuild:  2,
				BaseEndpointPath: "/hooks/example",
				UniqueBuildKey:   "job",
				API: APIConfig{
					Build: EndpointConfig{
						Endpoint: "/build",
						Method:   "POST",
						Payload:  []string{"job"},
						ReturnFields: []ReturnField{
							{Name: "tail_token", Value: "%socket_token%"},
						},
					},
					IsBuilding: EndpointConfig{Endpoint: "/is_building", Method: "POST"},
					Abort:      EndpointConfig{Endpoint: "/abort", Method: "POST"},
					Cleanup:    EndpointConfig{Endpoint: "/cleanup", Method: "POST"},
					Socket:     EndpointConfig{Endpoint: "/socket", Method: "GET"},
				},
				Build: BuildConfig{
					Commands: []CommandConfig{
						{Command: "echo building ${timestamp}", Title: "Announce", OnError: OnErrorAbort, SendToSock: true},
						{Command: "make release", Title: "Release", OnError: OnErrorAbort, SendToSock: true},
					},
					RunOnFailure: []CommandConfig{
						{Command: "echo cleanup", Title: "Cleanup", OnError: OnErrorContinue},
					},
				},
			},
		},
	}

	data, err := toml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("marshal example config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
