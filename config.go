package k6s

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/khoregos/k6s/types"
)

// ConfigFileName is the project configuration file at the repo root.
const ConfigFileName = "k6s.yaml"

// StateDirName is the per-project governance state directory.
const StateDirName = ".khoregos"

// DatabaseFileName is the store file inside the state directory.
const DatabaseFileName = "k6s.db"

// ProjectConfig identifies the governed project.
type ProjectConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// SessionConfig holds session-wide budgets and retention.
type SessionConfig struct {
	DefaultBudgetUSD     float64 `yaml:"default_budget_usd" json:"default_budget_usd"`
	ContextRetentionDays int     `yaml:"context_retention_days" json:"context_retention_days"`
	AuditRetentionDays   int     `yaml:"audit_retention_days" json:"audit_retention_days"`
}

// GateConfig declares an approval gate over file patterns.
type GateConfig struct {
	Name           string   `yaml:"name" json:"name"`
	FilePatterns   []string `yaml:"file_patterns" json:"file_patterns"`
	Approval       string   `yaml:"approval" json:"approval"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Notify         []string `yaml:"notify,omitempty" json:"notify,omitempty"`
}

// PrometheusConfig configures the metrics endpoint.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// OpenTelemetryConfig configures trace export.
type OpenTelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// WebhookConfig forwards selected events to an external endpoint.
// Secret signs deliveries with an HMAC header when set.
type WebhookConfig struct {
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events" json:"events"`
	Secret string   `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// ObservabilityConfig groups the optional telemetry surfaces.
type ObservabilityConfig struct {
	Prometheus    PrometheusConfig    `yaml:"prometheus" json:"prometheus"`
	OpenTelemetry OpenTelemetryConfig `yaml:"opentelemetry" json:"opentelemetry"`
	Webhooks      []WebhookConfig     `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// PluginConfig declares an external plugin module.
type PluginConfig struct {
	Name   string         `yaml:"name" json:"name"`
	Module string         `yaml:"module" json:"module"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Config is the full project governance configuration.
type Config struct {
	Version       string                 `yaml:"version" json:"version"`
	Project       ProjectConfig          `yaml:"project" json:"project"`
	Session       SessionConfig          `yaml:"session" json:"session"`
	Boundaries    []types.BoundaryConfig `yaml:"boundaries,omitempty" json:"boundaries,omitempty"`
	Gates         []GateConfig           `yaml:"gates,omitempty" json:"gates,omitempty"`
	Observability ObservabilityConfig    `yaml:"observability" json:"observability"`
	Plugins       []PluginConfig         `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// DefaultConfig returns the configuration written by init.
func DefaultConfig(projectName string) *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name:        projectName,
			Description: "Project governed by Khoregos",
		},
		Session: SessionConfig{
			DefaultBudgetUSD:     50.0,
			ContextRetentionDays: 90,
			AuditRetentionDays:   365,
		},
		Boundaries: []types.BoundaryConfig{
			{
				Pattern:        "*",
				ForbiddenPaths: []string{".env*", "**/*.pem", "**/*.key"},
				Enforcement:    types.EnforcementAdvisory,
			},
		},
		Gates: []GateConfig{
			{
				Name: "dependency-approval",
				FilePatterns: []string{
					"package.json", "requirements.txt", "go.mod", "Cargo.toml", "**/pom.xml",
				},
				Approval:       "manual",
				TimeoutSeconds: 1800,
				Notify:         []string{"terminal"},
			},
			{
				Name: "security-files",
				FilePatterns: []string{
					".env*", "**/auth/**", "**/security/**", "**/*.pem", "**/*.key",
				},
				Approval:       "manual",
				TimeoutSeconds: 1800,
				Notify:         []string{"terminal"},
			},
		},
		Observability: ObservabilityConfig{
			Prometheus:    PrometheusConfig{Enabled: false, Port: 9090},
			OpenTelemetry: OpenTelemetryConfig{Enabled: false, Endpoint: "http://localhost:4317"},
		},
	}
}

// LoadConfig reads and validates a config file. Unknown keys are
// rejected so typos fail loudly.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidConfig)
	}
	if c.Project.Name == "" {
		return fmt.Errorf("%w: project.name is required", ErrInvalidConfig)
	}
	for _, b := range c.Boundaries {
		if b.Pattern == "" {
			return fmt.Errorf("%w: boundary pattern is required", ErrInvalidConfig)
		}
		switch b.Enforcement {
		case "", types.EnforcementAdvisory, types.EnforcementStrict:
		default:
			return fmt.Errorf("%w: unknown enforcement %q", ErrInvalidConfig, b.Enforcement)
		}
	}
	for _, g := range c.Gates {
		if g.Name == "" {
			return fmt.Errorf("%w: gate name is required", ErrInvalidConfig)
		}
	}
	return nil
}

// Snapshot renders the config as a plain map for storage alongside the
// session it governed.
func (c *Config) Snapshot() map[string]any {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
