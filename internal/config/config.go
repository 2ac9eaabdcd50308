package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models teamline.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		CORSOrigins            []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Defaults struct {
		Stages       []StageTemplate `yaml:"stages"`
		DueSoonHours int             `yaml:"due_soon_hours"`
	} `yaml:"defaults"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// StageTemplate seeds a project's workflow when none is supplied.
type StageTemplate struct {
	Name         string `yaml:"name"`
	Color        string `yaml:"color,omitempty"`
	WipLimit     *int   `yaml:"wip_limit,omitempty"`
	WipLimitType string `yaml:"wip_limit_type,omitempty"`
	IsDone       bool   `yaml:"is_done,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	Types          []string `yaml:"types,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v0"
	cfg.Defaults.DueSoonHours = 24
	cfg.Defaults.Stages = []StageTemplate{
		{Name: "Backlog", Color: "#94a3b8"},
		{Name: "In Progress", Color: "#3b82f6"},
		{Name: "Review", Color: "#f59e0b"},
		{Name: "Done", Color: "#22c55e", IsDone: true},
	}
	return cfg
}

// Path returns the config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".teamline", "teamline.yml")
}

// Load reads the workspace config, falling back to defaults when absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Save writes the config back to the workspace.
func (c *Config) Save(workspace string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Defaults.Stages) == 0 {
		return fmt.Errorf("config.defaults.stages must not be empty")
	}
	doneSeen := false
	for i, s := range c.Defaults.Stages {
		if s.Name == "" {
			return fmt.Errorf("config.defaults.stages[%d].name is required", i)
		}
		if s.WipLimitType != "" && s.WipLimitType != "warning" && s.WipLimitType != "strict" {
			return fmt.Errorf("config.defaults.stages[%d].wip_limit_type must be warning or strict", i)
		}
		if s.IsDone {
			doneSeen = true
		}
	}
	if !doneSeen {
		return fmt.Errorf("config.defaults.stages must include a done stage")
	}
	if c.Defaults.DueSoonHours <= 0 {
		c.Defaults.DueSoonHours = 24
	}
	return nil
}
