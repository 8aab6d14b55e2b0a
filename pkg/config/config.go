package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Planner   PlannerConfig             `json:"planner"`
	Server    ServerConfig              `json:"server"`
	Display   DisplayConfig             `json:"display"`
}

type AppConfig struct {
	Name string `json:"name"`
	// PromptsDir overrides the built-in planner prompts file by file.
	PromptsDir string `json:"prompts_dir,omitempty"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

// PlannerConfig is how the chat client reaches the planning service, plus
// the record context sent with every chat turn.
type PlannerConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Dataset        string `json:"dataset,omitempty"`
	MRN            string `json:"mrn,omitempty"`
	CSN            string `json:"csn,omitempty"`
}

type ServerConfig struct {
	Addr   string `json:"addr"`
	DBPath string `json:"db_path"`
	// DeniedTools and DeniedPatterns feed the plan policy engine.
	DeniedTools    []string `json:"denied_tools,omitempty"`
	DeniedPatterns []string `json:"denied_patterns,omitempty"`
}

type DisplayConfig struct {
	PoliciesPath string `json:"policies_path,omitempty"`
}

const defaultTimeout = 120 * time.Second

func LoadConfig(path string) *Config {
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config file: %v", err)
	}

	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Planner.BaseURL == "" {
		c.Planner.BaseURL = "http://localhost:8000"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "planbench.db"
	}
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

// PlannerTimeout is the per-request timeout for the planning service.
func (c *Config) PlannerTimeout() time.Duration {
	if c.Planner.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.Planner.TimeoutSeconds) * time.Second
}
