package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"app": {"name": "planbench"},
		"gateways": {
			"telegram": {"token": "tg", "enabled": true},
			"discord": {"token": "", "enabled": true}
		},
		"providers": {"openai": {"api_key": "k", "model": "gpt-4o-mini", "enabled": true}},
		"planner": {"timeout_seconds": 30, "dataset": "demo"},
		"server": {"denied_tools": ["shell"]}
	}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)

	if _, ok := cfg.GetTelegramConfig(); !ok {
		t.Error("telegram should be enabled")
	}
	if _, ok := cfg.GetDiscordConfig(); ok {
		t.Error("discord without a token should be disabled")
	}
	if name, p := cfg.GetDefaultProvider(); name != "openai" || p.Model != "gpt-4o-mini" {
		t.Errorf("unexpected provider %s %+v", name, p)
	}
	if cfg.PlannerTimeout() != 30*time.Second {
		t.Errorf("timeout = %v", cfg.PlannerTimeout())
	}
	if cfg.Planner.BaseURL != "http://localhost:8000" || cfg.Server.Addr != ":8000" || cfg.Server.DBPath != "planbench.db" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Planner, cfg.Server)
	}
	if len(cfg.Server.DeniedTools) != 1 {
		t.Errorf("denied tools not loaded: %v", cfg.Server.DeniedTools)
	}
}

func TestPlannerTimeoutDefault(t *testing.T) {
	var cfg Config
	if cfg.PlannerTimeout() != defaultTimeout {
		t.Errorf("timeout = %v", cfg.PlannerTimeout())
	}
}
