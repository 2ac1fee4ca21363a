package domain

import (
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
	if err := ProConfig().Validate(); err != nil {
		t.Errorf("pro config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"UnknownTier", func(c *Config) { c.Tier = "gold" }, "tier"},
		{"BadPort", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"BadDriver", func(c *Config) { c.Repository.Driver = "mysql" }, "repository.driver"},
		{"BadCache", func(c *Config) { c.Cache.Type = "memcached" }, "cache.type"},
		{"BadBus", func(c *Config) { c.EventBus.Type = "kafka" }, "eventbus.type"},
		{"WorkerWithoutTenants", func(c *Config) { c.Worker.Tenants = nil }, "worker.tenants"},
		{"SampleRatio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	t.Run("ReportsAll", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Type = ""
		cfg.EventBus.Type = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "cache.type") || !strings.Contains(err.Error(), "eventbus.type") {
			t.Errorf("expected both errors to be reported, got %v", err)
		}
	})
}
