package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := LoadConfig()

	if cfg.Trap.Port != 2222 {
		t.Errorf("Trap.Port = %d, want 2222", cfg.Trap.Port)
	}
	if want := []string{"127.0.0.1", "192.168.0.113"}; !reflect.DeepEqual(cfg.Trap.Whitelist, want) {
		t.Errorf("Trap.Whitelist = %v, want %v", cfg.Trap.Whitelist, want)
	}
	if cfg.Trap.FailDelay != time.Second {
		t.Errorf("Trap.FailDelay = %v, want 1s", cfg.Trap.FailDelay)
	}
	if cfg.Trap.ReadTimeout != 0 || cfg.Trap.MaxConnections != 0 {
		t.Errorf("read timeout and connection cap should be off by default, got %v / %d",
			cfg.Trap.ReadTimeout, cfg.Trap.MaxConnections)
	}
	if cfg.AttackLog.Path != "honeypot_attacks.log" || cfg.AttackLog.MaxBytes != 1_000_000 || cfg.AttackLog.Backups != 3 {
		t.Errorf("AttackLog = %+v", cfg.AttackLog)
	}
	if cfg.Dashboard.Port != 5000 {
		t.Errorf("Dashboard.Port = %d, want 5000", cfg.Dashboard.Port)
	}
	if cfg.TrapAddress() != "0.0.0.0:2222" {
		t.Errorf("TrapAddress() = %q", cfg.TrapAddress())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
	if Get() != cfg {
		t.Error("Get() should return the last loaded config")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRAP_PORT", "2323")
	t.Setenv("TRAP_WHITELIST", "10.1.1.1")
	t.Setenv("TRAP_MAX_CONNECTIONS", "50")
	t.Setenv("ATTACK_LOG_BACKUPS", "0")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := LoadConfig()

	if cfg.Trap.Port != 2323 || cfg.Trap.MaxConnections != 50 || cfg.AttackLog.Backups != 0 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Trap, cfg.AttackLog)
	}
	if !reflect.DeepEqual(cfg.Trap.Whitelist, []string{"10.1.1.1"}) {
		t.Errorf("Trap.Whitelist = %v", cfg.Trap.Whitelist)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Trap.Port = 0 }},
		{"port too high", func(c *Config) { c.Trap.Port = 70000 }},
		{"tiny line limit", func(c *Config) { c.Trap.MaxLineBytes = 4 }},
		{"negative cap", func(c *Config) { c.Trap.MaxConnections = -1 }},
		{"no log path", func(c *Config) { c.AttackLog.Path = "" }},
		{"half auth", func(c *Config) { c.Dashboard.User = "admin" }},
		{"kms without key", func(c *Config) { c.KMS.Enabled = true }},
		{"no buckets", func(c *Config) { c.Bucketing.EventBuckets = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}
