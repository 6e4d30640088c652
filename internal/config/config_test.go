package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"VeilPerp/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "veilperp.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidatesWithKey(t *testing.T) {
	cfg := config.Default()
	cfg.Cluster.SealingKey = strings.Repeat("ab", 32)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	key, err := cfg.SealingKey()
	if err != nil {
		t.Fatalf("sealing key: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
nats_url: nats://nats.internal:4222
postgres_dsn: postgres://veil@db/veilperp
oracle_max_age: 10s
cluster:
  mode: remote
pool:
  name: blue
  custodies:
    - name: USDC
      feed_id: usdc-usd
      fees:
        close_bps: 40
        liquidation_bps: 300
      pricing:
        max_leverage: 500000
permissions:
  allow_open: true
  allow_close: true
`)

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NATSURL != "nats://nats.internal:4222" {
		t.Errorf("nats_url = %q", cfg.NATSURL)
	}
	if cfg.OracleMaxAge.Std() != 10*time.Second {
		t.Errorf("oracle_max_age = %v", cfg.OracleMaxAge)
	}
	if cfg.Cluster.Mode != "remote" {
		t.Errorf("cluster.mode = %q", cfg.Cluster.Mode)
	}
	if cfg.Pool.Name != "blue" {
		t.Errorf("pool.name = %q", cfg.Pool.Name)
	}
	if len(cfg.Pool.Custodies) != 1 || cfg.Pool.Custodies[0].Fees.CloseBps != 40 {
		t.Errorf("custodies = %+v", cfg.Pool.Custodies)
	}
	// Fields the file omits keep their defaults.
	if cfg.MetricsAddr != ":9091" {
		t.Errorf("metrics_addr = %q", cfg.MetricsAddr)
	}

	perms := cfg.EnginePermissions()
	if !perms.AllowOpen || !perms.AllowClose {
		t.Errorf("permissions not carried: %+v", perms)
	}
	// Keys the file omits keep their defaults.
	if !perms.AllowLiquidation {
		t.Errorf("allow_liquidation lost its default: %+v", perms)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VEIL_NATS_URL", "nats://override:4222")
	t.Setenv("VEIL_SEALING_KEY", strings.Repeat("cd", 32))
	t.Setenv("VEIL_ORACLE_MAX_AGE", "5s")

	cfg := config.Load()
	if cfg.NATSURL != "nats://override:4222" {
		t.Errorf("nats_url = %q", cfg.NATSURL)
	}
	if cfg.OracleMaxAge.Std() != 5*time.Second {
		t.Errorf("oracle_max_age = %v", cfg.OracleMaxAge)
	}
	if _, err := cfg.SealingKey(); err != nil {
		t.Errorf("sealing key from env: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	key := strings.Repeat("ab", 32)

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing nats", func(c *config.Config) { c.NATSURL = "" }},
		{"missing dsn", func(c *config.Config) { c.PostgresDSN = "" }},
		{"no custodies", func(c *config.Config) { c.Pool.Custodies = nil }},
		{"bad cluster mode", func(c *config.Config) { c.Cluster.Mode = "sharded" }},
		{"zero workers local", func(c *config.Config) { c.Cluster.Workers = 0 }},
		{"zero max leverage", func(c *config.Config) { c.Pool.Custodies[0].Pricing.MaxLeverage = 0 }},
		{"no sealing key", func(c *config.Config) { c.Cluster.SealingKey = "" }},
		{"short sealing key", func(c *config.Config) { c.Cluster.SealingKey = "abcd" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Cluster.SealingKey = key
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromJSON(t *testing.T) {
	path := writeConfig(t, `{"nats_url": "nats://json:4222", "pool": {"name": "main", "custodies": [{"name": "USDC", "feed_id": "usdc-usd", "pricing": {"max_leverage": 1000000}}]}}`)

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATSURL != "nats://json:4222" {
		t.Errorf("nats_url = %q", cfg.NATSURL)
	}
}
