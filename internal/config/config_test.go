package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Type != "sqlite" || cfg.Cache.Type != "memory" || cfg.Sync.SaleStockPolicy != "allow_negative" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Sync.ReceiptRetention != 30*24*time.Hour {
		t.Errorf("receipt retention = %v", cfg.Sync.ReceiptRetention)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("address = %s", cfg.Server.Address())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_KEYS", " key-a , ,key-b")
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SALE_STOCK_POLICY", "enforce")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.App.APIKeys) != 2 || cfg.App.APIKeys[0] != "key-a" || cfg.App.APIKeys[1] != "key-b" {
		t.Errorf("api keys = %q", cfg.App.APIKeys)
	}
	if dsn := cfg.Database.PostgresDSN(); !strings.Contains(dsn, "@db.internal:5432/retailsync") {
		t.Errorf("dsn = %s", dsn)
	}
	if cfg.Sync.SaleStockPolicy != "enforce" {
		t.Errorf("policy = %s", cfg.Sync.SaleStockPolicy)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"DB_TYPE", "oracle"},
		{"CACHE_TYPE", "memcached"},
		{"SALE_STOCK_POLICY", "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestLoadAgent(t *testing.T) {
	t.Setenv("AGENT_SYNC_INTERVAL", "1m")
	cfg, err := LoadAgent()
	if err != nil {
		t.Fatalf("load agent: %v", err)
	}
	if cfg.SyncInterval != time.Minute || cfg.ProbeInterval != 5*time.Second {
		t.Errorf("agent config = %+v", cfg)
	}

	t.Setenv("AGENT_SYNC_INTERVAL", "0s")
	if _, err := LoadAgent(); err == nil {
		t.Error("zero sync interval accepted")
	}
}
