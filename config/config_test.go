package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"proof-vault/service"
	"proof-vault/storage"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service != service.DefaultConfig() {
		t.Fatalf("unexpected service defaults %+v", cfg.Service)
	}
	if cfg.Port != 8080 || cfg.Store != "file" || cfg.Codec != "json" || len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PROOF_VAULT_REPLAY_WINDOW", "25")
	t.Setenv("PROOF_VAULT_DESYNC_THRESHOLD", "40")
	t.Setenv("PROOF_VAULT_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load([]string{"-desync-threshold", "30", "-timestamp-window", "1m", "-codec", "cbor"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.ReplayWindow != 25 {
		t.Fatalf("env should set replay window, got %d", cfg.Service.ReplayWindow)
	}
	if cfg.Service.DesyncThreshold != 30 {
		t.Fatalf("flag should win over env, got %v", cfg.Service.DesyncThreshold)
	}
	if cfg.Service.TimestampWindow != time.Minute || cfg.Codec != "cbor" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := [][]string{
		{"-replay-window", "0"},
		{"-desync-threshold", "150"},
		{"-codec", "xml"},
		{"-port", "0"},
		{"-no-such-flag"},
	}
	for _, args := range cases {
		if _, err := Load(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestOpenStore(t *testing.T) {
	cfg, err := Load([]string{"-storage", filepath.Join(t.TempDir(), "vault")})
	if err != nil {
		t.Fatal(err)
	}
	store, err := cfg.OpenStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := store.(*storage.FileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}

	cfg.Store = "memory"
	if _, err := cfg.OpenStore(context.Background()); err != nil {
		t.Fatal(err)
	}
	cfg.Store = "tape"
	if _, err := cfg.OpenStore(context.Background()); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
