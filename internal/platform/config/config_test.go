package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BallotTTL != 15*time.Minute || cfg.ReapBatchSize != 200 || cfg.CompletenessPolicy != "allow_abstain" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", cfg.Location())
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evoting.yaml")
	content := []byte("httpPort: \"9090\"\ndbDriver: sqlite\nballotTtl: 5m\nreapBatchSize: 50\nkafkaBrokers:\n  - kafka-1:9092\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("EVOTING_REAP_BATCH_SIZE", "75")
	t.Setenv("EVOTING_COMPLETENESS_POLICY", "require_all_positions")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "9090" || cfg.DBDriver != "sqlite" || cfg.BallotTTL != 5*time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ReapBatchSize != 75 || cfg.CompletenessPolicy != "require_all_positions" {
		t.Fatalf("environment overlay not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka-1:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.RelayBatchSize != 100 {
		t.Fatalf("untouched default lost: %d", cfg.RelayBatchSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("EVOTING_DB_DRIVER", "mysql")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("EVOTING_ELECTION_TIMEZONE", "Mars/Olympus")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected timezone error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
