package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "evoting"

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string   `yaml:"serviceName"  envconfig:"service_name"`
	HTTPPort     string   `yaml:"httpPort"     envconfig:"http_port"`
	DBDriver     string   `yaml:"dbDriver"     envconfig:"db_driver"`
	DatabaseDSN  string   `yaml:"databaseDsn"  envconfig:"database_dsn"`
	KafkaBrokers []string `yaml:"kafkaBrokers" envconfig:"kafka_brokers"`

	BallotTTL          time.Duration `yaml:"ballotTtl"          envconfig:"ballot_ttl"`
	CompletenessPolicy string        `yaml:"completenessPolicy" envconfig:"completeness_policy"`
	ElectionTimezone   string        `yaml:"electionTimezone"   envconfig:"election_timezone"`

	ReapInterval   time.Duration `yaml:"reapInterval"   envconfig:"reap_interval"`
	ReapBatchSize  int           `yaml:"reapBatchSize"  envconfig:"reap_batch_size"`
	RelayInterval  time.Duration `yaml:"relayInterval"  envconfig:"relay_interval"`
	RelayBatchSize int           `yaml:"relayBatchSize" envconfig:"relay_batch_size"`

	RetryMaxAttempts     int           `yaml:"retryMaxAttempts"     envconfig:"retry_max_attempts"`
	RetryInitialInterval time.Duration `yaml:"retryInitialInterval" envconfig:"retry_initial_interval"`

	EnableReaper     bool `yaml:"enableReaper"     envconfig:"enable_reaper"`
	EnableAuditRelay bool `yaml:"enableAuditRelay" envconfig:"enable_audit_relay"`
	AutoMigrate      bool `yaml:"autoMigrate"      envconfig:"auto_migrate"`
}

// Defaults returns the configuration used before file and env overrides.
func Defaults() Config {
	return Config{
		ServiceName:          "evoting",
		HTTPPort:             "8080",
		DBDriver:             "postgres",
		KafkaBrokers:         []string{"localhost:9092"},
		BallotTTL:            15 * time.Minute,
		CompletenessPolicy:   "allow_abstain",
		ElectionTimezone:     "UTC",
		ReapInterval:         60 * time.Second,
		ReapBatchSize:        200,
		RelayInterval:        2 * time.Second,
		RelayBatchSize:       100,
		RetryMaxAttempts:     4,
		RetryInitialInterval: 25 * time.Millisecond,
		EnableReaper:         true,
		EnableAuditRelay:     true,
	}
}

// Load applies defaults, then the YAML file at path when one is given, then
// EVOTING_* environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.BallotTTL <= 0 {
		return errors.New("ballot ttl must be positive")
	}
	if c.ReapBatchSize <= 0 || c.RelayBatchSize <= 0 {
		return errors.New("batch sizes must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return errors.New("retry max attempts must be positive")
	}
	if _, err := time.LoadLocation(c.ElectionTimezone); err != nil {
		return fmt.Errorf("invalid election timezone %q: %w", c.ElectionTimezone, err)
	}
	return nil
}

// Location resolves ElectionTimezone; validate has already proven it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ElectionTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
