package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/proctor/internal/guard"
	"github.com/felixgeelhaar/proctor/internal/queue"
	"github.com/felixgeelhaar/proctor/internal/restoration"
)

// Storage drivers
const (
	DriverLocal    = "local"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRabbitMQ = "rabbitmq"
)

// LocalConfig holds the configuration of a proctor installation
type LocalConfig struct {
	LogLevel    string             `yaml:"log_level"`
	TestsDir    string             `yaml:"tests_dir"`
	Server      ServerConfig       `yaml:"server"`
	Storage     StorageConfig      `yaml:"storage"`
	Queue       QueueConfig        `yaml:"queue"`
	Navigation  guard.Config       `yaml:"navigation"`
	Adaptive    AdaptiveConfig     `yaml:"adaptive"`
	Restoration restoration.Config `yaml:"restoration"`
	Offline     OfflineConfig      `yaml:"offline"`
}

// ServerConfig holds HTTP server settings for proctor serve
type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// StorageConfig selects where executions, state and backups live
type StorageConfig struct {
	// Driver is local (JSON files) or sqlite
	Driver string `yaml:"driver"`
	// Path is the data directory, or the database file for sqlite
	Path string `yaml:"path"`
	// BackupDriver overrides where backups are kept; only postgres is
	// supported. Empty keeps backups next to the state.
	BackupDriver string `yaml:"backup_driver,omitempty"`
	PostgresURL  string `yaml:"-"` // Loaded from secrets.yaml
}

// QueueConfig selects the cleanup task queue
type QueueConfig struct {
	// Driver is local (in-process) or rabbitmq
	Driver   string               `yaml:"driver"`
	Buffer   int                  `yaml:"buffer"`
	Consumer queue.ConsumerConfig `yaml:"consumer"`
	URL      string               `yaml:"-"` // Loaded from secrets.yaml
}

// AdaptiveConfig configures item selection in adaptive sections
type AdaptiveConfig struct {
	// Algorithm is sequential or difficulty
	Algorithm string `yaml:"algorithm"`
	MaxItems  int    `yaml:"max_items"`
	// Calibrations is a YAML file of item difficulty parameters
	Calibrations string        `yaml:"calibrations,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

// OfflineConfig configures offline jump table computation
type OfflineConfig struct {
	Depth         int  `yaml:"depth"`
	IncludeReview bool `yaml:"include_review"`
}

// SecretsConfig holds connection strings loaded from secrets.yaml
type SecretsConfig struct {
	PostgresURL string `yaml:"postgres_url,omitempty"`
	RabbitMQURL string `yaml:"rabbitmq_url,omitempty"`
}

// ProctorDir returns the path to ~/.proctor, or $PROCTOR_HOME when set
func ProctorDir() (string, error) {
	if dir := os.Getenv("PROCTOR_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".proctor"), nil
}

// EnsureProctorDir creates the proctor directory and its subdirectories
func EnsureProctorDir() (string, error) {
	dir, err := ProctorDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data", "tests"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for a single node rooted at dir
func DefaultLocalConfig(dir string) *LocalConfig {
	return &LocalConfig{
		LogLevel: "info",
		TestsDir: filepath.Join(dir, "tests"),
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 7432,
		},
		Storage: StorageConfig{
			Driver: DriverLocal,
			Path:   filepath.Join(dir, "data"),
		},
		Queue: QueueConfig{
			Driver:   DriverLocal,
			Buffer:   256,
			Consumer: queue.DefaultConsumerConfig(),
		},
		Adaptive: AdaptiveConfig{
			Algorithm:   "sequential",
			MaxAttempts: 3,
			OpenTimeout: 30 * time.Second,
		},
		Restoration: restoration.DefaultConfig(),
		Offline: OfflineConfig{
			Depth: 20,
		},
	}
}

// LoadLocalConfig loads configuration from the proctor directory, then
// applies PROCTOR_* environment overrides
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := ProctorDir()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads dir/config.yaml and dir/secrets.yaml over the defaults.
// Missing files are not an error.
func LoadFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig(dir)

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	return cfg, nil
}

// loadSecrets loads connection strings from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	if secrets.PostgresURL != "" {
		cfg.Storage.PostgresURL = secrets.PostgresURL
	}
	if secrets.RabbitMQURL != "" {
		cfg.Queue.URL = secrets.RabbitMQURL
	}
	return nil
}

// Validate checks driver names and required connection strings
func (c *LocalConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case DriverLocal, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Storage.BackupDriver {
	case "":
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres backups need postgres_url in secrets.yaml or PROCTOR_POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown backup driver %q", c.Storage.BackupDriver)
	}
	switch c.Queue.Driver {
	case DriverLocal:
	case DriverRabbitMQ:
		if c.Queue.URL == "" {
			return fmt.Errorf("rabbitmq queue needs rabbitmq_url in secrets.yaml or PROCTOR_RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}
	switch c.Adaptive.Algorithm {
	case "sequential", "difficulty":
	default:
		return fmt.Errorf("unknown adaptive algorithm %q", c.Adaptive.Algorithm)
	}
	return nil
}

// SaveLocalConfig saves configuration to dir/config.yaml
func SaveLocalConfig(dir string, cfg *LocalConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves connection strings to dir/secrets.yaml
func SaveSecrets(dir string, secrets SecretsConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
