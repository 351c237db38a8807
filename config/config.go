// Package config loads the YAML configuration of the ledger.
package config

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"golang.org/x/xerrors"

	"voteledger/registry"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendJSON   = "json"
)

// Config is the root of the configuration file.
type Config struct {
	Logger    LoggerConfig        `yaml:"logger"`
	Server    ServerConfig        `yaml:"http-server"`
	Storage   StorageConfig       `yaml:"storage"`
	Ledger    LedgerConfig        `yaml:"ledger"`
	Audit     AuditConfig         `yaml:"audit"`
	Admin     AdminConfig         `yaml:"admin"`
	Elections []registry.Election `yaml:"elections"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type StorageConfig struct {
	// Backend is one of memory, bolt or json.
	Backend string `yaml:"backend"`
	// Path is the database file for bolt and the directory for json.
	Path string `yaml:"path"`
}

type LedgerConfig struct {
	// Salt keys the voter pseudonyms. Changing it breaks the duplicate vote
	// detection of an existing ledger.
	Salt            string `yaml:"salt"`
	WriteRetries    int    `yaml:"write_retries"`
	StrictConsensus bool   `yaml:"strict_consensus"`
}

type AuditConfig struct {
	// Interval between two scheduled audits. Zero disables the scheduler.
	Interval   time.Duration `yaml:"interval"`
	AutoRepair bool          `yaml:"auto_repair"`
}

type AdminConfig struct {
	KeyPath string `yaml:"key_path"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendBolt,
			Path:    "ledger_data/ledger.db",
		},
		Ledger: LedgerConfig{
			Salt:         "change-me",
			WriteRetries: 3,
		},
		Audit: AuditConfig{
			Interval: 5 * time.Minute,
		},
		Admin: AdminConfig{
			KeyPath: "ledger_data/admin_credentials.json",
		},
	}
}

// Load reads the configuration file on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, xerrors.Errorf("failed to read config: %v", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, xerrors.Errorf("failed to parse config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, xerrors.Errorf("invalid config: %v", err)
	}

	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Ledger.Salt == "" {
		return xerrors.New("ledger salt is required")
	}
	if c.Ledger.WriteRetries < 0 {
		return xerrors.New("write retries must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return xerrors.Errorf("port %d out of range", c.Server.Port)
	}
	if c.Audit.Interval < 0 {
		return xerrors.New("audit interval must not be negative")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt, BackendJSON:
		if c.Storage.Path == "" {
			return xerrors.Errorf("storage path is required for %s", c.Storage.Backend)
		}
	default:
		return xerrors.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}
