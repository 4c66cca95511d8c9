// Package config loads and validates the verification run configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KimHG1995/db-migration-checker/internal/checksum"
	"github.com/KimHG1995/db-migration-checker/internal/dbconfig"
	"github.com/KimHG1995/db-migration-checker/internal/notify"
	"github.com/KimHG1995/db-migration-checker/internal/secrets"
)

// Hash modes accepted in verify.hash_mode.
const (
	HashModeOff     = "off"
	HashModeSample  = "sample"
	HashModePkRange = "pk-range"
)

// Defaults applied when a value is left empty.
const (
	DefaultPort           = 3306
	DefaultSampleLimit    = 1000
	DefaultChunkSize      = 200000
	DefaultWorkers        = 4
	DefaultChunkWorkers   = 4
	DefaultMaxConnections = 16
	DefaultOutputPath     = "migration_report.json"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config is the resolved configuration of one run. It is not modified
// after Load returns.
type Config struct {
	Source        dbconfig.DatabaseConfig `yaml:"source"`
	Destination   dbconfig.DatabaseConfig `yaml:"destination"`
	Verify        VerifyConfig            `yaml:"verify"`
	Output        OutputConfig            `yaml:"output"`
	Logging       LoggingConfig           `yaml:"logging"`
	Notifications NotificationsConfig     `yaml:"notifications"`
}

// VerifyConfig selects tables and controls the checks.
type VerifyConfig struct {
	Tables        []string `yaml:"tables"`         // empty = all source base tables
	ExcludeTables []string `yaml:"exclude_tables"` // applied after Tables

	HashMode    string `yaml:"hash_mode"`    // off, sample, pk-range
	SampleLimit int    `yaml:"sample_limit"` // rows per side in sample mode
	HashPK      string `yaml:"hash_pk"`      // pk-range key column, empty = table PK
	ChunkSize   int64  `yaml:"chunk_size"`   // key span per pk-range chunk

	Workers        int `yaml:"workers"`         // tables verified in parallel
	ChunkWorkers   int `yaml:"chunk_workers"`   // chunks compared in parallel per table
	MaxConnections int `yaml:"max_connections"` // pool size per side

	SkipHashOnCountMismatch  bool `yaml:"skip_hash_on_count_mismatch"`
	StopOnFirstChunkMismatch bool `yaml:"stop_on_first_chunk_mismatch"`
	FailFast                 bool `yaml:"fail_fast"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	Path      string `yaml:"path"`
	HistoryDB string `yaml:"history_db"` // empty = no history
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// NotificationsConfig holds optional notification targets.
type NotificationsConfig struct {
	Slack notify.SlackConfig `yaml:"slack"`
}

// Load reads path, expands ${VAR} references, fills secrets and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a validated Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile reads path without applying defaults or validating, so command
// line overrides can be layered on before Finalize.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Decode(data)
}

// Decode expands ${VAR} references and unmarshals YAML.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Finalize fills secrets and defaults and validates. Call it after
// applying command line overrides to a Config built by hand.
func (c *Config) Finalize() error {
	c.applySecrets()
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applySecrets() {
	s, err := secrets.Load()
	if err != nil || s == nil {
		return
	}
	if c.Source.Password == "" {
		c.Source.Password = s.Passwords.Source
	}
	if c.Destination.Password == "" {
		c.Destination.Password = s.Passwords.Destination
	}
	if c.Notifications.Slack.WebhookURL == "" && s.Notifications.Slack.WebhookURL != "" {
		c.Notifications.Slack.WebhookURL = s.Notifications.Slack.WebhookURL
		c.Notifications.Slack.Enabled = true
	}
	d := s.GetVerifyDefaults()
	if c.Verify.Workers == 0 {
		c.Verify.Workers = d.Workers
	}
	if c.Verify.ChunkWorkers == 0 {
		c.Verify.ChunkWorkers = d.ChunkWorkers
	}
	if c.Verify.MaxConnections == 0 {
		c.Verify.MaxConnections = d.MaxConnections
	}
}

func (c *Config) applyDefaults() {
	for _, db := range []*dbconfig.DatabaseConfig{&c.Source, &c.Destination} {
		if db.Port == 0 {
			db.Port = DefaultPort
		}
		if db.ConnectTimeout == 0 {
			db.ConnectTimeout = 10 * time.Second
		}
	}

	v := &c.Verify
	v.HashMode = strings.ToLower(strings.TrimSpace(v.HashMode))
	if v.HashMode == "" {
		v.HashMode = HashModeOff
	}
	if v.SampleLimit == 0 {
		v.SampleLimit = DefaultSampleLimit
	}
	if v.ChunkSize == 0 {
		v.ChunkSize = DefaultChunkSize
	}
	if v.Workers == 0 {
		v.Workers = DefaultWorkers
	}
	if v.ChunkWorkers == 0 {
		v.ChunkWorkers = DefaultChunkWorkers
	}
	if v.MaxConnections == 0 {
		v.MaxConnections = DefaultMaxConnections
	}

	if c.Output.Path == "" {
		c.Output.Path = DefaultOutputPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func (c *Config) validate() error {
	for _, side := range []struct {
		name string
		db   *dbconfig.DatabaseConfig
	}{{"source", &c.Source}, {"destination", &c.Destination}} {
		if side.db.Host == "" {
			return fmt.Errorf("%s.host is required", side.name)
		}
		if side.db.User == "" {
			return fmt.Errorf("%s.user is required", side.name)
		}
		if side.db.Database == "" {
			return fmt.Errorf("%s.database is required", side.name)
		}
		if side.db.Port < 1 || side.db.Port > 65535 {
			return fmt.Errorf("%s.port %d is out of range", side.name, side.db.Port)
		}
		switch side.db.SSLMode {
		case "", "disable", "preferred", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("%s.ssl_mode %q is not one of disable, preferred, require, verify-ca, verify-full", side.name, side.db.SSLMode)
		}
	}

	if c.Source.SameDatabase(&c.Destination) {
		return fmt.Errorf("source and destination cannot be the same database (%s/%s)",
			c.Source.Addr(), c.Source.Database)
	}

	v := c.Verify
	switch v.HashMode {
	case HashModeOff, HashModeSample, HashModePkRange:
	default:
		return fmt.Errorf("verify.hash_mode %q is not one of off, sample, pk-range", v.HashMode)
	}
	if v.SampleLimit < 1 {
		return fmt.Errorf("verify.sample_limit must be positive, got %d", v.SampleLimit)
	}
	if v.ChunkSize < 1 {
		return fmt.Errorf("verify.chunk_size must be positive, got %d", v.ChunkSize)
	}
	if v.Workers < 1 || v.ChunkWorkers < 1 || v.MaxConnections < 1 {
		return fmt.Errorf("verify.workers, chunk_workers and max_connections must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// HashMode returns the hashing strategy of the run, or nil when hashing
// is off.
func (c *Config) HashMode() checksum.Mode {
	switch c.Verify.HashMode {
	case HashModeSample:
		return checksum.Sample{Limit: c.Verify.SampleLimit}
	case HashModePkRange:
		return checksum.PkRange{Column: c.Verify.HashPK, ChunkSize: c.Verify.ChunkSize}
	default:
		return nil
	}
}

// Template returns an annotated example config.
func Template() string {
	return `# mmv verification config
# ${VAR} references are expanded from the environment.
# Empty passwords are read from ~/.secrets/mmv-config.yaml.

source:
  host: source-db.internal
  port: 3306
  user: verifier
  password: ${MMV_SOURCE_PASSWORD}
  database: app
  ssl_mode: preferred      # disable, preferred, require, verify-ca, verify-full
  connect_timeout: 10s
  read_timeout: 5m

destination:
  host: destination-db.internal
  port: 3306
  user: verifier
  password: ${MMV_DESTINATION_PASSWORD}
  database: app
  ssl_mode: preferred

verify:
  tables: []               # empty = every base table on the source
  exclude_tables: []
  hash_mode: off           # off, sample, pk-range
  sample_limit: 1000
  hash_pk: ""              # pk-range key column, empty = table primary key
  chunk_size: 200000
  workers: 4
  chunk_workers: 4
  max_connections: 16
  skip_hash_on_count_mismatch: false
  stop_on_first_chunk_mismatch: false
  fail_fast: false

output:
  path: migration_report.json
  history_db: ""           # e.g. mmv-history.db

logging:
  level: info              # debug, info, warn, error
  format: text             # text, json

notifications:
  slack:
    enabled: false
    webhook_url: ""
    channel: ""
`
}
