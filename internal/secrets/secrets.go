// Package secrets loads credentials kept outside the verification config:
// database passwords and the Slack webhook.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSecretsDir is the default directory for secrets
	DefaultSecretsDir = ".secrets"
	// DefaultSecretsFile is the default filename for secrets
	DefaultSecretsFile = "mmv-config.yaml"
	// SecretsFileEnvVar allows overriding the secrets file location
	SecretsFileEnvVar = "MMV_SECRETS_FILE"
	// SecureDirMode is the permission mode for the secrets directory
	SecureDirMode = 0700
	// SecureFileMode is the permission mode for the secrets file
	SecureFileMode = 0600
)

// Config is the secrets file layout.
type Config struct {
	Passwords      PasswordsConfig     `yaml:"passwords"`
	Notifications  NotificationsConfig `yaml:"notifications"`
	VerifyDefaults VerifyDefaults      `yaml:"verify_defaults"`
}

// PasswordsConfig holds database passwords for each side.
type PasswordsConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// VerifyDefaults holds machine-level defaults. Values set in a
// verification config file win.
type VerifyDefaults struct {
	Workers        int `yaml:"workers,omitempty"`
	ChunkWorkers   int `yaml:"chunk_workers,omitempty"`
	MaxConnections int `yaml:"max_connections,omitempty"`
}

type NotificationsConfig struct {
	Slack struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"slack"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configErr    error
)

// Load reads the secrets file once per process; later calls return the
// cached result, including a cached error.
func Load() (*Config, error) {
	configOnce.Do(func() {
		globalConfig, configErr = loadFromFile()
	})
	return globalConfig, configErr
}

// Reset clears the cached config so the next Load reads the file again.
func Reset() {
	configOnce = sync.Once{}
	globalConfig = nil
	configErr = nil
}

// GetSecretsPath returns $MMV_SECRETS_FILE, or ~/.secrets/mmv-config.yaml.
func GetSecretsPath() string {
	if envPath := os.Getenv(SecretsFileEnvVar); envPath != "" {
		return envPath
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultSecretsDir, DefaultSecretsFile)
	}
	return filepath.Join(homeDir, DefaultSecretsDir, DefaultSecretsFile)
}

// ensureDir creates dir with SecureDirMode if it is missing and rejects a
// non-directory in its place.
func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, SecureDirMode); err != nil {
			return fmt.Errorf("creating secrets directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking secrets directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("%s exists but is not a directory", dir)
	}
	return nil
}

// WriteTemplate writes GenerateTemplate to path with SecureFileMode,
// creating its directory. An existing file is never overwritten.
func WriteTemplate(path string) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, SecureFileMode)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("secrets file %s already exists", path)
		}
		return fmt.Errorf("creating secrets file: %w", err)
	}
	if _, err := f.WriteString(GenerateTemplate()); err != nil {
		f.Close()
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return f.Close()
}

func loadFromFile() (*Config, error) {
	path := GetSecretsPath()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &SecretsNotFoundError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("checking secrets file: %w", err)
	}
	// Passwords must not be readable by group or others.
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return nil, fmt.Errorf("secrets file %s has insecure permissions (%04o), run: chmod 600 %s",
			path, mode, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects negative verify defaults.
func (c *Config) Validate() error {
	d := c.VerifyDefaults
	if d.Workers < 0 || d.ChunkWorkers < 0 || d.MaxConnections < 0 {
		return fmt.Errorf("verify_defaults: values must not be negative")
	}
	return nil
}

// GetVerifyDefaults returns the machine-level verification defaults.
func (c *Config) GetVerifyDefaults() *VerifyDefaults {
	return &c.VerifyDefaults
}

// SecretsNotFoundError means there is no secrets file. Config loading
// treats it as "no secrets", not as a failure.
type SecretsNotFoundError struct {
	Path string
}

func (e *SecretsNotFoundError) Error() string {
	return fmt.Sprintf(`secrets file not found: %s

Create %s (chmod 600) with:

passwords:
  source: "source-password"
  destination: "destination-password"
`, e.Path, e.Path)
}

// GenerateTemplate returns a template secrets file content
func GenerateTemplate() string {
	return `# mmv secrets
# Keep this file out of version control and restrict it: chmod 600 ~/.secrets/mmv-config.yaml

passwords:
  source: ""        # used when source.password is empty in the verification config
  destination: ""   # used when destination.password is empty

notifications:
  slack:
    webhook_url: ""  # Slack webhook URL for verification results

# Machine defaults (can be overridden per verification config)
verify_defaults:
  # workers: 4          # tables verified in parallel
  # chunk_workers: 4    # pk-range chunks compared in parallel per table
  # max_connections: 16 # connection pool size per side
`
}
