package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportSFTP  = "sftp"
	TransportS3    = "s3"
	TransportLocal = "local"
)

// State backends
const (
	StateFile     = "file"
	StateSQLite   = "sqlite"
	StatePostgres = "postgres"
	StateMSSQL    = "mssql"
)

// Sampling defaults
const (
	DefaultSampleRate          = 1
	DefaultMaxSamplingRead     = 1000
	DefaultMaxSampledFiles     = 5
	DefaultStateCheckpointRows = 10000
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the tap
type Config struct {
	Transport string `yaml:"transport"`

	// SFTP connection (transport: sftp)
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	PrivateKeyFile       string `yaml:"private_key_file"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`
	KnownHostsFile       string `yaml:"known_hosts_file"` // empty disables host key checking
	ConnectTimeout       int    `yaml:"connect_timeout"` // seconds
	MaxRetries           int    `yaml:"max_retries"`

	// RootDir is the base directory for sftp and local transports
	RootDir string `yaml:"root_dir"`

	S3 S3Config `yaml:"s3"`

	Tables []TableSpec `yaml:"tables"`

	SampleRate          int `yaml:"sample_rate"`
	MaxSamplingRead     int `yaml:"max_sampling_read"`
	MaxSampledFiles     int `yaml:"max_sampled_files"`
	StateCheckpointRows int `yaml:"state_checkpoint_rows"`

	State   StateConfig   `yaml:"state"`
	Slack   SlackConfig   `yaml:"slack"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TableSpec describes one logical table assembled from many files.
type TableSpec struct {
	TableName      string   `yaml:"table_name"`
	SearchPrefix   string   `yaml:"search_prefix"`
	SearchPattern  string   `yaml:"search_pattern"`
	Delimiter      string   `yaml:"delimiter"`
	KeyProperties  []string `yaml:"key_properties"`
	DateOverrides  []string `yaml:"date_overrides"`
	SelectedFields []string `yaml:"selected_fields"`
	Encoding       string   `yaml:"encoding"` // WHATWG label, default utf-8
}

// DelimiterRune returns the single-character delimiter as a rune.
func (t TableSpec) DelimiterRune() rune {
	if t.Delimiter == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(t.Delimiter)
	return r
}

// S3Config holds object-store settings (transport: s3)
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Prefix          string `yaml:"prefix"`
}

// StateConfig selects where bookmarks are persisted
type StateConfig struct {
	Backend string `yaml:"backend"` // file (default), sqlite, postgres, mssql
	Path    string `yaml:"path"`    // file and sqlite
	DSN     string `yaml:"dsn"`     // postgres and mssql
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// MetricsConfig holds Prometheus Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML or JSON file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	if warning := checkFilePermissions(path, "Config file"); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, err
	}

	if cfg.Transport == TransportSFTP && cfg.PrivateKeyFile != "" {
		if warning := checkFilePermissions(cfg.PrivateKeyFile, "Private key"); warning != "" && !opts.SuppressWarnings {
			fmt.Fprint(os.Stderr, warning)
		}
	}
	return cfg, nil
}

// LoadBytes reads configuration from YAML (or JSON) bytes.
func LoadBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportSFTP
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	c.RootDir = expandTilde(c.RootDir)
	c.PrivateKeyFile = expandTilde(c.PrivateKeyFile)
	c.KnownHostsFile = expandTilde(c.KnownHostsFile)

	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.MaxSamplingRead == 0 {
		c.MaxSamplingRead = DefaultMaxSamplingRead
	}
	if c.MaxSampledFiles == 0 {
		c.MaxSampledFiles = DefaultMaxSampledFiles
	}
	if c.StateCheckpointRows == 0 {
		c.StateCheckpointRows = DefaultStateCheckpointRows
	}

	for i := range c.Tables {
		if c.Tables[i].Delimiter == "" {
			c.Tables[i].Delimiter = ","
		}
	}

	if c.State.Backend == "" {
		c.State.Backend = StateFile
	}
	c.State.Path = expandTilde(c.State.Path)
	if c.State.Path == "" {
		switch c.State.Backend {
		case StateFile:
			c.State.Path = "state.json"
		case StateSQLite:
			c.State.Path = "tap-sftp.db"
		}
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = "tap-sftp"
	}
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportSFTP:
		if c.Host == "" {
			return fmt.Errorf("host is required for sftp transport")
		}
		if c.Username == "" {
			return fmt.Errorf("username is required for sftp transport")
		}
		if c.Password == "" && c.PrivateKeyFile == "" {
			return fmt.Errorf("password or private_key_file is required for sftp transport")
		}
	case TransportS3:
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3.endpoint is required for s3 transport")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required for s3 transport")
		}
	case TransportLocal:
		if c.RootDir == "" {
			return fmt.Errorf("root_dir is required for local transport")
		}
	default:
		return fmt.Errorf("transport must be 'sftp', 's3' or 'local', got '%s'", c.Transport)
	}

	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.TableName == "" {
			return fmt.Errorf("tables[%d].table_name is required", i)
		}
		if seen[t.TableName] {
			return fmt.Errorf("duplicate table_name '%s'", t.TableName)
		}
		seen[t.TableName] = true
		if t.SearchPattern == "" {
			return fmt.Errorf("table '%s': search_pattern is required", t.TableName)
		}
		if _, err := regexp.Compile(t.SearchPattern); err != nil {
			return fmt.Errorf("table '%s': search_pattern: %w", t.TableName, err)
		}
		if utf8.RuneCountInString(t.Delimiter) != 1 {
			return fmt.Errorf("table '%s': delimiter must be a single character, got %q", t.TableName, t.Delimiter)
		}
		if t.Encoding != "" {
			if _, err := htmlindex.Get(t.Encoding); err != nil {
				return fmt.Errorf("table '%s': unknown encoding '%s'", t.TableName, t.Encoding)
			}
		}
	}

	if c.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be >= 1, got %d", c.SampleRate)
	}
	if c.MaxSamplingRead < 1 {
		return fmt.Errorf("max_sampling_read must be positive, got %d", c.MaxSamplingRead)
	}
	if c.MaxSampledFiles < 1 {
		return fmt.Errorf("max_sampled_files must be positive, got %d", c.MaxSampledFiles)
	}
	if c.StateCheckpointRows < 1 {
		return fmt.Errorf("state_checkpoint_rows must be positive, got %d", c.StateCheckpointRows)
	}

	switch c.State.Backend {
	case StateFile, StateSQLite:
	case StatePostgres, StateMSSQL:
		if c.State.DSN == "" {
			return fmt.Errorf("state.dsn is required for the %s state backend", c.State.Backend)
		}
	default:
		return fmt.Errorf("state.backend must be 'file', 'sqlite', 'postgres' or 'mssql', got '%s'", c.State.Backend)
	}
	return nil
}

// Table returns the TableSpec with the given table_name.
func (c *Config) Table(name string) (TableSpec, bool) {
	for _, t := range c.Tables {
		if t.TableName == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c

	if sanitized.Password != "" {
		sanitized.Password = "[REDACTED]"
	}
	if sanitized.PrivateKeyPassphrase != "" {
		sanitized.PrivateKeyPassphrase = "[REDACTED]"
	}
	if sanitized.S3.SecretAccessKey != "" {
		sanitized.S3.SecretAccessKey = "[REDACTED]"
	}
	if sanitized.State.DSN != "" {
		sanitized.State.DSN = "[REDACTED]"
	}
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}
