package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default locations outside the base directory.
const (
	DefaultBackupConfigDir  = "/etc/snapback/backup-configs"
	DefaultSnapperConfigDir = "/etc/snapper/configs"
)

// Log rotation defaults.
const (
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 5
)

// Config is the global snapback configuration. Backup configurations live in
// separate files below BackupConfigDir.
type Config struct {
	BaseDir          string         `toml:"base_dir"`
	LogDir           string         `toml:"log_dir"`
	BackupConfigDir  string         `toml:"backup_config_dir"`
	SnapperConfigDir string         `toml:"snapper_config_dir"`
	Database         DatabaseConfig `toml:"database"`
	Log              LogConfig      `toml:"log"`
}

// DatabaseConfig selects where the operation history is kept.
// Type determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// LogConfig controls rotation of the log file.
type LogConfig struct {
	MaxSizeMB  int `toml:"max_size_mb"`
	MaxBackups int `toml:"max_backups"`
}

// NewConfig returns a Config keeping logs and history below baseDir.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir:  baseDir,
		Database: DatabaseConfig{Type: "sqlite"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills every unset field. Directories derive from BaseDir.
func (c *Config) applyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.BackupConfigDir == "" {
		c.BackupConfigDir = DefaultBackupConfigDir
	}
	if c.SnapperConfigDir == "" {
		c.SnapperConfigDir = DefaultSnapperConfigDir
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" && c.BaseDir != "" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}

// Validate reports settings the rest of snapback cannot work with.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("log_dir is not set and there is no base_dir to derive it from")
	}
	if !filepath.IsAbs(c.BackupConfigDir) {
		return fmt.Errorf("backup_config_dir must be an absolute path: %q", c.BackupConfigDir)
	}
	return nil
}

// Read decodes a Config, fills unset fields with defaults and validates it.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in config", undecoded[0].String())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads the Config stored at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to a new file at path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("config file already exists at %s", path)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("initializing config at %s: %w", path, err)
	}
	return nil
}
