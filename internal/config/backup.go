package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Target modes.
const (
	TargetModeLocal   = "local"
	TargetModeSSHPush = "ssh-push"
)

// BackupConfigExt is the file extension of backup configuration files.
const BackupConfigExt = ".toml"

// BackupConfig describes one replication from a snapper-managed subvolume to a target.
// One file per backup configuration lives in the backup config directory; the file
// name without extension is the configuration's name.
type BackupConfig struct {
	Name string `toml:"-"`

	Config     string `toml:"config"`      // snapper config of the source
	TargetMode string `toml:"target-mode"` // "local" or "ssh-push"
	SourcePath string `toml:"source-path"`
	TargetPath string `toml:"target-path"`
	Automatic  bool   `toml:"automatic"`

	// SSH-specific fields (only used when TargetMode == "ssh-push")
	SSHHost     string `toml:"ssh-host,omitempty"`
	SSHPort     int    `toml:"ssh-port,omitempty"`
	SSHUser     string `toml:"ssh-user,omitempty"`
	SSHIdentity string `toml:"ssh-identity,omitempty"`

	SendCompressedData bool     `toml:"send-compressed-data"`
	SendOptions        []string `toml:"send-options,omitempty"`
	ReceiveOptions     []string `toml:"receive-options,omitempty"`

	// Tool overrides on the target; empty means the tool is found on the target's PATH.
	TargetBtrfsBin string `toml:"target-btrfs-bin,omitempty"`
	TargetLsBin    string `toml:"target-ls-bin,omitempty"`
	TargetMkdirBin string `toml:"target-mkdir-bin,omitempty"`
	TargetRmBin    string `toml:"target-rm-bin,omitempty"`
	TargetRmdirBin string `toml:"target-rmdir-bin,omitempty"`
}

// Validate checks the fields that must be consistent before any snapshot is touched.
func (c *BackupConfig) Validate() error {
	if c.Config == "" {
		return fmt.Errorf("config is not set")
	}
	if c.SourcePath == "" || !filepath.IsAbs(c.SourcePath) {
		return fmt.Errorf("source-path must be an absolute path: %q", c.SourcePath)
	}
	if c.TargetPath == "" || !filepath.IsAbs(c.TargetPath) {
		return fmt.Errorf("target-path must be an absolute path: %q", c.TargetPath)
	}

	switch c.TargetMode {
	case TargetModeLocal:
	case TargetModeSSHPush:
		if c.SSHHost == "" {
			return fmt.Errorf("ssh-push requires ssh-host to be set")
		}
		if c.SSHPort < 0 || c.SSHPort > 65535 {
			return fmt.Errorf("invalid ssh-port: %d", c.SSHPort)
		}
	default:
		return fmt.Errorf("unknown target-mode: %q", c.TargetMode)
	}
	return nil
}

// IsRemote reports whether the target is reached over SSH.
func (c *BackupConfig) IsRemote() bool {
	return c.TargetMode == TargetModeSSHPush
}

// ReadBackupConfig decodes and validates a backup configuration.
func ReadBackupConfig(name string, r io.Reader) (*BackupConfig, error) {
	var bc BackupConfig
	md, err := toml.NewDecoder(r).Decode(&bc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode backup config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in backup config", undecoded[0].String())
	}
	bc.Name = name
	if err := bc.Validate(); err != nil {
		return nil, fmt.Errorf("backup config %q: %w", name, err)
	}
	return &bc, nil
}

// ReadBackupConfigFile reads the backup configuration stored at path.
func ReadBackupConfigFile(path string) (*BackupConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup config file: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), BackupConfigExt)
	bc, err := ReadBackupConfig(name, f)
	if err != nil {
		return nil, fmt.Errorf("reading backup config from %s: %w", path, err)
	}
	return bc, nil
}

// LoadBackupConfigs reads every backup configuration in dir, sorted by name.
// A missing directory yields no configurations.
func LoadBackupConfigs(dir string) ([]*BackupConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing backup configs: %w", err)
	}

	var configs []*BackupConfig
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != BackupConfigExt {
			continue
		}
		bc, err := ReadBackupConfigFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		configs = append(configs, bc)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

// LoadBackupConfig reads the backup configuration called name from dir.
func LoadBackupConfig(dir, name string) (*BackupConfig, error) {
	return ReadBackupConfigFile(filepath.Join(dir, name+BackupConfigExt))
}
