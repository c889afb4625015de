package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:          "/var/lib/snapback",
		LogDir:           "/var/log/snapback",
		BackupConfigDir:  "/etc/snapback/backup-configs",
		SnapperConfigDir: "/etc/snapper/configs",
		Database:         DatabaseConfig{Type: "sqlite", DataDir: "/var/lib/snapback/db"},
		Log:              LogConfig{MaxSizeMB: 20, MaxBackups: 3},
	}

	var buf bytes.Buffer
	if err := Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if *got != *original {
		t.Errorf("Read() = %+v, want %+v", got, original)
	}
}

func TestRead(t *testing.T) {
	t.Run("fills defaults from base_dir", func(t *testing.T) {
		cfg, err := Read(strings.NewReader("base_dir = \"/srv/snapback\"\n"))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		want := NewConfig("/srv/snapback")
		if *cfg != *want {
			t.Errorf("Read() = %+v, want %+v", cfg, want)
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		input := "base_dir = \"/srv/snapback\"\nlog_dir = \"/var/log/snapback\"\n[database]\ntype = \"memory\"\n"
		cfg, err := Read(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if cfg.LogDir != "/var/log/snapback" {
			t.Errorf("LogDir = %q", cfg.LogDir)
		}
		if cfg.Database.Type != "memory" || cfg.Database.DataDir != "" {
			t.Errorf("Database = %+v, want memory without data_dir", cfg.Database)
		}
	})

	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown key", input: "base_dir = \"/srv\"\nhost_id = \"x\"\n"},
		{name: "no log dir", input: "[database]\ntype = \"memory\"\n"},
		{name: "relative backup config dir", input: "base_dir = \"/srv\"\nbackup_config_dir = \"configs\"\n"},
		{name: "not toml", input: "base_dir = "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("Read() expected error")
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/snapback")

	if cfg.BaseDir != "/data/snapback" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/snapback")
	}
	if cfg.LogDir != "/data/snapback/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/snapback/log")
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/snapback/db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Log.MaxSizeMB <= 0 || cfg.Log.MaxBackups <= 0 {
		t.Errorf("Log = %+v, want positive defaults", cfg.Log)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "snapback.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "snapback.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "snapback.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/snapback.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
