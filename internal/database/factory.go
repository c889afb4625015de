package database

import (
	"fmt"
	"path/filepath"

	"snapback/internal/config"
)

// DatabaseFile is the name of the history database below the data directory.
const DatabaseFile = "history.db"

// Database types accepted in the [database] section of the config.
const (
	TypeSQLite = "sqlite"
	TypeMemory = "memory" // history is discarded on exit
)

// NewDatabaseFromConfig opens the history database described by cfg.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case TypeSQLite:
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("database.data_dir is required for type %q", TypeSQLite)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFile))
	case TypeMemory:
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %q", cfg.Type)
	}
}
