package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/internal/storage/memory"
	"github.com/subbridge/simcore/internal/storage/postgres"
	sqlitestorage "github.com/subbridge/simcore/internal/storage/sqlite"
)

// DumpFileName is the SQLite dump written under storage.sqlite.path.
const DumpFileName = "simcore.db"

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, db config.DBConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(db, logger), nil
	case "sqlite":
		dumpPath := ""
		if cfg.SQLite.Path != "" {
			dumpPath = filepath.Join(cfg.SQLite.Path, DumpFileName)
		}
		b, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
