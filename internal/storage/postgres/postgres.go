// Package postgres implements the storage.Backend interface on PostgreSQL.
// The connection is opened by Init.
package postgres

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/internal/database"
	gormstorage "github.com/subbridge/simcore/internal/storage/gorm"
)

// Backend is the GORM backend bound to a Postgres server.
type Backend struct {
	*gormstorage.Backend
	cfg config.DBConfig
}

// New does not connect; Init does.
func New(cfg config.DBConfig, logger *slog.Logger) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			Open:   func() (*gorm.DB, error) { return database.GetPostgresDB(cfg) },
			Logger: logger,
		}),
		cfg: cfg,
	}
}

// Address returns host:port of the configured server.
func (b *Backend) Address() string {
	return b.cfg.Host + ":" + b.cfg.Port
}
