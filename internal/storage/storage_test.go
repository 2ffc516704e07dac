package storage_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/internal/storage"
	"github.com/subbridge/simcore/internal/storage/memory"
	"github.com/subbridge/simcore/internal/storage/postgres"
	sqlitestorage "github.com/subbridge/simcore/internal/storage/sqlite"
)

// Compile-time interface checks
var (
	_ storage.Backend    = (*memory.Backend)(nil)
	_ storage.Exportable = (*memory.Backend)(nil)
	_ storage.RunReader  = (*memory.Backend)(nil)
	_ storage.Backend    = (*sqlitestorage.Backend)(nil)
	_ storage.RunReader  = (*sqlitestorage.Backend)(nil)
	_ storage.Backend    = (*postgres.Backend)(nil)
)

func TestNewBackend(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	b, err := storage.NewBackend(config.StorageConfig{Type: "memory"}, config.DBConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	b, err = storage.NewBackend(config.StorageConfig{Type: "sqlite"}, config.DBConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &sqlitestorage.Backend{}, b)
	require.NoError(t, b.Close())

	b, err = storage.NewBackend(config.StorageConfig{Type: "postgres"}, config.DBConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &postgres.Backend{}, b)

	_, err = storage.NewBackend(config.StorageConfig{Type: "mongo"}, config.DBConfig{}, logger)
	assert.ErrorContains(t, err, "unknown storage type")
}
