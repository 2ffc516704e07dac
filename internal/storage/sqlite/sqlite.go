// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
package sqlitestorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/subbridge/simcore/internal/database"
	gormstorage "github.com/subbridge/simcore/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string // Path for periodic VACUUM INTO dumps
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db        *gorm.DB
	cfg       Config
	log       *slog.Logger
	stopChan  chan struct{}
	dumpDone  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a new SQLite storage backend.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	db, err := database.GetSqliteDB("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Backend{
		Backend:  gormstorage.New(gormstorage.Dependencies{DB: db, Logger: logger}),
		db:       db,
		cfg:      cfg,
		log:      logger.With("component", "sqlite"),
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.dumpDone.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// EndSession closes the session and dumps the database right away.
func (b *Backend) EndSession() error {
	err := b.Backend.EndSession()
	if b.cfg.DumpPath != "" {
		err = errors.Join(err, b.Dump())
	}
	return err
}

// Close stops the dump goroutine, writes a final dump and closes the database.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopChan)
		b.dumpDone.Wait()
		err = b.Backend.Close()
		if b.cfg.DumpPath != "" && b.Backend.DB() != nil {
			err = errors.Join(err, b.Dump())
		}
		if sqlDB, dbErr := b.db.DB(); dbErr == nil {
			err = errors.Join(err, sqlDB.Close())
		}
	})
	return err
}

// Dump writes queued rows and snapshots the database to DumpPath.
func (b *Backend) Dump() error {
	if err := b.Flush(); err != nil {
		b.log.Error("Error flushing before dump", "error", err)
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
		return err
	}
	b.log.Debug("Dumped to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.dumpDone.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
