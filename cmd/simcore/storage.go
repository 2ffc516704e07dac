package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/zerolog"

	"github.com/subbridge/simcore/internal/api"
	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/internal/dispatcher"
	"github.com/subbridge/simcore/internal/logging"
	"github.com/subbridge/simcore/internal/storage"
	"github.com/subbridge/simcore/internal/worker"
	"github.com/subbridge/simcore/pkg/core"
)

const uploadTimeout = time.Minute

// storageStack is the record pipeline: a dispatcher whose queued handlers
// feed the storage backend.
type storageStack struct {
	backend  storage.Backend
	records  *dispatcher.Dispatcher
	recorder *worker.Manager
	session  *core.Session
	logger   *slog.Logger
}

func initStorage(session *core.Session, snapshotInterval time.Duration, zl zerolog.Logger, logger *slog.Logger) (*storageStack, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storageCfg, config.GetDBConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", storageCfg.Type, err)
	}
	if err := backend.StartSession(session); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	records, err := dispatcher.New(logging.NewZerologAdapter(zl.With().Str("component", "records").Logger()))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create record dispatcher: %w", err)
	}
	recorder := worker.NewManager(worker.Dependencies{
		Backend:          backend,
		Logger:           logger,
		SnapshotInterval: snapshotInterval,
	})
	recorder.RegisterHandlers(records)

	logger.Info("Storage backend initialized", "type", storageCfg.Type, "session", session.ID)
	return &storageStack{
		backend:  backend,
		records:  records,
		recorder: recorder,
		session:  session,
		logger:   logger,
	}, nil
}

// finish drains queued records, closes the session and uploads the export
// when the backend produced one.
func (s *storageStack) finish(last *core.Snapshot) error {
	s.records.Close()
	if n := s.recorder.Dropped(); n > 0 {
		s.logger.Warn("Records dropped during session", "count", n)
	}

	var errs []error
	if err := s.backend.EndSession(); err != nil {
		errs = append(errs, fmt.Errorf("end session: %w", err))
	}
	if exp, ok := s.backend.(storage.Exportable); ok {
		if path := exp.GetExportedFilePath(); path != "" {
			s.logger.Info("Session exported", "path", path)
			if err := s.upload(path, last); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

func (s *storageStack) upload(path string, last *core.Snapshot) error {
	cfg := config.GetArchiveConfig()
	if !cfg.Upload {
		return nil
	}
	meta := api.SessionMeta{SessionID: s.session.ID, MissionID: s.session.MissionID, Title: s.session.Title}
	if last != nil {
		meta.Duration = last.SimTime
		meta.LastTick = last.Tick
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	client := api.New(cfg.ServerURL, cfg.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		return fmt.Errorf("session archive unreachable, export kept at %s: %w", path, err)
	}
	if err := client.Upload(ctx, path, meta); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	s.logger.Info("Session uploaded", "url", cfg.ServerURL, "path", path)
	return nil
}
