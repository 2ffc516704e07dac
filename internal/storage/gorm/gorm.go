// Package gormstorage implements storage.Backend on any GORM dialect. Rows
// are queued by the record calls and written in batches by a background
// goroutine, so the tick loop never waits on the database.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subbridge/simcore/internal/database"
	"github.com/subbridge/simcore/internal/model"
	"github.com/subbridge/simcore/internal/model/convert"
	"github.com/subbridge/simcore/internal/queue"
	"github.com/subbridge/simcore/pkg/core"
)

// DefaultFlushInterval is how often queued rows are written.
const DefaultFlushInterval = 2 * time.Second

// maxBatchFailures drops a batch the database keeps refusing.
const maxBatchFailures = 3

var (
	ErrNoSession = errors.New("no active session")
	ErrNotReady  = errors.New("storage not initialized")
)

// Dependencies holds all dependencies for the GORM storage backend.
// When DB is nil, Open is called by Init and the backend owns the
// connection.
type Dependencies struct {
	DB            *gorm.DB
	Open          func() (*gorm.DB, error)
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// batchWriter drains one queue into its table.
type batchWriter[T any] struct {
	name     string
	q        *queue.Queue[T]
	failures int
}

func newBatchWriter[T any](name string) *batchWriter[T] {
	return &batchWriter[T]{name: name, q: queue.New[T](0)}
}

// write inserts every queued row in one transaction. A failed batch goes
// back to the head of the queue until it failed maxBatchFailures times.
func (w *batchWriter[T]) write(db *gorm.DB, log *slog.Logger) error {
	items := w.q.Drain()
	if len(items) == 0 {
		return nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(&items).Error
	})
	if err == nil {
		w.failures = 0
		return nil
	}

	w.failures++
	if w.failures >= maxBatchFailures {
		log.Error("dropping batch", "table", w.name, "rows", len(items), "error", err)
		w.failures = 0
	} else {
		w.q.Requeue(items)
	}
	return fmt.Errorf("error creating %s: %w", w.name, err)
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps Dependencies
	log  *slog.Logger
	db   *gorm.DB
	owns bool

	ships  *batchWriter[model.ShipState]
	events *batchWriter[model.WorldEvent]
	runs   *batchWriter[model.DecisionRun]

	sessionID atomic.Uint64
	lastTick  atomic.Uint64
	lastWrite atomic.Int64

	flushMu   sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		log:    deps.Logger.With("component", "storage"),
		ships:  newBatchWriter[model.ShipState]("ship states"),
		events: newBatchWriter[model.WorldEvent]("world events"),
		runs:   newBatchWriter[model.DecisionRun]("decision runs"),
	}
}

// DB returns the connection, nil before Init.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init connects if needed, migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		if b.deps.Open == nil {
			return fmt.Errorf("no database configured")
		}
		var err error
		db, err = b.deps.Open()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		b.owns = true
	}

	b.log.Info("Migrating schema", "dialect", db.Dialector.Name())
	if err := database.Migrate(db); err != nil {
		return err
	}
	b.db = db

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()

	b.log.Info("Database setup complete")
	return nil
}

// Close stops the writer, writes what is still queued and releases an
// owned connection.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan == nil {
			return
		}
		close(b.stopChan)
		<-b.done
		err = b.Flush()
		if b.owns {
			if sqlDB, dbErr := b.db.DB(); dbErr == nil {
				err = errors.Join(err, sqlDB.Close())
			}
		}
	})
	return err
}

// StartSession inserts the session row synchronously so its ID can be
// stamped on every row queued after it.
func (b *Backend) StartSession(s *core.Session) error {
	if b.db == nil {
		return ErrNotReady
	}
	row := convert.CoreToSession(*s)
	if err := b.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))
	b.lastTick.Store(0)
	b.log.Info("Session started", "session", s.ID, "id", row.ID)
	return nil
}

// EndSession writes queued rows and closes the session row.
func (b *Backend) EndSession() error {
	id := uint(b.sessionID.Load())
	if id == 0 {
		return ErrNoSession
	}
	flushErr := b.Flush()
	b.sessionID.Store(0)

	err := b.db.Model(&model.Session{}).Where("id = ?", id).Updates(map[string]any{
		"ended_at":  time.Now().UTC(),
		"last_tick": b.lastTick.Load(),
	}).Error
	if err != nil {
		err = fmt.Errorf("failed to close session: %w", err)
	}
	return errors.Join(flushErr, err)
}

func (b *Backend) session() (uint, error) {
	id := uint(b.sessionID.Load())
	if id == 0 {
		return 0, ErrNoSession
	}
	return id, nil
}

// RecordSnapshot queues one row per ship.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	id, err := b.session()
	if err != nil {
		return err
	}
	for _, row := range convert.SnapshotToShipStates(s) {
		row.SessionID = id
		b.ships.q.Push(row)
	}
	if s.Tick > b.lastTick.Load() {
		b.lastTick.Store(s.Tick)
	}
	return nil
}

// RecordEvent queues an event log row.
func (b *Backend) RecordEvent(e *core.Event) error {
	id, err := b.session()
	if err != nil {
		return err
	}
	row := convert.CoreToWorldEvent(*e, time.Now().UTC())
	row.SessionID = id
	return b.events.q.Push(row)
}

// RecordDecisionRun queues a trace row.
func (b *Backend) RecordDecisionRun(run core.DecisionRun) error {
	id, err := b.session()
	if err != nil {
		return err
	}
	row := convert.CoreToDecisionRun(run)
	row.SessionID = id
	return b.runs.q.Push(row)
}

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	if b.db == nil {
		return ErrNotReady
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	err := errors.Join(
		b.ships.write(b.db, b.log),
		b.events.write(b.db, b.log),
		b.runs.write(b.db, b.log),
	)
	b.lastWrite.Store(int64(time.Since(start)))
	return err
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.ships.q.Len() + b.events.q.Len() + b.runs.q.Len()
}

// GetLastDBWriteDuration returns how long the last flush took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// DecisionRuns returns the stored trace of the current session, oldest first.
func (b *Backend) DecisionRuns() ([]core.DecisionRun, error) {
	id, err := b.session()
	if err != nil {
		return nil, err
	}
	if err := b.Flush(); err != nil {
		return nil, err
	}
	var rows []model.DecisionRun
	if err := b.db.Where("session_id = ?", id).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query decision runs: %w", err)
	}
	out := make([]core.DecisionRun, len(rows))
	for i, r := range rows {
		out[i] = convert.DecisionRunToCore(r)
	}
	return out, nil
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error("Error writing to database", "error", err)
			}
		}
	}
}
