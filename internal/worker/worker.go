// Package worker moves simulator output into storage off the tick goroutine.
// Records are handed to buffered dispatcher handlers, one queue per record
// kind, and a full queue drops the record instead of stalling the loop.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/subbridge/simcore/internal/dispatcher"
	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/internal/storage"
	"github.com/subbridge/simcore/pkg/core"
)

// Record commands handled by the manager.
const (
	CmdRecordSnapshot = "record.snapshot"
	CmdRecordEvent    = "record.event"
	CmdRecordDecision = "record.decision"
)

// Queue sizes per record kind.
const (
	SnapshotBuffer = 64
	EventBuffer    = 4096
	DecisionBuffer = 512
)

// ErrBadRecord is returned when an event carries the wrong payload type.
var ErrBadRecord = errors.New("unexpected record payload")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Backend storage.Backend
	Logger  *slog.Logger
	// SnapshotInterval is the simulated time between stored ship samples.
	SnapshotInterval time.Duration
}

// Manager records snapshots, events and decision runs.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	log     *slog.Logger
	d       *dispatcher.Dispatcher

	mu           sync.Mutex
	lastSnapshot float64
	sampled      bool
	dropped      int
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:    deps,
		backend: deps.Backend,
		log:     deps.Logger.With("component", "worker"),
	}
}

// RegisterHandlers registers the record handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CmdRecordSnapshot, m.handleSnapshot, dispatcher.Buffered(SnapshotBuffer))
	d.Register(CmdRecordEvent, m.handleEvent, dispatcher.Buffered(EventBuffer))
	d.Register(CmdRecordDecision, m.handleDecision, dispatcher.Buffered(DecisionBuffer), dispatcher.Logged())
	m.d = d
}

// AfterStep is a sim.AfterStepFunc. Every event is recorded; ship state
// only once per SnapshotInterval of simulated time.
func (m *Manager) AfterStep(res sim.StepResult) {
	snap := res.Snapshot
	if snap == nil {
		return
	}
	for i := range snap.Events {
		m.send(CmdRecordEvent, &snap.Events[i])
	}
	if m.snapshotDue(snap.SimTime) {
		m.send(CmdRecordSnapshot, snap)
	}
}

// RecordDecisionRun queues a finished run; it satisfies ai.TraceSink.
func (m *Manager) RecordDecisionRun(run core.DecisionRun) error {
	return m.dispatch(CmdRecordDecision, run)
}

// Dropped returns how many records were lost to full queues.
func (m *Manager) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Manager) snapshotDue(simTime float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampled && simTime-m.lastSnapshot < m.deps.SnapshotInterval.Seconds() {
		return false
	}
	m.sampled = true
	m.lastSnapshot = simTime
	return true
}

func (m *Manager) send(cmd string, data any) {
	if err := m.dispatch(cmd, data); err != nil {
		m.log.Debug("record dropped", "command", cmd, "error", err)
	}
}

func (m *Manager) dispatch(cmd string, data any) error {
	if m.d == nil {
		return fmt.Errorf("%s: handlers not registered", cmd)
	}
	_, err := m.d.Dispatch(dispatcher.Event{Command: cmd, Data: data})
	if errors.Is(err, dispatcher.ErrQueueFull) {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
	return err
}

func (m *Manager) handleSnapshot(e dispatcher.Event) (any, error) {
	snap, ok := e.Data.(*core.Snapshot)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrBadRecord, e.Data)
	}
	if err := m.backend.RecordSnapshot(snap); err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleEvent(e dispatcher.Event) (any, error) {
	ev, ok := e.Data.(*core.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrBadRecord, e.Data)
	}
	if err := m.backend.RecordEvent(ev); err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleDecision(e dispatcher.Event) (any, error) {
	run, ok := e.Data.(core.DecisionRun)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrBadRecord, e.Data)
	}
	if err := m.backend.RecordDecisionRun(run); err != nil {
		return nil, fmt.Errorf("failed to record decision run: %w", err)
	}
	return nil, nil
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}
