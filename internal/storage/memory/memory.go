// Package memory keeps a session in memory and writes it as one JSON file
// when the session ends.
package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/pkg/core"
)

// ErrNoSession is returned by record calls made outside a session.
var ErrNoSession = errors.New("no active session")

// ShipSample is one ship as it was at a sampled tick.
type ShipSample struct {
	Tick    uint64    `json:"tick"`
	SimTime float64   `json:"simTime"`
	Time    time.Time `json:"time"`
	Ship    core.Ship `json:"ship"`
}

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	ships  map[string][]ShipSample // keyed by ship id
	order  []string                // ship ids in first-seen order
	events []core.Event
	runs   []core.DecisionRun

	lastTick       uint64
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:   cfg,
		ships: make(map[string][]ShipSample),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new session and drops anything held
// from the previous one.
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	session := *s
	b.session = &session
	b.ships = make(map[string][]ShipSample)
	b.order = nil
	b.events = nil
	b.runs = nil
	b.lastTick = 0
	return nil
}

// EndSession exports the session and stops recording.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	err := b.exportJSON()
	b.session = nil
	return err
}

// RecordSnapshot samples every ship of s.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	for _, ship := range s.Ships {
		if _, seen := b.ships[ship.ID]; !seen {
			b.order = append(b.order, ship.ID)
		}
		b.ships[ship.ID] = append(b.ships[ship.ID], ShipSample{
			Tick:    s.Tick,
			SimTime: s.SimTime,
			Time:    s.PublishedAt,
			Ship:    ship.Clone(),
		})
	}
	if s.Tick > b.lastTick {
		b.lastTick = s.Tick
	}
	return nil
}

// RecordEvent appends to the session event log.
func (b *Backend) RecordEvent(e *core.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	b.events = append(b.events, *e)
	return nil
}

// RecordDecisionRun appends to the decision trace.
func (b *Backend) RecordDecisionRun(run core.DecisionRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	b.runs = append(b.runs, run)
	return nil
}

// DecisionRuns returns the trace of the current session.
func (b *Backend) DecisionRuns() ([]core.DecisionRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.DecisionRun(nil), b.runs...), nil
}

// ShipHistory returns the samples held for one ship.
func (b *Backend) ShipHistory(shipID string) []ShipSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ShipSample(nil), b.ships[shipID]...)
}

// Events returns the event log of the current session.
func (b *Backend) Events() []core.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.Event(nil), b.events...)
}

// GetExportedFilePath returns the file written by the last EndSession.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
