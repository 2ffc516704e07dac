package storage

import "github.com/subbridge/simcore/pkg/core"

// Backend persists what a session produced: sampled ship state, the event
// log and the decision trace. Record methods may be called from several
// goroutines and must not block on I/O.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// State recording
	RecordSnapshot(s *core.Snapshot) error
	RecordEvent(e *core.Event) error
	RecordDecisionRun(run core.DecisionRun) error
}

// Exportable is implemented by backends that write a session file on EndSession.
type Exportable interface {
	GetExportedFilePath() string
}

// RunReader is implemented by backends that can list the stored decision trace.
type RunReader interface {
	DecisionRuns() ([]core.DecisionRun, error)
}
