// Package monitor periodically writes the simulator's health to a status
// file next to the session log.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/subbridge/simcore/pkg/core"
)

const (
	DefaultInterval = time.Second
	healthTimeout   = time.Second
)

// Status is one line of program status.
type Status struct {
	Time            time.Time         `json:"time"`
	SessionID       string            `json:"sessionId,omitempty"`
	MissionID       string            `json:"missionId,omitempty"`
	Tick            uint64            `json:"tick"`
	SimTime         float64           `json:"simTime"`
	Ships           int               `json:"ships"`
	Torpedoes       int               `json:"torpedoes"`
	PendingCommands int               `json:"pendingCommands"`
	DroppedRecords  int               `json:"droppedRecords"`
	LastWriteMs     float64           `json:"lastWriteMs"`
	Engines         map[string]string `json:"engines,omitempty"`
}

// Recorder is the storage side: worker.Manager satisfies it.
type Recorder interface {
	Dropped() int
	GetLastDBWriteDuration() time.Duration
}

// Dependencies holds all dependencies for the monitor service. Everything
// except Snapshots is optional.
type Dependencies struct {
	Snapshots  func() *core.Snapshot
	Pending    func() int
	Recorder   Recorder
	Health     func(ctx context.Context) map[core.Tier]error
	Session    *core.Session
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps Dependencies

	mu      sync.RWMutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStatus collects the current program status.
func (s *Service) GetStatus(ctx context.Context) Status {
	st := Status{Time: time.Now().UTC()}
	if sess := s.deps.Session; sess != nil {
		st.SessionID = sess.ID
		st.MissionID = sess.MissionID
	}
	if s.deps.Snapshots != nil {
		if snap := s.deps.Snapshots(); snap != nil {
			st.Tick = snap.Tick
			st.SimTime = snap.SimTime
			st.Ships = len(snap.Ships)
			st.Torpedoes = len(snap.Torpedoes)
		}
	}
	if s.deps.Pending != nil {
		st.PendingCommands = s.deps.Pending()
	}
	if r := s.deps.Recorder; r != nil {
		st.DroppedRecords = r.Dropped()
		st.LastWriteMs = float64(r.GetLastDBWriteDuration().Microseconds()) / 1000
	}
	if s.deps.Health != nil {
		hctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		st.Engines = make(map[string]string)
		for tier, err := range s.deps.Health(hctx) {
			if err != nil {
				st.Engines[string(tier)] = err.Error()
			} else {
				st.Engines[string(tier)] = "ok"
			}
		}
	}
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	var file *os.File
	if s.deps.StatusPath != "" {
		f, err := os.Create(s.deps.StatusPath)
		if err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			close(done)
			return err
		}
		file = f
	}

	go func() {
		defer close(done)
		defer func() {
			if file != nil {
				_ = file.Close()
			}
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				st := s.GetStatus(context.Background())
				s.deps.Logger.Debug("status", "tick", st.Tick, "pending", st.PendingCommands, "dropped", st.DroppedRecords)
				if file != nil {
					if err := writeStatus(file, st); err != nil {
						s.deps.Logger.Error("Error writing status file", "error", err)
					}
				}
			}
		}
	}()
	return nil
}

func writeStatus(f *os.File, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running || s.stop == nil {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()

	close(stop)
	<-done
}
