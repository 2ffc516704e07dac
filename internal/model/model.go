package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is every table the simulator writes
var DatabaseModels = []interface{}{
	&Session{},
	&ShipState{},
	&WorldEvent{},
	&DecisionRun{},
}

// Session is one run of the simulator
type Session struct {
	gorm.Model
	UUID      string     `json:"uuid" gorm:"size:36;uniqueIndex"`
	MissionID string     `json:"missionId" gorm:"size:128;index:idx_session_mission"`
	Title     string     `json:"title" gorm:"size:200"`
	StartedAt time.Time  `json:"startedAt" gorm:"index:idx_session_start"`
	EndedAt   *time.Time `json:"endedAt"`
	TickHz    int        `json:"tickHz"`
	Seed      int64      `json:"seed"`
	LastTick  uint64     `json:"lastTick"`
}

func (*Session) TableName() string {
	return "sessions"
}

// ShipState is one sampled row of a ship's condition
type ShipState struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_shipstate_session"`
	Session   Session   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64    `json:"tick" gorm:"index:idx_shipstate_tick"`
	SimTime   float64   `json:"simTime"`
	ShipID    string    `json:"shipId" gorm:"size:64;index:idx_shipstate_ship"`
	Side      string    `json:"side" gorm:"size:8"`
	Class     string    `json:"class" gorm:"size:32"`

	Position   geom.Point `json:"position"` // local frame, metres east/north
	Depth      float64    `json:"depth"`
	Heading    float64    `json:"heading"`
	Speed      float64    `json:"speed"`
	NoiseDB    float64    `json:"noiseDb"`
	Cavitating bool       `json:"cavitating"`
	HullDamage float64    `json:"hullDamage"`
	Flooding   float64    `json:"flooding"`
	Battery    float64    `json:"battery"`
	Destroyed  bool       `json:"destroyed"`
	Tubes      string     `json:"tubes" gorm:"size:128"` // tube states, comma separated
}

func (*ShipState) TableName() string {
	return "ship_states"
}

// WorldEvent is an entry of the session event log
type WorldEvent struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time      `json:"time"`
	SessionID uint           `json:"sessionId" gorm:"index:idx_event_session"`
	Session   Session        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64         `json:"tick"`
	SimTime   float64        `json:"simTime"`
	Type      string         `json:"type" gorm:"size:64;index:idx_event_type"`
	ShipID    string         `json:"shipId" gorm:"size:64"`
	Data      datatypes.JSON `json:"data"`
}

func (*WorldEvent) TableName() string {
	return "world_events"
}

// DecisionRun is the trace of one engine invocation
type DecisionRun struct {
	ID              uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID       uint           `json:"sessionId" gorm:"index:idx_run_session"`
	Session         Session        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	RunID           string         `json:"runId" gorm:"size:36;uniqueIndex"`
	ParentRunID     string         `json:"parentRunId" gorm:"size:36;index:idx_run_parent"`
	Tier            string         `json:"tier" gorm:"size:8"`
	Side            string         `json:"side" gorm:"size:8"`
	ShipID          string         `json:"shipId" gorm:"size:64"`
	Engine          string         `json:"engine" gorm:"size:64"`
	Model           string         `json:"model" gorm:"size:128"`
	StartedAt       time.Time      `json:"startedAt" gorm:"index:idx_run_started"`
	SimTime         float64        `json:"simTime"`
	DurationMs      float64        `json:"durationMs"`
	Outcome         string         `json:"outcome" gorm:"size:16;index:idx_run_outcome"`
	RawOutput       string         `json:"rawOutput"`
	ValidatedOutput datatypes.JSON `json:"validatedOutput"`
	ClampActions    datatypes.JSON `json:"clampActions"`
	FallbackUsed    bool           `json:"fallbackUsed"`
	Applied         bool           `json:"applied"`
	Error           string         `json:"error"`
}

func (*DecisionRun) TableName() string {
	return "decision_runs"
}
