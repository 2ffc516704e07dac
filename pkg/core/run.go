package core

import (
	"encoding/json"
	"time"
)

// Tier is the decision level a run belongs to.
type Tier string

const (
	TierFleet Tier = "fleet"
	TierShip  Tier = "ship"
)

// RunOutcome is the terminal status of a decision run.
type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeRejected  RunOutcome = "rejected"
	OutcomeTimedOut  RunOutcome = "timed_out"
	OutcomeFailed    RunOutcome = "failed"
)

// ClampAction records one adjustment the validation pipeline made.
type ClampAction struct {
	Field     string  `json:"field"`
	Requested float64 `json:"requested"`
	Applied   float64 `json:"applied"`
	Reason    string  `json:"reason,omitempty"`
}

// DecisionRun is the trace record of one engine invocation. It is
// immutable once finalized.
type DecisionRun struct {
	RunID           string          `json:"run_id"`
	ParentRunID     string          `json:"parent_run_id,omitempty"`
	Tier            Tier            `json:"tier"`
	Side            Side            `json:"side"`
	ShipID          string          `json:"ship_id,omitempty"`
	Engine          string          `json:"engine"`
	Model           string          `json:"model,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	SimTime         float64         `json:"sim_time"`
	Duration        time.Duration   `json:"duration"`
	Outcome         RunOutcome      `json:"outcome"`
	RawOutput       string          `json:"raw_output,omitempty"`
	ValidatedOutput json.RawMessage `json:"validated_output,omitempty"`
	ClampActions    []ClampAction   `json:"clamp_actions,omitempty"`
	FallbackUsed    bool            `json:"fallback_used"`
	Applied         bool            `json:"applied"`
	Error           string          `json:"error,omitempty"`
}

// Failed reports whether the engine output was not used as-is.
func (r DecisionRun) Failed() bool {
	return r.Outcome != OutcomeSucceeded
}

// Session describes one run of the simulator, for storage and telemetry.
type Session struct {
	ID        string    `json:"id"`
	MissionID string    `json:"missionId"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"startedAt"`
	TickHz    int       `json:"tickHz"`
	Seed      int64     `json:"seed"`
}
