// Package convert maps between the core simulation types and their GORM rows.
package convert

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/subbridge/simcore/internal/model"
	"github.com/subbridge/simcore/pkg/core"
)

// pointToPosition returns the x/y of a stored point, zero when empty
func pointToPosition(p geom.Point) (float64, float64) {
	coord, ok := p.Coordinates()
	if !ok {
		return 0, 0
	}
	return coord.XY.X, coord.XY.Y
}

// SessionToCore converts a GORM Session to a core.Session.
func SessionToCore(s model.Session) core.Session {
	return core.Session{
		ID:        s.UUID,
		MissionID: s.MissionID,
		Title:     s.Title,
		StartedAt: s.StartedAt,
		TickHz:    s.TickHz,
		Seed:      s.Seed,
	}
}

// ShipStateToCore rebuilds the sampled part of a ship.
func ShipStateToCore(s model.ShipState) core.Ship {
	x, y := pointToPosition(s.Position)
	ship := core.Ship{
		ID:    s.ShipID,
		Side:  core.Side(s.Side),
		Class: s.Class,
		Kin: core.Kinematics{
			X:       x,
			Y:       y,
			Depth:   s.Depth,
			Heading: s.Heading,
			Speed:   s.Speed,
		},
		Damage:     core.Damage{Hull: s.HullDamage, Flooding: s.Flooding},
		NoiseDB:    s.NoiseDB,
		Cavitating: s.Cavitating,
		Destroyed:  s.Destroyed,
	}
	ship.Engineering.Battery = s.Battery
	if s.Tubes != "" {
		for i, st := range strings.Split(s.Tubes, ",") {
			ship.Weapons.Tubes = append(ship.Weapons.Tubes, core.Tube{Index: i + 1, State: core.TubeState(st)})
		}
	}
	return ship
}

// WorldEventToCore converts a GORM WorldEvent to a core.Event.
func WorldEventToCore(e model.WorldEvent) core.Event {
	var data map[string]any
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &data)
	}
	if len(data) == 0 {
		data = nil
	}
	return core.Event{
		Type:    core.EventType(e.Type),
		Tick:    e.Tick,
		SimTime: e.SimTime,
		ShipID:  e.ShipID,
		Data:    data,
	}
}

// DecisionRunToCore converts a GORM DecisionRun to a core.DecisionRun.
func DecisionRunToCore(r model.DecisionRun) core.DecisionRun {
	var clamps []core.ClampAction
	if len(r.ClampActions) > 0 {
		_ = json.Unmarshal(r.ClampActions, &clamps)
	}
	var validated json.RawMessage
	if len(r.ValidatedOutput) > 0 && string(r.ValidatedOutput) != "null" {
		validated = json.RawMessage(r.ValidatedOutput)
	}
	return core.DecisionRun{
		RunID:           r.RunID,
		ParentRunID:     r.ParentRunID,
		Tier:            core.Tier(r.Tier),
		Side:            core.Side(r.Side),
		ShipID:          r.ShipID,
		Engine:          r.Engine,
		Model:           r.Model,
		StartedAt:       r.StartedAt,
		SimTime:         r.SimTime,
		Duration:        time.Duration(math.Round(r.DurationMs * float64(time.Millisecond))),
		Outcome:         core.RunOutcome(r.Outcome),
		RawOutput:       r.RawOutput,
		ValidatedOutput: validated,
		ClampActions:    clamps,
		FallbackUsed:    r.FallbackUsed,
		Applied:         r.Applied,
		Error:           r.Error,
	}
}
