package convert

import (
	"encoding/json"
	"strings"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/subbridge/simcore/internal/model"
	"github.com/subbridge/simcore/pkg/core"
)

// positionToPoint stores local-frame metres as a 2D point
func positionToPoint(x, y float64) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}})
}

// toJSON marshals v, falling back to fallback for empty or unencodable values.
func toJSON(v any, fallback string) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return datatypes.JSON(fallback)
	}
	return datatypes.JSON(data)
}

func tubeStates(tubes []core.Tube) string {
	states := make([]string, len(tubes))
	for i, t := range tubes {
		states[i] = string(t.State)
	}
	return strings.Join(states, ",")
}

// CoreToSession converts a core.Session to a GORM model.Session.
func CoreToSession(s core.Session) model.Session {
	return model.Session{
		UUID:      s.ID,
		MissionID: s.MissionID,
		Title:     s.Title,
		StartedAt: s.StartedAt,
		TickHz:    s.TickHz,
		Seed:      s.Seed,
	}
}

// CoreToShipState samples one ship of a snapshot.
func CoreToShipState(s core.Ship, tick uint64, simTime float64, at time.Time) model.ShipState {
	return model.ShipState{
		Time:       at,
		Tick:       tick,
		SimTime:    simTime,
		ShipID:     s.ID,
		Side:       string(s.Side),
		Class:      s.Class,
		Position:   positionToPoint(s.Kin.X, s.Kin.Y),
		Depth:      s.Kin.Depth,
		Heading:    s.Kin.Heading,
		Speed:      s.Kin.Speed,
		NoiseDB:    s.NoiseDB,
		Cavitating: s.Cavitating,
		HullDamage: s.Damage.Hull,
		Flooding:   s.Damage.Flooding,
		Battery:    s.Engineering.Battery,
		Destroyed:  s.Destroyed,
		Tubes:      tubeStates(s.Weapons.Tubes),
	}
}

// SnapshotToShipStates samples every ship of a snapshot.
func SnapshotToShipStates(snap *core.Snapshot) []model.ShipState {
	if snap == nil {
		return nil
	}
	out := make([]model.ShipState, 0, len(snap.Ships))
	for _, s := range snap.Ships {
		out = append(out, CoreToShipState(s, snap.Tick, snap.SimTime, snap.PublishedAt))
	}
	return out
}

// CoreToWorldEvent converts a core.Event to a GORM model.WorldEvent.
func CoreToWorldEvent(e core.Event, at time.Time) model.WorldEvent {
	return model.WorldEvent{
		Time:    at,
		Tick:    e.Tick,
		SimTime: e.SimTime,
		Type:    string(e.Type),
		ShipID:  e.ShipID,
		Data:    toJSON(e.Data, "{}"),
	}
}

// CoreToDecisionRun converts a core.DecisionRun to a GORM model.DecisionRun.
func CoreToDecisionRun(r core.DecisionRun) model.DecisionRun {
	validated := datatypes.JSON("null")
	if len(r.ValidatedOutput) > 0 {
		validated = datatypes.JSON(r.ValidatedOutput)
	}
	return model.DecisionRun{
		RunID:           r.RunID,
		ParentRunID:     r.ParentRunID,
		Tier:            string(r.Tier),
		Side:            string(r.Side),
		ShipID:          r.ShipID,
		Engine:          r.Engine,
		Model:           r.Model,
		StartedAt:       r.StartedAt,
		SimTime:         r.SimTime,
		DurationMs:      float64(r.Duration) / float64(time.Millisecond),
		Outcome:         string(r.Outcome),
		RawOutput:       r.RawOutput,
		ValidatedOutput: validated,
		ClampActions:    toJSON(r.ClampActions, "[]"),
		FallbackUsed:    r.FallbackUsed,
		Applied:         r.Applied,
		Error:           r.Error,
	}
}
