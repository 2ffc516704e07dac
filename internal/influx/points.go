package influx

import (
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/pkg/core"
)

// Measurement names.
const (
	MeasurementTick        = "sim_tick"
	MeasurementShip        = "ship_state"
	MeasurementDecisionRun = "decision_run"
)

// DefaultShipEvery samples ship state once a second at 20 Hz.
const DefaultShipEvery = 20

// TickPoint describes the cost of one tick.
func TickPoint(res sim.StepResult, pending int) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementTick).
		AddField("tick", int64(res.Tick)).
		AddField("duration_ms", float64(res.Duration)/float64(time.Millisecond)).
		AddField("budget_ms", float64(res.Budget)/float64(time.Millisecond)).
		AddField("delta_s", res.Delta).
		AddField("applied", res.Applied).
		AddField("commands", len(res.Commands)).
		AddField("pending", pending).
		AddField("clamped", res.ClampedDelta).
		SetTime(res.Now)
	if res.Snapshot != nil {
		p.AddField("sim_time", res.Snapshot.SimTime).
			AddField("torpedoes", len(res.Snapshot.Torpedoes)).
			AddField("events", len(res.Snapshot.Events)).
			AddField("rejections", len(res.Snapshot.Rejections))
	}
	return p
}

// ShipPoint samples one ship's kinematics and condition.
func ShipPoint(s core.Ship, simTime float64, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementShip).
		AddTag("ship", s.ID).
		AddTag("side", string(s.Side)).
		AddTag("class", s.Class).
		AddField("sim_time", simTime).
		AddField("x", s.Kin.X).
		AddField("y", s.Kin.Y).
		AddField("depth", s.Kin.Depth).
		AddField("heading", s.Kin.Heading).
		AddField("speed", s.Kin.Speed).
		AddField("noise_db", s.NoiseDB).
		AddField("hull_damage", s.Damage.Hull).
		AddField("cavitating", s.Cavitating).
		AddField("destroyed", s.Destroyed).
		SetTime(at)
}

// DecisionRunPoint records the outcome and latency of an engine invocation.
func DecisionRunPoint(run core.DecisionRun) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementDecisionRun).
		AddTag("tier", string(run.Tier)).
		AddTag("side", string(run.Side)).
		AddTag("outcome", string(run.Outcome)).
		AddTag("engine", run.Engine).
		AddField("run_id", run.RunID).
		AddField("duration_ms", float64(run.Duration)/float64(time.Millisecond)).
		AddField("sim_time", run.SimTime).
		AddField("fallback", run.FallbackUsed).
		AddField("applied", run.Applied).
		AddField("clamps", len(run.ClampActions)).
		SetTime(run.StartedAt.Add(run.Duration))
	if run.ShipID != "" {
		p.AddTag("ship", run.ShipID)
	}
	return p
}

// Recorder feeds the manager from the tick loop and the orchestrator.
type Recorder struct {
	m         *Manager
	pending   func() int
	shipEvery uint64
}

// NewRecorder samples ship state every shipEvery ticks. pending may be nil.
func NewRecorder(m *Manager, pending func() int, shipEvery int) *Recorder {
	if shipEvery <= 0 {
		shipEvery = DefaultShipEvery
	}
	if pending == nil {
		pending = func() int { return 0 }
	}
	return &Recorder{m: m, pending: pending, shipEvery: uint64(shipEvery)}
}

// AfterStep is a sim.AfterStepFunc.
func (r *Recorder) AfterStep(res sim.StepResult) {
	bucket := r.m.Bucket()
	if err := r.m.WritePoint(bucket, TickPoint(res, r.pending())); err != nil {
		r.m.Logger.Debug().Err(err).Msg("tick point dropped")
		return
	}
	if res.Snapshot == nil || res.Tick%r.shipEvery != 0 {
		return
	}
	for _, s := range res.Snapshot.Ships {
		if err := r.m.WritePoint(bucket, ShipPoint(s, res.Snapshot.SimTime, res.Now)); err != nil {
			r.m.Logger.Debug().Err(err).Str("ship", s.ID).Msg("ship point dropped")
		}
	}
}

// RecordDecisionRun satisfies ai.TraceSink.
func (r *Recorder) RecordDecisionRun(run core.DecisionRun) error {
	return r.m.WritePoint(r.m.Bucket(), DecisionRunPoint(run))
}
