// Package validate checks and clamps engine output before it reaches the
// world. Every adjustment is recorded as a core.ClampAction so decision
// traces show what the engine asked for and what was applied.
package validate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/subbridge/simcore/internal/geo"
	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/internal/weapons"
	"github.com/subbridge/simcore/pkg/core"
)

// ErrRejected wraps every reason a tool call cannot be applied.
var ErrRejected = errors.New("order rejected")

// Validator turns tool calls into commands that are safe to enqueue.
type Validator struct {
	ROE            *ROE
	RequireConsent bool
}

// New returns a validator for roe. A nil roe allows all fire.
func New(roe *ROE, requireConsent bool) *Validator {
	return &Validator{ROE: roe, RequireConsent: requireConsent}
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

func clampField(clamps []core.ClampAction, field string, requested, applied float64, reason string) []core.ClampAction {
	if requested == applied || (math.IsNaN(requested) && math.IsNaN(applied)) {
		return clamps
	}
	return append(clamps, core.ClampAction{Field: field, Requested: requested, Applied: applied, Reason: reason})
}

// Call validates call for the ship shipID as seen in snap. The returned
// command carries src. When err is non-nil the call must not be applied;
// the clamps gathered so far are still returned for the trace.
func (v *Validator) Call(snap *core.Snapshot, shipID string, call tools.Call, src core.CommandSource) (core.Command, []core.ClampAction, error) {
	ship, ok := snap.Ship(shipID)
	if !ok {
		return core.Command{}, nil, reject("unknown ship %q", shipID)
	}
	if ship.Destroyed {
		return core.Command{}, nil, reject("ship %s destroyed", shipID)
	}
	cmd, err := call.Command(shipID, src)
	if err != nil {
		return core.Command{}, nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	var clamps []core.ClampAction
	switch cmd.Kind {
	case core.CmdSetNav:
		clamps = v.nav(&ship, cmd.Nav)
	case core.CmdFireTorpedo:
		clamps, err = v.fire(snap, &ship, cmd.Fire)
	case core.CmdDeployCountermeasure:
		err = v.countermeasure(snap, &ship, cmd.Countermeasure)
	case core.CmdDropDepthCharges:
		clamps, err = v.depthCharges(snap, &ship, cmd.DepthCharges)
	}
	if err != nil {
		return core.Command{}, clamps, err
	}
	return cmd, clamps, nil
}

func (v *Validator) nav(s *core.Ship, nav *core.NavOrder) []core.ClampAction {
	out := sim.ClampNav(s, *nav)
	var clamps []core.ClampAction
	clamps = clampField(clamps, "heading", nav.Heading, out.Heading, "wrapped to [0,360)")
	reason := fmt.Sprintf("limited to [0,%.0f] kn", s.Hull.MaxSpeed)
	clamps = clampField(clamps, "speed", nav.Speed, out.Speed, reason)
	reason = fmt.Sprintf("limited to [0,%.0f] m", s.Hull.MaxDepth)
	if s.Caps.Surface {
		reason = "surface platform"
	}
	clamps = clampField(clamps, "depth", nav.Depth, out.Depth, reason)
	*nav = core.NavOrder{Heading: out.Heading, Speed: out.Speed, Depth: out.Depth}
	return clamps
}

func (v *Validator) fire(snap *core.Snapshot, s *core.Ship, f *core.FireOrder) ([]core.ClampAction, error) {
	if !s.Caps.HasTorpedoes {
		return nil, reject("%s has no torpedo tubes", s.ID)
	}
	var clamps []core.ClampAction
	bearing := core.NormalizeHeading(f.Bearing)
	clamps = clampField(clamps, "bearing", f.Bearing, bearing, "wrapped to [0,360)")
	f.Bearing = bearing

	spec := s.Weapons.Torpedo
	if spec.MaxDepth > 0 {
		depth := core.Clamp(f.RunDepth, 0, spec.MaxDepth)
		if f.RunDepth == 0 {
			depth = core.Clamp(s.Kin.Depth, 0, spec.MaxDepth)
		}
		clamps = clampField(clamps, "run_depth", f.RunDepth, depth, "torpedo depth limits")
		f.RunDepth = depth
	}
	if f.EnableRange < spec.MinEnable {
		clamps = clampField(clamps, "enable_range", f.EnableRange, spec.MinEnable, "minimum enable range")
		f.EnableRange = spec.MinEnable
	}
	if f.Doctrine != "" && f.Doctrine != weapons.DoctrinePassive && f.Doctrine != weapons.DoctrineActive {
		return clamps, reject("unknown doctrine %q", f.Doctrine)
	}

	tube, ok := s.Tube(f.Tube)
	if !ok {
		return clamps, reject("%v: %d", weapons.ErrUnknownTube, f.Tube)
	}
	if tube.Jammed {
		return clamps, reject("%v", weapons.ErrTubeJammed)
	}
	if tube.State != core.TubeDoorsOpen || tube.Busy() {
		return clamps, reject("tube %d is %s, fire requires %s", f.Tube, tube.State, core.TubeDoorsOpen)
	}
	if v.RequireConsent && !snap.ConsentOpen(s.Side) {
		return clamps, reject("%v", weapons.ErrNoConsent)
	}
	if err := v.ROE.AllowFire(s, *f); err != nil {
		return clamps, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return clamps, nil
}

func (v *Validator) countermeasure(snap *core.Snapshot, s *core.Ship, c *core.CountermeasureOrder) error {
	if !s.Caps.HasCountermeasures {
		return reject("%s carries no countermeasures", s.ID)
	}
	if c.Type != core.CountermeasureNoisemaker && c.Type != core.CountermeasureDecoy {
		return reject("unknown countermeasure type %q", c.Type)
	}
	if s.Weapons.Countermeasures <= 0 {
		return reject("%v", weapons.ErrNoCountermeasures)
	}
	if snap.SimTime < s.Weapons.CountermeasureReadyAt {
		return reject("countermeasure cooldown %.1fs", s.Weapons.CountermeasureReadyAt-snap.SimTime)
	}
	return nil
}

func (v *Validator) depthCharges(snap *core.Snapshot, s *core.Ship, d *core.DepthChargeOrder) ([]core.ClampAction, error) {
	if !s.Caps.HasDepthCharges {
		return nil, reject("%s carries no depth charges", s.ID)
	}
	if s.Weapons.DepthCharges <= 0 {
		return nil, reject("%v", weapons.ErrNoDepthCharges)
	}
	if snap.SimTime < s.Weapons.DepthChargeReadyAt {
		return nil, reject("depth charge cooldown %.1fs", s.Weapons.DepthChargeReadyAt-snap.SimTime)
	}

	clamped, clamps := weapons.ClampDepthChargeOrder(s, *d)
	*d = clamped
	return clamps, nil
}

// FleetIntent checks a proposed intent against the side's own fleet as seen
// in snap. Objectives and handoffs for ships the side does not own are
// dropped, destinations are clamped to bounds, speeds to the hull, and
// weapons release is withdrawn while the side is held weapons tight.
func (v *Validator) FleetIntent(snap *core.Snapshot, side core.Side, intent core.FleetIntent, bounds geo.Bounds) (core.FleetIntent, []core.ClampAction) {
	own := make(map[string]core.Ship)
	if snap != nil {
		for _, s := range snap.Ships {
			if s.Side == side && !s.Destroyed {
				own[s.ID] = s
			}
		}
	}

	out := intent
	out.Side = side
	out.Objectives = make(map[string]core.Objective, len(intent.Objectives))
	out.Notes = nil
	out.Handoffs = nil

	var clamps []core.ClampAction
	ids := make([]string, 0, len(intent.Objectives))
	for id := range intent.Objectives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		obj := intent.Objectives[id]
		ship, ok := own[id]
		if !ok {
			clamps = append(clamps, core.ClampAction{Field: "objectives." + id, Reason: "not an own-side ship, dropped"})
			continue
		}
		x, y := bounds.Clamp(obj.Destination[0], obj.Destination[1])
		clamps = clampField(clamps, "objectives."+id+".destination.x", obj.Destination[0], x, "mission bounds")
		clamps = clampField(clamps, "objectives."+id+".destination.y", obj.Destination[1], y, "mission bounds")
		obj.Destination = [2]float64{x, y}
		if obj.SpeedKn != nil {
			speed := core.Clamp(*obj.SpeedKn, 0, ship.Hull.MaxSpeed)
			if math.IsNaN(speed) {
				speed = 0
			}
			clamps = clampField(clamps, "objectives."+id+".speed_kn", *obj.SpeedKn, speed, "hull speed limits")
			obj.SpeedKn = &speed
		}
		out.Objectives[id] = obj
	}

	for _, n := range intent.Notes {
		if _, ok := own[n.ShipID]; n.ShipID == "" || ok {
			out.Notes = append(out.Notes, n)
		}
	}
	for _, h := range intent.Handoffs {
		if _, ok := own[h.ShipID]; !ok {
			clamps = append(clamps, core.ClampAction{Field: "handoffs." + h.ShipID, Reason: "not an own-side ship, dropped"})
			continue
		}
		out.Handoffs = append(out.Handoffs, h)
	}

	if out.WeaponsRelease && v.ROE.Tight(side) {
		out.WeaponsRelease = false
		clamps = append(clamps, core.ClampAction{Field: "weapons_release", Requested: 1, Applied: 0, Reason: "weapons tight"})
	}
	return out, clamps
}
