package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/pkg/core"
)

// Stub thresholds.
const (
	StubFireConfidence = 0.6
	StubArrivalRadius  = 300.0
	stubPatrolLeg      = 2000.0
	stubCruiseKn       = 8.0
	stubSprintKn       = 18.0
	stubMinDepth       = 50.0
	stubQuietKn        = 5.0
)

// Stub is a deterministic rule-based engine. It needs no external service
// and is the default for both tiers.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Info() Info { return Info{Kind: KindStub, Model: KindStub} }

// ProposeFleetIntent sends every ship toward the best located enemy belief,
// or the mission waypoint when nothing is held, or on a patrol leg along its
// current heading otherwise.
func (s *Stub) ProposeFleetIntent(ctx context.Context, fs FleetSummary) (core.FleetIntent, error) {
	if err := ctx.Err(); err != nil {
		return core.FleetIntent{}, err
	}
	intent := core.FleetIntent{
		Side:       fs.Side,
		Objectives: make(map[string]core.Objective, len(fs.OwnFleet)),
		Emcon:      core.Emcon{RadioDiscipline: "restricted"},
	}

	target, ok := bestFix(fs.EnemyBelief)
	anyAlert := false
	for _, own := range fs.OwnFleet {
		anyAlert = anyAlert || own.Alert
		var dest [2]float64
		goal := "patrol"
		speed := stubCruiseKn
		switch {
		case ok:
			dest, goal = *target.EstPos, "close contact "+target.TrackID
		case fs.Mission.TargetWaypoint != nil:
			dest, goal = *fs.Mission.TargetWaypoint, "proceed to waypoint"
		default:
			rad := own.Heading * math.Pi / 180
			dest = [2]float64{own.Pos[0] + math.Sin(rad)*stubPatrolLeg, own.Pos[1] + math.Cos(rad)*stubPatrolLeg}
		}
		if own.Caps.Surface && ok {
			speed = stubSprintKn
		}
		sp := speed
		intent.Objectives[own.ID] = core.Objective{Destination: dest, SpeedKn: &sp, Goal: goal}
	}

	intent.Emcon.ActivePingAllowed = anyAlert
	intent.WeaponsRelease = fs.Mission.WeaponsFree && ok && target.Confidence >= StubFireConfidence
	switch {
	case ok:
		intent.Summary = fmt.Sprintf("converge on %s bearing %.0f", target.TrackID, target.Bearing)
		intent.Handoffs = append(intent.Handoffs, core.Handoff{ShipID: target.Observer, Order: "prosecute " + target.TrackID})
	case fs.Mission.TargetWaypoint != nil:
		intent.Summary = "transit to mission waypoint"
	default:
		intent.Summary = "patrol, no contacts held"
	}
	return intent, nil
}

// bestFix picks the most confident belief with an estimated position.
func bestFix(beliefs []Belief) (Belief, bool) {
	fixes := make([]Belief, 0, len(beliefs))
	for _, b := range beliefs {
		if b.EstPos != nil {
			fixes = append(fixes, b)
		}
	}
	if len(fixes) == 0 {
		return Belief{}, false
	}
	sort.SliceStable(fixes, func(i, j int) bool { return fixes[i].Confidence > fixes[j].Confidence })
	return fixes[0], true
}

// ProposeOrders evades when a torpedo is inbound, shoots at a confident
// contact when cleared, and otherwise steers for the objective. A ship that
// has been pinged or counter-detected slows to a quiet speed.
func (s *Stub) ProposeOrders(ctx context.Context, ss ShipSummary, intent core.IntentSlice) (tools.Call, error) {
	if err := ctx.Err(); err != nil {
		return tools.Call{}, err
	}
	self := ss.Self

	if ss.Alert.TorpedoInbound && self.Caps.HasCountermeasures && self.Countermeasures > 0 {
		return call(tools.DeployCountermeasure, map[string]any{"type": core.CountermeasureDecoy}, "torpedo inbound, decoy away")
	}

	if c, ok := strongest(ss.Contacts); ok && c.Confidence >= StubFireConfidence {
		if self.Caps.HasTorpedoes && intent.WeaponsRelease {
			for _, t := range ss.Tubes {
				if t.State == core.TubeDoorsOpen && !t.Busy() && !t.Jammed {
					return call(tools.FireTorpedo, map[string]any{
						"tube":         t.Index,
						"bearing":      c.Bearing,
						"run_depth":    self.Depth,
						"enable_range": 1000,
					}, "engaging "+c.TrackID)
				}
			}
		}
		if self.Caps.HasDepthCharges && self.DepthCharges > 0 && c.RangeKnown && c.Range < StubArrivalRadius {
			return call(tools.DropDepthCharges, map[string]any{
				"spread_meters": 30,
				"minDepth":      40,
				"maxDepth":      120,
				"spreadSize":    4,
			}, "pattern on "+c.TrackID)
		}
	}

	heading, speed := ss.Ordered.Heading, ss.Ordered.Speed
	depth := ss.Ordered.Depth
	summary := "hold course"
	if intent.Objective != nil {
		dest := intent.Objective.Destination
		if core.Distance2D(self.Pos[0], self.Pos[1], dest[0], dest[1]) > StubArrivalRadius {
			heading = core.BearingTo(self.Pos[0], self.Pos[1], dest[0], dest[1])
			summary = "steer for objective"
		} else {
			summary = "on station"
		}
		if intent.Objective.SpeedKn != nil {
			speed = *intent.Objective.SpeedKn
		}
	}
	if self.Caps.Surface {
		depth = 0
	} else if depth < stubMinDepth {
		depth = stubMinDepth
	}
	if ss.Alert.Any() && !self.Caps.Surface && speed > stubQuietKn {
		speed = stubQuietKn
		summary = "detected, going quiet"
	}
	return call(tools.SetNav, map[string]any{"heading": heading, "speed": speed, "depth": depth}, summary)
}

func strongest(contacts []core.Contact) (core.Contact, bool) {
	if len(contacts) == 0 {
		return core.Contact{}, false
	}
	best := contacts[0]
	for _, c := range contacts[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, true
}

func call(tool string, args map[string]any, summary string) (tools.Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return tools.Call{}, fmt.Errorf("marshal %s arguments: %w", tool, err)
	}
	return tools.Call{Tool: tool, Arguments: raw, Summary: summary}, nil
}
