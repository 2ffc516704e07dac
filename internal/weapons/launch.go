package weapons

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/pkg/core"
)

// Doctrines a torpedo can be launched with.
const (
	DoctrinePassive = "passive"
	DoctrineActive  = "active"
)

// Countermeasure and depth charge constants.
const (
	CountermeasureCooldown = 15.0
	DecoyLifetime          = 30.0
	NoisemakerLevel        = 150.0
	DecoyLevel             = 142.0

	DepthChargeCooldown   = 2.0
	DepthChargeSinkRate   = 5.0
	DepthChargeLethal     = 30.0
	DepthChargeDamage     = 0.35
	DepthChargeArming     = 10.0
	MinDepthChargeDepth   = 15.0
	MaxDepthChargeDepth   = 300.0
	MaxDepthChargeSpread  = 10
	MaxDepthChargeSpacing = 200.0
	DefaultChargeSpacing  = 20.0
)

var (
	ErrNoCountermeasures = errors.New("no countermeasures stored")
	ErrNoDepthCharges    = errors.New("no depth charges stored")
	ErrCooldown          = errors.New("launcher cooling down")
	ErrUnsupported       = errors.New("platform lacks capability")
)

// Fire releases a torpedo from a DoorsOpen tube. The torpedo leaves on the
// ship's heading and is commanded onto order.Bearing; it carries no target.
func Fire(s *core.Ship, order core.FireOrder, consentOpen, roeAllows bool, id string) (core.Torpedo, error) {
	tube, err := Release(s, order.Tube, consentOpen, roeAllows)
	if err != nil {
		return core.Torpedo{}, err
	}
	spec := s.Weapons.Torpedo
	doctrine := order.Doctrine
	if doctrine != DoctrineActive {
		doctrine = DoctrinePassive
	}

	torp := core.Torpedo{
		ID:         id,
		LauncherID: s.ID,
		Side:       s.Side,
		Kin: core.Kinematics{
			X:       s.Kin.X,
			Y:       s.Kin.Y,
			Depth:   s.Kin.Depth,
			Heading: s.Kin.Heading,
			Speed:   spec.SpeedKn,
		},
		Spec:        spec,
		Phase:       core.PhaseTransit,
		Seeker:      core.SeekerPassive,
		Doctrine:    doctrine,
		RunDepth:    core.Clamp(order.RunDepth, 0, spec.MaxDepth),
		EnableRange: math.Max(spec.MinEnable, order.EnableRange),
		LaunchX:     s.Kin.X,
		LaunchY:     s.Kin.Y,
		Commanded:   core.NormalizeHeading(order.Bearing),
	}

	tube.State = core.TubeFired
	tube.Next = core.TubeEmpty
	tube.Remaining = ReloadTime
	tube.LastTorpedoID = id
	return torp, nil
}

// DeployCountermeasure launches a noisemaker or decoy from s.
func DeployCountermeasure(s *core.Ship, kind string, simTime float64, id string) (core.Decoy, error) {
	if !s.Caps.HasCountermeasures {
		return core.Decoy{}, fmt.Errorf("%w: countermeasures", ErrUnsupported)
	}
	if s.Weapons.Countermeasures <= 0 {
		return core.Decoy{}, ErrNoCountermeasures
	}
	if simTime < s.Weapons.CountermeasureReadyAt {
		return core.Decoy{}, fmt.Errorf("%w: %.1fs left", ErrCooldown, s.Weapons.CountermeasureReadyAt-simTime)
	}
	level := NoisemakerLevel
	switch kind {
	case core.CountermeasureNoisemaker:
	case core.CountermeasureDecoy:
		level = DecoyLevel
	default:
		return core.Decoy{}, fmt.Errorf("unknown countermeasure type %q", kind)
	}

	s.Weapons.Countermeasures--
	s.Weapons.CountermeasureReadyAt = simTime + CountermeasureCooldown
	return core.Decoy{
		ID:          id,
		OwnerID:     s.ID,
		Type:        kind,
		X:           s.Kin.X,
		Y:           s.Kin.Y,
		Depth:       s.Kin.Depth,
		SourceLevel: level,
		ExpiresAt:   simTime + DecoyLifetime,
	}, nil
}

// PruneDecoys drops expired decoys in place.
func PruneDecoys(decoys []core.Decoy, simTime float64) []core.Decoy {
	live := decoys[:0]
	for _, d := range decoys {
		if simTime < d.ExpiresAt {
			live = append(live, d)
		}
	}
	return live
}

// ClampDepthChargeOrder fits order to the launcher of s: spacing into
// (0, MaxDepthChargeSpacing], depths into [MinDepthChargeDepth,
// MaxDepthChargeDepth] with max >= min, and the pattern size into
// [1, min(MaxDepthChargeSpread, stored)]. Every change is reported.
func ClampDepthChargeOrder(s *core.Ship, order core.DepthChargeOrder) (core.DepthChargeOrder, []core.ClampAction) {
	var clamps []core.ClampAction
	note := func(field string, requested, applied float64, reason string) {
		if requested != applied && !(math.IsNaN(requested) && math.IsNaN(applied)) {
			clamps = append(clamps, core.ClampAction{Field: field, Requested: requested, Applied: applied, Reason: reason})
		}
	}

	spacing := order.SpreadMeters
	if !(spacing > 0) {
		spacing = DefaultChargeSpacing
	}
	spacing = math.Min(spacing, MaxDepthChargeSpacing)
	note("spread_meters", order.SpreadMeters, spacing, "spread limits")

	lo := core.Clamp(nanTo(order.MinDepth, MinDepthChargeDepth), MinDepthChargeDepth, MaxDepthChargeDepth)
	hi := core.Clamp(nanTo(order.MaxDepth, lo), lo, MaxDepthChargeDepth)
	note("minDepth", order.MinDepth, lo, "charge depth limits")
	note("maxDepth", order.MaxDepth, hi, "charge depth limits")

	limit := max(1, min(MaxDepthChargeSpread, s.Weapons.DepthCharges))
	count := core.Clamp(float64(order.SpreadSize), 1, float64(limit))
	note("spreadSize", float64(order.SpreadSize), count, fmt.Sprintf("limited to [1,%d]", limit))

	return core.DepthChargeOrder{SpreadMeters: spacing, MinDepth: lo, MaxDepth: hi, SpreadSize: int(count)}, clamps
}

func nanTo(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}

// DropDepthCharges rolls a pattern of charges around s after clamping order
// to the launcher limits. Each charge picks a detonation depth uniformly in
// [MinDepth, MaxDepth] and cannot hurt s before DepthChargeArming seconds.
func DropDepthCharges(s *core.Ship, order core.DepthChargeOrder, simTime float64, rng *rand.Rand, newID func() string) ([]core.DepthCharge, error) {
	if !s.Caps.HasDepthCharges {
		return nil, fmt.Errorf("%w: depth charges", ErrUnsupported)
	}
	if s.Weapons.DepthCharges <= 0 {
		return nil, ErrNoDepthCharges
	}
	if simTime < s.Weapons.DepthChargeReadyAt {
		return nil, fmt.Errorf("%w: %.1fs left", ErrCooldown, s.Weapons.DepthChargeReadyAt-simTime)
	}

	order, _ = ClampDepthChargeOrder(s, order)
	n := order.SpreadSize
	charges := make([]core.DepthCharge, 0, n)
	for i := range n {
		x, y := s.Kin.X, s.Kin.Y
		if n > 1 {
			angle := float64(i) * 2 * math.Pi / float64(n)
			x += math.Sin(angle) * order.SpreadMeters / 2
			y += math.Cos(angle) * order.SpreadMeters / 2
		}
		target := order.MinDepth
		if order.MaxDepth > order.MinDepth {
			target += rng.Float64() * (order.MaxDepth - order.MinDepth)
		}
		charges = append(charges, core.DepthCharge{
			ID:          newID(),
			OwnerID:     s.ID,
			X:           x,
			Y:           y,
			Depth:       0,
			TargetDepth: target,
			ArmedAt:     simTime + DepthChargeArming,
		})
	}
	s.Weapons.DepthCharges -= n
	s.Weapons.DepthChargeReadyAt = simTime + DepthChargeCooldown
	return charges, nil
}

// StepDepthCharges sinks every charge by dt and detonates those that reach
// their depth. Ships inside the lethal radius take damage falling off with
// distance; the dropping ship is spared until the charge is armed.
func StepDepthCharges(charges []core.DepthCharge, ships []*core.Ship, tick uint64, simTime, dt float64) ([]core.DepthCharge, []core.Event) {
	var events []core.Event
	live := charges[:0]
	for _, c := range charges {
		c.Depth = math.Min(c.TargetDepth, c.Depth+DepthChargeSinkRate*dt)
		if c.Depth < c.TargetDepth {
			live = append(live, c)
			continue
		}
		var hits []string
		for _, s := range ships {
			if s.Destroyed || (s.ID == c.OwnerID && simTime < c.ArmedAt) {
				continue
			}
			dist := core.Distance3D(c.X, c.Y, c.Depth, s.Kin.X, s.Kin.Y, s.Kin.Depth)
			if dist > DepthChargeLethal {
				continue
			}
			damage.ApplyHit(s, DepthChargeDamage*(1-dist/DepthChargeLethal))
			hits = append(hits, s.ID)
		}
		events = append(events, core.Event{
			Type:    core.EventDepthChargeDetonated,
			Tick:    tick,
			SimTime: simTime,
			ShipID:  c.OwnerID,
			Data:    map[string]any{"charge": c.ID, "depth": c.Depth, "hits": hits},
		})
	}
	return live, events
}
