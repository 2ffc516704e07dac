// Package physics integrates platform and weapon motion.
package physics

import (
	"math"

	"github.com/subbridge/simcore/pkg/core"
)

// Depth change rates in m/s.
const (
	DepthRate        = 3.0
	DepthRateBoosted = 6.0
	DepthRateFailed  = 0.5
	torpedoDepthRate = 10.0
)

// BatterySpeedFraction caps top speed when the reactor is down.
const BatterySpeedFraction = 0.3

// Limits are the rate and envelope limits in force for one step.
type Limits struct {
	MaxSpeed  float64
	MaxDepth  float64
	TurnRate  float64
	Accel     float64
	Decel     float64
	DepthRate float64
	CanTurn   bool
}

// CavitationSpeed is the speed in knots above which the screw cavitates at depth.
func CavitationSpeed(depth float64) float64 {
	return core.Clamp(0.08*depth+5, 5, 30)
}

// Cavitating reports whether a body at k is cavitating.
func Cavitating(k core.Kinematics) bool {
	return k.Speed > CavitationSpeed(k.Depth)
}

// ShipLimits derives the limits of s from its hull, damage, systems and plant.
func ShipLimits(s *core.Ship) Limits {
	hull := core.Clamp(s.Damage.Hull, 0, 1)
	lim := Limits{
		MaxSpeed:  s.Hull.MaxSpeed * math.Max(0.1, 1-hull),
		MaxDepth:  s.Hull.MaxDepth,
		TurnRate:  s.Hull.TurnRate * math.Max(0.3, 1-hull),
		Accel:     s.Hull.Accel * math.Max(0.2, 1-hull),
		Decel:     s.Hull.Decel,
		DepthRate: DepthRate,
		CanTurn:   s.Systems.Rudder,
	}

	if s.Damage.Propulsion > 0 {
		lim.MaxSpeed *= math.Max(0.1, 1-s.Damage.Propulsion)
	}
	if s.Systems.Reactor {
		lim.MaxSpeed *= core.Clamp(s.Engineering.ReactorOutput, 0, 1)
	} else if s.Engineering.Battery > 0 {
		lim.MaxSpeed *= BatterySpeedFraction
	} else {
		lim.MaxSpeed = 0
	}

	switch {
	case s.Caps.Surface:
		lim.MaxDepth = 0
	case !s.Systems.Ballast:
		lim.DepthRate = DepthRateFailed
	case s.Engineering.BallastBoost && s.Systems.Pumps:
		lim.DepthRate = DepthRateBoosted
	}
	return lim
}

// TorpedoLimits returns the envelope of a running torpedo. Torpedoes run at
// fixed speed so acceleration is effectively unbounded.
func TorpedoLimits(spec core.TorpedoSpec) Limits {
	return Limits{
		MaxSpeed:  spec.SpeedKn,
		MaxDepth:  spec.MaxDepth,
		TurnRate:  spec.MaxTurnRate,
		Accel:     math.Inf(1),
		Decel:     math.Inf(1),
		DepthRate: torpedoDepthRate,
		CanTurn:   true,
	}
}

// Step moves k toward the ordered values for dt seconds without exceeding lim.
func Step(k *core.Kinematics, ordered core.Orders, lim Limits, dt float64) {
	if dt <= 0 {
		return
	}

	if lim.CanTurn {
		maxTurn := lim.TurnRate * dt
		diff := core.HeadingDiff(k.Heading, ordered.Heading)
		k.Heading = core.NormalizeHeading(k.Heading + core.Clamp(diff, -maxTurn, maxTurn))
	}

	target := core.Clamp(ordered.Speed, 0, lim.MaxSpeed)
	if target > k.Speed {
		k.Speed = math.Min(target, k.Speed+lim.Accel*dt)
	} else {
		k.Speed = math.Max(target, k.Speed-lim.Decel*dt)
	}

	depthTarget := core.Clamp(ordered.Depth, 0, lim.MaxDepth)
	maxDive := lim.DepthRate * dt
	k.Depth += core.Clamp(depthTarget-k.Depth, -maxDive, maxDive)
	if k.Depth < 0 {
		k.Depth = 0
	}

	v := k.Speed * core.KnotsToMS
	rad := k.Heading * math.Pi / 180
	k.X += math.Sin(rad) * v * dt
	k.Y += math.Cos(rad) * v * dt
}
