package damage

import (
	"math"

	"github.com/subbridge/simcore/internal/physics"
	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/pkg/core"
)

// DefaultNoiseThreshold is the radiated level that raises a noise event.
const DefaultNoiseThreshold = 135.0

// Transient levels in dB and durations in seconds.
const (
	TransientFlood       = 120.0
	TransientDoors       = 115.0
	TransientLaunch      = 140.0
	TransientLoad        = 112.0
	TransientDecoyLaunch = 125.0
	TransientPumps       = 108.0
)

type impulse struct {
	level   float64
	expires float64
}

// NoiseTracker sums the radiated level of each ship with its short-lived
// transients and flags threshold crossings.
type NoiseTracker struct {
	threshold float64
	impulses  map[string][]impulse
	above     map[string]bool
}

// NewNoiseTracker creates a tracker. A non-positive threshold uses the default.
func NewNoiseTracker(threshold float64) *NoiseTracker {
	if threshold <= 0 {
		threshold = DefaultNoiseThreshold
	}
	return &NoiseTracker{
		threshold: threshold,
		impulses:  make(map[string][]impulse),
		above:     make(map[string]bool),
	}
}

// Impulse records a transient of level dB lasting duration seconds.
func (n *NoiseTracker) Impulse(shipID string, level, duration, simTime float64) {
	n.impulses[shipID] = append(n.impulses[shipID], impulse{level: level, expires: simTime + duration})
}

// SumDB adds levels in the power domain.
func SumDB(levels ...float64) float64 {
	var p float64
	for _, l := range levels {
		p += math.Pow(10, l/10)
	}
	if p == 0 {
		return 0
	}
	return 10 * math.Log10(p)
}

// Update recomputes NoiseDB and the transient penalty of every ship and
// returns an event for each ship that has just crossed the threshold.
func (n *NoiseTracker) Update(ships []*core.Ship, tick uint64, simTime float64) []core.Event {
	var events []core.Event
	for _, s := range ships {
		live := n.impulses[s.ID][:0]
		for _, imp := range n.impulses[s.ID] {
			if simTime < imp.expires {
				live = append(live, imp)
			}
		}
		n.impulses[s.ID] = live

		cavSpeed := physics.CavitationSpeed(s.Kin.Depth)
		s.Cavitating = physics.Cavitating(s.Kin)
		base := sonar.SourceLevel(s.Acoustics.SourceLevels, s.Kin.Speed, s.Cavitating, cavSpeed)

		levels := []float64{base}
		for _, imp := range live {
			levels = append(levels, imp.level)
		}
		if s.Engineering.BilgePumps || s.Engineering.BallastBoost {
			levels = append(levels, TransientPumps)
		}
		total := SumDB(levels...)
		s.NoiseDB = total
		s.Acoustics.NoisePenalty = total - base

		if total > n.threshold && !n.above[s.ID] {
			events = append(events, core.Event{
				Type:    core.EventNoiseThresholdExceeded,
				Tick:    tick,
				SimTime: simTime,
				ShipID:  s.ID,
				Data:    map[string]any{"level": total, "threshold": n.threshold},
			})
		}
		n.above[s.ID] = total > n.threshold
	}
	return events
}
