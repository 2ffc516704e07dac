// Package guidance flies running torpedoes: phase progression, seeker
// acquisition, proportional navigation, arming, fuzing and the launcher
// safety envelope.
package guidance

import (
	"math"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/internal/physics"
	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/internal/weapons"
	"github.com/subbridge/simcore/pkg/core"
)

const (
	// NavigationGain is the proportional navigation constant N.
	NavigationGain = 3.0

	DangerRange     = 400.0
	DangerHalfAngle = 20.0

	defaultArmTime       = 5.0
	defaultFuzeRadius    = 25.0
	defaultTurnRate      = 20.0
	defaultHalfCone      = 35.0
	defaultPassiveRange  = 6000.0
	defaultActiveRange   = 2500.0
	defaultTerminalRange = 600.0
	defaultWarhead       = 0.6
)

// spec fills unset torpedo parameters with defaults.
func spec(s core.TorpedoSpec) core.TorpedoSpec {
	if s.ArmTime <= 0 {
		s.ArmTime = defaultArmTime
	}
	if s.FuzeRadius <= 0 {
		s.FuzeRadius = defaultFuzeRadius
	}
	if s.MaxTurnRate <= 0 {
		s.MaxTurnRate = defaultTurnRate
	}
	if s.SeekerHalfCone <= 0 {
		s.SeekerHalfCone = defaultHalfCone
	}
	if s.PassiveRange <= 0 {
		s.PassiveRange = defaultPassiveRange
	}
	if s.ActiveRange <= 0 {
		s.ActiveRange = defaultActiveRange
	}
	if s.TerminalRange <= 0 {
		s.TerminalRange = defaultTerminalRange
	}
	if s.Warhead <= 0 {
		s.Warhead = defaultWarhead
	}
	return s
}

// Engine steps torpedoes against the world for one tick.
type Engine struct {
	env sonar.Environment
}

// New returns a guidance engine for the given acoustic environment.
func New(env sonar.Environment) *Engine {
	return &Engine{env: env}
}

// echo is something a seeker can hold: a hull or a decoy.
type echo struct {
	x, y, depth float64
	level       float64
	reflects    bool
}

func (g *Engine) echoes(t *core.Torpedo, ships []*core.Ship, decoys []core.Decoy) []echo {
	out := make([]echo, 0, len(ships)+len(decoys))
	for _, s := range ships {
		if s.Destroyed || s.ID == t.LauncherID {
			continue
		}
		level := s.NoiseDB
		if level <= 0 {
			level = sonar.ShipSourceLevel(s)
		}
		out = append(out, echo{x: s.Kin.X, y: s.Kin.Y, depth: s.Kin.Depth, level: level, reflects: true})
	}
	for _, d := range decoys {
		out = append(out, echo{x: d.X, y: d.Y, depth: d.Depth, level: d.SourceLevel, reflects: d.Type == core.CountermeasureDecoy})
	}
	return out
}

// acquire returns the bearing and range of the contact the seeker holds.
func (g *Engine) acquire(t *core.Torpedo, sp core.TorpedoSpec, echoes []echo) (bearing, rng float64, ok bool) {
	best := math.Inf(-1)
	nearest := math.Inf(1)
	for _, e := range echoes {
		r := core.Distance3D(t.Kin.X, t.Kin.Y, t.Kin.Depth, e.x, e.y, e.depth)
		brg := core.BearingTo(t.Kin.X, t.Kin.Y, e.x, e.y)
		if math.Abs(core.HeadingDiff(t.Kin.Heading, brg)) > sp.SeekerHalfCone {
			continue
		}
		switch t.Seeker {
		case core.SeekerActive:
			if !e.reflects || r > sp.ActiveRange || r >= nearest {
				continue
			}
			nearest = r
		default:
			if r > sp.PassiveRange {
				continue
			}
			snr := g.env.SNR(e.level, r, 0, t.Kin.Depth, e.depth, 0)
			if sonar.Detectability(snr) < sonar.DetectFloor || snr <= best {
				continue
			}
			best = snr
		}
		bearing, rng, ok = brg, r, true
	}
	return bearing, rng, ok
}

// launcherInDanger reports whether the launcher sits inside the sector ahead
// of the torpedo in which a detonation or homing would threaten it.
func launcherInDanger(t *core.Torpedo, ships []*core.Ship) bool {
	for _, s := range ships {
		if s.ID != t.LauncherID || s.Destroyed {
			continue
		}
		r := core.Distance2D(t.Kin.X, t.Kin.Y, s.Kin.X, s.Kin.Y)
		if r > DangerRange {
			return false
		}
		if r < 1 {
			return true
		}
		brg := core.BearingTo(t.Kin.X, t.Kin.Y, s.Kin.X, s.Kin.Y)
		return math.Abs(core.HeadingDiff(t.Kin.Heading, brg)) <= DangerHalfAngle
	}
	return false
}

func event(typ core.EventType, t *core.Torpedo, tick uint64, simTime float64, data map[string]any) core.Event {
	if data == nil {
		data = map[string]any{}
	}
	data["torpedo"] = t.ID
	return core.Event{Type: typ, Tick: tick, SimTime: simTime, ShipID: t.LauncherID, Data: data}
}

// Step advances t by dt. Ships hit by the warhead are damaged in place.
func (g *Engine) Step(t *core.Torpedo, ships []*core.Ship, decoys []core.Decoy, tick uint64, simTime, dt float64) []core.Event {
	if t.Done() || dt <= 0 {
		return nil
	}
	sp := spec(t.Spec)

	t.RunTime += dt
	if t.RunTime >= sp.MaxRunTime && sp.MaxRunTime > 0 {
		t.Phase = core.PhaseExpired
		return []core.Event{event(core.EventTorpedoExpired, t, tick, simTime, map[string]any{"runTime": t.RunTime})}
	}

	if launcherInDanger(t, ships) {
		if t.Armed {
			t.Phase = core.PhaseDetonated
			return []core.Event{event(core.EventTorpedoSelfDestruct, t, tick, simTime, nil)}
		}
		t.Inhibited = true
	} else {
		t.Inhibited = false
	}

	run := t.DistanceRun()
	if !t.Armed && run >= t.EnableRange && t.RunTime >= sp.ArmTime {
		t.Armed = true
	}
	if t.Phase == core.PhaseTransit && run >= t.EnableRange {
		t.Phase = core.PhaseSeeking
		if t.Doctrine == weapons.DoctrineActive {
			t.Seeker = core.SeekerActive
		}
	}

	if t.Phase != core.PhaseTransit && !t.Inhibited {
		g.home(t, sp, g.echoes(t, ships, decoys), dt)
	}

	physics.Step(&t.Kin, core.Orders{Heading: t.Commanded, Speed: sp.SpeedKn, Depth: t.RunDepth}, physics.TorpedoLimits(sp), dt)

	if !t.Armed || t.Inhibited {
		return nil
	}
	return g.fuze(t, sp, ships, decoys, tick, simTime)
}

// home runs the seeker and sets the commanded heading by proportional
// navigation on the tracked bearing.
func (g *Engine) home(t *core.Torpedo, sp core.TorpedoSpec, echoes []echo, dt float64) {
	if t.Seeker == core.SeekerLost {
		t.Seeker = core.SeekerActive
	}
	bearing, rng, ok := g.acquire(t, sp, echoes)
	if !ok {
		if t.Tracking && t.Phase == core.PhaseSeeking && t.Seeker == core.SeekerPassive {
			// passive track lost: go terminal and ping
			t.Phase = core.PhaseTerminal
			t.Seeker = core.SeekerActive
		} else if t.Phase == core.PhaseTerminal {
			t.Seeker = core.SeekerLost
		}
		t.Tracking = false
		return
	}

	if t.Phase == core.PhaseSeeking && rng <= sp.TerminalRange {
		t.Phase = core.PhaseTerminal
		t.Seeker = core.SeekerActive
	}

	if !t.Tracking {
		t.Commanded = bearing
	} else {
		rate := core.HeadingDiff(t.TrackBearing, bearing) / dt
		turn := core.Clamp(NavigationGain*rate, -sp.MaxTurnRate, sp.MaxTurnRate)
		t.Commanded = core.NormalizeHeading(t.Commanded + turn*dt)
	}
	t.Tracking = true
	t.TrackBearing = bearing
	t.TrackRange = rng
}

func (g *Engine) fuze(t *core.Torpedo, sp core.TorpedoSpec, ships []*core.Ship, decoys []core.Decoy, tick uint64, simTime float64) []core.Event {
	for _, s := range ships {
		if s.Destroyed {
			continue
		}
		r := core.Distance3D(t.Kin.X, t.Kin.Y, t.Kin.Depth, s.Kin.X, s.Kin.Y, s.Kin.Depth)
		if r > sp.FuzeRadius {
			continue
		}
		t.Phase = core.PhaseDetonated
		damage.ApplyHit(s, sp.Warhead*(1-0.5*r/sp.FuzeRadius))
		return []core.Event{event(core.EventTorpedoDetonated, t, tick, simTime, map[string]any{"hit": s.ID, "distance": r})}
	}
	for _, d := range decoys {
		r := core.Distance3D(t.Kin.X, t.Kin.Y, t.Kin.Depth, d.X, d.Y, d.Depth)
		if r <= sp.FuzeRadius {
			t.Phase = core.PhaseDetonated
			return []core.Event{event(core.EventTorpedoDetonated, t, tick, simTime, map[string]any{"decoy": d.ID, "distance": r})}
		}
	}
	return nil
}
