package sim

import (
	"fmt"
	"math"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/internal/weapons"
	"github.com/subbridge/simcore/pkg/core"
)

// Transient durations in seconds.
const (
	launchTransient = 3.0
	tubeTransient   = 2.0
	decoyTransient  = 2.0
)

// Apply executes cmds in order against the current state. A command that
// cannot take effect leaves the world unchanged and is recorded as a
// rejection. It returns the number of commands applied.
func (w *World) Apply(cmds []core.Command) int {
	applied := 0
	for _, cmd := range cmds {
		if reason := w.apply(cmd); reason != "" {
			w.reject(cmd, reason)
			continue
		}
		applied++
	}
	return applied
}

func (w *World) apply(cmd core.Command) string {
	if cmd.Kind == core.CmdConsent {
		return w.applyConsent(cmd)
	}
	s, ok := w.byID[cmd.ShipID]
	if !ok {
		return fmt.Sprintf("unknown ship %q", cmd.ShipID)
	}
	if s.Destroyed {
		return "ship destroyed"
	}

	switch cmd.Kind {
	case core.CmdSetNav:
		if cmd.Nav == nil {
			return "missing nav payload"
		}
		s.Ordered = ClampNav(s, *cmd.Nav)
		return ""

	case core.CmdFireTorpedo:
		if cmd.Fire == nil {
			return "missing fire payload"
		}
		if w.cfg.ROE != nil {
			if err := w.cfg.ROE.AllowFire(s, *cmd.Fire); err != nil {
				return err.Error()
			}
		}
		id := w.nextID("torp")
		torp, err := weapons.Fire(s, *cmd.Fire, w.consentOpen(s.Side), true, id)
		if err != nil {
			return err.Error()
		}
		w.torpedoes = append(w.torpedoes, torp)
		w.noise.Impulse(s.ID, damage.TransientLaunch, launchTransient, w.simTime)
		w.emit(core.Event{
			Type:    core.EventTorpedoLaunched,
			Tick:    w.tick,
			SimTime: w.simTime,
			ShipID:  s.ID,
			Data: map[string]any{
				"torpedo":  id,
				"tube":     cmd.Fire.Tube,
				"bearing":  torp.Commanded,
				"runDepth": torp.RunDepth,
				"origin":   string(cmd.Source.Origin),
			},
		})
		return ""

	case core.CmdDeployCountermeasure:
		if cmd.Countermeasure == nil {
			return "missing countermeasure payload"
		}
		d, err := weapons.DeployCountermeasure(s, cmd.Countermeasure.Type, w.simTime, w.nextID("cm"))
		if err != nil {
			return err.Error()
		}
		w.decoys = append(w.decoys, d)
		w.noise.Impulse(s.ID, damage.TransientDecoyLaunch, decoyTransient, w.simTime)
		w.emit(core.Event{
			Type:    core.EventCountermeasure,
			Tick:    w.tick,
			SimTime: w.simTime,
			ShipID:  s.ID,
			Data:    map[string]any{"decoy": d.ID, "type": d.Type},
		})
		return ""

	case core.CmdDropDepthCharges:
		if cmd.DepthCharges == nil {
			return "missing depth charge payload"
		}
		charges, err := weapons.DropDepthCharges(s, *cmd.DepthCharges, w.simTime, w.rng, func() string { return w.nextID("dc") })
		if err != nil {
			return err.Error()
		}
		w.charges = append(w.charges, charges...)
		return ""

	case core.CmdTube:
		if cmd.Tube == nil {
			return "missing tube payload"
		}
		if err := weapons.Begin(s, cmd.Tube.Tube, cmd.Tube.Action); err != nil {
			return err.Error()
		}
		w.noise.Impulse(s.ID, weapons.TransientFor(cmd.Tube.Action), tubeTransient, w.simTime)
		return ""

	case core.CmdActivePing:
		events, reason := w.sonar.Ping(s, w.ships, w.tick, w.simTime)
		if reason != "" {
			return reason
		}
		w.emit(events...)
		return ""

	case core.CmdPower:
		if cmd.Power == nil {
			return "missing power payload"
		}
		a := cmd.Power.Allocation
		if a.Helm < 0 || a.Sonar < 0 || a.Weapons < 0 || a.Engineering < 0 {
			return "power allocation must not be negative"
		}
		if a.Total() > 1+1e-9 {
			return fmt.Sprintf("power allocation %.2f exceeds 1.0", a.Total())
		}
		s.Engineering.Allocation = a
		return ""

	case core.CmdReactor:
		if cmd.Reactor == nil {
			return "missing reactor payload"
		}
		s.Engineering.ReactorOutput = core.Clamp(cmd.Reactor.Output, 0, 1)
		return ""

	case core.CmdPump:
		if cmd.Pump == nil {
			return "missing pump payload"
		}
		switch cmd.Pump.Pump {
		case core.PumpBallast:
			s.Engineering.BallastBoost = cmd.Pump.On
		case core.PumpBilge:
			s.Engineering.BilgePumps = cmd.Pump.On
		default:
			return fmt.Sprintf("unknown pump %q", cmd.Pump.Pump)
		}
		return ""

	case core.CmdMast:
		if cmd.Mast == nil {
			return "missing mast payload"
		}
		if s.Caps.Surface {
			return "surface ships have no masts"
		}
		switch cmd.Mast.Mast {
		case core.MastPeriscope:
			s.Engineering.PeriscopeUp = cmd.Mast.Raised
		case core.MastRadio:
			s.Engineering.RadioMastUp = cmd.Mast.Raised
		default:
			return fmt.Sprintf("unknown mast %q", cmd.Mast.Mast)
		}
		return ""
	}
	return fmt.Sprintf("unknown command kind %q", cmd.Kind)
}

func (w *World) applyConsent(cmd core.Command) string {
	if cmd.Consent == nil {
		return "missing consent payload"
	}
	side := cmd.Consent.Side
	if side != core.SideBlue && side != core.SideRed {
		return fmt.Sprintf("unknown side %q", side)
	}
	until := 0.0
	if cmd.Consent.Granted {
		window := cmd.Consent.Duration
		if window <= 0 {
			window = DefaultConsentWindow
		}
		until = w.simTime + window
	}
	w.consent[side] = until
	w.emit(core.Event{
		Type:    core.EventConsentChanged,
		Tick:    w.tick,
		SimTime: w.simTime,
		Data:    map[string]any{"side": string(side), "granted": cmd.Consent.Granted, "until": until},
	})
	return ""
}

// ClampNav limits a helm order to what s can do: heading wraps into
// [0,360), speed into [0, top speed], depth into [0, hull depth]. Surface
// ships are pinned to depth 0.
func ClampNav(s *core.Ship, nav core.NavOrder) core.Orders {
	maxDepth := s.Hull.MaxDepth
	if s.Caps.Surface {
		maxDepth = 0
	}
	return core.Orders{
		Heading: core.NormalizeHeading(finite(nav.Heading, s.Ordered.Heading)),
		Speed:   core.Clamp(finite(nav.Speed, s.Ordered.Speed), 0, s.Hull.MaxSpeed),
		Depth:   core.Clamp(finite(nav.Depth, s.Ordered.Depth), 0, maxDepth),
	}
}

func finite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
