// Package weapons implements the torpedo tube state machine, torpedo
// release, countermeasures and depth charges.
package weapons

import (
	"errors"
	"fmt"
	"math"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/pkg/core"
)

// Base transition durations in seconds, at nominal power and full maintenance.
const (
	LoadTime   = 45.0
	FloodTime  = 8.0
	DoorsTime  = 3.0
	ReloadTime = 10.0
)

// MaintenanceFloor is the tube maintenance level below which tubes jam.
const MaintenanceFloor = 0.2

const powerFloor = 0.2

var (
	ErrUnknownTube       = errors.New("unknown tube")
	ErrTubeBusy          = errors.New("tube busy")
	ErrTubeJammed        = errors.New("tube jammed: maintenance below floor")
	ErrNoTorpedoes       = errors.New("no torpedoes stored")
	ErrInvalidTransition = errors.New("invalid tube transition")
	ErrNoConsent         = errors.New("no valid consent window")
	ErrROE               = errors.New("rules of engagement forbid weapons release")
	ErrNoTubes           = errors.New("platform has no torpedo tubes")
)

type transition struct {
	from     core.TubeState
	to       core.TubeState
	duration float64
}

var transitions = map[core.TubeAction]transition{
	core.TubeActionLoad:       {from: core.TubeEmpty, to: core.TubeLoaded, duration: LoadTime},
	core.TubeActionFlood:      {from: core.TubeLoaded, to: core.TubeFlooded, duration: FloodTime},
	core.TubeActionOpenDoors:  {from: core.TubeFlooded, to: core.TubeDoorsOpen, duration: DoorsTime},
	core.TubeActionCloseDoors: {from: core.TubeDoorsOpen, to: core.TubeFlooded, duration: DoorsTime},
}

// TransientFor returns the noise transient a tube action makes.
func TransientFor(action core.TubeAction) float64 {
	switch action {
	case core.TubeActionLoad:
		return damage.TransientLoad
	case core.TubeActionFlood:
		return damage.TransientFlood
	}
	return damage.TransientDoors
}

// Rate is how many base seconds of tube work complete per real second. It
// scales with weapons power and tube maintenance.
func Rate(s *core.Ship) float64 {
	power := math.Max(powerFloor, math.Min(2, damage.PowerFactor(s.Engineering.Allocation.Weapons)))
	if !s.Systems.Reactor {
		power = powerFloor
	}
	maint := math.Max(MaintenanceFloor, math.Min(1, s.Maintenance.Tubes))
	return power * maint
}

// Duration returns the wall time a transition of base seconds takes on s.
func Duration(s *core.Ship, base float64) float64 {
	return base / Rate(s)
}

func jammed(s *core.Ship) bool {
	return s.Maintenance.Tubes < MaintenanceFloor
}

// Begin starts a timed tube transition. On error the tube is unchanged.
func Begin(s *core.Ship, index int, action core.TubeAction) error {
	if !s.Caps.HasTorpedoes || len(s.Weapons.Tubes) == 0 {
		return ErrNoTubes
	}
	tube, ok := s.Tube(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTube, index)
	}
	tr, ok := transitions[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if tube.Jammed || jammed(s) {
		return ErrTubeJammed
	}
	if tube.Busy() {
		return fmt.Errorf("%w: %s in progress", ErrTubeBusy, tube.Next)
	}
	if tube.State != tr.from {
		return fmt.Errorf("%w: %s requires %s tube, tube is %s", ErrInvalidTransition, action, tr.from, tube.State)
	}
	if action == core.TubeActionLoad {
		if s.Weapons.TorpedoesStored <= 0 {
			return ErrNoTorpedoes
		}
		s.Weapons.TorpedoesStored--
	}
	tube.Next = tr.to
	tube.Remaining = tr.duration
	return nil
}

// Tick advances every tube of s by dt. Tubes jam when maintenance drops
// below the floor; a jammed tube's timer does not run.
func Tick(s *core.Ship, tick uint64, simTime, dt float64) []core.Event {
	var events []core.Event
	rate := Rate(s)
	isJammed := jammed(s)

	for i := range s.Weapons.Tubes {
		tube := &s.Weapons.Tubes[i]
		if isJammed {
			if !tube.Jammed {
				tube.Jammed = true
				tube.JamReason = ErrTubeJammed.Error()
				events = append(events, core.Event{
					Type:    core.EventTubeJammed,
					Tick:    tick,
					SimTime: simTime,
					ShipID:  s.ID,
					Data:    map[string]any{"tube": tube.Index, "maintenance": s.Maintenance.Tubes},
				})
			}
			continue
		}
		tube.Jammed = false
		tube.JamReason = ""

		if tube.Busy() {
			tube.Remaining -= dt * rate
			if tube.Remaining <= 0 {
				tube.State = tube.Next
				tube.Next = ""
				tube.Remaining = 0
			}
			continue
		}

		if !s.AutoTubePrep {
			continue
		}
		if err := autoPrep(s, tube); err == nil {
			tube.Fault = ""
		} else if tube.Fault != err.Error() {
			tube.Fault = err.Error()
			events = append(events, core.Event{
				Type:    core.EventTubeFault,
				Tick:    tick,
				SimTime: simTime,
				ShipID:  s.ID,
				Data:    map[string]any{"tube": tube.Index, "state": string(tube.State), "reason": tube.Fault},
			})
		}
	}
	return events
}

// autoPrep starts the next step toward DoorsOpen. A tube already there, or
// one that has fired, needs nothing.
func autoPrep(s *core.Ship, tube *core.Tube) error {
	var action core.TubeAction
	switch tube.State {
	case core.TubeEmpty:
		action = core.TubeActionLoad
	case core.TubeLoaded:
		action = core.TubeActionFlood
	case core.TubeFlooded:
		action = core.TubeActionOpenDoors
	default:
		return nil
	}
	return Begin(s, tube.Index, action)
}

// Release checks the fire interlocks of a tube. consentOpen and roeAllows
// are evaluated by the caller against the current world state.
func Release(s *core.Ship, index int, consentOpen, roeAllows bool) (*core.Tube, error) {
	if !s.Caps.HasTorpedoes || len(s.Weapons.Tubes) == 0 {
		return nil, ErrNoTubes
	}
	tube, ok := s.Tube(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTube, index)
	}
	if tube.Jammed || jammed(s) {
		return nil, ErrTubeJammed
	}
	if tube.Busy() {
		return nil, fmt.Errorf("%w: %s in progress", ErrTubeBusy, tube.Next)
	}
	if tube.State != core.TubeDoorsOpen {
		return nil, fmt.Errorf("%w: fire requires %s tube, tube is %s", ErrInvalidTransition, core.TubeDoorsOpen, tube.State)
	}
	if !consentOpen {
		return nil, ErrNoConsent
	}
	if !roeAllows {
		return nil, ErrROE
	}
	return tube, nil
}
