// Package damage advances hull integrity, flooding, maintenance, the power
// plant and radiated noise once per tick.
package damage

import (
	"math"

	"github.com/subbridge/simcore/pkg/core"
)

const (
	// FailureThreshold is the maintenance level below which a system stops working.
	FailureThreshold = 0.2
	// MaintenanceDecay is lost by every system each second.
	MaintenanceDecay = 0.002
	// MaintenanceRepair is regained each second at nominal engineering power.
	MaintenanceRepair = 0.01

	floodingDamage  = 0.002
	floodingSelf    = 0.002
	floodingPumped  = 0.02
	batteryDrain    = 0.002
	batteryRecharge = 0.0005
	nominalShare    = 0.25
)

// NominalAllocation splits power evenly between the four stations.
func NominalAllocation() core.PowerAllocation {
	return core.PowerAllocation{Helm: nominalShare, Sonar: nominalShare, Weapons: nominalShare, Engineering: nominalShare}
}

// PowerFactor is a station's allocation relative to the nominal share.
func PowerFactor(alloc float64) float64 {
	return alloc / nominalShare
}

// ApplyHit adds hull damage from a detonation. Sensors, propulsion and every
// system's maintenance take a share of it.
func ApplyHit(s *core.Ship, amount float64) {
	if amount <= 0 || s.Destroyed {
		return
	}
	s.Damage.Hull = core.Clamp(s.Damage.Hull+amount, 0, 1)
	s.Damage.Sensors = core.Clamp(s.Damage.Sensors+0.5*amount, 0, 1)
	s.Damage.Propulsion = core.Clamp(s.Damage.Propulsion+0.3*amount, 0, 1)
	s.Damage.Flooding = core.Clamp(s.Damage.Flooding+amount, 0, 1)
	for _, sys := range core.Systems {
		s.Maintenance.Set(sys, core.Clamp(s.Maintenance.Level(sys)-0.5*amount, 0, 1))
	}
}

// Step advances maintenance, flooding and the plant of s by dt seconds.
func Step(s *core.Ship, tick uint64, simTime, dt float64) []core.Event {
	if s.Destroyed || dt <= 0 {
		return nil
	}

	repair := MaintenanceRepair * math.Min(2, PowerFactor(s.Engineering.Allocation.Engineering))
	if !s.Systems.Reactor {
		repair *= 0.5
	}
	for _, sys := range core.Systems {
		level := s.Maintenance.Level(sys) + (repair-MaintenanceDecay)*dt
		s.Maintenance.Set(sys, core.Clamp(level, 0, 1))
	}
	s.Systems = core.SystemStatus{
		Rudder:  s.Maintenance.Rudder >= FailureThreshold,
		Ballast: s.Maintenance.Ballast >= FailureThreshold,
		Sonar:   s.Maintenance.Sonar >= FailureThreshold,
		Tubes:   s.Maintenance.Tubes >= FailureThreshold,
		Pumps:   s.Maintenance.Pumps >= FailureThreshold,
		Reactor: s.Maintenance.Reactor >= FailureThreshold,
	}

	if s.Damage.Flooding > 0 {
		s.Damage.Hull = core.Clamp(s.Damage.Hull+s.Damage.Flooding*floodingDamage*dt, 0, 1)
		drain := floodingSelf
		if s.Engineering.BilgePumps && s.Systems.Pumps {
			drain = floodingPumped
		}
		s.Damage.Flooding = math.Max(0, s.Damage.Flooding-drain*dt)
	}

	if s.Systems.Reactor {
		s.Engineering.Battery = core.Clamp(s.Engineering.Battery+batteryRecharge*dt, 0, 1)
	} else if s.Hull.MaxSpeed > 0 {
		s.Engineering.Battery = core.Clamp(s.Engineering.Battery-batteryDrain*dt*(0.2+s.Kin.Speed/s.Hull.MaxSpeed), 0, 1)
	}

	if s.Damage.Hull >= 1 {
		s.Destroyed = true
		s.Ordered.Speed = 0
		return []core.Event{{
			Type:    core.EventShipDestroyed,
			Tick:    tick,
			SimTime: simTime,
			ShipID:  s.ID,
		}}
	}
	return nil
}
