package ai

import (
	"sort"

	"github.com/subbridge/simcore/internal/engine"
	"github.com/subbridge/simcore/internal/geo"
	"github.com/subbridge/simcore/internal/tools"
	"github.com/subbridge/simcore/pkg/core"
)

func ownShip(s core.Ship, simTime float64) engine.OwnShip {
	ready := 0
	for _, t := range s.Weapons.Tubes {
		if t.State == core.TubeDoorsOpen && !t.Busy() && !t.Jammed {
			ready++
		}
	}
	return engine.OwnShip{
		ID:              s.ID,
		Class:           s.Class,
		Pos:             [2]float64{s.Kin.X, s.Kin.Y},
		Depth:           s.Kin.Depth,
		Heading:         s.Kin.Heading,
		Speed:           s.Kin.Speed,
		Health:          s.Damage.Health(),
		TubesReady:      ready,
		Torpedoes:       s.Weapons.TorpedoesStored,
		Countermeasures: s.Weapons.Countermeasures,
		DepthCharges:    s.Weapons.DepthCharges,
		Noise:           s.NoiseDB,
		Cavitating:      s.Cavitating,
		Caps:            s.Caps,
		Alert:           s.Alert.Active(simTime),
	}
}

// BuildFleetSummary collects what the Fleet tier of side may know: its own
// ships in full and the contacts its ships hold. Opposing ships enter only
// through those contacts.
func BuildFleetSummary(snap *core.Snapshot, side core.Side, mission engine.MissionBrief, last *core.FleetIntent) engine.FleetSummary {
	fs := engine.FleetSummary{
		Side:        side,
		SimTime:     snap.SimTime,
		OwnFleet:    []engine.OwnShip{},
		EnemyBelief: []engine.Belief{},
		Mission:     mission,
		LastIntent:  last,
	}
	for _, s := range snap.Ships {
		if s.Side != side || s.Destroyed {
			continue
		}
		fs.OwnFleet = append(fs.OwnFleet, ownShip(s, snap.SimTime))
		for _, c := range snap.Contacts[s.ID] {
			b := engine.Belief{
				Observer:       s.ID,
				TrackID:        c.TrackID,
				Bearing:        c.Bearing,
				RangeKnown:     c.RangeKnown,
				Classification: c.Classification,
				Confidence:     c.Confidence,
				LastSeen:       c.LastSeen,
			}
			if c.RangeKnown {
				b.Range = c.Range
				x, y := geo.RayEnd(s.Kin.X, s.Kin.Y, c.Bearing, c.Range)
				b.EstPos = &[2]float64{x, y}
			}
			fs.EnemyBelief = append(fs.EnemyBelief, b)
		}
	}
	sort.SliceStable(fs.EnemyBelief, func(i, j int) bool {
		return fs.EnemyBelief[i].Confidence > fs.EnemyBelief[j].Confidence
	})
	return fs
}

// BuildShipSummary collects what the Ship tier of shipID may know: its own
// state and its own contacts.
func BuildShipSummary(snap *core.Snapshot, shipID string, mission engine.MissionBrief, handoff string) (engine.ShipSummary, bool) {
	s, ok := snap.Ship(shipID)
	if !ok {
		return engine.ShipSummary{}, false
	}
	contacts := append([]core.Contact{}, snap.Contacts[shipID]...)
	return engine.ShipSummary{
		SimTime:     snap.SimTime,
		Self:        ownShip(s, snap.SimTime),
		Constraints: s.Hull,
		Ordered:     s.Ordered,
		Tubes:       append([]core.Tube{}, s.Weapons.Tubes...),
		Contacts:    contacts,
		Alert: engine.ShipAlert{
			Pinged:          snap.SimTime < s.Alert.PingedUntil,
			TorpedoInbound:  snap.SimTime < s.Alert.TorpedoInboundUntil,
			CounterDetected: snap.SimTime < s.Alert.CounterDetectedUntil,
		},
		Tools:   tools.Describe(tools.Available(s.Caps)),
		Handoff: handoff,
		Prompt:  mission.ShipPrompts[shipID],
	}, true
}
