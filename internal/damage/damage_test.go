package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/pkg/core"
)

func newShip() *core.Ship {
	return &core.Ship{
		ID:          "ownship",
		Hull:        core.Hull{MaxSpeed: 30, MaxDepth: 300},
		Kin:         core.Kinematics{Depth: 100, Speed: 8},
		Acoustics:   core.Acoustics{SourceLevels: sonar.DefaultSourceLevels},
		Systems:     core.AllSystemsOK(),
		Maintenance: core.FullMaintenance(),
		Engineering: core.Engineering{Allocation: NominalAllocation(), ReactorOutput: 1, Battery: 1},
	}
}

func TestApplyHit_ClampsAndDegrades(t *testing.T) {
	s := newShip()
	ApplyHit(s, 0.4)
	assert.InDelta(t, 0.4, s.Damage.Hull, 1e-9)
	assert.InDelta(t, 0.2, s.Damage.Sensors, 1e-9)
	assert.InDelta(t, 0.8, s.Maintenance.Sonar, 1e-9)

	ApplyHit(s, 5)
	assert.Equal(t, 1.0, s.Damage.Hull)
	assert.Equal(t, 0.0, s.Damage.Health())
}

func TestStep_DestroysShipAtFullHullDamage(t *testing.T) {
	s := newShip()
	s.Damage.Hull = 1
	events := Step(s, 10, 0.5, 0.05)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventShipDestroyed, events[0].Type)
	assert.True(t, s.Destroyed)

	assert.Nil(t, Step(s, 11, 0.55, 0.05))
}

func TestStep_MaintenanceWithoutEngineeringPowerFailsSystems(t *testing.T) {
	s := newShip()
	s.Engineering.Allocation = core.PowerAllocation{Helm: 0.5, Sonar: 0.5}
	s.Maintenance = core.Maintenance{Rudder: 0.21, Ballast: 1, Sonar: 1, Tubes: 0.21, Pumps: 1, Reactor: 1}

	for range 200 {
		Step(s, 0, 0, 0.05)
	}
	assert.False(t, s.Systems.Rudder)
	assert.False(t, s.Systems.Tubes)
	assert.True(t, s.Systems.Sonar)
}

func TestStep_NominalPowerRepairs(t *testing.T) {
	s := newShip()
	s.Maintenance.Tubes = 0.1
	for range 400 {
		Step(s, 0, 0, 0.05)
	}
	assert.Greater(t, s.Maintenance.Tubes, 0.2)
	assert.True(t, s.Systems.Tubes)
}

func TestStep_BilgePumpsDrainFlooding(t *testing.T) {
	a, b := newShip(), newShip()
	a.Damage.Flooding, b.Damage.Flooding = 0.5, 0.5
	b.Engineering.BilgePumps = true
	for range 100 {
		Step(a, 0, 0, 0.05)
		Step(b, 0, 0, 0.05)
	}
	assert.Less(t, b.Damage.Flooding, a.Damage.Flooding)
	assert.Greater(t, a.Damage.Hull, 0.0)
}

func TestNoiseTracker_ThresholdRisingEdge(t *testing.T) {
	n := NewNoiseTracker(130)
	s := newShip()
	ships := []*core.Ship{s}

	assert.Empty(t, n.Update(ships, 1, 0))

	n.Impulse(s.ID, TransientLaunch, 3, 0)
	events := n.Update(ships, 2, 0.05)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventNoiseThresholdExceeded, events[0].Type)
	assert.Greater(t, s.Acoustics.NoisePenalty, 0.0)

	// still loud: no repeat
	assert.Empty(t, n.Update(ships, 3, 1))

	// transient expired
	assert.Empty(t, n.Update(ships, 4, 4))
	assert.InDelta(t, 0.0, s.Acoustics.NoisePenalty, 1e-9)
}

func TestSumDB(t *testing.T) {
	assert.InDelta(t, 103.0103, SumDB(100, 100), 1e-3)
	assert.Equal(t, 0.0, SumDB())
}
