package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/damage"
	"github.com/subbridge/simcore/internal/sonar"
	"github.com/subbridge/simcore/pkg/core"
)

const dt = 0.05

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func submarine(id string, side core.Side, x, y float64) core.Ship {
	return core.Ship{
		ID:    id,
		Side:  side,
		Class: "SSN",
		Kin:   core.Kinematics{X: x, Y: y, Depth: 100, Heading: 0, Speed: 5},
		Hull:  core.Hull{MaxSpeed: 30, MaxDepth: 300, TurnRate: 7, Accel: 0.5, Decel: 0.8},
		Caps:  core.Capabilities{HasTorpedoes: true, HasActiveSonar: true, HasCountermeasures: true},
		Acoustics: core.Acoustics{
			SourceLevels: sonar.DefaultSourceLevels,
			ArrayGain:    15,
		},
		Systems:     core.AllSystemsOK(),
		Maintenance: core.FullMaintenance(),
		Engineering: core.Engineering{Allocation: damage.NominalAllocation(), ReactorOutput: 1, Battery: 1},
		Weapons: core.WeaponsSuite{
			Tubes:           []core.Tube{{Index: 1, State: core.TubeEmpty}, {Index: 2, State: core.TubeEmpty}},
			Torpedo:         core.TorpedoSpec{Name: "Mk48", SpeedKn: 45, MaxRunTime: 600, MaxDepth: 400, MinEnable: 200},
			TorpedoesStored: 6,
			Countermeasures: 4,
		},
	}
}

func destroyer(id string, side core.Side, x, y float64) core.Ship {
	s := submarine(id, side, x, y)
	s.Class = "Destroyer"
	s.Kin.Depth = 0
	s.Caps = core.Capabilities{Surface: true, HasActiveSonar: true, HasDepthCharges: true}
	s.Weapons = core.WeaponsSuite{DepthCharges: 20}
	return s
}

func newTestWorld(t *testing.T, cfg WorldConfig, ships ...core.Ship) *World {
	t.Helper()
	cfg.Now = fixedClock
	w := NewWorld(cfg)
	for _, s := range ships {
		require.NoError(t, w.AddShip(s))
	}
	return w
}

func nav(ship string, heading, speed, depth float64) core.Command {
	return core.Command{
		Kind:   core.CmdSetNav,
		ShipID: ship,
		Source: core.CommandSource{Origin: core.OriginStation},
		Nav:    &core.NavOrder{Heading: heading, Speed: speed, Depth: depth},
	}
}

func tube(ship string, idx int, action core.TubeAction) core.Command {
	return core.Command{Kind: core.CmdTube, ShipID: ship, Tube: &core.TubeOrder{Tube: idx, Action: action}}
}

func fire(ship string, idx int, bearing float64) core.Command {
	return core.Command{Kind: core.CmdFireTorpedo, ShipID: ship, Fire: &core.FireOrder{Tube: idx, Bearing: bearing, RunDepth: 120, EnableRange: 1000}}
}

func consent(side core.Side, granted bool) core.Command {
	return core.Command{Kind: core.CmdConsent, Consent: &core.ConsentOrder{Side: side, Granted: granted}}
}

func TestClampNav(t *testing.T) {
	sub := submarine("ownship", core.SideBlue, 0, 0)
	dd := destroyer("red-02", core.SideRed, 0, 0)

	tests := []struct {
		name string
		ship core.Ship
		in   core.NavOrder
		want core.Orders
	}{
		{"in range", sub, core.NavOrder{Heading: 90, Speed: 12, Depth: 150}, core.Orders{Heading: 90, Speed: 12, Depth: 150}},
		{"heading wraps", sub, core.NavOrder{Heading: 370, Speed: 5, Depth: 50}, core.Orders{Heading: 10, Speed: 5, Depth: 50}},
		{"negative heading", sub, core.NavOrder{Heading: -90, Speed: 5, Depth: 50}, core.Orders{Heading: 270, Speed: 5, Depth: 50}},
		{"too fast too deep", sub, core.NavOrder{Heading: 0, Speed: 99, Depth: 9999}, core.Orders{Heading: 0, Speed: 30, Depth: 300}},
		{"negative speed", sub, core.NavOrder{Heading: 0, Speed: -4, Depth: -10}, core.Orders{Heading: 0, Speed: 0, Depth: 0}},
		{"surface pinned", dd, core.NavOrder{Heading: 45, Speed: 10, Depth: 200}, core.Orders{Heading: 45, Speed: 10, Depth: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampNav(&tt.ship, tt.in)
			assert.InDelta(t, tt.want.Heading, got.Heading, 1e-9)
			assert.Equal(t, tt.want.Speed, got.Speed)
			assert.Equal(t, tt.want.Depth, got.Depth)
		})
	}
}

func TestApply_SetNavIsIdempotent(t *testing.T) {
	once := newTestWorld(t, WorldConfig{Seed: 7}, submarine("ownship", core.SideBlue, 0, 0), submarine("red-01", core.SideRed, 4000, 4000))
	twice := newTestWorld(t, WorldConfig{Seed: 7}, submarine("ownship", core.SideBlue, 0, 0), submarine("red-01", core.SideRed, 4000, 4000))

	cmd := nav("ownship", 135, 18, 220)
	assert.Equal(t, 1, once.Apply([]core.Command{cmd}))
	assert.Equal(t, 2, twice.Apply([]core.Command{cmd, cmd}))

	for range 400 {
		once.Step(dt)
		twice.Step(dt)
	}
	a, _ := once.Ship("ownship")
	b, _ := twice.Ship("ownship")
	assert.Equal(t, a.Ordered, b.Ordered)
	assert.Equal(t, a.Kin, b.Kin)
}

func TestApply_RejectionsLeaveStateAndReportReason(t *testing.T) {
	w := newTestWorld(t, WorldConfig{RequireConsent: true}, submarine("ownship", core.SideBlue, 0, 0))

	applied := w.Apply([]core.Command{
		nav("ghost", 0, 0, 0),
		tube("ownship", 1, core.TubeActionOpenDoors),
		fire("ownship", 1, 90),
		{Kind: core.CmdPower, ShipID: "ownship", Power: &core.PowerOrder{Allocation: core.PowerAllocation{Helm: 0.5, Sonar: 0.5, Weapons: 0.5}}},
	})
	assert.Zero(t, applied)

	snap := w.Snapshot()
	require.Len(t, snap.Rejections, 4)
	assert.Contains(t, snap.Rejections[0].Reason, "unknown ship")
	assert.Contains(t, snap.Rejections[1].Reason, "requires flooded")
	assert.Contains(t, snap.Rejections[3].Reason, "exceeds")

	rejected := 0
	for _, e := range snap.Events {
		if e.Type == core.EventCommandRejected {
			rejected++
		}
	}
	assert.Equal(t, 4, rejected)
	assert.Empty(t, snap.Torpedoes)

	own, _ := snap.Ship("ownship")
	assert.Equal(t, core.TubeEmpty, own.Weapons.Tubes[0].State)
	assert.Equal(t, damage.NominalAllocation(), own.Engineering.Allocation)
}

func TestApply_MastsRaiseOnSubmarinesOnly(t *testing.T) {
	w := newTestWorld(t, WorldConfig{},
		submarine("ownship", core.SideBlue, 0, 0),
		destroyer("escort", core.SideBlue, 500, 0))

	applied := w.Apply([]core.Command{
		{Kind: core.CmdMast, ShipID: "ownship", Mast: &core.MastOrder{Mast: core.MastPeriscope, Raised: true}},
		{Kind: core.CmdMast, ShipID: "ownship", Mast: &core.MastOrder{Mast: core.MastRadio, Raised: true}},
		{Kind: core.CmdMast, ShipID: "ownship", Mast: &core.MastOrder{Mast: "snorkel", Raised: true}},
		{Kind: core.CmdMast, ShipID: "escort", Mast: &core.MastOrder{Mast: core.MastPeriscope, Raised: true}},
	})
	assert.Equal(t, 2, applied)

	snap := w.Snapshot()
	require.Len(t, snap.Rejections, 2)
	assert.Contains(t, snap.Rejections[0].Reason, "unknown mast")
	assert.Contains(t, snap.Rejections[1].Reason, "no masts")

	own, _ := snap.Ship("ownship")
	assert.True(t, own.Engineering.PeriscopeUp)
	assert.True(t, own.Engineering.RadioMastUp)
	assert.Equal(t, 2, own.Engineering.MastsRaised())

	w.Apply([]core.Command{{Kind: core.CmdMast, ShipID: "ownship", Mast: &core.MastOrder{Mast: core.MastPeriscope}}})
	own, _ = w.Snapshot().Ship("ownship")
	assert.False(t, own.Engineering.PeriscopeUp)
	assert.Equal(t, 1, own.Engineering.MastsRaised())
}

type denyAll struct{}

func (denyAll) AllowFire(*core.Ship, core.FireOrder) error {
	return errors.New("inside restricted zone")
}

func TestApply_FireInterlocks(t *testing.T) {
	ready := func() core.Ship {
		s := submarine("ownship", core.SideBlue, 0, 0)
		s.Weapons.Tubes[0].State = core.TubeDoorsOpen
		return s
	}

	t.Run("no consent", func(t *testing.T) {
		w := newTestWorld(t, WorldConfig{RequireConsent: true}, ready())
		w.Apply([]core.Command{fire("ownship", 1, 90)})
		snap := w.Snapshot()
		assert.Empty(t, snap.Torpedoes)
		require.Len(t, snap.Rejections, 1)
		assert.Equal(t, "no valid consent window", snap.Rejections[0].Reason)
	})

	t.Run("roe", func(t *testing.T) {
		w := newTestWorld(t, WorldConfig{ROE: denyAll{}}, ready())
		w.Apply([]core.Command{fire("ownship", 1, 90)})
		snap := w.Snapshot()
		assert.Empty(t, snap.Torpedoes)
		require.Len(t, snap.Rejections, 1)
		assert.Equal(t, "inside restricted zone", snap.Rejections[0].Reason)
	})

	t.Run("expired consent", func(t *testing.T) {
		w := newTestWorld(t, WorldConfig{RequireConsent: true}, ready())
		w.Apply([]core.Command{{Kind: core.CmdConsent, Consent: &core.ConsentOrder{Side: core.SideBlue, Granted: true, Duration: 1}}})
		for range 30 {
			w.Step(dt)
		}
		w.Apply([]core.Command{fire("ownship", 1, 90)})
		assert.Empty(t, w.Snapshot().Torpedoes)
	})

	t.Run("granted", func(t *testing.T) {
		w := newTestWorld(t, WorldConfig{RequireConsent: true}, ready())
		assert.Equal(t, 2, w.Apply([]core.Command{consent(core.SideBlue, true), fire("ownship", 1, 90)}))
		snap := w.Snapshot()
		require.Len(t, snap.Torpedoes, 1)
		assert.Equal(t, 90.0, snap.Torpedoes[0].Commanded)
		assert.True(t, snap.ConsentOpen(core.SideBlue))
		assert.False(t, snap.ConsentOpen(core.SideRed))

		own, _ := snap.Ship("ownship")
		assert.Equal(t, core.TubeFired, own.Weapons.Tubes[0].State)
		assert.Equal(t, snap.Torpedoes[0].ID, own.Weapons.Tubes[0].LastTorpedoID)
	})
}

func TestApply_ActivePingCounterDetects(t *testing.T) {
	w := newTestWorld(t, WorldConfig{}, destroyer("red-02", core.SideRed, 0, 0), submarine("ownship", core.SideBlue, 0, 3000))

	w.Apply([]core.Command{{Kind: core.CmdActivePing, ShipID: "red-02"}})
	w.Step(dt)
	snap := w.Snapshot()

	var types []core.EventType
	for _, e := range snap.Events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, core.EventActivePing)
	assert.Contains(t, types, core.EventCounterDetected)

	own, _ := snap.Ship("ownship")
	assert.True(t, own.Alert.Active(snap.SimTime))

	w.Apply([]core.Command{{Kind: core.CmdActivePing, ShipID: "red-02"}})
	require.Len(t, w.Snapshot().Rejections, 1)
}

func TestStep_DepthClampedAndHealthNeverNegative(t *testing.T) {
	s := submarine("ownship", core.SideBlue, 0, 0)
	s.Kin.Depth = 250
	s.Damage.Hull = 0.99
	w := newTestWorld(t, WorldConfig{}, s)

	// hull limit shrinks under the ship
	live, _ := w.Ship("ownship")
	live.Hull.MaxDepth = 200
	w.Step(dt)

	snap := w.Snapshot()
	own, _ := snap.Ship("ownship")
	assert.LessOrEqual(t, own.Kin.Depth, 200.0)
	assert.GreaterOrEqual(t, own.Damage.Health(), 0.0)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	w := newTestWorld(t, WorldConfig{}, submarine("ownship", core.SideBlue, 0, 0))
	snap := w.Snapshot()

	w.Apply([]core.Command{tube("ownship", 1, core.TubeActionLoad), nav("ownship", 180, 10, 50)})
	for range 20 {
		w.Step(dt)
	}

	own, _ := snap.Ship("ownship")
	assert.Equal(t, core.TubeEmpty, own.Weapons.Tubes[0].State)
	assert.False(t, own.Weapons.Tubes[0].Busy())
	assert.Equal(t, 0.0, own.Ordered.Heading)
}

func TestScenario_EmptyToFire(t *testing.T) {
	run := func(t *testing.T, weaponsPower float64) (loadTicks int, w *World) {
		s := submarine("ownship", core.SideBlue, 0, 0)
		s.Engineering.Allocation = core.PowerAllocation{Helm: 0.25, Sonar: 0.25, Weapons: weaponsPower, Engineering: 0.25}
		w = newTestWorld(t, WorldConfig{RequireConsent: true}, s)

		advanceUntil := func(state core.TubeState) int {
			for i := 1; i <= 5000; i++ {
				w.Step(dt)
				own, _ := w.Ship("ownship")
				if own.Weapons.Tubes[0].State == state {
					return i
				}
			}
			t.Fatalf("tube never reached %s", state)
			return 0
		}

		require.Equal(t, 1, w.Apply([]core.Command{tube("ownship", 1, core.TubeActionLoad)}))
		loadTicks = advanceUntil(core.TubeLoaded)
		require.Equal(t, 1, w.Apply([]core.Command{tube("ownship", 1, core.TubeActionFlood)}))
		advanceUntil(core.TubeFlooded)
		require.Equal(t, 1, w.Apply([]core.Command{tube("ownship", 1, core.TubeActionOpenDoors)}))
		advanceUntil(core.TubeDoorsOpen)
		return loadTicks, w
	}

	nominal, w := run(t, 0.25)
	assert.InDelta(t, 45/dt, nominal, 2)

	// no consent yet
	w.Apply([]core.Command{fire("ownship", 1, 270)})
	require.Empty(t, w.Snapshot().Torpedoes)

	require.Equal(t, 2, w.Apply([]core.Command{consent(core.SideBlue, true), fire("ownship", 1, 270)}))
	w.Step(dt)
	snap := w.Snapshot()
	require.Len(t, snap.Torpedoes, 1)
	found := false
	for _, e := range snap.Events {
		if e.Type == core.EventTorpedoLaunched {
			found = true
		}
	}
	assert.True(t, found)

	boosted, _ := run(t, 0.5)
	assert.InDelta(t, nominal/2, boosted, 2)
}

func TestApply_DepthChargeOrderClampedBeforeDrop(t *testing.T) {
	dd := destroyer("red-02", core.SideRed, 0, 0)
	dd.Kin.Speed = 2.5
	dd.Ordered = core.Orders{Heading: 0, Speed: 2.5}
	w := newTestWorld(t, WorldConfig{}, dd)

	applied := w.Apply([]core.Command{{
		Kind:         core.CmdDropDepthCharges,
		ShipID:       "red-02",
		Source:       core.CommandSource{Origin: core.OriginStation},
		DepthCharges: &core.DepthChargeOrder{MinDepth: 0, MaxDepth: 0, SpreadSize: 50},
	}})
	require.Equal(t, 1, applied)

	snap := w.Snapshot()
	require.Len(t, snap.DepthCharges, 10)
	for _, c := range snap.DepthCharges {
		assert.GreaterOrEqual(t, c.TargetDepth, 15.0)
	}
	own, _ := snap.Ship("red-02")
	assert.Equal(t, 10, own.Weapons.DepthCharges)

	for range 200 {
		w.Step(dt)
	}
	snap = w.Snapshot()
	assert.Empty(t, snap.DepthCharges)
	own, _ = snap.Ship("red-02")
	assert.Zero(t, own.Damage.Hull)
	assert.False(t, own.Destroyed)
}
