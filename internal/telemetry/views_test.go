package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/physics"
	"github.com/subbridge/simcore/internal/sim"
	"github.com/subbridge/simcore/pkg/core"
)

func testSnapshot() *core.Snapshot {
	own := core.Ship{
		ID:      "ownship",
		Side:    core.SideBlue,
		Class:   "SSN",
		Kin:     core.Kinematics{Heading: 90, Speed: 30, Depth: 0},
		Ordered: core.Orders{Heading: 120, Speed: 30, Depth: 100},
		Hull:    core.Hull{MaxSpeed: 30, MaxDepth: 400},
		Systems: core.SystemStatus{Rudder: true, Ballast: true, Sonar: true},
		Weapons: core.WeaponsSuite{
			Tubes:           []core.Tube{{Index: 1, State: core.TubeLoaded}, {Index: 2, State: core.TubeEmpty}},
			TorpedoesStored: 6,
		},
		NoiseDB:     118,
		PingReadyAt: 25,
	}
	red := core.Ship{ID: "red-01", Side: core.SideRed, Class: "Destroyer"}
	return &core.Snapshot{
		Tick:    200,
		SimTime: 10,
		Ships:   []core.Ship{own, red},
		Torpedoes: []core.Torpedo{
			{ID: "t1", LauncherID: "ownship", Side: core.SideBlue},
			{ID: "t2", LauncherID: "red-01", Side: core.SideRed},
		},
		Contacts: map[string][]core.Contact{
			"ownship": {{TrackID: "S1", Bearing: 45, Confidence: 0.6}},
		},
		Consent: map[core.Side]float64{core.SideBlue: 40},
		Events: []core.Event{
			{Type: core.EventCommandRejected, ShipID: "red-01"},
			{Type: core.EventCommandRejected, ShipID: "ownship"},
		},
	}
}

func TestBuildView_Helm(t *testing.T) {
	v, ok := BuildView(StationHelm, testSnapshot(), ViewOptions{ShipID: "ownship"})
	require.True(t, ok)
	helm := v.(HelmView)

	assert.Equal(t, 120.0, helm.Ownship.OrderedHeading)
	assert.Equal(t, physics.CavitationSpeed(0), helm.CavitationSpeed)
	assert.Equal(t, 30 > physics.CavitationSpeed(0), helm.CavitationSpeedWarn)
	assert.Equal(t, 400.0, helm.MaxDepth)
	require.Len(t, helm.Events, 1)
	assert.Equal(t, "ownship", helm.Events[0].ShipID)
}

func TestBuildView_Sonar(t *testing.T) {
	v, ok := BuildView(StationSonar, testSnapshot(), ViewOptions{ShipID: "ownship"})
	require.True(t, ok)
	sonar := v.(SonarView)

	assert.Equal(t, 15.0, sonar.PingCooldown)
	require.Len(t, sonar.Contacts, 1)
	assert.Equal(t, "S1", sonar.Contacts[0].TrackID)

	snap := testSnapshot()
	snap.SimTime = 30
	v, _ = BuildView(StationSonar, snap, ViewOptions{ShipID: "ownship"})
	assert.Zero(t, v.(SonarView).PingCooldown)
}

func TestBuildView_Weapons(t *testing.T) {
	v, ok := BuildView(StationWeapons, testSnapshot(), ViewOptions{ShipID: "ownship", RequireConsent: true})
	require.True(t, ok)
	w := v.(WeaponsView)

	assert.True(t, w.ConsentRequired)
	assert.True(t, w.CaptainConsent)
	assert.Len(t, w.Tubes, 2)
	require.Len(t, w.Torpedoes, 1)
	assert.Equal(t, "t1", w.Torpedoes[0].ID)
}

func TestBuildView_Captain(t *testing.T) {
	snap := testSnapshot()
	snap.Consent = nil
	v, ok := BuildView(StationCaptain, snap, ViewOptions{ShipID: "ownship"})
	require.True(t, ok)
	c := v.(CaptainView)

	assert.False(t, c.CaptainConsent)
	assert.Zero(t, c.ConsentExpires)
	assert.Equal(t, 1, c.Contacts)
	assert.False(t, c.PeriscopeRaised)

	snap.Ships[0].Engineering.PeriscopeUp = true
	v, _ = BuildView(StationCaptain, snap, ViewOptions{ShipID: "ownship"})
	assert.True(t, v.(CaptainView).PeriscopeRaised)
	assert.False(t, v.(CaptainView).RadioRaised)
}

func TestBuildView_UnknownShip(t *testing.T) {
	_, ok := BuildView(StationHelm, testSnapshot(), ViewOptions{ShipID: "nobody"})
	assert.False(t, ok)

	v, ok := BuildView(StationDebug, testSnapshot(), ViewOptions{ShipID: "nobody"})
	assert.True(t, ok)
	assert.IsType(t, &core.Snapshot{}, v)

	_, ok = BuildView(StationHelm, nil, ViewOptions{ShipID: "ownship"})
	assert.False(t, ok)
}

type fakeDecisions struct{}

func (fakeDecisions) Intent() *core.FleetIntent { return &core.FleetIntent{} }
func (fakeDecisions) RecentRuns() []core.DecisionRun {
	return []core.DecisionRun{{RunID: "r1", Tier: core.TierFleet}}
}

func TestPublisher_OnlySubscribedTopics(t *testing.T) {
	bus := NewBus()
	p := NewPublisher(bus, PublisherConfig{ShipID: "ownship"}, nil, nil)

	assert.Equal(t, 0, p.Publish(testSnapshot()))

	helm, cancelHelm := bus.Subscribe(Topic(StationHelm), 4)
	defer cancelHelm()
	fleet, cancelFleet := bus.Subscribe(Topic(StationFleet), 4)
	defer cancelFleet()
	all, cancelAll := bus.Subscribe(TopicAll, 4)
	defer cancelAll()

	p.SetDecisionSource(fakeDecisions{})
	p.AfterStep(sim.StepResult{Tick: 200, Snapshot: testSnapshot()})

	assert.IsType(t, HelmView{}, (<-helm).Data)
	assert.IsType(t, Base{}, (<-all).Data)
	fv := (<-fleet).Data.(FleetView)
	require.Len(t, fv.RecentRuns, 1)
	assert.Equal(t, "r1", fv.RecentRuns[0].RunID)
	assert.NotNil(t, fv.Intent)

	assert.Equal(t, 0, p.Publish(nil))
}
