package sonar

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/pkg/core"
)

func newModel() *Model {
	return New(Environment{AmbientDB: 60, LayerDepth: 150}, rand.New(rand.NewPCG(1, 2)))
}

func sub(id string, x, y float64) *core.Ship {
	return &core.Ship{
		ID:          id,
		Side:        core.SideBlue,
		Kin:         core.Kinematics{X: x, Y: y, Depth: 100, Heading: 90, Speed: 8},
		Acoustics:   core.Acoustics{SourceLevels: DefaultSourceLevels, ArrayGain: 20, ActiveRange: 8000},
		Caps:        core.Capabilities{HasActiveSonar: true},
		Systems:     core.AllSystemsOK(),
		Engineering: core.Engineering{Allocation: core.PowerAllocation{Helm: 0.25, Sonar: 0.25, Weapons: 0.25, Engineering: 0.25}},
	}
}

func TestDetectability_StrictlyDecreasesWithRange(t *testing.T) {
	m := newModel()
	obs := sub("obs", 0, 0)

	prev := 2.0
	for _, r := range []float64{100, 500, 1000, 2000, 4000, 8000, 16000} {
		target := sub("tgt", r, 0)
		d, _, _, masked := m.PassiveDetectability(obs, target)
		require.False(t, masked)
		assert.Less(t, d, prev, "range %v", r)
		prev = d
	}
}

func TestDetectability_IncreasesWithSpeedAboveCavitation(t *testing.T) {
	m := newModel()
	obs := sub("obs", 0, 0)

	// cavitation speed at 100 m is 13 kn
	prev := 0.0
	for _, speed := range []float64{14, 15, 16, 17, 18} {
		target := sub("tgt", 3000, 0)
		target.Kin.Speed = speed
		d, _, _, _ := m.PassiveDetectability(obs, target)
		assert.Greater(t, d, prev, "speed %v", speed)
		prev = d
	}
}

func TestMasts_ExposeShallowTargetAndDeafenObserver(t *testing.T) {
	m := newModel()
	obs := sub("obs", 0, 0)

	target := sub("tgt", 3000, 0)
	target.Kin.Depth = 15
	base, _, _, _ := m.PassiveDetectability(obs, target)

	target.Engineering.PeriscopeUp = true
	scope, _, _, _ := m.PassiveDetectability(obs, target)
	assert.Greater(t, scope, base)
	assert.InDelta(t, MastExposureDB, MastExposure(target), 1e-9)

	target.Engineering.RadioMastUp = true
	both, _, _, _ := m.PassiveDetectability(obs, target)
	assert.Greater(t, both, scope)

	// too deep for the mast to break the surface
	target.Kin.Depth = 100
	assert.Zero(t, MastExposure(target))

	target.Engineering = obs.Engineering
	quiet, _, _, _ := m.PassiveDetectability(obs, target)
	obs.Engineering.PeriscopeUp = true
	deafened, _, _, _ := m.PassiveDetectability(obs, target)
	assert.Less(t, deafened, quiet)
}

func TestMastPenalty(t *testing.T) {
	env := Environment{AmbientDB: 60}
	assert.Zero(t, env.MastPenalty(0))
	// one mast at ambient level doubles the noise power
	assert.InDelta(t, 3.0103, env.MastPenalty(1), 1e-3)
	assert.InDelta(t, 4.7712, env.MastPenalty(2), 1e-3)
}

func TestSourceLevel_CavitationJump(t *testing.T) {
	quiet := SourceLevel(DefaultSourceLevels, 12, false, 13)
	loud := SourceLevel(DefaultSourceLevels, 12, true, 13)
	assert.InDelta(t, CavitationBoostDB, loud-quiet, 1e-9)
	assert.InDelta(t, 118.0, SourceLevel(DefaultSourceLevels, 10, false, 13), 1e-9)
}

func TestLayerLoss(t *testing.T) {
	env := Environment{AmbientDB: 60, LayerDepth: 150}
	assert.Equal(t, 0.0, env.LayerLoss(100, 120))
	assert.Equal(t, LayerAttenuationDB, env.LayerLoss(100, 200))
	assert.Equal(t, 0.0, Environment{AmbientDB: 60}.LayerLoss(10, 400))
}

func TestUpdate_BafflesMaskTargetAstern(t *testing.T) {
	m := newModel()
	obs := sub("obs", 0, 0) // heading east
	astern := sub("tgt", -500, 0)

	contacts := m.Update([]*core.Ship{obs, astern}, 1, 0.05)
	assert.Empty(t, contacts["obs"])
}

func TestUpdate_ContactsCarryNoGroundTruth(t *testing.T) {
	m := newModel()
	obs := sub("ownship", 0, 0)
	target := sub("red-01", 800, 0)

	contacts := m.Update([]*core.Ship{obs, target}, 1, 0.05)
	require.Len(t, contacts["ownship"], 1)
	c := contacts["ownship"][0]

	assert.NotEqual(t, "red-01", c.TrackID)
	assert.False(t, c.RangeKnown)
	assert.Zero(t, c.Range)
	assert.GreaterOrEqual(t, c.Detectability, DetectFloor)
}

func TestUpdate_ConfidenceAccumulatesAndDecays(t *testing.T) {
	m := newModel()
	obs := sub("obs", 0, 0)
	target := sub("tgt", 600, 0)
	ships := []*core.Ship{obs, target}

	var last float64
	for i := range 100 {
		c := m.Update(ships, float64(i)*0.05, 0.05)["obs"]
		require.Len(t, c, 1)
		assert.GreaterOrEqual(t, c[0].Confidence, last)
		last = c[0].Confidence
	}
	assert.Greater(t, last, 0.0)
	assert.LessOrEqual(t, last, 1.0)

	obs.Systems.Sonar = false
	c := m.Update(ships, 5, 0.05)["obs"]
	assert.Empty(t, c)
	assert.Less(t, m.tracks[pairKey("obs", "tgt")].confidence, last)
}

func TestPing_CooldownAndCounterDetection(t *testing.T) {
	m := newModel()
	pinger := sub("red-01", 0, 0)
	other := sub("ownship", 3000, 0)
	ships := []*core.Ship{pinger, other}

	events, reason := m.Ping(pinger, ships, 1, 10)
	require.Empty(t, reason)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventActivePing, events[0].Type)
	assert.Equal(t, core.EventCounterDetected, events[1].Type)
	assert.Equal(t, "red-01", events[1].ShipID)
	assert.Equal(t, []string{"ownship"}, events[1].Data["heardBy"])
	assert.True(t, other.Alert.Active(10))
	assert.True(t, pinger.Alert.Active(10))

	_, reason = m.Ping(pinger, ships, 2, 15)
	assert.Contains(t, reason, "cooling down")

	_, reason = m.Ping(pinger, ships, 3, 22)
	assert.Empty(t, reason)
}

func TestPing_ActiveReturnGivesRange(t *testing.T) {
	m := newModel()
	pinger := sub("red-01", 0, 0)
	far := sub("ownship", 6000, 0)
	ships := []*core.Ship{pinger, far}

	_, reason := m.Ping(pinger, ships, 1, 0)
	require.Empty(t, reason)

	contacts := m.Update(ships, 0.05, 0.05)
	require.Len(t, contacts["red-01"], 1)
	c := contacts["red-01"][0]
	assert.True(t, c.RangeKnown)
	assert.Equal(t, core.SourceActive, c.Source)
	assert.InDelta(t, 6000, c.Range, 6000*0.2)

	// pinged ship learns the pinger's approximate position
	require.Len(t, contacts["ownship"], 1)
	assert.True(t, contacts["ownship"][0].RangeKnown)

	// the fix ages out after ActiveHold when nothing is heard
	later := m.Update(ships, ActiveHold+1, 0.05)
	for _, c := range later["red-01"] {
		assert.False(t, c.RangeKnown)
	}
}

func TestPing_NoActiveSonar(t *testing.T) {
	m := newModel()
	pinger := sub("a", 0, 0)
	pinger.Caps.HasActiveSonar = false
	_, reason := m.Ping(pinger, []*core.Ship{pinger}, 1, 0)
	assert.Equal(t, "no active sonar", reason)
}

func TestWarnTorpedoes(t *testing.T) {
	m := newModel()
	s := sub("ownship", 0, 0)
	torp := core.Torpedo{ID: "t1", LauncherID: "red-01", Side: core.SideRed, Kin: core.Kinematics{X: 1500, Depth: 100}, Phase: core.PhaseSeeking}

	m.WarnTorpedoes([]*core.Ship{s}, []core.Torpedo{torp}, 5)
	assert.Greater(t, s.Alert.TorpedoInboundUntil, 5.0)
}
