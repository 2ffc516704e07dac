package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/engine"
	"github.com/subbridge/simcore/pkg/core"
)

func boundarySnapshot() *core.Snapshot {
	enemy := blueSub()
	enemy.Kin.Speed = 17.25
	enemy.Weapons.TorpedoesStored = 13

	observer := redSub("red-01", 0, 0)
	observer.Alert.PingedUntil = 50
	return &core.Snapshot{
		SimTime: 12,
		Ships:   []core.Ship{observer, redSub("red-02", 500, 0), enemy},
		Contacts: map[string][]core.Contact{
			"red-01":  {{TrackID: "S1", Bearing: 90, Range: 1000, RangeKnown: true, Confidence: 0.7, Classification: "submarine"}},
			"red-02":  {{TrackID: "S1", Bearing: 120, Confidence: 0.2}},
			"ownship": {{TrackID: "S9", Bearing: 270, Confidence: 0.9}},
		},
	}
}

func TestFleetSummary_NoGroundTruth(t *testing.T) {
	snap := boundarySnapshot()
	fs := BuildFleetSummary(snap, core.SideRed, engine.MissionBrief{Objective: "escort"}, nil)

	require.Len(t, fs.OwnFleet, 2)
	require.Len(t, fs.EnemyBelief, 2)
	assert.Equal(t, "red-01", fs.EnemyBelief[0].Observer)
	require.NotNil(t, fs.EnemyBelief[0].EstPos)
	assert.InDelta(t, 1000, fs.EnemyBelief[0].EstPos[0], 1e-6)
	assert.Nil(t, fs.EnemyBelief[1].EstPos)
	assert.True(t, fs.OwnFleet[0].Alert)

	raw, err := json.Marshal(fs)
	require.NoError(t, err)
	text := string(raw)
	for _, leak := range []string{"ownship", "4321.5", "-8765.25", "17.25", "S9"} {
		assert.NotContains(t, text, leak)
	}
	assert.Contains(t, text, "escort")
}

func TestShipSummary_OwnContactsOnly(t *testing.T) {
	snap := boundarySnapshot()
	ss, ok := BuildShipSummary(snap, "red-02", engine.MissionBrief{ShipPrompts: map[string]string{"red-02": "be bold"}}, "")
	require.True(t, ok)

	assert.Equal(t, "red-02", ss.Self.ID)
	require.Len(t, ss.Contacts, 1)
	assert.Equal(t, 120.0, ss.Contacts[0].Bearing)
	assert.Equal(t, "be bold", ss.Prompt)
	assert.Contains(t, ss.Tools, "fire_torpedo")
	assert.False(t, ss.Alert.Any())

	raw, err := json.Marshal(ss)
	require.NoError(t, err)
	for _, leak := range []string{"ownship", "red-01", "4321.5", "17.25"} {
		assert.NotContains(t, string(raw), leak)
	}

	ss, ok = BuildShipSummary(snap, "red-01", engine.MissionBrief{}, "go deep")
	require.True(t, ok)
	assert.True(t, ss.Alert.Pinged)
	assert.Equal(t, "go deep", ss.Handoff)

	_, ok = BuildShipSummary(snap, "nobody", engine.MissionBrief{}, "")
	assert.False(t, ok)
}

func TestShipSummary_DoesNotAliasSnapshot(t *testing.T) {
	snap := boundarySnapshot()
	ss, _ := BuildShipSummary(snap, "red-01", engine.MissionBrief{}, "")
	ss.Tubes[0].State = core.TubeFired
	ss.Contacts[0].Bearing = 1
	assert.Equal(t, core.TubeEmpty, snap.Ships[0].Weapons.Tubes[0].State)
	assert.Equal(t, 90.0, snap.Contacts["red-01"][0].Bearing)
}
