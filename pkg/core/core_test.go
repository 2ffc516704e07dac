package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeading(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{-90, 270},
		{725, 5},
		{-720, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeHeading(tt.in), 1e-9, "in=%v", tt.in)
	}
}

func TestHeadingDiff(t *testing.T) {
	assert.InDelta(t, 20.0, HeadingDiff(350, 10), 1e-9)
	assert.InDelta(t, -20.0, HeadingDiff(10, 350), 1e-9)
	assert.InDelta(t, 180.0, HeadingDiff(0, 180), 1e-9)
	assert.InDelta(t, 0.0, HeadingDiff(45, 45), 1e-9)
}

func TestBearingTo_CompassConvention(t *testing.T) {
	assert.InDelta(t, 0.0, BearingTo(0, 0, 0, 100), 1e-9)
	assert.InDelta(t, 90.0, BearingTo(0, 0, 100, 0), 1e-9)
	assert.InDelta(t, 270.0, BearingTo(0, 0, -100, 0), 1e-9)
}

func TestShipClone_DoesNotShareSlices(t *testing.T) {
	s := Ship{
		ID:        "a",
		Weapons:   WeaponsSuite{Tubes: []Tube{{Index: 1, State: TubeEmpty}}},
		Acoustics: Acoustics{SourceLevels: []SourcePoint{{Speed: 5, Level: 110}}},
	}
	c := s.Clone()
	c.Weapons.Tubes[0].State = TubeLoaded
	c.Acoustics.SourceLevels[0].Level = 1

	assert.Equal(t, TubeEmpty, s.Weapons.Tubes[0].State)
	assert.Equal(t, 110.0, s.Acoustics.SourceLevels[0].Level)
}

func TestFleetIntentSlice(t *testing.T) {
	speed := 12.0
	intent := &FleetIntent{
		Version: 3,
		Objectives: map[string]Objective{
			"red-01": {Destination: [2]float64{100, 200}, SpeedKn: &speed, Goal: "screen"},
			"red-02": {Destination: [2]float64{0, 0}},
		},
		Emcon: Emcon{ActivePingAllowed: true},
		Notes: []IntentNote{
			{Text: "all ships stay deep"},
			{ShipID: "red-01", Text: "lead the sweep"},
			{ShipID: "red-02", Text: "trail"},
		},
	}

	slice := intent.Slice("red-01")
	require.NotNil(t, slice.Objective)
	assert.Equal(t, "screen", slice.Objective.Goal)
	assert.Equal(t, uint64(3), slice.Version)
	assert.True(t, slice.Emcon.ActivePingAllowed)
	assert.Equal(t, []string{"all ships stay deep", "lead the sweep"}, slice.Notes)

	var nilIntent *FleetIntent
	assert.Nil(t, nilIntent.Slice("red-01").Objective)
}

func TestAlertActive(t *testing.T) {
	a := Alert{PingedUntil: 30}
	assert.True(t, a.Active(10))
	assert.False(t, a.Active(30))
}
