package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/config"
	"github.com/subbridge/simcore/pkg/core"
)

func testSession() *core.Session {
	return &core.Session{
		ID:        "0d9f6c1e",
		MissionID: "strait transit",
		Title:     "Strait transit",
		StartedAt: time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC),
		TickHz:    20,
		Seed:      1,
	}
}

func testSnapshot(tick uint64, x float64) *core.Snapshot {
	return &core.Snapshot{
		Tick:    tick,
		SimTime: float64(tick) / 20,
		Ships: []core.Ship{
			{ID: "ownship", Side: core.SideBlue, Class: "SSN", Kin: core.Kinematics{X: x, Depth: 100, Speed: 8},
				Weapons: core.WeaponsSuite{Tubes: []core.Tube{{Index: 1, State: core.TubeLoaded}}}},
			{ID: "red-01", Side: core.SideRed, Class: "SSN", Kin: core.Kinematics{X: 4000, Depth: 200}},
		},
	}
}

func TestRecordOutsideSession(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, b.Init())
	defer b.Close()

	assert.ErrorIs(t, b.RecordSnapshot(testSnapshot(1, 0)), ErrNoSession)
	assert.ErrorIs(t, b.RecordEvent(&core.Event{Type: core.EventActivePing}), ErrNoSession)
	assert.ErrorIs(t, b.RecordDecisionRun(core.DecisionRun{RunID: "r"}), ErrNoSession)
	assert.ErrorIs(t, b.EndSession(), ErrNoSession)
}

func TestRecordSnapshot_CopiesShips(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, b.StartSession(testSession()))

	snap := testSnapshot(20, 10)
	require.NoError(t, b.RecordSnapshot(snap))
	require.NoError(t, b.RecordSnapshot(testSnapshot(40, 20)))

	snap.Ships[0].Weapons.Tubes[0].State = core.TubeFired

	hist := b.ShipHistory("ownship")
	require.Len(t, hist, 2)
	assert.Equal(t, core.TubeLoaded, hist[0].Ship.Weapons.Tubes[0].State)
	assert.Equal(t, 20.0, hist[1].Ship.Kin.X)
	assert.Empty(t, b.ShipHistory("nobody"))
}

func TestStartSession_Resets(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, b.StartSession(testSession()))
	require.NoError(t, b.RecordSnapshot(testSnapshot(1, 0)))
	require.NoError(t, b.RecordEvent(&core.Event{Type: core.EventActivePing}))
	require.NoError(t, b.RecordDecisionRun(core.DecisionRun{RunID: "r1"}))

	require.NoError(t, b.StartSession(testSession()))
	assert.Empty(t, b.ShipHistory("ownship"))
	assert.Empty(t, b.Events())
	runs, err := b.DecisionRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEndSession_ExportsGzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	require.NoError(t, b.StartSession(testSession()))

	require.NoError(t, b.RecordSnapshot(testSnapshot(20, 10)))
	require.NoError(t, b.RecordSnapshot(testSnapshot(40, 20)))
	require.NoError(t, b.RecordEvent(&core.Event{Type: core.EventTorpedoLaunched, Tick: 30, ShipID: "ownship", Data: map[string]any{"tube": 1}}))
	require.NoError(t, b.RecordDecisionRun(core.DecisionRun{RunID: "fleet-1", Tier: core.TierFleet, Side: core.SideRed, Outcome: core.OutcomeSucceeded}))
	require.NoError(t, b.RecordDecisionRun(core.DecisionRun{RunID: "ship-1", ParentRunID: "fleet-1", Tier: core.TierShip, Side: core.SideRed, ShipID: "red-01", Outcome: core.OutcomeTimedOut, FallbackUsed: true}))

	require.NoError(t, b.EndSession())

	path := b.GetExportedFilePath()
	assert.Equal(t, filepath.Join(dir, "strait_transit_20260501_123000.json.gz"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	var export SessionExport
	require.NoError(t, json.NewDecoder(zr).Decode(&export))

	assert.Equal(t, "0d9f6c1e", export.Session.ID)
	assert.Equal(t, uint64(40), export.LastTick)
	require.Len(t, export.Ships, 2)
	assert.Equal(t, "ownship", export.Ships[0].ID)
	assert.Equal(t, core.SideBlue, export.Ships[0].Side)
	require.Len(t, export.Ships[0].Samples, 2)
	assert.Equal(t, TrackPoint{40, 2, 20, 0, 100, 0, 8, 0, 0}, export.Ships[0].Samples[1])
	require.Len(t, export.Events, 1)
	require.Len(t, export.DecisionRuns, 2)
	assert.Equal(t, "fleet-1", export.DecisionRuns[1].ParentRunID)

	// recording stops once the session is exported
	assert.ErrorIs(t, b.RecordEvent(&core.Event{}), ErrNoSession)
}

func TestEndSession_PlainJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	b := New(config.MemoryConfig{OutputDir: dir})
	s := testSession()
	s.MissionID = ""
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.EndSession())

	path := b.GetExportedFilePath()
	assert.Equal(t, "session_20260501_123000.json", filepath.Base(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var export SessionExport
	require.NoError(t, json.Unmarshal(raw, &export))
	assert.Empty(t, export.Ships)
	assert.NotNil(t, export.Events)
}
