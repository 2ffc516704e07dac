package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/pkg/core"
)

type fakeRecorder struct{}

func (fakeRecorder) Dropped() int                          { return 4 }
func (fakeRecorder) GetLastDBWriteDuration() time.Duration { return 1500 * time.Microsecond }

func testDeps() Dependencies {
	snap := &core.Snapshot{Tick: 120, SimTime: 6, Ships: make([]core.Ship, 2), Torpedoes: make([]core.Torpedo, 1)}
	return Dependencies{
		Snapshots: func() *core.Snapshot { return snap },
		Pending:   func() int { return 3 },
		Recorder:  fakeRecorder{},
		Health: func(context.Context) map[core.Tier]error {
			return map[core.Tier]error{core.TierFleet: nil, core.TierShip: errors.New("model not loaded")}
		},
		Session: &core.Session{ID: "abc", MissionID: "patrol"},
	}
}

func TestGetStatus(t *testing.T) {
	st := NewService(testDeps()).GetStatus(context.Background())

	assert.Equal(t, "abc", st.SessionID)
	assert.Equal(t, "patrol", st.MissionID)
	assert.Equal(t, uint64(120), st.Tick)
	assert.Equal(t, 2, st.Ships)
	assert.Equal(t, 1, st.Torpedoes)
	assert.Equal(t, 3, st.PendingCommands)
	assert.Equal(t, 4, st.DroppedRecords)
	assert.InDelta(t, 1.5, st.LastWriteMs, 1e-9)
	assert.Equal(t, map[string]string{"fleet": "ok", "ship": "model not loaded"}, st.Engines)
}

func TestGetStatus_NothingWired(t *testing.T) {
	st := NewService(Dependencies{}).GetStatus(context.Background())
	assert.Zero(t, st.Tick)
	assert.Nil(t, st.Engines)
}

func TestStartStop_WritesStatusFile(t *testing.T) {
	deps := testDeps()
	deps.StatusPath = filepath.Join(t.TempDir(), "status.json")
	deps.Interval = 10 * time.Millisecond
	s := NewService(deps)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(deps.StatusPath)
		if err != nil || len(data) == 0 {
			return false
		}
		var st Status
		return json.Unmarshal(data, &st) == nil && st.Tick == 120
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestStart_BadPath(t *testing.T) {
	s := NewService(Dependencies{StatusPath: filepath.Join(t.TempDir(), "missing", "status.json")})
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}
