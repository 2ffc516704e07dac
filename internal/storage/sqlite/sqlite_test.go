package sqlitestorage

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subbridge/simcore/internal/database"
	"github.com/subbridge/simcore/internal/model"
	"github.com/subbridge/simcore/pkg/core"
)

func TestEndSession_DumpsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simcore.db")
	b, err := New(Config{DumpPath: path, DumpInterval: time.Hour}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{ID: "dump-me", StartedAt: time.Now().UTC()}))
	require.NoError(t, b.RecordDecisionRun(core.DecisionRun{RunID: "r1", Tier: core.TierShip, Outcome: core.OutcomeFailed}))
	require.NoError(t, b.EndSession())

	disk, err := database.GetSqliteDB(path)
	require.NoError(t, err)
	var runs []model.DecisionRun
	require.NoError(t, disk.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Outcome)

	var s model.Session
	require.NoError(t, disk.First(&s).Error)
	assert.NotNil(t, s.EndedAt)
}

func TestDumpLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "periodic.db")
	b, err := New(Config{DumpPath: path, DumpInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{ID: "loop", StartedAt: time.Now().UTC()}))

	assert.Eventually(t, func() bool {
		paths, err := database.GetBackupDBPaths(filepath.Dir(path))
		return err == nil && len(paths) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_WithoutDumpPath(t *testing.T) {
	b, err := New(Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
