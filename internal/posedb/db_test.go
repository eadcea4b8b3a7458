package posedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamviz/internal/slam"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "poses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func poseAt(ts uint64, x float64) slam.Pose {
	return slam.Pose{
		Position:    slam.Vector3{X: x, Y: -x, Z: 1},
		Orientation: slam.Quaternion{Z: 0.2, W: 0.98},
		Timestamp:   ts,
	}
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(), "second up is a no-op")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.InsertPose(context.Background(), poseAt(1, 1), 10)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.CountPoses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrateDown_DropsTable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)

	_, err = db.CountPoses(context.Background())
	assert.Error(t, err)
}

func TestInsertAndRecentPoses(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id, err := db.InsertPose(ctx, poseAt(uint64(i)*100_000_000, float64(i)), 500)
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}

	got, err := db.RecentPoses(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(500_000_000), got[0].Pose.Timestamp)
	assert.Equal(t, uint64(300_000_000), got[2].Pose.Timestamp)
	assert.Equal(t, poseAt(500_000_000, 5), got[0].Pose)
	assert.Equal(t, 500, got[0].PointCount)

	n, err := db.CountPoses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = db.RecentPoses(ctx, 0)
	assert.Error(t, err)
}

func TestRecentPoses_Empty(t *testing.T) {
	db := openTestDB(t)
	got, err := db.RecentPoses(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
