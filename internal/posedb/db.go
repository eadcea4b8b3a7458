// Package posedb records the generated trajectory in a SQLite database so it
// can be inspected after the fact.
package posedb

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/slamviz/internal/slam"
)

// DB is the pose history database.
type DB struct {
	*sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// PoseRecord is one stored pose.
type PoseRecord struct {
	ID         int64
	Pose       slam.Pose
	PointCount int
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pose database: %w", err)
	}
	// One connection: SQLite serialises writers anyway and ":memory:"
	// databases are per connection.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// InsertPose stores pose together with the size of the point set it was
// generated with and returns the new row id.
func (db *DB) InsertPose(ctx context.Context, pose slam.Pose, pointCount int) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO poses (timestamp_ns, x, y, z, qx, qy, qz, qw, point_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(pose.Timestamp),
		pose.Position.X, pose.Position.Y, pose.Position.Z,
		pose.Orientation.X, pose.Orientation.Y, pose.Orientation.Z, pose.Orientation.W,
		pointCount,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pose: %w", err)
	}
	return res.LastInsertId()
}

// RecentPoses returns up to limit poses, newest first.
func (db *DB) RecentPoses(ctx context.Context, limit int) ([]PoseRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT pose_id, timestamp_ns, x, y, z, qx, qy, qz, qw, point_count
		FROM poses
		ORDER BY timestamp_ns DESC, pose_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		var (
			rec PoseRecord
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &ts,
			&rec.Pose.Position.X, &rec.Pose.Position.Y, &rec.Pose.Position.Z,
			&rec.Pose.Orientation.X, &rec.Pose.Orientation.Y, &rec.Pose.Orientation.Z, &rec.Pose.Orientation.W,
			&rec.PointCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pose: %w", err)
		}
		rec.Pose.Timestamp = uint64(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountPoses returns the number of stored poses.
func (db *DB) CountPoses(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM poses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count poses: %w", err)
	}
	return n, nil
}
