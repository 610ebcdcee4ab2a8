// Package snapshot serializes a read-only view of the map graph to SQLite
// for offline inspection. It sits off LocalMapper's hot path entirely: the
// core contract has no persisted state, and nothing here is consulted by any
// mapper operation.
package snapshot

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite connection holding exported map snapshots.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and brings its schema up
// to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("snapshot: load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("snapshot: sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("snapshot: new migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("snapshot: migrate up: %w", err)
	}
	return nil
}

// ExportSnapshot writes every keyframe, map point, observation link and
// covisibility edge currently in m to the store, inside a single
// transaction. Culled (bad) map points stay in the map and are exported
// with their bad flag set; culled keyframes are erased from the map and so
// are not exported.
func (s *Store) ExportSnapshot(m *smap.Map, g *covis.Graph) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("snapshot: begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, kf := range m.GetAllKeyFrames() {
		if err := exportKeyFrame(tx, kf); err != nil {
			return err
		}
		for _, n := range g.GetVectorCovisibleKeyFrames(kf) {
			w, ok := kf.GetConnectedWeight(n)
			if !ok {
				continue
			}
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO covisibility_edges (keyframe_id, neighbor_id, weight) VALUES (?, ?, ?)`,
				int64(kf.ID), int64(n), w,
			); err != nil {
				return fmt.Errorf("snapshot: insert covisibility edge: %w", err)
			}
		}
	}

	for _, mp := range m.GetAllMapPoints() {
		if err := exportMapPoint(tx, mp); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exportKeyFrame(tx *sql.Tx, kf *smap.KeyFrame) error {
	pose := kf.GetPose()
	var parentID any
	if p, ok := kf.Parent(); ok {
		parentID = int64(p)
	}
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO keyframes
			(id, source_frame_id,
			 pose_r00, pose_r01, pose_r02, pose_r10, pose_r11, pose_r12, pose_r20, pose_r21, pose_r22,
			 pose_tx, pose_ty, pose_tz, parent_id, bad)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(kf.ID), kf.SourceFrameID,
		pose.R[0][0], pose.R[0][1], pose.R[0][2],
		pose.R[1][0], pose.R[1][1], pose.R[1][2],
		pose.R[2][0], pose.R[2][1], pose.R[2][2],
		pose.T.X, pose.T.Y, pose.T.Z, parentID, kf.IsBad(),
	)
	if err != nil {
		return fmt.Errorf("snapshot: insert keyframe %d: %w", kf.ID, err)
	}
	return nil
}

func exportMapPoint(tx *sql.Tx, mp *smap.MapPoint) error {
	pos := mp.Position()
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO map_points (id, first_keyframe_id, pos_x, pos_y, pos_z, num_observations, bad)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(mp.ID), int64(mp.FirstKeyFrame), pos.X, pos.Y, pos.Z, mp.NumObservations(), mp.IsBad(),
	)
	if err != nil {
		return fmt.Errorf("snapshot: insert map point %d: %w", mp.ID, err)
	}
	for kfID, featIdx := range mp.Observations() {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO observations (map_point_id, keyframe_id, feature_index) VALUES (?, ?, ?)`,
			int64(mp.ID), int64(kfID), featIdx,
		); err != nil {
			return fmt.Errorf("snapshot: insert observation (point %d, keyframe %d): %w", mp.ID, kfID, err)
		}
	}
	return nil
}
