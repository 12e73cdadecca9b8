package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

// ZoneBackend implements zone.Backend on the zones table
type ZoneBackend struct {
	db *DB
}

// NewZoneBackend returns a zone backend over db
func NewZoneBackend(db *DB) *ZoneBackend {
	return &ZoneBackend{db: db}
}

// Load returns the camera's zones, or zone.ErrNotFound if the camera was never saved
func (b *ZoneBackend) Load(ctx context.Context, cameraID string) (zone.Set, error) {
	var updated int64
	err := b.db.QueryRowContext(ctx,
		`SELECT updated_at FROM cameras WHERE camera_id = ?`, cameraID).Scan(&updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("camera %s: %w", cameraID, zone.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query camera %s: %w", cameraID, err)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT slot_id, name, x1, y1, x2, y2, trust FROM zones WHERE camera_id = ?`, cameraID)
	if err != nil {
		return nil, fmt.Errorf("query zones for %s: %w", cameraID, err)
	}
	defer rows.Close()

	set := zone.Set{}
	for rows.Next() {
		var (
			id    string
			z     zone.Zone
			box   types.Box
			trust sql.NullFloat64
		)
		if err := rows.Scan(&id, &z.Name, &box.X1, &box.Y1, &box.X2, &box.Y2, &trust); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		z.Coords = box
		if trust.Valid {
			z.Trust = zone.TrustPtr(trust.Float64)
		}
		set[id] = z
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}
	return set, nil
}

// Save replaces the camera's zones in one transaction
func (b *ZoneBackend) Save(ctx context.Context, cameraID string, set zone.Set) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cameras (camera_id, updated_at) VALUES (?, ?)
		 ON CONFLICT(camera_id) DO UPDATE SET updated_at = excluded.updated_at`,
		cameraID, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("upsert camera %s: %w", cameraID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zones WHERE camera_id = ?`, cameraID); err != nil {
		return fmt.Errorf("clear zones for %s: %w", cameraID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO zones (camera_id, slot_id, name, x1, y1, x2, y2, trust) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, z := range set {
		var trust sql.NullFloat64
		if z.Trust != nil {
			trust = sql.NullFloat64{Float64: *z.Trust, Valid: true}
		}
		c := z.Coords
		if _, err := stmt.ExecContext(ctx, cameraID, id, z.Name, c.X1, c.Y1, c.X2, c.Y2, trust); err != nil {
			return fmt.Errorf("insert zone %s/%s: %w", cameraID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit zones for %s: %w", cameraID, err)
	}
	return nil
}

// Cameras lists every camera with saved zones
func (b *ZoneBackend) Cameras(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT camera_id FROM cameras ORDER BY camera_id`)
	if err != nil {
		return nil, fmt.Errorf("query cameras: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
