package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/parking-fusion/internal/evidence"
)

// Transition is one indexed row of the transitions table
type Transition struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	evidence.Record
}

// RecordTransition implements evidence.Index
func (db *DB) RecordTransition(ctx context.Context, rec evidence.Record) error {
	at := rec.Time
	if at.IsZero() {
		at = time.Now()
	}
	c := rec.ROICoords
	_, err := db.ExecContext(ctx,
		`INSERT INTO transitions
		 (id, camera_id, slot_id, old_status, new_status, stamp, dir, frame_path, roi_path,
		  x1, y1, x2, y2, height, width, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.CameraID, rec.SlotID, rec.OldStatus, rec.NewStatus, rec.Timestamp,
		rec.Dir, rec.FramePath, rec.ROIPath, c[0], c[1], c[2], c[3],
		rec.ImageSize[0], rec.ImageSize[1], at.UnixNano())
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
// A non-empty slotID restricts the result to that slot.
func (db *DB) RecentTransitions(ctx context.Context, slotID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, camera_id, slot_id, old_status, new_status, stamp, dir, frame_path, roi_path,
	                 x1, y1, x2, y2, height, width, occurred_at
	          FROM transitions`
	args := []any{}
	if slotID != "" {
		query += ` WHERE slot_id = ?`
		args = append(args, slotID)
	}
	query += ` ORDER BY occurred_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t  Transition
			ns int64
		)
		c := &t.ROICoords
		if err := rows.Scan(&t.ID, &t.CameraID, &t.SlotID, &t.OldStatus, &t.NewStatus, &t.Timestamp,
			&t.Dir, &t.FramePath, &t.ROIPath, &c[0], &c[1], &c[2], &c[3],
			&t.ImageSize[0], &t.ImageSize[1], &ns); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.OccurredAt = time.Unix(0, ns)
		t.Time = t.OccurredAt
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTransitions returns the number of indexed transitions
func (db *DB) CountTransitions(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transitions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transitions: %w", err)
	}
	return n, nil
}
