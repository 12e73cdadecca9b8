// Package evidence records slot status transitions to disk.
//
// Every transition gets its own directory holding the full frame, the slot
// crop, and a metadata document:
//
//	<dir>/<slot>/<2006-01-02_15-04-05>/frame.jpg
//	<dir>/<slot>/<2006-01-02_15-04-05>/roi.jpg
//	<dir>/<slot>/<2006-01-02_15-04-05>/meta.json
//
// Two transitions of one slot within the same second share a directory and
// the later one overwrites the earlier files.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/parking-fusion/internal/logger"
	"github.com/dj-oyu/parking-fusion/internal/zone"
	"github.com/dj-oyu/parking-fusion/pkg/types"
)

const (
	DefaultDir     = "logs/events"
	DefaultQuality = 95

	// TimestampLayout names transition directories
	TimestampLayout = "2006-01-02_15-04-05"

	FrameFile = "frame.jpg"
	ROIFile   = "roi.jpg"
	MetaFile  = "meta.json"
)

// ErrEmptyROI is returned when the slot box does not intersect the frame
var ErrEmptyROI = errors.New("roi does not intersect frame")

// Record is the metadata written to meta.json
type Record struct {
	Timestamp string `json:"timestamp"`
	SlotID    string `json:"slot_id"`
	CameraID  string `json:"camera_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	FramePath string `json:"frame_path"`
	ROIPath   string `json:"roi_path"`
	ROICoords [4]int `json:"roi_coords"`
	ImageSize [2]int `json:"image_size"` // [height, width]

	Dir  string    `json:"-"`
	Time time.Time `json:"-"`
}

// Index receives every successfully written record
type Index interface {
	RecordTransition(ctx context.Context, rec Record) error
}

// Options configures a Writer
type Options struct {
	Dir     string
	Quality int              // JPEG quality, 1-100
	Now     func() time.Time // Defaults to time.Now
	Journal io.Writer        // One line per transition; nil disables
	Index   Index            // Optional
	Logger  *logger.ModuleLogger
}

// Writer persists transition evidence
type Writer struct {
	dir     string
	quality int
	now     func() time.Time
	index   Index
	log     *logger.ModuleLogger

	journalMu sync.Mutex
	journal   io.Writer
}

// New creates a Writer. The base directory is created lazily.
func New(opts Options) *Writer {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("Evidence")
	}
	return &Writer{
		dir:     opts.Dir,
		quality: opts.Quality,
		now:     opts.Now,
		index:   opts.Index,
		log:     opts.Logger,
		journal: opts.Journal,
	}
}

// Dir returns the base directory
func (w *Writer) Dir() string {
	return w.dir
}

// LogTransition writes the evidence for one slot changing from oldFree to
// newFree. The crop is the part of roi that lies inside the frame; a box
// entirely outside the frame fails with ErrEmptyROI before anything is written.
func (w *Writer) LogTransition(ctx context.Context, cameraID, slotID string, oldFree, newFree bool, frame image.Image, roi types.Box) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := zone.ValidID(slotID); err != nil {
		return nil, fmt.Errorf("log transition %s: slot %w", cameraID, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("log transition %s/%s: nil frame", cameraID, slotID)
	}

	bounds := frame.Bounds()
	if roi.Rect().Intersect(bounds).Empty() {
		return nil, fmt.Errorf("log transition %s/%s %v: %w", cameraID, slotID, roi.Array(), ErrEmptyROI)
	}
	crop := imaging.Crop(frame, roi.Rect())

	now := w.now()
	stamp := now.Format(TimestampLayout)
	dir := filepath.Join(w.dir, slotID, stamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create event dir: %w", err)
	}

	rec := &Record{
		Timestamp: stamp,
		SlotID:    slotID,
		CameraID:  cameraID,
		OldStatus: types.StatusLabel(oldFree),
		NewStatus: types.StatusLabel(newFree),
		FramePath: filepath.Join(dir, FrameFile),
		ROIPath:   filepath.Join(dir, ROIFile),
		ROICoords: roi.Array(),
		ImageSize: [2]int{bounds.Dy(), bounds.Dx()},
		Dir:       dir,
		Time:      now,
	}

	if err := imaging.Save(frame, rec.FramePath, imaging.JPEGQuality(w.quality)); err != nil {
		return nil, fmt.Errorf("save frame: %w", err)
	}
	if err := imaging.Save(crop, rec.ROIPath, imaging.JPEGQuality(w.quality)); err != nil {
		return nil, fmt.Errorf("save roi: %w", err)
	}
	if err := writeMeta(filepath.Join(dir, MetaFile), rec); err != nil {
		return nil, err
	}

	if err := w.writeJournal(rec); err != nil {
		return rec, fmt.Errorf("write journal: %w", err)
	}
	if w.index != nil {
		if err := w.index.RecordTransition(ctx, *rec); err != nil {
			return rec, fmt.Errorf("index transition: %w", err)
		}
	}

	w.log.Info("[%s] %s %s -> %s saved to %s", cameraID, slotID, rec.OldStatus, rec.NewStatus, dir)
	return rec, nil
}

func writeMeta(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// JournalLine formats the human-readable journal entry for a record
func JournalLine(rec *Record) string {
	return fmt.Sprintf("%s - [%s] %s status changed: %s -> %s — saved to %s\n",
		rec.Time.Format("2006-01-02 15:04:05.000"), rec.CameraID, rec.SlotID, rec.OldStatus, rec.NewStatus, rec.Dir)
}

func (w *Writer) writeJournal(rec *Record) error {
	if w.journal == nil {
		return nil
	}
	w.journalMu.Lock()
	defer w.journalMu.Unlock()
	_, err := io.WriteString(w.journal, JournalLine(rec))
	return err
}

// ReadRecord loads a meta.json file
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	rec.Dir = filepath.Dir(path)
	if t, err := time.ParseInLocation(TimestampLayout, rec.Timestamp, time.Local); err == nil {
		rec.Time = t
	}
	return &rec, nil
}
